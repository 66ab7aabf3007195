package models

import "time"

// AuditLog is the append-only trail for money-moving actions: deposit
// and withdrawal approvals/rejections, sub-distribution transitions,
// manual fund additions.
type AuditLog struct {
	ID           int       `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	RequestData  []byte    `json:"request_data" db:"request_data"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}
