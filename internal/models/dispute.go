package models

import "time"

// Dispute statuses. Terminal: resolved, rejected.
const (
	DisputeSubmitted        = "submitted"
	DisputeUnderReview      = "under_review"
	DisputeEvidenceRequired = "evidence_required"
	DisputeEscalated        = "escalated"
	DisputeResolved         = "resolved"
	DisputeRejected         = "rejected"
)

// UserBasic is the short user reference embedded in dispute payloads.
type UserBasic struct {
	UserID    string `json:"user_id" db:"user_id"`
	Email     string `json:"email" db:"email"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	UserType  string `json:"user_type" db:"user_type"`
}

type Dispute struct {
	ID                    int        `json:"-" db:"id"`
	DisputeID             string     `json:"dispute_id" db:"dispute_id"`
	Title                 string     `json:"title" db:"title"`
	Description           string     `json:"description" db:"description"`
	DisputeType           string     `json:"dispute_type" db:"dispute_type"`
	Status                string     `json:"status" db:"status"`
	Priority              string     `json:"priority" db:"priority"`
	SubmittedBy           UserBasic  `json:"submitted_by"`
	AssignedTo            *UserBasic `json:"assigned_to"`
	RelatedTrackID        *string    `json:"related_track,omitempty" db:"related_track_id"`
	RelatedStationID      *string    `json:"related_station,omitempty" db:"related_station_id"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt            *time.Time `json:"resolved_at" db:"resolved_at"`
	ResolutionSummary     string     `json:"resolution_summary" db:"resolution_summary"`
	ResolutionActionTaken string     `json:"resolution_action_taken" db:"resolution_action_taken"`
	EvidenceCount         int        `json:"evidence_count" db:"evidence_count"`
	CommentsCount         int        `json:"comments_count" db:"comments_count"`
	DaysOpen              int        `json:"days_open"`
}

func (d *Dispute) Terminal() bool {
	return d.Status == DisputeResolved || d.Status == DisputeRejected
}

type DisputeComment struct {
	ID         int       `json:"id" db:"id"`
	DisputeID  string    `json:"-" db:"dispute_id"`
	Content    string    `json:"content" db:"content"`
	IsInternal bool      `json:"is_internal" db:"is_internal"`
	Author     UserBasic `json:"author"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

type DisputeEvidence struct {
	ID           int       `json:"id" db:"id"`
	DisputeID    string    `json:"-" db:"dispute_id"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	FileType     string    `json:"file_type" db:"file_type"`
	FileSize     int64     `json:"file_size" db:"file_size"`
	FileCategory string    `json:"file_category" db:"file_category"`
	UploadedBy   UserBasic `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at" db:"uploaded_at"`
	SecureURL    *string   `json:"secure_url" db:"secure_url"`
}

// DisputeAuditLog records one status transition or assignment. Rows are
// append-only and never updated.
type DisputeAuditLog struct {
	ID            int       `json:"id" db:"id"`
	DisputeID     string    `json:"-" db:"dispute_id"`
	Action        string    `json:"action" db:"action"`
	Description   string    `json:"description" db:"description"`
	PreviousState string    `json:"previous_state" db:"previous_state"`
	NewState      string    `json:"new_state" db:"new_state"`
	Actor         UserBasic `json:"actor"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}
