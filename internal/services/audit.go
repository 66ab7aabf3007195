package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// recordAudit appends one audit_logs row. When called with a *sql.Tx the
// row commits or rolls back with the money movement it describes.
func recordAudit(db execer, userID, action, resourceType, resourceID string, requestData any) error {
	payload, err := json.Marshal(requestData)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = db.Exec(`
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, request_data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, action, resourceType, resourceID, payload, time.Now())
	if err != nil {
		log.Printf("[AUDIT] failed to record %s on %s %s: %v", action, resourceType, resourceID, err)
	}
	return err
}
