package services

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zamio/backend/internal/models"
)

// disputeTransitions is the dispute state machine. A transition absent
// here is invalid for every role.
var disputeTransitions = map[string][]string{
	models.DisputeSubmitted:        {models.DisputeUnderReview, models.DisputeRejected},
	models.DisputeUnderReview:      {models.DisputeEvidenceRequired, models.DisputeEscalated, models.DisputeResolved, models.DisputeRejected},
	models.DisputeEvidenceRequired: {models.DisputeUnderReview, models.DisputeEscalated},
	models.DisputeEscalated:        {models.DisputeResolved, models.DisputeRejected},
	models.DisputeResolved:         {},
	models.DisputeRejected:         {},
}

// AvailableTransitions returns the transitions the given role may
// perform from a status. Staff can walk the full machine; a submitter
// may only send an evidence_required dispute back to review.
func AvailableTransitions(status, role string) []string {
	all := disputeTransitions[status]
	if role == models.RequesterAdmin {
		return append([]string{}, all...)
	}
	if status == models.DisputeEvidenceRequired {
		return []string{models.DisputeUnderReview}
	}
	return []string{}
}

func transitionAllowed(transitions []string, target string) bool {
	for _, t := range transitions {
		if t == target {
			return true
		}
	}
	return false
}

// DisputeService owns dispute persistence and the transition rules.
type DisputeService struct {
	db *sql.DB
}

func NewDisputeService(db *sql.DB) *DisputeService {
	return &DisputeService{db: db}
}

func newDisputeID() string {
	return "DSP-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

// DisputeFilters narrows the dispute listing.
type DisputeFilters struct {
	Status      string
	Priority    string
	DisputeType string
	Search      string
	Offset      int
	Limit       int
}

// DisputeDetail is the full payload for one dispute.
type DisputeDetail struct {
	models.Dispute
	Evidence             []models.DisputeEvidence `json:"evidence"`
	Comments             []models.DisputeComment  `json:"comments"`
	AuditLogs            []models.DisputeAuditLog `json:"audit_logs"`
	AvailableTransitions []string                 `json:"available_transitions"`
}

// Create records a new dispute in submitted state.
func (s *DisputeService) Create(submitterID, title, description, disputeType, priority string, relatedTrack, relatedStation *string) (*models.Dispute, error) {
	if priority == "" {
		priority = "medium"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	disputeID := newDisputeID()
	now := time.Now()
	_, err = tx.Exec(`
		INSERT INTO disputes (dispute_id, title, description, dispute_type, status, priority,
		                      submitted_by, related_track_id, related_station_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		disputeID, title, description, disputeType, models.DisputeSubmitted, priority,
		submitterID, relatedTrack, relatedStation, now)
	if err != nil {
		return nil, err
	}
	if err := s.appendAudit(tx, disputeID, "created", "Dispute submitted", "", models.DisputeSubmitted, submitterID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[DISPUTE] %s created by %s (%s)", disputeID, submitterID, disputeType)
	return s.getDispute(s.db, disputeID)
}

// List returns a filtered page of disputes plus the unpaged count.
func (s *DisputeService) List(f DisputeFilters) ([]models.Dispute, int, error) {
	where := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Status != "" {
		where = append(where, "d.status = "+arg(f.Status))
	}
	if f.Priority != "" {
		where = append(where, "d.priority = "+arg(f.Priority))
	}
	if f.DisputeType != "" {
		where = append(where, "d.dispute_type = "+arg(f.DisputeType))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(d.title ILIKE "+p+" OR d.description ILIKE "+p+" OR d.dispute_id ILIKE "+p+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM disputes d`+clause, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	query := selectDispute + clause + ` ORDER BY d.created_at DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	disputes := []models.Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, count, rows.Err()
}

// Get assembles the full dispute detail for a viewer. Internal comments
// are withheld from non-staff viewers.
func (s *DisputeService) Get(disputeID, viewerRole string) (*DisputeDetail, error) {
	dispute, err := s.getDispute(s.db, disputeID)
	if err != nil {
		return nil, err
	}

	evidence, err := s.listEvidence(disputeID)
	if err != nil {
		return nil, err
	}
	comments, err := s.listComments(disputeID, viewerRole == models.RequesterAdmin)
	if err != nil {
		return nil, err
	}
	auditLogs, err := s.listAudit(disputeID)
	if err != nil {
		return nil, err
	}

	return &DisputeDetail{
		Dispute:              *dispute,
		Evidence:             evidence,
		Comments:             comments,
		AuditLogs:            auditLogs,
		AvailableTransitions: AvailableTransitions(dispute.Status, viewerRole),
	}, nil
}

// Transition moves a dispute to a new status. The target must be
// advertised for the actor's role; resolving requires a summary.
func (s *DisputeService) Transition(disputeID, actorID, role, newStatus, reason, resolutionSummary, actionTaken string) (*models.Dispute, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	dispute, err := s.lockDispute(tx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status == newStatus {
		return dispute, nil
	}
	if dispute.Terminal() {
		return nil, fmt.Errorf("%w: dispute %s is %s", ErrAlreadyProcessed, disputeID, dispute.Status)
	}
	if !transitionAllowed(disputeTransitions[dispute.Status], newStatus) {
		return nil, NewValidationError("status",
			fmt.Sprintf("cannot move from %s to %s", dispute.Status, newStatus))
	}
	if !transitionAllowed(AvailableTransitions(dispute.Status, role), newStatus) {
		return nil, ErrForbidden
	}
	if newStatus == models.DisputeResolved && strings.TrimSpace(resolutionSummary) == "" {
		return nil, NewValidationError("resolution_summary", "resolution summary is required to resolve")
	}

	now := time.Now()
	if newStatus == models.DisputeResolved || newStatus == models.DisputeRejected {
		_, err = tx.Exec(`
			UPDATE disputes SET status = $1, resolved_at = $2, resolution_summary = $3, resolution_action_taken = $4, updated_at = $2
			WHERE dispute_id = $5`,
			newStatus, now, resolutionSummary, actionTaken, disputeID)
	} else {
		_, err = tx.Exec(`UPDATE disputes SET status = $1, updated_at = $2 WHERE dispute_id = $3`,
			newStatus, now, disputeID)
	}
	if err != nil {
		return nil, err
	}

	description := reason
	if description == "" {
		description = fmt.Sprintf("Status changed from %s to %s", dispute.Status, newStatus)
	}
	if err := s.appendAudit(tx, disputeID, "status_change", description, dispute.Status, newStatus, actorID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[DISPUTE] %s: %s -> %s by %s", disputeID, dispute.Status, newStatus, actorID)
	return s.getDispute(s.db, disputeID)
}

// Assign sets or changes the staff member handling a dispute.
func (s *DisputeService) Assign(disputeID, actorID, assigneeID string) (*models.Dispute, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	dispute, err := s.lockDispute(tx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Terminal() {
		return nil, fmt.Errorf("%w: dispute %s is %s", ErrAlreadyProcessed, disputeID, dispute.Status)
	}

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, assigneeID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: assignee %s", ErrNotFound, assigneeID)
	}

	if _, err := tx.Exec(`UPDATE disputes SET assigned_to = $1, updated_at = $2 WHERE dispute_id = $3`,
		assigneeID, time.Now(), disputeID); err != nil {
		return nil, err
	}
	if err := s.appendAudit(tx, disputeID, "assigned", "Assigned to "+assigneeID,
		dispute.Status, dispute.Status, actorID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[DISPUTE] %s assigned to %s by %s", disputeID, assigneeID, actorID)
	return s.getDispute(s.db, disputeID)
}

// AddComment appends a comment. Internal comments are staff-only.
func (s *DisputeService) AddComment(disputeID, authorID, role, content string, isInternal bool) (*models.DisputeComment, error) {
	if isInternal && role != models.RequesterAdmin {
		return nil, ErrForbidden
	}

	dispute, err := s.getDispute(s.db, disputeID)
	if err != nil {
		return nil, err
	}

	var id int
	now := time.Now()
	err = s.db.QueryRow(`
		INSERT INTO dispute_comments (dispute_id, content, is_internal, author_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		dispute.DisputeID, content, isInternal, authorID, now).Scan(&id)
	if err != nil {
		return nil, err
	}

	author, err := s.getUser(authorID)
	if err != nil {
		return nil, err
	}
	return &models.DisputeComment{
		ID:         id,
		DisputeID:  disputeID,
		Content:    content,
		IsInternal: isInternal,
		Author:     *author,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AddEvidence records evidence metadata. A dispute waiting on evidence
// moves back to under_review once the submitter provides it.
func (s *DisputeService) AddEvidence(disputeID, uploaderID, role, title, description, fileType, fileCategory string, fileSize int64) (*models.DisputeEvidence, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	dispute, err := s.lockDispute(tx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Terminal() {
		return nil, fmt.Errorf("%w: dispute %s is %s", ErrAlreadyProcessed, disputeID, dispute.Status)
	}

	var id int
	now := time.Now()
	err = tx.QueryRow(`
		INSERT INTO dispute_evidence (dispute_id, title, description, file_type, file_size, file_category, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		disputeID, title, description, fileType, fileSize, fileCategory, uploaderID, now).Scan(&id)
	if err != nil {
		return nil, err
	}

	if dispute.Status == models.DisputeEvidenceRequired && role != models.RequesterAdmin {
		if _, err := tx.Exec(`UPDATE disputes SET status = $1, updated_at = $2 WHERE dispute_id = $3`,
			models.DisputeUnderReview, now, disputeID); err != nil {
			return nil, err
		}
		if err := s.appendAudit(tx, disputeID, "status_change", "Evidence provided",
			models.DisputeEvidenceRequired, models.DisputeUnderReview, uploaderID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	uploader, err := s.getUser(uploaderID)
	if err != nil {
		return nil, err
	}
	log.Printf("[DISPUTE] evidence added to %s by %s (%s, %d bytes)", disputeID, uploaderID, fileType, fileSize)
	return &models.DisputeEvidence{
		ID:           id,
		DisputeID:    disputeID,
		Title:        title,
		Description:  description,
		FileType:     fileType,
		FileSize:     fileSize,
		FileCategory: fileCategory,
		UploadedBy:   *uploader,
		UploadedAt:   now,
	}, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

const selectDispute = `
	SELECT d.id, d.dispute_id, d.title, d.description, d.dispute_type, d.status, d.priority,
	       s.user_id, s.email, s.first_name, s.last_name, s.user_type,
	       a.user_id, a.email, a.first_name, a.last_name, a.user_type,
	       d.related_track_id, d.related_station_id, d.created_at, d.updated_at, d.resolved_at,
	       COALESCE(d.resolution_summary, ''), COALESCE(d.resolution_action_taken, ''),
	       (SELECT COUNT(*) FROM dispute_evidence e WHERE e.dispute_id = d.dispute_id),
	       (SELECT COUNT(*) FROM dispute_comments c WHERE c.dispute_id = d.dispute_id)
	FROM disputes d
	JOIN users s ON s.user_id = d.submitted_by
	LEFT JOIN users a ON a.user_id = d.assigned_to`

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	var assignee struct {
		userID, email, firstName, lastName, userType sql.NullString
	}
	err := row.Scan(&d.ID, &d.DisputeID, &d.Title, &d.Description, &d.DisputeType, &d.Status, &d.Priority,
		&d.SubmittedBy.UserID, &d.SubmittedBy.Email, &d.SubmittedBy.FirstName, &d.SubmittedBy.LastName, &d.SubmittedBy.UserType,
		&assignee.userID, &assignee.email, &assignee.firstName, &assignee.lastName, &assignee.userType,
		&d.RelatedTrackID, &d.RelatedStationID, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt,
		&d.ResolutionSummary, &d.ResolutionActionTaken, &d.EvidenceCount, &d.CommentsCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if assignee.userID.Valid {
		d.AssignedTo = &models.UserBasic{
			UserID:    assignee.userID.String,
			Email:     assignee.email.String,
			FirstName: assignee.firstName.String,
			LastName:  assignee.lastName.String,
			UserType:  assignee.userType.String,
		}
	}

	until := time.Now()
	if d.ResolvedAt != nil {
		until = *d.ResolvedAt
	}
	d.DaysOpen = int(until.Sub(d.CreatedAt).Hours() / 24)
	return &d, nil
}

func (s *DisputeService) getDispute(q querier, disputeID string) (*models.Dispute, error) {
	return scanDispute(q.QueryRow(selectDispute+` WHERE d.dispute_id = $1`, disputeID))
}

func (s *DisputeService) lockDispute(tx *sql.Tx, disputeID string) (*models.Dispute, error) {
	return scanDispute(tx.QueryRow(selectDispute+` WHERE d.dispute_id = $1 FOR UPDATE OF d`, disputeID))
}

func (s *DisputeService) getUser(userID string) (*models.UserBasic, error) {
	var u models.UserBasic
	err := s.db.QueryRow(`SELECT user_id, email, first_name, last_name, user_type FROM users WHERE user_id = $1`, userID).
		Scan(&u.UserID, &u.Email, &u.FirstName, &u.LastName, &u.UserType)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *DisputeService) listEvidence(disputeID string) ([]models.DisputeEvidence, error) {
	rows, err := s.db.Query(`
		SELECT e.id, e.title, COALESCE(e.description, ''), e.file_type, e.file_size, COALESCE(e.file_category, ''),
		       u.user_id, u.email, u.first_name, u.last_name, u.user_type, e.uploaded_at, e.secure_url
		FROM dispute_evidence e
		JOIN users u ON u.user_id = e.uploaded_by
		WHERE e.dispute_id = $1
		ORDER BY e.uploaded_at DESC`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	evidence := []models.DisputeEvidence{}
	for rows.Next() {
		var e models.DisputeEvidence
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.FileType, &e.FileSize, &e.FileCategory,
			&e.UploadedBy.UserID, &e.UploadedBy.Email, &e.UploadedBy.FirstName, &e.UploadedBy.LastName,
			&e.UploadedBy.UserType, &e.UploadedAt, &e.SecureURL); err != nil {
			return nil, err
		}
		e.DisputeID = disputeID
		evidence = append(evidence, e)
	}
	return evidence, rows.Err()
}

func (s *DisputeService) listComments(disputeID string, includeInternal bool) ([]models.DisputeComment, error) {
	query := `
		SELECT c.id, c.content, c.is_internal,
		       u.user_id, u.email, u.first_name, u.last_name, u.user_type, c.created_at, c.updated_at
		FROM dispute_comments c
		JOIN users u ON u.user_id = c.author_id
		WHERE c.dispute_id = $1`
	if !includeInternal {
		query += ` AND c.is_internal = FALSE`
	}
	query += ` ORDER BY c.created_at ASC`

	rows, err := s.db.Query(query, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []models.DisputeComment{}
	for rows.Next() {
		var c models.DisputeComment
		if err := rows.Scan(&c.ID, &c.Content, &c.IsInternal,
			&c.Author.UserID, &c.Author.Email, &c.Author.FirstName, &c.Author.LastName, &c.Author.UserType,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.DisputeID = disputeID
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *DisputeService) listAudit(disputeID string) ([]models.DisputeAuditLog, error) {
	rows, err := s.db.Query(`
		SELECT l.id, l.action, COALESCE(l.description, ''), COALESCE(l.previous_state, ''), COALESCE(l.new_state, ''),
		       u.user_id, u.email, u.first_name, u.last_name, u.user_type, l.timestamp
		FROM dispute_audit_logs l
		JOIN users u ON u.user_id = l.actor_id
		WHERE l.dispute_id = $1
		ORDER BY l.timestamp ASC`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.DisputeAuditLog{}
	for rows.Next() {
		var l models.DisputeAuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.Description, &l.PreviousState, &l.NewState,
			&l.Actor.UserID, &l.Actor.Email, &l.Actor.FirstName, &l.Actor.LastName, &l.Actor.UserType,
			&l.Timestamp); err != nil {
			return nil, err
		}
		l.DisputeID = disputeID
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *DisputeService) appendAudit(db execer, disputeID, action, description, previousState, newState, actorID string) error {
	_, err := db.Exec(`
		INSERT INTO dispute_audit_logs (dispute_id, action, description, previous_state, new_state, actor_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		disputeID, action, description, previousState, newState, actorID, time.Now())
	if err != nil {
		log.Printf("[DISPUTE] audit append failed for %s: %v", disputeID, err)
	}
	return err
}
