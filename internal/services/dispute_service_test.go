package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/zamio/backend/internal/models"
)

func TestAvailableTransitions(t *testing.T) {
	t.Run("admin walks the full machine", func(t *testing.T) {
		assert.ElementsMatch(t,
			[]string{models.DisputeEvidenceRequired, models.DisputeEscalated, models.DisputeResolved, models.DisputeRejected},
			AvailableTransitions(models.DisputeUnderReview, "admin"))
		assert.ElementsMatch(t,
			[]string{models.DisputeUnderReview, models.DisputeRejected},
			AvailableTransitions(models.DisputeSubmitted, "admin"))
		assert.Empty(t, AvailableTransitions(models.DisputeResolved, "admin"))
		assert.Empty(t, AvailableTransitions(models.DisputeRejected, "admin"))
	})

	t.Run("submitter may only answer an evidence request", func(t *testing.T) {
		assert.Equal(t, []string{models.DisputeUnderReview},
			AvailableTransitions(models.DisputeEvidenceRequired, "artist"))
		assert.Empty(t, AvailableTransitions(models.DisputeSubmitted, "artist"))
		assert.Empty(t, AvailableTransitions(models.DisputeUnderReview, "station"))
	})
}

func disputeColumns() []string {
	return []string{
		"id", "dispute_id", "title", "description", "dispute_type", "status", "priority",
		"s_user_id", "s_email", "s_first_name", "s_last_name", "s_user_type",
		"a_user_id", "a_email", "a_first_name", "a_last_name", "a_user_type",
		"related_track_id", "related_station_id", "created_at", "updated_at", "resolved_at",
		"resolution_summary", "resolution_action_taken", "evidence_count", "comments_count",
	}
}

func disputeRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(disputeColumns()).
		AddRow(1, "DSP-1", "Missing plays", "Plays not logged", "royalty_calculation", status, "high",
			"artist-1", "ama@example.com", "Ama", "Serwaa", "artist",
			nil, nil, nil, nil, nil,
			nil, nil, time.Now().Add(-72*time.Hour), time.Now(), nil,
			"", "", 2, 3)
}

func TestDisputeService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDisputeService(db)

	t.Run("failed audit write rolls the dispute back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO disputes").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO dispute_audit_logs").
			WillReturnError(errors.New("audit table unavailable"))
		mock.ExpectRollback()

		_, err := service.Create("artist-1", "Missing plays", "Plays not logged",
			"royalty_calculation", "high", nil, nil)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisputeService_Transition(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDisputeService(db)

	t.Run("admin escalates a dispute under review", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeUnderReview))
		mock.ExpectExec("UPDATE disputes").
			WithArgs(models.DisputeEscalated, sqlmock.AnyArg(), "DSP-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO dispute_audit_logs").
			WithArgs("DSP-1", "status_change", sqlmock.AnyArg(),
				models.DisputeUnderReview, models.DisputeEscalated, "admin-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeEscalated))

		dispute, err := service.Transition("DSP-1", "admin-1", "admin",
			models.DisputeEscalated, "needs senior review", "", "")
		assert.NoError(t, err)
		assert.Equal(t, models.DisputeEscalated, dispute.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transition not in the machine is invalid", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeSubmitted))
		mock.ExpectRollback()

		_, err := service.Transition("DSP-1", "admin-1", "admin",
			models.DisputeEscalated, "", "", "")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("advertised-for-admin transition is forbidden for the submitter", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeUnderReview))
		mock.ExpectRollback()

		_, err := service.Transition("DSP-1", "artist-1", "artist",
			models.DisputeResolved, "", "all good", "")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resolving requires a summary", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeUnderReview))
		mock.ExpectRollback()

		_, err := service.Transition("DSP-1", "admin-1", "admin",
			models.DisputeResolved, "", "  ", "")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal disputes stay terminal", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeResolved))
		mock.ExpectRollback()

		_, err := service.Transition("DSP-1", "admin-1", "admin",
			models.DisputeUnderReview, "", "", "")
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisputeService_AddComment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDisputeService(db)

	t.Run("internal comments are staff only", func(t *testing.T) {
		_, err := service.AddComment("DSP-1", "artist-1", "artist", "note to self", true)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("staff internal comment is stored", func(t *testing.T) {
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeUnderReview))
		mock.ExpectQuery("INSERT INTO dispute_comments").
			WithArgs("DSP-1", "checking station logs", true, "admin-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectQuery("SELECT user_id, email, first_name, last_name, user_type FROM users").
			WithArgs("admin-1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "email", "first_name", "last_name", "user_type"}).
				AddRow("admin-1", "ops@example.com", "Kofi", "Mensah", "admin"))

		comment, err := service.AddComment("DSP-1", "admin-1", "admin", "checking station logs", true)
		assert.NoError(t, err)
		assert.True(t, comment.IsInternal)
		assert.Equal(t, 9, comment.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisputeService_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDisputeService(db)

	evidenceCols := []string{"id", "title", "description", "file_type", "file_size", "file_category",
		"user_id", "email", "first_name", "last_name", "user_type", "uploaded_at", "secure_url"}
	commentCols := []string{"id", "content", "is_internal",
		"user_id", "email", "first_name", "last_name", "user_type", "created_at", "updated_at"}
	auditCols := []string{"id", "action", "description", "previous_state", "new_state",
		"user_id", "email", "first_name", "last_name", "user_type", "timestamp"}

	t.Run("non-staff viewer gets filtered comments and their transitions", func(t *testing.T) {
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("DSP-1").
			WillReturnRows(disputeRow(models.DisputeEvidenceRequired))
		mock.ExpectQuery("SELECT e.id, e.title").
			WithArgs("DSP-1").
			WillReturnRows(sqlmock.NewRows(evidenceCols))
		mock.ExpectQuery("SELECT c.id, c.content, c.is_internal").
			WithArgs("DSP-1").
			WillReturnRows(sqlmock.NewRows(commentCols).
				AddRow(4, "please upload the broadcast log", false,
					"admin-1", "ops@example.com", "Kofi", "Mensah", "admin", time.Now(), time.Now()))
		mock.ExpectQuery("SELECT l.id, l.action").
			WithArgs("DSP-1").
			WillReturnRows(sqlmock.NewRows(auditCols).
				AddRow(1, "created", "Dispute submitted", "", models.DisputeSubmitted,
					"artist-1", "ama@example.com", "Ama", "Serwaa", "artist", time.Now()))

		detail, err := service.Get("DSP-1", "artist")
		assert.NoError(t, err)
		assert.Equal(t, []string{models.DisputeUnderReview}, detail.AvailableTransitions)
		assert.Len(t, detail.Comments, 1)
		assert.Len(t, detail.AuditLogs, 1)
		assert.GreaterOrEqual(t, detail.DaysOpen, 3)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
