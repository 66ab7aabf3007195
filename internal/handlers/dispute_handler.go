package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/services"
)

type DisputeHandler struct {
	service   *services.DisputeService
	validator *services.ValidationHelper
}

func NewDisputeHandler(service *services.DisputeService) *DisputeHandler {
	return &DisputeHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type createDisputeRequest struct {
	Title          string  `json:"title" validate:"required"`
	Description    string  `json:"description" validate:"required"`
	DisputeType    string  `json:"dispute_type" validate:"required"`
	Priority       string  `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	RelatedTrack   *string `json:"related_track"`
	RelatedStation *string `json:"related_station"`
}

// CreateDispute submits a new dispute
// @Summary Create a dispute
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body handlers.createDisputeRequest true "Dispute details"
// @Success 201 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/disputes/api/disputes/ [post]
func (h *DisputeHandler) CreateDispute(w http.ResponseWriter, r *http.Request) {
	var req createDisputeRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	dispute, err := h.service.Create(middleware.UserID(r), req.Title, req.Description,
		req.DisputeType, req.Priority, req.RelatedTrack, req.RelatedStation)
	if err != nil {
		services.SendDomainError(w, err)
		return
	}
	services.SendEnvelope(w, http.StatusCreated, "Dispute submitted", dispute)
}

// ListDisputes returns an offset-paginated dispute listing
// @Summary List disputes
// @Tags disputes
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param priority query string false "Filter by priority"
// @Param dispute_type query string false "Filter by type"
// @Param search query string false "Search in title, description and id"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} services.OffsetPage
// @Router /api/disputes/api/disputes/ [get]
func (h *DisputeHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	disputes, count, err := h.service.List(services.DisputeFilters{
		Status:      q.Get("status"),
		Priority:    q.Get("priority"),
		DisputeType: q.Get("dispute_type"),
		Search:      q.Get("search"),
		Offset:      offset,
		Limit:       limit,
	})
	if err != nil {
		services.SendDomainError(w, err)
		return
	}

	page := services.OffsetPage{Count: count, Results: disputes}
	if offset+limit < count {
		page.Next = pageURL(r, offset+limit, limit)
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		page.Previous = pageURL(r, prev, limit)
	}
	services.SendEnvelope(w, http.StatusOK, "Disputes retrieved", page)
}

func pageURL(r *http.Request, offset, limit int) *string {
	u := *r.URL
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}

// GetDispute returns one dispute with evidence, comments, audit trail
// and the transitions available to the caller
// @Summary Get dispute detail
// @Tags disputes
// @Produce json
// @Security BearerAuth
// @Param disputeID path string true "Dispute ID"
// @Success 200 {object} services.Envelope
// @Failure 404 {object} services.ErrorResponse
// @Router /api/disputes/api/disputes/{disputeID}/ [get]
func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(chi.URLParam(r, "disputeID"), middleware.UserType(r))
	if err != nil {
		services.SendDomainError(w, err)
		return
	}
	services.SendEnvelope(w, http.StatusOK, "Dispute retrieved", detail)
}

type transitionRequest struct {
	Status            string `json:"status" validate:"required"`
	Reason            string `json:"reason"`
	ResolutionSummary string `json:"resolution_summary"`
	ActionTaken       string `json:"action_taken"`
}

// TransitionStatus moves a dispute through its state machine
// @Summary Transition dispute status
// @Description The target status must be among the transitions advertised for the caller's role
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param disputeID path string true "Dispute ID"
// @Param request body handlers.transitionRequest true "Target status"
// @Success 200 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /api/disputes/api/disputes/{disputeID}/transition_status/ [post]
func (h *DisputeHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	dispute, err := h.service.Transition(chi.URLParam(r, "disputeID"),
		middleware.UserID(r), middleware.UserType(r),
		req.Status, req.Reason, req.ResolutionSummary, req.ActionTaken)
	if err != nil {
		services.SendDomainError(w, err)
		return
	}
	services.SendEnvelope(w, http.StatusOK, "Dispute status updated", dispute)
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required"`
}

// Assign sets the handling staff member
// @Summary Assign a dispute
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param disputeID path string true "Dispute ID"
// @Param request body handlers.assignRequest true "Assignee user id"
// @Success 200 {object} services.Envelope
// @Failure 404 {object} services.ErrorResponse
// @Router /api/disputes/api/disputes/{disputeID}/assign/ [post]
func (h *DisputeHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	dispute, err := h.service.Assign(chi.URLParam(r, "disputeID"), middleware.UserID(r), req.AssignedTo)
	if err != nil {
		services.SendDomainError(w, err)
		return
	}
	services.SendEnvelope(w, http.StatusOK, "Dispute assigned", dispute)
}

type addCommentRequest struct {
	Content    string `json:"content" validate:"required"`
	IsInternal bool   `json:"is_internal"`
}

// AddComment appends a comment to a dispute
// @Summary Add a dispute comment
// @Description Internal comments are restricted to staff and hidden from the submitter
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param disputeID path string true "Dispute ID"
// @Param request body handlers.addCommentRequest true "Comment"
// @Success 201 {object} services.Envelope
// @Failure 403 {object} services.ErrorResponse
// @Router /api/disputes/api/disputes/{disputeID}/add_comment/ [post]
func (h *DisputeHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req addCommentRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	comment, err := h.service.AddComment(chi.URLParam(r, "disputeID"),
		middleware.UserID(r), middleware.UserType(r), req.Content, req.IsInternal)
	if err != nil {
		services.SendDomainError(w, err)
		return
	}
	services.SendEnvelope(w, http.StatusCreated, "Comment added", comment)
}

// maxEvidenceSize caps an evidence upload at 10 MB.
const maxEvidenceSize = 10 << 20

// AddEvidence records evidence metadata from a multipart upload
// @Summary Add dispute evidence
// @Description Stores the evidence metadata; file content storage is handled by a separate pipeline
// @Tags disputes
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param disputeID path string true "Dispute ID"
// @Param title formData string true "Evidence title"
// @Param description formData string false "Description"
// @Param file_category formData string false "Category"
// @Param file formData file true "Evidence file"
// @Success 201 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/disputes/api/disputes/{disputeID}/add_evidence/ [post]
func (h *DisputeHandler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEvidenceSize)
	if err := r.ParseMultipartForm(maxEvidenceSize); err != nil {
		services.SendErrorResponse(w, "Invalid multipart request", http.StatusBadRequest, nil)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			services.NewValidationError("title", "title is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			services.NewValidationError("file", "evidence file is required"))
		return
	}
	file.Close()

	fileType := header.Header.Get("Content-Type")
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	evidence, err := h.service.AddEvidence(chi.URLParam(r, "disputeID"),
		middleware.UserID(r), middleware.UserType(r),
		title, r.FormValue("description"), fileType, r.FormValue("file_category"), header.Size)
	if err != nil {
		services.SendDomainError(w, err)
		return
	}
	services.SendEnvelope(w, http.StatusCreated, fmt.Sprintf("Evidence %q added", evidence.Title), evidence)
}
