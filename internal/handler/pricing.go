package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"erp-pricing-api/internal/importer"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/service"
	"erp-pricing-api/pkg/apierror"
	"erp-pricing-api/pkg/response"
)

// multipartOverhead is allowed on top of the file limit for the form envelope.
const multipartOverhead = 1 << 20

// PricingHandler handles price upload, review and commit requests.
type PricingHandler struct {
	uploads *service.UploadService
	review  *service.ReviewService
	commits *service.CommitService
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(uploads *service.UploadService, review *service.ReviewService, commits *service.CommitService) *PricingHandler {
	return &PricingHandler{uploads: uploads, review: review, commits: commits}
}

// ReviewRequest is the body of approve and reject calls.
type ReviewRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// RejectRequest requires a reason.
type RejectRequest struct {
	Notes string `json:"notes" validate:"required,max=2000"`
}

// Template handles GET /api/v1/pricing/template
func (h *PricingHandler) Template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+importer.TemplateFileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(importer.Template())
}

// Upload handles POST /api/v1/pricing/uploads (multipart field "file").
func (h *PricingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	parser := h.uploads.Parser()
	r.Body = http.MaxBytesReader(w, r.Body, parser.MaxFileSize()+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, apiError(r, importer.ErrFileTooLarge))
			return
		}
		response.Error(w, apierror.BadRequest("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	if err := parser.CheckFile(header.Filename, header.Size); err != nil {
		response.Error(w, apiError(r, err))
		return
	}

	res, err := h.uploads.Upload(r.Context(), header.Filename, header.Size, file, actor(r))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.Created(w, res)
}

// ListSessions handles GET /api/v1/pricing/uploads
func (h *PricingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	sessions, total, err := h.uploads.ListSessions(r.Context(), page, limit)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.JSONWithMeta(w, http.StatusOK, sessions, page, limit, total)
}

// GetSession handles GET /api/v1/pricing/uploads/{session_id}?status=
func (h *PricingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	filter := model.RecordFilter{}
	if s := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))); s != "" {
		filter.Status = model.RecordStatus(s)
		if !filter.Status.IsValid() {
			response.Error(w, apierror.ValidationError("unknown record status",
				apierror.FieldError{Field: "status", Message: "must be one of PENDING, APPROVED, REJECTED, REQUIRES_REVIEW"}))
			return
		}
	}

	detail, err := h.uploads.GetSession(r.Context(), chi.URLParam(r, "session_id"), filter)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, detail)
}

// ApproveRecord handles POST /api/v1/pricing/uploads/{session_id}/records/{record_id}/approve
func (h *PricingHandler) ApproveRecord(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	res, err := h.review.ApproveRecord(r.Context(),
		chi.URLParam(r, "session_id"), chi.URLParam(r, "record_id"), actor(r), req.Notes)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, res)
}

// RejectRecord handles POST /api/v1/pricing/uploads/{session_id}/records/{record_id}/reject
func (h *PricingHandler) RejectRecord(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	res, err := h.review.RejectRecord(r.Context(),
		chi.URLParam(r, "session_id"), chi.URLParam(r, "record_id"), actor(r), req.Notes)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, res)
}

// ApproveAll handles POST /api/v1/pricing/uploads/{session_id}/approve-all
func (h *PricingHandler) ApproveAll(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	res, err := h.review.BulkApproveAll(r.Context(), chi.URLParam(r, "session_id"), actor(r), req.Notes)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, res)
}

// Commit handles POST /api/v1/pricing/uploads/{session_id}/commit.
// The operation runs in the background; poll /api/v1/operations/{id}.
func (h *PricingHandler) Commit(w http.ResponseWriter, r *http.Request) {
	op, err := h.commits.StartCommit(r.Context(), chi.URLParam(r, "session_id"), actor(r))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	w.Header().Set("Location", "/api/v1/operations/"+op.ID)
	response.Accepted(w, service.View(*op))
}
