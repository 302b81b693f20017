package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promptdeck/promptdeck/domains/prompts/be/service"
	platformlogging "github.com/promptdeck/promptdeck/platform/go/logging"
	platformtenant "github.com/promptdeck/promptdeck/platform/go/tenant"
)

const (
	problemTypeValidation   = "https://promptdeck.dev/problems/validation-error"
	problemTypeUnauthorized = "https://promptdeck.dev/problems/unauthorized"
	problemTypeNotFound     = "https://promptdeck.dev/problems/not-found"
	problemTypeConflict     = "https://promptdeck.dev/problems/conflict"
	problemTypeInternal     = "https://promptdeck.dev/problems/internal-error"
)

type operation string

const (
	createOperation       operation = "promptsCreate"
	listOperation         operation = "promptsList"
	getOperation          operation = "promptsGet"
	updateOperation       operation = "promptsUpdate"
	duplicateOperation    operation = "promptsDuplicate"
	rollbackOperation     operation = "promptsRollback"
	deleteOperation       operation = "promptsDelete"
	listVersionsOperation operation = "promptsListVersions"
)

// Handler exposes the prompt engine over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("prompts service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the prompt endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/prompts", h.create)
	r.Get("/prompts", h.list)
	r.Get("/prompts/{promptID}", h.get)
	r.Patch("/prompts/{promptID}", h.update)
	r.Delete("/prompts/{promptID}", h.delete)
	r.Post("/prompts/{promptID}/duplicate", h.duplicate)
	r.Get("/prompts/{promptID}/versions", h.listVersions)
	r.Post("/prompts/{promptID}/versions/{version}/rollback", h.rollback)

	return r
}

type createRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Body        string   `json:"body"`
}

type updateRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsArchived  *bool    `json:"isArchived,omitempty"`
	Body        *string  `json:"body,omitempty"`
}

type promptResponse struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"tenantId"`
	Title            string    `json:"title"`
	Description      *string   `json:"description,omitempty"`
	Tags             []string  `json:"tags"`
	IsArchived       bool      `json:"isArchived"`
	CurrentVersionID uuid.UUID `json:"currentVersionId"`
	VersionNumber    int       `json:"versionNumber"`
	Body             string    `json:"body"`
	CreatedBy        uuid.UUID `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type versionResponse struct {
	ID            uuid.UUID `json:"id"`
	PromptID      uuid.UUID `json:"promptId"`
	VersionNumber int       `json:"versionNumber"`
	Body          string    `json:"body"`
	CreatedBy     uuid.UUID `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
}

type listResponse struct {
	Items      []promptResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int64            `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

type versionListResponse struct {
	Items      []versionResponse `json:"items"`
	TotalItems int               `json:"totalItems"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, ok := platformtenant.FromContext(r.Context())
	if !ok {
		h.writeProblem(w, "Unauthorized", "tenant scope is required", problemTypeUnauthorized, http.StatusUnauthorized)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, "Invalid request body", "request body must be valid JSON", problemTypeValidation, http.StatusBadRequest)
		return
	}

	created, err := h.svc.Create(r.Context(), service.CreateInput{
		TenantID:    scope.TenantID,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Body:        req.Body,
		Actor:       scope.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/prompts/%s", created.ID))
	h.writeJSON(w, http.StatusCreated, toPromptResponse(created))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := platformtenant.FromContext(r.Context())
	if !ok {
		h.writeProblem(w, "Unauthorized", "tenant scope is required", problemTypeUnauthorized, http.StatusUnauthorized)
		return
	}

	opts := service.ListOptions{}
	query := r.URL.Query()
	if v := query.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			h.writeProblem(w, "Validation failed", "page must be an integer", problemTypeValidation, http.StatusBadRequest)
			return
		}
		opts.Page = page
	}
	if v := query.Get("pageSize"); v != "" {
		pageSize, err := strconv.Atoi(v)
		if err != nil {
			h.writeProblem(w, "Validation failed", "pageSize must be an integer", problemTypeValidation, http.StatusBadRequest)
			return
		}
		opts.PageSize = pageSize
	}
	opts.Sort = query.Get("sort")
	if v := query.Get("includeArchived"); v != "" {
		includeArchived, err := strconv.ParseBool(v)
		if err != nil {
			h.writeProblem(w, "Validation failed", "includeArchived must be a boolean", problemTypeValidation, http.StatusBadRequest)
			return
		}
		opts.IncludeArchived = includeArchived
	}

	result, err := h.svc.List(r.Context(), scope.TenantID, opts)
	if err != nil {
		h.respondError(w, r, err, listOperation)
		return
	}

	items := make([]promptResponse, 0, len(result.Items))
	for _, p := range result.Items {
		items = append(items, toPromptResponse(p))
	}

	h.writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, promptID, ok := h.scopeAndPromptID(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Get(r.Context(), scope.TenantID, promptID)
	if err != nil {
		h.respondError(w, r, err, getOperation)
		return
	}

	h.writeJSON(w, http.StatusOK, toPromptResponse(p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	scope, promptID, ok := h.scopeAndPromptID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, "Invalid request body", "request body must be valid JSON", problemTypeValidation, http.StatusBadRequest)
		return
	}

	updated, err := h.svc.Update(r.Context(), scope.TenantID, promptID, service.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		IsArchived:  req.IsArchived,
		Body:        req.Body,
		Actor:       scope.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err, updateOperation)
		return
	}

	h.writeJSON(w, http.StatusOK, toPromptResponse(updated))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	scope, promptID, ok := h.scopeAndPromptID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), scope.TenantID, promptID); err != nil {
		h.respondError(w, r, err, deleteOperation)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	scope, promptID, ok := h.scopeAndPromptID(w, r)
	if !ok {
		return
	}

	copied, err := h.svc.Duplicate(r.Context(), scope.TenantID, promptID, scope.ActorID)
	if err != nil {
		h.respondError(w, r, err, duplicateOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/prompts/%s", copied.ID))
	h.writeJSON(w, http.StatusCreated, toPromptResponse(copied))
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	scope, promptID, ok := h.scopeAndPromptID(w, r)
	if !ok {
		return
	}

	versions, err := h.svc.ListVersions(r.Context(), scope.TenantID, promptID)
	if err != nil {
		h.respondError(w, r, err, listVersionsOperation)
		return
	}

	items := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionResponse{
			ID:            v.ID,
			PromptID:      v.PromptID,
			VersionNumber: v.Number,
			Body:          v.Body,
			CreatedBy:     v.CreatedBy,
			CreatedAt:     v.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, versionListResponse{Items: items, TotalItems: len(items)})
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	scope, promptID, ok := h.scopeAndPromptID(w, r)
	if !ok {
		return
	}

	targetVersion, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		h.writeProblem(w, "Validation failed", "version must be an integer", problemTypeValidation, http.StatusBadRequest)
		return
	}

	p, err := h.svc.Rollback(r.Context(), scope.TenantID, promptID, targetVersion, scope.ActorID)
	if err != nil {
		h.respondError(w, r, err, rollbackOperation)
		return
	}

	h.writeJSON(w, http.StatusOK, toPromptResponse(p))
}

func (h *Handler) scopeAndPromptID(w http.ResponseWriter, r *http.Request) (platformtenant.Scope, uuid.UUID, bool) {
	scope, ok := platformtenant.FromContext(r.Context())
	if !ok {
		h.writeProblem(w, "Unauthorized", "tenant scope is required", problemTypeUnauthorized, http.StatusUnauthorized)
		return platformtenant.Scope{}, uuid.Nil, false
	}

	promptID, err := uuid.Parse(chi.URLParam(r, "promptID"))
	if err != nil {
		h.writeProblem(w, "Validation failed", "promptID must be a UUID", problemTypeValidation, http.StatusBadRequest)
		return platformtenant.Scope{}, uuid.Nil, false
	}

	return scope, promptID, true
}

func toPromptResponse(p service.Prompt) promptResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	return promptResponse{
		ID:               p.ID,
		TenantID:         p.TenantID,
		Title:            p.Title,
		Description:      p.Description,
		Tags:             tags,
		IsArchived:       p.IsArchived,
		CurrentVersionID: p.CurrentVersion.ID,
		VersionNumber:    p.CurrentVersion.Number,
		Body:             p.CurrentVersion.Body,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// problemDetails follows RFC 7807.
type problemDetails struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	status, title, detail, problemType := classifyError(err)

	logger := platformlogging.FromRequest(r, h.logger)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("prompts operation failed", append(fields, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("prompts resource not found", append(fields, zap.Error(err))...)
	default:
		logger.Warn("prompts request rejected", append(fields, zap.Error(err))...)
	}

	h.writeProblem(w, title, detail, problemType, status)
}

func classifyError(err error) (status int, title, detail, problemType string) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest,
			"Validation failed",
			validationErr.Reason,
			problemTypeValidation
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"prompt not found",
			problemTypeNotFound
	case errors.Is(err, service.ErrVersionNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"prompt version not found",
			problemTypeNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict,
			"Conflict",
			"concurrent version update detected",
			problemTypeConflict
	default:
		return http.StatusInternalServerError,
			"Internal server error",
			"an unexpected error occurred",
			problemTypeInternal
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, title, detail, problemType string, status int) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(problemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}); err != nil {
		h.logger.Error("failed to encode problem response", zap.Error(err))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
