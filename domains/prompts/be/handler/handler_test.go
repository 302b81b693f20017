package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/promptdeck/promptdeck/domains/prompts/be/service"
	platformtenant "github.com/promptdeck/promptdeck/platform/go/tenant"
)

type mockService struct {
	createFn       func(ctx context.Context, input service.CreateInput) (service.Prompt, error)
	getFn          func(ctx context.Context, tenantID, promptID uuid.UUID) (service.Prompt, error)
	listFn         func(ctx context.Context, tenantID uuid.UUID, opts service.ListOptions) (service.ListResult, error)
	updateFn       func(ctx context.Context, tenantID, promptID uuid.UUID, input service.UpdateInput) (service.Prompt, error)
	duplicateFn    func(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (service.Prompt, error)
	rollbackFn     func(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (service.Prompt, error)
	deleteFn       func(ctx context.Context, tenantID, promptID uuid.UUID) error
	listVersionsFn func(ctx context.Context, tenantID, promptID uuid.UUID) ([]service.Version, error)
}

func (m *mockService) Create(ctx context.Context, input service.CreateInput) (service.Prompt, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, input)
}

func (m *mockService) Get(ctx context.Context, tenantID, promptID uuid.UUID) (service.Prompt, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, tenantID, promptID)
}

func (m *mockService) List(ctx context.Context, tenantID uuid.UUID, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, tenantID, opts)
}

func (m *mockService) Update(ctx context.Context, tenantID, promptID uuid.UUID, input service.UpdateInput) (service.Prompt, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, tenantID, promptID, input)
}

func (m *mockService) Duplicate(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (service.Prompt, error) {
	if m.duplicateFn == nil {
		panic("duplicateFn not configured")
	}
	return m.duplicateFn(ctx, tenantID, promptID, actor)
}

func (m *mockService) Rollback(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (service.Prompt, error) {
	if m.rollbackFn == nil {
		panic("rollbackFn not configured")
	}
	return m.rollbackFn(ctx, tenantID, promptID, targetVersion, actor)
}

func (m *mockService) Delete(ctx context.Context, tenantID, promptID uuid.UUID) error {
	if m.deleteFn == nil {
		panic("deleteFn not configured")
	}
	return m.deleteFn(ctx, tenantID, promptID)
}

func (m *mockService) ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) ([]service.Version, error) {
	if m.listVersionsFn == nil {
		panic("listVersionsFn not configured")
	}
	return m.listVersionsFn(ctx, tenantID, promptID)
}

func newRequest(t *testing.T, scope platformtenant.Scope, method, target, body string) *http.Request {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	return req.WithContext(platformtenant.WithScope(req.Context(), scope))
}

func samplePrompt(tenantID uuid.UUID) service.Prompt {
	now := time.Now().UTC()
	promptID := uuid.New()
	return service.Prompt{
		ID:       promptID,
		TenantID: tenantID,
		Title:    "Greeting",
		Tags:     []string{"demo"},
		CurrentVersion: service.Version{
			ID:        uuid.New(),
			PromptID:  promptID,
			Number:    1,
			Body:      "Hello, {name}!",
			CreatedBy: uuid.New(),
			CreatedAt: now,
		},
		CreatedBy: uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateSuccess(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	actor := uuid.New()
	scope := platformtenant.Scope{TenantID: tenantID, ActorID: actor}

	svc := &mockService{}
	svc.createFn = func(ctx context.Context, input service.CreateInput) (service.Prompt, error) {
		require.Equal(t, tenantID, input.TenantID)
		require.Equal(t, actor, input.Actor)
		require.Equal(t, "Greeting", input.Title)
		require.Equal(t, "Hello, {name}!", input.Body)
		return samplePrompt(tenantID), nil
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPost, "/prompts", `{"title":"Greeting","body":"Hello, {name}!","tags":["demo"]}`)

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Location"))

	var resp promptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Greeting", resp.Title)
	require.Equal(t, 1, resp.VersionNumber)
	require.Equal(t, "Hello, {name}!", resp.Body)
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	h := New(&mockService{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPost, "/prompts", `{"title":`)

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestCreateWithoutScope(t *testing.T) {
	t.Parallel()

	h := New(&mockService{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/prompts", strings.NewReader(`{"title":"x","body":"y"}`))

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var problem problemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, problemTypeUnauthorized, problem.Type)
}

func TestListRejectsMalformedQueryParams(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	h := New(&mockService{}, zaptest.NewLogger(t))

	tests := []struct {
		name   string
		target string
	}{
		{"non-numeric page", "/prompts?page=abc"},
		{"non-numeric pageSize", "/prompts?pageSize=lots"},
		{"non-boolean includeArchived", "/prompts?includeArchived=maybe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := newRequest(t, scope, http.MethodGet, tc.target, "")

			h.Routes().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)

			var problem problemDetails
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, problemTypeValidation, problem.Type)
		})
	}
}

func TestListPassesQueryOptions(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	scope := platformtenant.Scope{TenantID: tenantID, ActorID: uuid.New()}

	svc := &mockService{}
	svc.listFn = func(ctx context.Context, gotTenant uuid.UUID, opts service.ListOptions) (service.ListResult, error) {
		require.Equal(t, tenantID, gotTenant)
		require.Equal(t, 2, opts.Page)
		require.Equal(t, 10, opts.PageSize)
		require.Equal(t, "-updatedAt", opts.Sort)
		require.True(t, opts.IncludeArchived)
		return service.ListResult{
			Items:      []service.Prompt{samplePrompt(tenantID)},
			Page:       2,
			PageSize:   10,
			TotalItems: 11,
			TotalPages: 2,
		}, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodGet, "/prompts?page=2&pageSize=10&sort=-updatedAt&includeArchived=true", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, int64(11), resp.TotalItems)
}

func TestGetRejectsMalformedID(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	h := New(&mockService{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodGet, "/prompts/not-a-uuid", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	svc := &mockService{}
	svc.getFn = func(ctx context.Context, tenantID, promptID uuid.UUID) (service.Prompt, error) {
		return service.Prompt{}, service.ErrNotFound
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodGet, "/prompts/"+uuid.NewString(), "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem problemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, http.StatusNotFound, problem.Status)
	require.Equal(t, problemTypeNotFound, problem.Type)
}

func TestUpdateConflictMapsTo409(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	svc := &mockService{}
	svc.updateFn = func(ctx context.Context, tenantID, promptID uuid.UUID, input service.UpdateInput) (service.Prompt, error) {
		return service.Prompt{}, service.ErrConflict
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPatch, "/prompts/"+uuid.NewString(), `{"body":"v2"}`)

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateValidationMapsTo400(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	svc := &mockService{}
	svc.updateFn = func(ctx context.Context, tenantID, promptID uuid.UUID, input service.UpdateInput) (service.Prompt, error) {
		return service.Prompt{}, &service.ValidationError{Reason: "no fields to update"}
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPatch, "/prompts/"+uuid.NewString(), `{}`)

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem problemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "no fields to update", problem.Detail)
}

func TestDuplicateSuccess(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	scope := platformtenant.Scope{TenantID: tenantID, ActorID: uuid.New()}
	promptID := uuid.New()

	svc := &mockService{}
	svc.duplicateFn = func(ctx context.Context, gotTenant, gotPrompt uuid.UUID, actor uuid.UUID) (service.Prompt, error) {
		require.Equal(t, tenantID, gotTenant)
		require.Equal(t, promptID, gotPrompt)
		copied := samplePrompt(tenantID)
		copied.Title = "Greeting (copy)"
		return copied, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPost, "/prompts/"+promptID.String()+"/duplicate", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp promptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Greeting (copy)", resp.Title)
}

func TestRollbackParsesTargetVersion(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	scope := platformtenant.Scope{TenantID: tenantID, ActorID: uuid.New()}
	promptID := uuid.New()

	svc := &mockService{}
	svc.rollbackFn = func(ctx context.Context, gotTenant, gotPrompt uuid.UUID, targetVersion int, actor uuid.UUID) (service.Prompt, error) {
		require.Equal(t, promptID, gotPrompt)
		require.Equal(t, 2, targetVersion)
		p := samplePrompt(tenantID)
		p.CurrentVersion.Number = 4
		return p, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPost, "/prompts/"+promptID.String()+"/versions/2/rollback", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp promptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 4, resp.VersionNumber)
}

func TestRollbackRejectsNonNumericVersion(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	h := New(&mockService{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPost, "/prompts/"+uuid.NewString()+"/versions/two/rollback", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollbackMissingVersionMapsTo404(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	svc := &mockService{}
	svc.rollbackFn = func(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (service.Prompt, error) {
		return service.Prompt{}, service.ErrVersionNotFound
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodPost, "/prompts/"+uuid.NewString()+"/versions/9/rollback", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSuccess(t *testing.T) {
	t.Parallel()

	scope := platformtenant.Scope{TenantID: uuid.New(), ActorID: uuid.New()}
	svc := &mockService{}
	svc.deleteFn = func(ctx context.Context, tenantID, promptID uuid.UUID) error {
		return nil
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodDelete, "/prompts/"+uuid.NewString(), "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestListVersions(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	scope := platformtenant.Scope{TenantID: tenantID, ActorID: uuid.New()}
	promptID := uuid.New()
	now := time.Now().UTC()

	svc := &mockService{}
	svc.listVersionsFn = func(ctx context.Context, gotTenant, gotPrompt uuid.UUID) ([]service.Version, error) {
		require.Equal(t, promptID, gotPrompt)
		return []service.Version{
			{ID: uuid.New(), PromptID: promptID, Number: 1, Body: "v1", CreatedBy: uuid.New(), CreatedAt: now},
			{ID: uuid.New(), PromptID: promptID, Number: 2, Body: "v2", CreatedBy: uuid.New(), CreatedAt: now},
		}, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := newRequest(t, scope, http.MethodGet, "/prompts/"+promptID.String()+"/versions", "")

	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp versionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.TotalItems)
	require.Equal(t, 1, resp.Items[0].VersionNumber)
	require.Equal(t, 2, resp.Items[1].VersionNumber)
}
