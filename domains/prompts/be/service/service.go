package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/platform/go/metrics"
)

// ValidationError captures malformed input rejected before any storage access.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Domain-level errors surfaced by the service.
var (
	ErrNotFound        = errors.New("prompt not found")
	ErrVersionNotFound = errors.New("prompt version not found")
	ErrConflict        = errors.New("prompt version conflict")
)

// Version is an immutable, numbered snapshot of a prompt's content.
type Version struct {
	ID        uuid.UUID
	PromptID  uuid.UUID
	Number    int
	Body      string
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

// Prompt is a tenant-owned named entity whose content evolves through versions.
// CurrentVersion is the version its pointer resolves to.
type Prompt struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Title          string
	Description    *string
	Tags           []string
	IsArchived     bool
	CurrentVersion Version
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateInput defines the payload for creating a prompt with its first version.
type CreateInput struct {
	TenantID    uuid.UUID
	Title       string
	Description *string
	Tags        []string
	Body        string
	Actor       uuid.UUID
}

// UpdateKind distinguishes the two update variants: content updates append a
// version, metadata updates never touch the history.
type UpdateKind int

const (
	MetadataUpdate UpdateKind = iota
	ContentUpdate
)

// UpdateInput is the closed set of fields an update may change. Nil fields
// stay untouched. A non-nil Body makes this a ContentUpdate.
type UpdateInput struct {
	Body        *string
	Title       *string
	Description *string
	Tags        []string
	IsArchived  *bool
	Actor       uuid.UUID
}

// Kind reports whether this update appends a new version.
func (u UpdateInput) Kind() UpdateKind {
	if u.Body != nil {
		return ContentUpdate
	}
	return MetadataUpdate
}

func (u UpdateInput) hasMetadata() bool {
	return u.Title != nil || u.Description != nil || u.Tags != nil || u.IsArchived != nil
}

// MetadataChanges is the repository-level projection of a metadata update.
type MetadataChanges struct {
	Title       *string
	Description *string
	Tags        []string
	IsArchived  *bool
}

// ListQuery defines resolved pagination and sorting inputs for the repository.
type ListQuery struct {
	IncludeArchived bool
	Limit           int
	Offset          int
	SortColumn      string
	SortOrder       string
}

// ListOptions defines caller-facing pagination inputs.
type ListOptions struct {
	Page            int
	PageSize        int
	Sort            string
	IncludeArchived bool
}

// ListResult contains paginated prompts and metadata.
type ListResult struct {
	Items      []Prompt
	Page       int
	PageSize   int
	TotalItems int64
	TotalPages int
}

// Repository persists prompts and their version history. Every mutating call
// is a single atomic attempt; the service layers the retry policy on top.
type Repository interface {
	Create(ctx context.Context, input CreateInput) (Prompt, error)
	Get(ctx context.Context, tenantID, promptID uuid.UUID) (Prompt, error)
	List(ctx context.Context, tenantID uuid.UUID, query ListQuery) ([]Prompt, int64, error)
	AppendVersion(ctx context.Context, tenantID, promptID uuid.UUID, body string, changes MetadataChanges, actor uuid.UUID) (Prompt, error)
	UpdateMetadata(ctx context.Context, tenantID, promptID uuid.UUID, changes MetadataChanges) (Prompt, error)
	Rollback(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (Prompt, error)
	Duplicate(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (Prompt, error)
	Delete(ctx context.Context, tenantID, promptID uuid.UUID) error
	ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) ([]Version, error)
}

// Service is the versioning engine: validation, the metadata/content update
// dispatch, and the single-retry conflict policy live here.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Prompt, error)
	Get(ctx context.Context, tenantID, promptID uuid.UUID) (Prompt, error)
	List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) (ListResult, error)
	Update(ctx context.Context, tenantID, promptID uuid.UUID, input UpdateInput) (Prompt, error)
	Duplicate(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (Prompt, error)
	Rollback(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (Prompt, error)
	Delete(ctx context.Context, tenantID, promptID uuid.UUID) error
	ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) ([]Version, error)
}

type service struct {
	repo Repository
}

// New constructs a Service instance.
func New(repo Repository) Service {
	if repo == nil {
		panic("prompts repository is required")
	}

	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, input CreateInput) (p Prompt, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("create", start, err) }(time.Now())

	if input.TenantID == uuid.Nil {
		return Prompt{}, &ValidationError{Reason: "tenantId is required"}
	}
	if strings.TrimSpace(input.Title) == "" {
		return Prompt{}, &ValidationError{Reason: "title is required"}
	}
	if input.Body == "" {
		return Prompt{}, &ValidationError{Reason: "body is required"}
	}
	if input.Actor == uuid.Nil {
		return Prompt{}, &ValidationError{Reason: "actor is required"}
	}

	input.Title = strings.TrimSpace(input.Title)
	return s.repo.Create(ctx, input)
}

func (s *service) Get(ctx context.Context, tenantID, promptID uuid.UUID) (p Prompt, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("get", start, err) }(time.Now())

	if promptID == uuid.Nil {
		return Prompt{}, &ValidationError{Reason: "promptId is required"}
	}

	return s.repo.Get(ctx, tenantID, promptID)
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) (result ListResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("list", start, err) }(time.Now())

	if tenantID == uuid.Nil {
		return ListResult{}, &ValidationError{Reason: "tenantId is required"}
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	sortColumn, sortOrder := normalizeSort(opts.Sort)

	items, total, err := s.repo.List(ctx, tenantID, ListQuery{
		IncludeArchived: opts.IncludeArchived,
		Limit:           pageSize,
		Offset:          (page - 1) * pageSize,
		SortColumn:      sortColumn,
		SortOrder:       sortOrder,
	})
	if err != nil {
		return ListResult{}, err
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	return ListResult{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

// Update applies a metadata and/or content update. Archived prompts stay
// editable: archiving controls listing visibility, not writability, and only
// Delete is terminal. A content update appends a version at max+1 and repoints
// the prompt; metadata carried on the same request is applied inside the same
// transaction, so a failed append leaves the prompt fully untouched. On a
// version-number race the append retries exactly once in a fresh transaction
// before surfacing ErrConflict.
func (s *service) Update(ctx context.Context, tenantID, promptID uuid.UUID, input UpdateInput) (p Prompt, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("update", start, err) }(time.Now())

	if promptID == uuid.Nil {
		return Prompt{}, &ValidationError{Reason: "promptId is required"}
	}
	if input.Kind() == MetadataUpdate && !input.hasMetadata() {
		return Prompt{}, &ValidationError{Reason: "no fields to update"}
	}
	if input.Body != nil && *input.Body == "" {
		return Prompt{}, &ValidationError{Reason: "body must not be empty"}
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return Prompt{}, &ValidationError{Reason: "title must not be empty"}
	}

	changes := MetadataChanges{
		Title:       input.Title,
		Description: input.Description,
		Tags:        input.Tags,
		IsArchived:  input.IsArchived,
	}

	if input.Kind() == ContentUpdate {
		return s.appendWithRetry(ctx, tenantID, promptID, *input.Body, changes, input.Actor)
	}

	return s.repo.UpdateMetadata(ctx, tenantID, promptID, changes)
}

func (s *service) Duplicate(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (p Prompt, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("duplicate", start, err) }(time.Now())

	if promptID == uuid.Nil {
		return Prompt{}, &ValidationError{Reason: "promptId is required"}
	}

	return s.repo.Duplicate(ctx, tenantID, promptID, actor)
}

func (s *service) Rollback(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (p Prompt, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("rollback", start, err) }(time.Now())

	if promptID == uuid.Nil {
		return Prompt{}, &ValidationError{Reason: "promptId is required"}
	}
	if targetVersion < 1 {
		return Prompt{}, &ValidationError{Reason: fmt.Sprintf("invalid target version %d", targetVersion)}
	}

	p, err = s.repo.Rollback(ctx, tenantID, promptID, targetVersion, actor)
	if errors.Is(err, ErrConflict) {
		metrics.RecordVersionConflict()
		p, err = s.repo.Rollback(ctx, tenantID, promptID, targetVersion, actor)
	}
	return p, err
}

func (s *service) Delete(ctx context.Context, tenantID, promptID uuid.UUID) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("delete", start, err) }(time.Now())

	if promptID == uuid.Nil {
		return &ValidationError{Reason: "promptId is required"}
	}

	return s.repo.Delete(ctx, tenantID, promptID)
}

func (s *service) ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) (versions []Version, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("list_versions", start, err) }(time.Now())

	if promptID == uuid.Nil {
		return nil, &ValidationError{Reason: "promptId is required"}
	}

	return s.repo.ListVersions(ctx, tenantID, promptID)
}

// appendWithRetry performs the content append with the engine's conflict
// policy: exactly one retry in a fresh transaction, then ErrConflict.
func (s *service) appendWithRetry(ctx context.Context, tenantID, promptID uuid.UUID, body string, changes MetadataChanges, actor uuid.UUID) (Prompt, error) {
	p, err := s.repo.AppendVersion(ctx, tenantID, promptID, body, changes, actor)
	if errors.Is(err, ErrConflict) {
		metrics.RecordVersionConflict()
		p, err = s.repo.AppendVersion(ctx, tenantID, promptID, body, changes, actor)
	}
	return p, err
}

func normalizeSort(sort string) (string, string) {
	if sort == "" {
		return "created_at", "desc"
	}

	first := strings.TrimSpace(strings.Split(sort, ",")[0])
	order := "asc"
	field := first
	if strings.HasPrefix(first, "-") {
		order = "desc"
		field = strings.TrimPrefix(first, "-")
	}

	switch field {
	case "title":
		return "title", order
	case "createdAt":
		return "created_at", order
	case "updatedAt":
		return "updated_at", order
	default:
		return "created_at", "desc"
	}
}
