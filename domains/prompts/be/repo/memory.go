package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/domains/prompts/be/service"
)

// MemoryRepository is an in-memory implementation suitable for tests and
// early development. It upholds the same invariants as the Postgres
// implementation: append-only versions, contiguous numbering from 1, and a
// prompt always pointing at one of its own versions.
type MemoryRepository struct {
	mu       sync.Mutex
	prompts  map[uuid.UUID]service.Prompt
	versions map[uuid.UUID][]service.Version
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		prompts:  make(map[uuid.UUID]service.Prompt),
		versions: make(map[uuid.UUID][]service.Version),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, input service.CreateInput) (service.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createLocked(input), nil
}

func (r *MemoryRepository) createLocked(input service.CreateInput) service.Prompt {
	now := time.Now().UTC()
	promptID := uuid.New()

	version := service.Version{
		ID:        uuid.New(),
		PromptID:  promptID,
		Number:    1,
		Body:      input.Body,
		CreatedBy: input.Actor,
		CreatedAt: now,
	}

	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}

	prompt := service.Prompt{
		ID:             promptID,
		TenantID:       input.TenantID,
		Title:          input.Title,
		Description:    input.Description,
		Tags:           tags,
		CurrentVersion: version,
		CreatedBy:      input.Actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.prompts[promptID] = prompt
	r.versions[promptID] = []service.Version{version}
	return prompt
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, promptID uuid.UUID) (service.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getLocked(tenantID, promptID)
}

func (r *MemoryRepository) getLocked(tenantID, promptID uuid.UUID) (service.Prompt, error) {
	p, ok := r.prompts[promptID]
	if !ok || p.TenantID != tenantID {
		return service.Prompt{}, service.ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID uuid.UUID, query service.ListQuery) ([]service.Prompt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]service.Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		if p.TenantID != tenantID {
			continue
		}
		if p.IsArchived && !query.IncludeArchived {
			continue
		}
		items = append(items, p)
	}

	sort.Slice(items, func(i, j int) bool {
		var less bool
		switch query.SortColumn {
		case "title":
			less = items[i].Title < items[j].Title
		case "updated_at":
			less = items[i].UpdatedAt.Before(items[j].UpdatedAt)
		default:
			less = items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		if strings.EqualFold(query.SortOrder, "desc") {
			return !less
		}
		return less
	})

	total := int64(len(items))

	start := query.Offset
	if start > len(items) {
		start = len(items)
	}
	end := len(items)
	if query.Limit > 0 && start+query.Limit < end {
		end = start + query.Limit
	}

	return items[start:end], total, nil
}

func (r *MemoryRepository) AppendVersion(ctx context.Context, tenantID, promptID uuid.UUID, body string, changes service.MetadataChanges, actor uuid.UUID) (service.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.getLocked(tenantID, promptID)
	if err != nil {
		return service.Prompt{}, err
	}

	p = applyChanges(p, changes)
	return r.appendLocked(p, body, actor), nil
}

func (r *MemoryRepository) appendLocked(p service.Prompt, body string, actor uuid.UUID) service.Prompt {
	history := r.versions[p.ID]

	version := service.Version{
		ID:        uuid.New(),
		PromptID:  p.ID,
		Number:    len(history) + 1,
		Body:      body,
		CreatedBy: actor,
		CreatedAt: time.Now().UTC(),
	}

	r.versions[p.ID] = append(history, version)
	p.CurrentVersion = version
	p.UpdatedAt = version.CreatedAt
	r.prompts[p.ID] = p
	return p
}

func (r *MemoryRepository) UpdateMetadata(ctx context.Context, tenantID, promptID uuid.UUID, changes service.MetadataChanges) (service.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.getLocked(tenantID, promptID)
	if err != nil {
		return service.Prompt{}, err
	}

	p = applyChanges(p, changes)
	p.UpdatedAt = time.Now().UTC()

	r.prompts[promptID] = p
	return p, nil
}

func applyChanges(p service.Prompt, changes service.MetadataChanges) service.Prompt {
	if changes.Title != nil {
		p.Title = *changes.Title
	}
	if changes.Description != nil {
		p.Description = changes.Description
	}
	if changes.Tags != nil {
		p.Tags = changes.Tags
	}
	if changes.IsArchived != nil {
		p.IsArchived = *changes.IsArchived
	}
	return p
}

func (r *MemoryRepository) Rollback(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (service.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.getLocked(tenantID, promptID)
	if err != nil {
		return service.Prompt{}, err
	}

	history := r.versions[promptID]
	if targetVersion < 1 || targetVersion > len(history) {
		return service.Prompt{}, service.ErrVersionNotFound
	}

	return r.appendLocked(p, history[targetVersion-1].Body, actor), nil
}

func (r *MemoryRepository) Duplicate(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (service.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.getLocked(tenantID, promptID)
	if err != nil {
		return service.Prompt{}, err
	}

	return r.createLocked(service.CreateInput{
		TenantID:    tenantID,
		Title:       p.Title + " (copy)",
		Description: p.Description,
		Tags:        p.Tags,
		Body:        p.CurrentVersion.Body,
		Actor:       actor,
	}), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, tenantID, promptID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getLocked(tenantID, promptID); err != nil {
		return err
	}

	delete(r.prompts, promptID)
	delete(r.versions, promptID)
	return nil
}

func (r *MemoryRepository) ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) ([]service.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getLocked(tenantID, promptID); err != nil {
		return nil, err
	}

	history := r.versions[promptID]
	out := make([]service.Version, len(history))
	copy(out, history)
	return out, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
