package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/promptdeck/promptdeck/domains/prompts/be/service"
	"github.com/promptdeck/promptdeck/platform/go/persistence"
)

// PostgresRepository implements the prompts repository on top of the shared
// persistence store. It translates storage errors into the domain taxonomy,
// including unique-constraint violations on (prompt_id, version_number).
type PostgresRepository struct {
	store *persistence.PromptStore
}

// NewPostgresRepository constructs a repository backed by PromptStore.
func NewPostgresRepository(store *persistence.PromptStore) *PostgresRepository {
	if store == nil {
		panic("prompt store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Create(ctx context.Context, input service.CreateInput) (service.Prompt, error) {
	record, err := r.store.CreatePrompt(ctx, persistence.CreatePromptParams{
		TenantID:    input.TenantID,
		Title:       input.Title,
		Description: input.Description,
		Tags:        input.Tags,
		Body:        input.Body,
		CreatedBy:   input.Actor,
	})
	if err != nil {
		return service.Prompt{}, translate(err)
	}
	return toServicePrompt(record), nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, promptID uuid.UUID) (service.Prompt, error) {
	record, err := r.store.GetPrompt(ctx, tenantID, promptID)
	if err != nil {
		return service.Prompt{}, translate(err)
	}
	return toServicePrompt(record), nil
}

func (r *PostgresRepository) List(ctx context.Context, tenantID uuid.UUID, query service.ListQuery) ([]service.Prompt, int64, error) {
	params := persistence.ListPromptsParams{
		TenantID:        tenantID,
		IncludeArchived: query.IncludeArchived,
		Limit:           query.Limit,
		Offset:          query.Offset,
		SortField:       query.SortColumn,
		SortOrder:       query.SortOrder,
	}

	records, err := r.store.ListPrompts(ctx, params)
	if err != nil {
		return nil, 0, translate(err)
	}

	total, err := r.store.CountPrompts(ctx, params)
	if err != nil {
		return nil, 0, translate(err)
	}

	prompts := make([]service.Prompt, 0, len(records))
	for _, record := range records {
		prompts = append(prompts, toServicePrompt(record))
	}

	return prompts, total, nil
}

func (r *PostgresRepository) AppendVersion(ctx context.Context, tenantID, promptID uuid.UUID, body string, changes service.MetadataChanges, actor uuid.UUID) (service.Prompt, error) {
	record, err := r.store.AppendVersion(ctx, persistence.AppendVersionParams{
		TenantID:    tenantID,
		PromptID:    promptID,
		Body:        body,
		Title:       changes.Title,
		Description: changes.Description,
		Tags:        changes.Tags,
		IsArchived:  changes.IsArchived,
		CreatedBy:   actor,
	})
	if err != nil {
		return service.Prompt{}, translate(err)
	}
	return toServicePrompt(record), nil
}

func (r *PostgresRepository) UpdateMetadata(ctx context.Context, tenantID, promptID uuid.UUID, changes service.MetadataChanges) (service.Prompt, error) {
	record, err := r.store.UpdateMetadata(ctx, persistence.UpdateMetadataParams{
		TenantID:    tenantID,
		PromptID:    promptID,
		Title:       changes.Title,
		Description: changes.Description,
		Tags:        changes.Tags,
		IsArchived:  changes.IsArchived,
	})
	if err != nil {
		return service.Prompt{}, translate(err)
	}
	return toServicePrompt(record), nil
}

func (r *PostgresRepository) Rollback(ctx context.Context, tenantID, promptID uuid.UUID, targetVersion int, actor uuid.UUID) (service.Prompt, error) {
	record, err := r.store.Rollback(ctx, persistence.RollbackParams{
		TenantID:      tenantID,
		PromptID:      promptID,
		TargetVersion: targetVersion,
		CreatedBy:     actor,
	})
	if err != nil {
		return service.Prompt{}, translate(err)
	}
	return toServicePrompt(record), nil
}

func (r *PostgresRepository) Duplicate(ctx context.Context, tenantID, promptID uuid.UUID, actor uuid.UUID) (service.Prompt, error) {
	record, err := r.store.Duplicate(ctx, persistence.DuplicateParams{
		TenantID:  tenantID,
		PromptID:  promptID,
		CreatedBy: actor,
	})
	if err != nil {
		return service.Prompt{}, translate(err)
	}
	return toServicePrompt(record), nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, promptID uuid.UUID) error {
	if err := r.store.DeletePrompt(ctx, tenantID, promptID); err != nil {
		return translate(err)
	}
	return nil
}

func (r *PostgresRepository) ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) ([]service.Version, error) {
	records, err := r.store.ListVersions(ctx, tenantID, promptID)
	if err != nil {
		return nil, translate(err)
	}

	versions := make([]service.Version, 0, len(records))
	for _, record := range records {
		versions = append(versions, toServiceVersion(record))
	}

	return versions, nil
}

func toServicePrompt(record persistence.PromptWithVersion) service.Prompt {
	return service.Prompt{
		ID:             record.Prompt.PromptID,
		TenantID:       record.Prompt.TenantID,
		Title:          record.Prompt.Title,
		Description:    record.Prompt.Description,
		Tags:           record.Prompt.Tags,
		IsArchived:     record.Prompt.IsArchived,
		CurrentVersion: toServiceVersion(record.Current),
		CreatedBy:      record.Prompt.CreatedBy,
		CreatedAt:      record.Prompt.CreatedAt,
		UpdatedAt:      record.Prompt.UpdatedAt,
	}
}

func toServiceVersion(record persistence.VersionRecord) service.Version {
	return service.Version{
		ID:        record.VersionID,
		PromptID:  record.PromptID,
		Number:    record.VersionNumber,
		Body:      record.Body,
		CreatedBy: record.CreatedBy,
		CreatedAt: record.CreatedAt,
	}
}

// translate maps storage errors onto the domain taxonomy. A unique violation
// on the version-number constraint means two writers raced past the row lock;
// the service decides whether to retry.
func translate(err error) error {
	switch {
	case errors.Is(err, persistence.ErrPromptNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrVersionNotFound):
		return service.ErrVersionNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && strings.EqualFold(pgErr.ConstraintName, persistence.VersionConflictConstraint) {
			return service.ErrConflict
		}
	}

	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
