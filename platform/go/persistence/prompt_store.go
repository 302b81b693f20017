package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/promptdeck/promptdeck/database"
)

// ErrPromptNotFound indicates the requested prompt does not exist in the tenant's scope.
var ErrPromptNotFound = errors.New("prompt not found")

// ErrVersionNotFound indicates the requested prompt version does not exist.
var ErrVersionNotFound = errors.New("prompt version not found")

// VersionConflictConstraint is the unique constraint backing (prompt_id, version_number).
// Repositories inspect violation errors against this name to detect version races.
const VersionConflictConstraint = "prompt_versions_prompt_version_unique"

// PromptRecord mirrors the prompts table. CurrentVersionID is only unset
// inside the create transaction; committed rows always point at a version.
type PromptRecord struct {
	PromptID         uuid.UUID
	TenantID         uuid.UUID
	Title            string
	Description      *string
	Tags             []string
	IsArchived       bool
	CurrentVersionID uuid.UUID
	CreatedBy        uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// VersionRecord mirrors the prompt_versions table. Rows are append-only and
// never mutated after insert.
type VersionRecord struct {
	VersionID     uuid.UUID
	PromptID      uuid.UUID
	VersionNumber int
	Body          string
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
}

// PromptWithVersion pairs a prompt row with the version its pointer resolves to.
type PromptWithVersion struct {
	Prompt  PromptRecord
	Current VersionRecord
}

// CreatePromptParams defines the payload required to persist a brand-new prompt with its first version.
type CreatePromptParams struct {
	TenantID    uuid.UUID
	Title       string
	Description *string
	Tags        []string
	Body        string
	CreatedBy   uuid.UUID
}

// AppendVersionParams defines the payload for appending a new content version.
// Metadata fields ride along when the caller changes both in one request; nil
// leaves a field unchanged. Everything lands in the same transaction.
type AppendVersionParams struct {
	TenantID    uuid.UUID
	PromptID    uuid.UUID
	Body        string
	Title       *string
	Description *string
	Tags        []string
	IsArchived  *bool
	CreatedBy   uuid.UUID
}

// UpdateMetadataParams lists the mutable prompt fields; nil leaves a field unchanged.
type UpdateMetadataParams struct {
	TenantID    uuid.UUID
	PromptID    uuid.UUID
	Title       *string
	Description *string
	Tags        []string
	IsArchived  *bool
}

// RollbackParams identifies the version whose body is copied forward.
type RollbackParams struct {
	TenantID      uuid.UUID
	PromptID      uuid.UUID
	TargetVersion int
	CreatedBy     uuid.UUID
}

// DuplicateParams identifies the source prompt for duplication.
type DuplicateParams struct {
	TenantID  uuid.UUID
	PromptID  uuid.UUID
	CreatedBy uuid.UUID
}

// ListPromptsParams defines filters when listing prompts within a tenant.
type ListPromptsParams struct {
	TenantID        uuid.UUID
	IncludeArchived bool
	Limit           int
	Offset          int
	SortField       string
	SortOrder       string
}

const promptJoinSelect = `
	SELECT p.id, p.tenant_id, p.title, p.description, p.tags, p.is_archived,
	       p.current_version_id, p.created_by, p.created_at, p.updated_at,
	       v.id, v.prompt_id, v.version_number, v.body, v.created_by, v.created_at
	FROM prompts p
	JOIN prompt_versions v ON v.id = p.current_version_id`

// PromptStore persists prompts and their append-only version history.
// Every mutating method runs as a single transaction: partial state is never
// visible to readers, and a failed call leaves both tables untouched.
type PromptStore struct {
	pool *pgxpool.Pool
}

// NewPromptStore ensures the backing tables exist and returns a store instance.
func NewPromptStore(ctx context.Context, pool *pgxpool.Pool) (*PromptStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	store := &PromptStore{pool: pool}
	if err := store.ensureTables(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// CreatePrompt atomically inserts a prompt row, its version 1, and repoints
// current_version_id; nothing persists when any step fails.
func (s *PromptStore) CreatePrompt(ctx context.Context, params CreatePromptParams) (PromptWithVersion, error) {
	if params.TenantID == uuid.Nil {
		return PromptWithVersion{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(params.Title) == "" {
		return PromptWithVersion{}, errors.New("title is required")
	}
	if params.Body == "" {
		return PromptWithVersion{}, errors.New("body is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PromptWithVersion{}, fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	record, err := s.insertPromptTx(ctx, tx, params)
	if err != nil {
		return PromptWithVersion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PromptWithVersion{}, fmt.Errorf("commit create tx: %w", err)
	}

	return record, nil
}

// AppendVersion inserts a new version at max(version_number)+1 and repoints
// the prompt, applying any riding metadata changes in the same transaction.
// The prompt row is locked for the duration of the transaction; the unique
// constraint on (prompt_id, version_number) is the backstop for races the
// lock cannot see.
func (s *PromptStore) AppendVersion(ctx context.Context, params AppendVersionParams) (PromptWithVersion, error) {
	if params.Body == "" {
		return PromptWithVersion{}, errors.New("body is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PromptWithVersion{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := s.lockPrompt(ctx, tx, params.TenantID, params.PromptID)
	if err != nil {
		return PromptWithVersion{}, err
	}

	if params.Title != nil || params.Description != nil || params.Tags != nil || params.IsArchived != nil {
		if err := s.applyMetadataTx(ctx, tx, current, params.Title, params.Description, params.Tags, params.IsArchived); err != nil {
			return PromptWithVersion{}, err
		}
	}

	if _, err := s.insertNextVersionTx(ctx, tx, params.PromptID, params.Body, params.CreatedBy); err != nil {
		return PromptWithVersion{}, err
	}

	record, err := s.fetchJoinedTx(ctx, tx, params.TenantID, params.PromptID)
	if err != nil {
		return PromptWithVersion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PromptWithVersion{}, fmt.Errorf("commit append tx: %w", err)
	}

	return record, nil
}

// UpdateMetadata changes title/description/tags/is_archived without touching
// version history. Nil fields keep their current values.
func (s *PromptStore) UpdateMetadata(ctx context.Context, params UpdateMetadataParams) (PromptWithVersion, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PromptWithVersion{}, fmt.Errorf("begin metadata tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := s.lockPrompt(ctx, tx, params.TenantID, params.PromptID)
	if err != nil {
		return PromptWithVersion{}, err
	}

	if err := s.applyMetadataTx(ctx, tx, current, params.Title, params.Description, params.Tags, params.IsArchived); err != nil {
		return PromptWithVersion{}, err
	}

	record, err := s.fetchJoinedTx(ctx, tx, params.TenantID, params.PromptID)
	if err != nil {
		return PromptWithVersion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PromptWithVersion{}, fmt.Errorf("commit metadata tx: %w", err)
	}

	return record, nil
}

// Rollback copies the target version's body into a new version at max+1 and
// repoints the prompt. The target row itself is never touched; rollback is a
// forward-moving event in the history.
func (s *PromptStore) Rollback(ctx context.Context, params RollbackParams) (PromptWithVersion, error) {
	if params.TargetVersion < 1 {
		return PromptWithVersion{}, ErrVersionNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PromptWithVersion{}, fmt.Errorf("begin rollback tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := s.lockPrompt(ctx, tx, params.TenantID, params.PromptID); err != nil {
		return PromptWithVersion{}, err
	}

	var body string
	targetQuery := `SELECT body FROM prompt_versions WHERE prompt_id = $1 AND version_number = $2`
	if err := tx.QueryRow(ctx, targetQuery, params.PromptID, params.TargetVersion).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PromptWithVersion{}, ErrVersionNotFound
		}
		return PromptWithVersion{}, fmt.Errorf("fetch rollback target: %w", err)
	}

	if _, err := s.insertNextVersionTx(ctx, tx, params.PromptID, body, params.CreatedBy); err != nil {
		return PromptWithVersion{}, err
	}

	record, err := s.fetchJoinedTx(ctx, tx, params.TenantID, params.PromptID)
	if err != nil {
		return PromptWithVersion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PromptWithVersion{}, fmt.Errorf("commit rollback tx: %w", err)
	}

	return record, nil
}

// Duplicate creates an independent prompt seeded from the source's current
// version: fresh id, version numbering restarting at 1, no link back to the
// source's history.
func (s *PromptStore) Duplicate(ctx context.Context, params DuplicateParams) (PromptWithVersion, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PromptWithVersion{}, fmt.Errorf("begin duplicate tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	source, err := s.fetchJoinedTx(ctx, tx, params.TenantID, params.PromptID)
	if err != nil {
		return PromptWithVersion{}, err
	}

	record, err := s.insertPromptTx(ctx, tx, CreatePromptParams{
		TenantID:    params.TenantID,
		Title:       source.Prompt.Title + " (copy)",
		Description: source.Prompt.Description,
		Tags:        source.Prompt.Tags,
		Body:        source.Current.Body,
		CreatedBy:   params.CreatedBy,
	})
	if err != nil {
		return PromptWithVersion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PromptWithVersion{}, fmt.Errorf("commit duplicate tx: %w", err)
	}

	return record, nil
}

// DeletePrompt removes the prompt row; the versions cascade away with it.
func (s *PromptStore) DeletePrompt(ctx context.Context, tenantID, promptID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM prompts WHERE id = $1 AND tenant_id = $2`, promptID, tenantID)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromptNotFound
	}
	return nil
}

// GetPrompt fetches a prompt together with its current version.
func (s *PromptStore) GetPrompt(ctx context.Context, tenantID, promptID uuid.UUID) (PromptWithVersion, error) {
	query := promptJoinSelect + ` WHERE p.id = $1 AND p.tenant_id = $2`

	row := s.pool.QueryRow(ctx, query, promptID, tenantID)
	record, err := scanPromptWithVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PromptWithVersion{}, ErrPromptNotFound
		}
		return PromptWithVersion{}, err
	}

	return record, nil
}

// ListPrompts returns prompts within a tenant; archived prompts are excluded
// unless IncludeArchived is set.
func (s *PromptStore) ListPrompts(ctx context.Context, params ListPromptsParams) ([]PromptWithVersion, error) {
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	sortField, sortOrder, err := sanitizePromptSort(params.SortField, params.SortOrder)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`%s
		WHERE p.tenant_id = $1
		  AND ($2::bool = TRUE OR p.is_archived = FALSE)
		ORDER BY p.%s %s
		LIMIT $3 OFFSET $4`, promptJoinSelect, sortField, sortOrder)

	rows, err := s.pool.Query(ctx, query, params.TenantID, params.IncludeArchived, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var records []PromptWithVersion
	for rows.Next() {
		record, err := scanPromptWithVersion(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// CountPrompts returns the total number of prompts matching the list filters.
func (s *PromptStore) CountPrompts(ctx context.Context, params ListPromptsParams) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM prompts
		WHERE tenant_id = $1
		  AND ($2::bool = TRUE OR is_archived = FALSE)`

	var total int64
	if err := s.pool.QueryRow(ctx, query, params.TenantID, params.IncludeArchived).Scan(&total); err != nil {
		return 0, fmt.Errorf("count prompts: %w", err)
	}

	return total, nil
}

// ListVersions returns all versions of a prompt by ascending version_number.
func (s *PromptStore) ListVersions(ctx context.Context, tenantID, promptID uuid.UUID) ([]VersionRecord, error) {
	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM prompts WHERE id = $1 AND tenant_id = $2)`
	if err := s.pool.QueryRow(ctx, existsQuery, promptID, tenantID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check prompt existence: %w", err)
	}
	if !exists {
		return nil, ErrPromptNotFound
	}

	query := `
		SELECT id, prompt_id, version_number, body, created_by, created_at
		FROM prompt_versions
		WHERE prompt_id = $1
		ORDER BY version_number ASC`

	rows, err := s.pool.Query(ctx, query, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []VersionRecord
	for rows.Next() {
		record, err := scanVersionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// insertPromptTx performs the create sequence within an existing transaction:
// prompt row, version 1, then the pointer update.
func (s *PromptStore) insertPromptTx(ctx context.Context, tx pgx.Tx, params CreatePromptParams) (PromptWithVersion, error) {
	promptID := uuid.New()
	versionID := uuid.New()

	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	insertPrompt := `
		INSERT INTO prompts (id, tenant_id, title, description, tags, is_archived, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, NOW(), NOW())`
	if _, err := tx.Exec(ctx, insertPrompt, promptID, params.TenantID, params.Title, params.Description, tags, params.CreatedBy); err != nil {
		return PromptWithVersion{}, fmt.Errorf("insert prompt: %w", err)
	}

	insertVersion := `
		INSERT INTO prompt_versions (id, prompt_id, version_number, body, created_by, created_at)
		VALUES ($1, $2, 1, $3, $4, NOW())`
	if _, err := tx.Exec(ctx, insertVersion, versionID, promptID, params.Body, params.CreatedBy); err != nil {
		return PromptWithVersion{}, fmt.Errorf("insert first version: %w", err)
	}

	repoint := `UPDATE prompts SET current_version_id = $1 WHERE id = $2`
	if _, err := tx.Exec(ctx, repoint, versionID, promptID); err != nil {
		return PromptWithVersion{}, fmt.Errorf("set current version: %w", err)
	}

	return s.fetchJoinedTx(ctx, tx, params.TenantID, promptID)
}

// applyMetadataTx merges non-nil metadata fields over the locked row state and
// writes them back. Callers must hold the prompt row lock.
func (s *PromptStore) applyMetadataTx(ctx context.Context, tx pgx.Tx, current PromptRecord, title, description *string, tags []string, isArchived *bool) error {
	newTitle := current.Title
	if title != nil {
		newTitle = *title
	}
	newDescription := current.Description
	if description != nil {
		newDescription = description
	}
	newTags := current.Tags
	if tags != nil {
		newTags = tags
	}
	newArchived := current.IsArchived
	if isArchived != nil {
		newArchived = *isArchived
	}

	stmt := `
		UPDATE prompts
		SET title = $1, description = $2, tags = $3, is_archived = $4, updated_at = NOW()
		WHERE id = $5`
	if _, err := tx.Exec(ctx, stmt, newTitle, newDescription, newTags, newArchived, current.PromptID); err != nil {
		return fmt.Errorf("update prompt metadata: %w", err)
	}

	return nil
}

// insertNextVersionTx reads the current max version number and inserts the
// next one, repointing the prompt. Callers must hold the prompt row lock.
func (s *PromptStore) insertNextVersionTx(ctx context.Context, tx pgx.Tx, promptID uuid.UUID, body string, createdBy uuid.UUID) (uuid.UUID, error) {
	var maxVersion int
	maxQuery := `SELECT COALESCE(MAX(version_number), 0) FROM prompt_versions WHERE prompt_id = $1`
	if err := tx.QueryRow(ctx, maxQuery, promptID).Scan(&maxVersion); err != nil {
		return uuid.Nil, fmt.Errorf("read max version: %w", err)
	}

	versionID := uuid.New()
	insertVersion := `
		INSERT INTO prompt_versions (id, prompt_id, version_number, body, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`
	if _, err := tx.Exec(ctx, insertVersion, versionID, promptID, maxVersion+1, body, createdBy); err != nil {
		return uuid.Nil, fmt.Errorf("insert version %d: %w", maxVersion+1, err)
	}

	repoint := `UPDATE prompts SET current_version_id = $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.Exec(ctx, repoint, versionID, promptID); err != nil {
		return uuid.Nil, fmt.Errorf("set current version: %w", err)
	}

	return versionID, nil
}

// lockPrompt selects the prompt row FOR UPDATE, serializing concurrent
// mutations of the same prompt for the lifetime of the transaction.
func (s *PromptStore) lockPrompt(ctx context.Context, tx pgx.Tx, tenantID, promptID uuid.UUID) (PromptRecord, error) {
	query := `
		SELECT id, tenant_id, title, description, tags, is_archived, current_version_id, created_by, created_at, updated_at
		FROM prompts
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`

	row := tx.QueryRow(ctx, query, promptID, tenantID)
	record, err := scanPromptRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PromptRecord{}, ErrPromptNotFound
		}
		return PromptRecord{}, fmt.Errorf("lock prompt: %w", err)
	}

	return record, nil
}

func (s *PromptStore) fetchJoinedTx(ctx context.Context, tx pgx.Tx, tenantID, promptID uuid.UUID) (PromptWithVersion, error) {
	query := promptJoinSelect + ` WHERE p.id = $1 AND p.tenant_id = $2`

	row := tx.QueryRow(ctx, query, promptID, tenantID)
	record, err := scanPromptWithVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PromptWithVersion{}, ErrPromptNotFound
		}
		return PromptWithVersion{}, fmt.Errorf("fetch prompt: %w", err)
	}

	return record, nil
}

func (s *PromptStore) ensureTables(ctx context.Context) error {
	for _, stmt := range splitStatements(sqlassets.PromptsSQL) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure prompt tables: %w", err)
		}
	}
	return nil
}

func splitStatements(ddl string) []string {
	raw := strings.Split(ddl, ";")
	statements := make([]string, 0, len(raw))
	for _, stmt := range raw {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func sanitizePromptSort(field, order string) (string, string, error) {
	column := "created_at"
	if field != "" {
		switch field {
		case "created_at", "updated_at", "title":
			column = field
		default:
			return "", "", fmt.Errorf("unsupported sort field %q", field)
		}
	}

	sortOrder := "DESC"
	if strings.EqualFold(order, "asc") {
		sortOrder = "ASC"
	} else if strings.EqualFold(order, "desc") || order == "" {
		sortOrder = "DESC"
	} else {
		return "", "", fmt.Errorf("unsupported sort order %q", order)
	}

	return column, sortOrder, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPromptRecord(scanner rowScanner) (PromptRecord, error) {
	var (
		record           PromptRecord
		currentVersionID *uuid.UUID
	)

	if err := scanner.Scan(
		&record.PromptID, &record.TenantID, &record.Title, &record.Description,
		&record.Tags, &record.IsArchived, &currentVersionID,
		&record.CreatedBy, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return PromptRecord{}, err
	}

	if currentVersionID != nil {
		record.CurrentVersionID = *currentVersionID
	}

	return record, nil
}

func scanVersionRecord(scanner rowScanner) (VersionRecord, error) {
	var record VersionRecord
	if err := scanner.Scan(
		&record.VersionID, &record.PromptID, &record.VersionNumber,
		&record.Body, &record.CreatedBy, &record.CreatedAt,
	); err != nil {
		return VersionRecord{}, err
	}
	return record, nil
}

func scanPromptWithVersion(scanner rowScanner) (PromptWithVersion, error) {
	var (
		record  PromptWithVersion
		current uuid.UUID
	)

	if err := scanner.Scan(
		&record.Prompt.PromptID, &record.Prompt.TenantID, &record.Prompt.Title,
		&record.Prompt.Description, &record.Prompt.Tags, &record.Prompt.IsArchived,
		&current, &record.Prompt.CreatedBy, &record.Prompt.CreatedAt, &record.Prompt.UpdatedAt,
		&record.Current.VersionID, &record.Current.PromptID, &record.Current.VersionNumber,
		&record.Current.Body, &record.Current.CreatedBy, &record.Current.CreatedAt,
	); err != nil {
		return PromptWithVersion{}, err
	}

	record.Prompt.CurrentVersionID = current
	return record, nil
}
