package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPromptStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping prompt store integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := testPool(t)
	store, err := NewPromptStore(ctx, pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	actorID := uuid.New()

	t.Run("lifecycle", func(t *testing.T) {
		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID:  tenantID,
			Title:     "welcome message",
			Body:      "A",
			CreatedBy: actorID,
		})
		require.NoError(t, err)
		require.Equal(t, 1, created.Current.VersionNumber)
		require.Equal(t, "A", created.Current.Body)
		require.Equal(t, created.Current.VersionID, created.Prompt.CurrentVersionID)
		require.Equal(t, created.Prompt.PromptID, created.Current.PromptID)

		promptID := created.Prompt.PromptID

		updated, err := store.AppendVersion(ctx, AppendVersionParams{
			TenantID:  tenantID,
			PromptID:  promptID,
			Body:      "B",
			CreatedBy: actorID,
		})
		require.NoError(t, err)
		require.Equal(t, 2, updated.Current.VersionNumber)
		require.Equal(t, "B", updated.Current.Body)
		require.True(t, updated.Prompt.UpdatedAt.After(created.Prompt.UpdatedAt) ||
			updated.Prompt.UpdatedAt.Equal(created.Prompt.UpdatedAt))

		rolled, err := store.Rollback(ctx, RollbackParams{
			TenantID:      tenantID,
			PromptID:      promptID,
			TargetVersion: 1,
			CreatedBy:     actorID,
		})
		require.NoError(t, err)
		require.Equal(t, 3, rolled.Current.VersionNumber)
		require.Equal(t, "A", rolled.Current.Body)

		versions, err := store.ListVersions(ctx, tenantID, promptID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		for i, v := range versions {
			require.Equal(t, i+1, v.VersionNumber)
		}
		// rollback copies, never mutates the target
		require.Equal(t, "A", versions[0].Body)
		require.Equal(t, "B", versions[1].Body)
		require.Equal(t, "A", versions[2].Body)

		dup, err := store.Duplicate(ctx, DuplicateParams{
			TenantID:  tenantID,
			PromptID:  promptID,
			CreatedBy: actorID,
		})
		require.NoError(t, err)
		require.NotEqual(t, promptID, dup.Prompt.PromptID)
		require.Equal(t, "welcome message (copy)", dup.Prompt.Title)
		require.Equal(t, 1, dup.Current.VersionNumber)
		require.Equal(t, "A", dup.Current.Body)

		// source history untouched by the duplicate
		source, err := store.GetPrompt(ctx, tenantID, promptID)
		require.NoError(t, err)
		require.Equal(t, 3, source.Current.VersionNumber)
	})

	t.Run("metadata update leaves history alone", func(t *testing.T) {
		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID:  tenantID,
			Title:     "metadata target",
			Body:      "body",
			CreatedBy: actorID,
		})
		require.NoError(t, err)

		newTitle := "renamed"
		description := "a description"
		archived := true
		updated, err := store.UpdateMetadata(ctx, UpdateMetadataParams{
			TenantID:    tenantID,
			PromptID:    created.Prompt.PromptID,
			Title:       &newTitle,
			Description: &description,
			Tags:        []string{"greeting", "onboarding"},
			IsArchived:  &archived,
		})
		require.NoError(t, err)
		require.Equal(t, "renamed", updated.Prompt.Title)
		require.NotNil(t, updated.Prompt.Description)
		require.Equal(t, "a description", *updated.Prompt.Description)
		require.Equal(t, []string{"greeting", "onboarding"}, updated.Prompt.Tags)
		require.True(t, updated.Prompt.IsArchived)
		require.Equal(t, 1, updated.Current.VersionNumber)

		versions, err := store.ListVersions(ctx, tenantID, created.Prompt.PromptID)
		require.NoError(t, err)
		require.Len(t, versions, 1)
	})

	t.Run("append applies riding metadata in the same transaction", func(t *testing.T) {
		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID:  tenantID,
			Title:     "combined target",
			Body:      "v1",
			CreatedBy: actorID,
		})
		require.NoError(t, err)

		newTitle := "combined renamed"
		updated, err := store.AppendVersion(ctx, AppendVersionParams{
			TenantID:  tenantID,
			PromptID:  created.Prompt.PromptID,
			Body:      "v2",
			Title:     &newTitle,
			Tags:      []string{"combined"},
			CreatedBy: actorID,
		})
		require.NoError(t, err)
		require.Equal(t, "combined renamed", updated.Prompt.Title)
		require.Equal(t, []string{"combined"}, updated.Prompt.Tags)
		require.Equal(t, 2, updated.Current.VersionNumber)
		require.Equal(t, "v2", updated.Current.Body)
	})

	t.Run("archived prompts excluded from default listing", func(t *testing.T) {
		listTenant := uuid.New()

		active, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID: listTenant, Title: "active", Body: "x", CreatedBy: actorID,
		})
		require.NoError(t, err)

		archivedPrompt, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID: listTenant, Title: "archived", Body: "y", CreatedBy: actorID,
		})
		require.NoError(t, err)

		flag := true
		_, err = store.UpdateMetadata(ctx, UpdateMetadataParams{
			TenantID: listTenant, PromptID: archivedPrompt.Prompt.PromptID, IsArchived: &flag,
		})
		require.NoError(t, err)

		visible, err := store.ListPrompts(ctx, ListPromptsParams{TenantID: listTenant})
		require.NoError(t, err)
		require.Len(t, visible, 1)
		require.Equal(t, active.Prompt.PromptID, visible[0].Prompt.PromptID)

		all, err := store.ListPrompts(ctx, ListPromptsParams{TenantID: listTenant, IncludeArchived: true})
		require.NoError(t, err)
		require.Len(t, all, 2)

		total, err := store.CountPrompts(ctx, ListPromptsParams{TenantID: listTenant, IncludeArchived: true})
		require.NoError(t, err)
		require.EqualValues(t, 2, total)
	})

	t.Run("delete cascades versions", func(t *testing.T) {
		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID: tenantID, Title: "doomed", Body: "x", CreatedBy: actorID,
		})
		require.NoError(t, err)

		promptID := created.Prompt.PromptID
		_, err = store.AppendVersion(ctx, AppendVersionParams{
			TenantID: tenantID, PromptID: promptID, Body: "y", CreatedBy: actorID,
		})
		require.NoError(t, err)

		require.NoError(t, store.DeletePrompt(ctx, tenantID, promptID))

		var orphans int
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM prompt_versions WHERE prompt_id = $1`, promptID).Scan(&orphans)
		require.NoError(t, err)
		require.Zero(t, orphans)

		_, err = store.GetPrompt(ctx, tenantID, promptID)
		require.ErrorIs(t, err, ErrPromptNotFound)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID: tenantID, Title: "mine", Body: "x", CreatedBy: actorID,
		})
		require.NoError(t, err)

		otherTenant := uuid.New()
		_, err = store.GetPrompt(ctx, otherTenant, created.Prompt.PromptID)
		require.ErrorIs(t, err, ErrPromptNotFound)

		err = store.DeletePrompt(ctx, otherTenant, created.Prompt.PromptID)
		require.ErrorIs(t, err, ErrPromptNotFound)

		_, err = store.AppendVersion(ctx, AppendVersionParams{
			TenantID: otherTenant, PromptID: created.Prompt.PromptID, Body: "y", CreatedBy: actorID,
		})
		require.ErrorIs(t, err, ErrPromptNotFound)
	})

	t.Run("missing targets", func(t *testing.T) {
		_, err := store.ListVersions(ctx, tenantID, uuid.New())
		require.ErrorIs(t, err, ErrPromptNotFound)

		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID: tenantID, Title: "rollback target", Body: "x", CreatedBy: actorID,
		})
		require.NoError(t, err)

		_, err = store.Rollback(ctx, RollbackParams{
			TenantID: tenantID, PromptID: created.Prompt.PromptID, TargetVersion: 99, CreatedBy: actorID,
		})
		require.ErrorIs(t, err, ErrVersionNotFound)

		_, err = store.Duplicate(ctx, DuplicateParams{
			TenantID: tenantID, PromptID: uuid.New(), CreatedBy: actorID,
		})
		require.ErrorIs(t, err, ErrPromptNotFound)
	})

	t.Run("concurrent appends keep numbering contiguous", func(t *testing.T) {
		created, err := store.CreatePrompt(ctx, CreatePromptParams{
			TenantID: tenantID, Title: "contended", Body: "v1", CreatedBy: actorID,
		})
		require.NoError(t, err)

		promptID := created.Prompt.PromptID
		const writers = 8

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.AppendVersion(ctx, AppendVersionParams{
					TenantID:  tenantID,
					PromptID:  promptID,
					Body:      "concurrent body",
					CreatedBy: actorID,
				})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			}
		}
		require.Equal(t, writers, succeeded)

		versions, err := store.ListVersions(ctx, tenantID, promptID)
		require.NoError(t, err)
		require.Len(t, versions, writers+1)

		seen := map[int]bool{}
		for i, v := range versions {
			require.Equal(t, i+1, v.VersionNumber)
			require.False(t, seen[v.VersionNumber])
			seen[v.VersionNumber] = true
		}

		current, err := store.GetPrompt(ctx, tenantID, promptID)
		require.NoError(t, err)
		require.Equal(t, writers+1, current.Current.VersionNumber)
	})
}
