package review

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pa-policy-engine/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "review-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "review-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)

	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	rev := &Review{
		CaseID:         "CASE-1001",
		PolicyID:       "pol-aetna-adalimumab",
		PolicyVersion:  "2024-01",
		EngineVerdict:  domain.StatusMet,
		AnalystVerdict: domain.StatusPartial,
		AnalystAgreed:  false,
		Reviewer:       "j.ortiz",
		Notes:          "Step therapy documentation looks thin",
	}

	err := store.Save(ctx, rev)

	require.NoError(t, err)
	assert.NotZero(t, rev.ID, "ID should be assigned")
	assert.False(t, rev.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, rev.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	rev := &Review{
		CaseID:         "CASE-1001",
		PolicyID:       "pol-aetna-adalimumab",
		PolicyVersion:  "2024-01",
		EngineVerdict:  domain.StatusMet,
		AnalystVerdict: domain.StatusMet,
		AnalystAgreed:  true,
	}
	err := store.Save(ctx, rev)
	require.NoError(t, err)
	originalID := rev.ID

	// Re-reviewing the same case under the same version replaces the record
	rev.AnalystVerdict = domain.StatusNotMet
	rev.AnalystAgreed = false
	rev.Notes = "Overturned after peer review"

	err = store.Save(ctx, rev)
	require.NoError(t, err)

	assert.Equal(t, originalID, rev.ID, "Should update existing record")

	retrieved, err := store.Get(ctx, "CASE-1001", "2024-01")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotMet, retrieved.AnalystVerdict)
	assert.False(t, retrieved.AnalystAgreed)
	assert.Equal(t, "Overturned after peer review", retrieved.Notes)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	retrieved, err := store.Get(context.Background(), "CASE-MISSING", "2024-01")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_List(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, caseID := range []string{"CASE-1", "CASE-2", "CASE-3"} {
		err := store.Save(ctx, &Review{
			CaseID:         caseID,
			PolicyID:       "pol-aetna-adalimumab",
			PolicyVersion:  "2024-01",
			EngineVerdict:  domain.StatusMet,
			AnalystVerdict: domain.StatusMet,
			AnalystAgreed:  true,
		})
		require.NoError(t, err)
	}

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	rev := &Review{
		CaseID:         "CASE-1001",
		PolicyID:       "pol-aetna-adalimumab",
		PolicyVersion:  "2024-01",
		EngineVerdict:  domain.StatusMet,
		AnalystVerdict: domain.StatusMet,
		AnalystAgreed:  true,
	}
	require.NoError(t, store.Save(ctx, rev))

	require.NoError(t, store.Delete(ctx, rev.ID))

	retrieved, err := store.Get(ctx, "CASE-1001", "2024-01")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	rev := &Review{
		CaseID:         "CASE-1001",
		PolicyID:       "pol-aetna-adalimumab",
		PolicyVersion:  "2024-01",
		EngineVerdict:  domain.StatusMet,
		AnalystVerdict: domain.StatusPartial,
		AnalystAgreed:  false,
		Notes:          "Needs more lab history",
	}
	require.NoError(t, store.Save(ctx, rev))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	// Import into a fresh store
	other := createTestStore(t)
	defer other.Close()

	imported, skipped, err := other.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 0, skipped)

	// Importing the same document again skips everything
	imported, skipped, err = other.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 1, skipped)

	retrieved, err := other.Get(ctx, "CASE-1001", "2024-01")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, domain.StatusPartial, retrieved.AnalystVerdict)
}
