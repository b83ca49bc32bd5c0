package review

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pa-policy-engine/internal/domain"
)

// getTestDB returns a database connection for testing. Skips the test when
// TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reviews (
			id BIGSERIAL PRIMARY KEY,
			case_id TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			policy_version TEXT NOT NULL,
			engine_verdict TEXT NOT NULL,
			analyst_verdict TEXT NOT NULL,
			analyst_agreed BOOLEAN NOT NULL DEFAULT FALSE,
			reviewer TEXT DEFAULT '',
			notes TEXT DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			CONSTRAINT reviews_case_id_policy_version_unique UNIQUE (case_id, policy_version)
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM reviews")
	require.NoError(t, err)

	return db
}

func TestPostgresStore_Save(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	rev := &Review{
		CaseID:         "CASE-1001",
		PolicyID:       "pol-aetna-adalimumab",
		PolicyVersion:  "2024-01",
		EngineVerdict:  domain.StatusMet,
		AnalystVerdict: domain.StatusMet,
		AnalystAgreed:  true,
		Reviewer:       "j.ortiz",
	}

	err = store.Save(ctx, rev)
	require.NoError(t, err)
	assert.NotZero(t, rev.ID)
	assert.NotZero(t, rev.CreatedAt)
	assert.NotZero(t, rev.UpdatedAt)
}

func TestPostgresStore_SaveUpdate(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	rev := &Review{
		CaseID:         "CASE-1001",
		PolicyID:       "pol-aetna-adalimumab",
		PolicyVersion:  "2024-01",
		EngineVerdict:  domain.StatusMet,
		AnalystVerdict: domain.StatusPartial,
		AnalystAgreed:  false,
	}

	err = store.Save(ctx, rev)
	require.NoError(t, err)
	originalID := rev.ID

	rev.AnalystVerdict = domain.StatusMet
	rev.AnalystAgreed = true
	rev.Notes = "Confirmed after records arrived"

	err = store.Save(ctx, rev)
	require.NoError(t, err)

	// Upsert keeps the original row
	assert.Equal(t, originalID, rev.ID)

	retrieved, err := store.Get(ctx, rev.CaseID, rev.PolicyVersion)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMet, retrieved.AnalystVerdict)
	assert.True(t, retrieved.AnalystAgreed)
	assert.Equal(t, "Confirmed after records arrived", retrieved.Notes)
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	rev, err := store.Get(context.Background(), "nonexistent", "2024-01")
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestPostgresStore_ListAndCount(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	for _, caseID := range []string{"CASE-1", "CASE-2"} {
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
	assert.Len(t, all, 2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
