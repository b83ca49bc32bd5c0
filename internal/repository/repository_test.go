package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pa-policy-engine/internal/database"
	"github.com/pa-policy-engine/internal/domain"
)

// generateTestPassword creates a random password for the throwaway test
// database.
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := domain.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "testdb",
		Username:        "testuser",
		Password:        testPassword,
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute * 30,
		MigrationsPath:  "../../migrations",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	migrationRunner, err := database.NewMigrationRunner(config, logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrationRunner.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func testRepoLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func storablePolicy(version string) *domain.DigitizedPolicy {
	threshold := 18.0
	return &domain.DigitizedPolicy{
		PolicyID:       "pol-adalimumab-aetna",
		Version:        version,
		PayerName:      "Aetna",
		MedicationName: "Adalimumab",
		AtomicCriteria: map[string]domain.AtomicCriterion{
			"crit_age": {
				ID:                 "crit_age",
				CriterionType:      domain.CriterionAge,
				Name:               "Minimum age",
				Category:           domain.CategoryAge,
				IsRequired:         true,
				ComparisonOperator: domain.OpGTE,
				ThresholdValue:     &threshold,
				ThresholdUnit:      "years",
			},
		},
		CriterionGroups: map[string]domain.CriterionGroup{
			"grp_root": {
				ID:       "grp_root",
				Operator: domain.OperatorAND,
				Criteria: []string{"crit_age"},
			},
		},
		Indications: []domain.Indication{
			{
				ID:   "ind_cd",
				Name: "Crohn's Disease",
				IndicationCodes: []domain.IndicationCode{
					{System: "ICD-10", Code: "K50"},
				},
				InitialApprovalCriteria: "grp_root",
			},
		},
	}
}

func TestPolicyRepository_CreateAndGetVersion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPolicyRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	if err := repo.Create(ctx, storablePolicy("2024-01")); err != nil {
		t.Fatalf("Failed to store policy version: %v", err)
	}

	// Lookup is case-insensitive on the pair
	policy, err := repo.GetVersion(ctx, "AETNA", "adalimumab", "2024-01")
	if err != nil {
		t.Fatalf("Failed to get policy version: %v", err)
	}
	if policy.PolicyID != "pol-adalimumab-aetna" {
		t.Errorf("Expected policy id pol-adalimumab-aetna, got %s", policy.PolicyID)
	}
	if len(policy.AtomicCriteria) != 1 {
		t.Errorf("Expected 1 criterion in document, got %d", len(policy.AtomicCriteria))
	}

	_, err = repo.GetVersion(ctx, "Aetna", "Adalimumab", "1999-01")
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("Expected ErrPolicyNotFound for missing version, got %v", err)
	}
}

func TestPolicyRepository_Create_RejectsInvalidPolicy(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPolicyRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	invalid := storablePolicy("2024-01")
	invalid.PayerName = ""

	if err := repo.Create(ctx, invalid); err == nil {
		t.Fatal("Expected validation error for policy without payer, got nil")
	}

	versions, err := repo.ListVersions(ctx, "Aetna", "Adalimumab")
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Expected no stored versions after rejected insert, got %d", len(versions))
	}
}

func TestPolicyRepository_GetLatestAndListVersions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPolicyRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	for _, version := range []string{"2024-01", "2024-07"} {
		if err := repo.Create(ctx, storablePolicy(version)); err != nil {
			t.Fatalf("Failed to store policy version %s: %v", version, err)
		}
		// created_at drives version ordering
		time.Sleep(10 * time.Millisecond)
	}

	latest, err := repo.GetLatest(ctx, "Aetna", "Adalimumab")
	if err != nil {
		t.Fatalf("Failed to get latest policy version: %v", err)
	}
	if latest.Version != "2024-07" {
		t.Errorf("Expected latest version 2024-07, got %s", latest.Version)
	}

	versions, err := repo.ListVersions(ctx, "Aetna", "Adalimumab")
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 2 || versions[0] != "2024-01" || versions[1] != "2024-07" {
		t.Errorf("Expected versions [2024-01 2024-07] oldest first, got %v", versions)
	}

	_, err = repo.GetLatest(ctx, "Cigna", "Adalimumab")
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("Expected ErrPolicyNotFound for unknown pair, got %v", err)
	}
}

func TestPolicyRepository_ListPolicies(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPolicyRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	for _, version := range []string{"2024-01", "2024-07"} {
		if err := repo.Create(ctx, storablePolicy(version)); err != nil {
			t.Fatalf("Failed to store policy version %s: %v", version, err)
		}
	}
	other := storablePolicy("2024-03")
	other.PolicyID = "pol-adalimumab-cigna"
	other.PayerName = "Cigna"
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Failed to store policy version: %v", err)
	}

	summaries, err := repo.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("Failed to list policies: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 catalog rows, got %d", len(summaries))
	}
	if summaries[0].PayerName != "aetna" || summaries[0].VersionCount != 2 {
		t.Errorf("Expected aetna with 2 versions first, got %s with %d", summaries[0].PayerName, summaries[0].VersionCount)
	}
	if summaries[1].PayerName != "cigna" || summaries[1].VersionCount != 1 {
		t.Errorf("Expected cigna with 1 version second, got %s with %d", summaries[1].PayerName, summaries[1].VersionCount)
	}
}

func TestCaseRepository_CreateAndListActive(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCaseRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	age := 42
	cases := []domain.ActiveCase{
		{
			CaseID: "case-001",
			Status: "pending",
			Patient: domain.PatientRecord{
				PatientID:    "pt-001",
				Demographics: domain.Demographics{AgeYears: &age},
				Diagnoses: []domain.PatientDiagnosis{
					{ICD10Code: "K50.113", Description: "Crohn's disease"},
				},
			},
		},
		{
			CaseID:  "case-002",
			Status:  "in_review",
			Patient: domain.PatientRecord{PatientID: "pt-002"},
		},
		{
			CaseID:  "case-003",
			Status:  "denied",
			Patient: domain.PatientRecord{PatientID: "pt-003"},
		},
	}
	for i := range cases {
		if err := repo.Create(ctx, "Aetna", "Adalimumab", &cases[i]); err != nil {
			t.Fatalf("Failed to store case %s: %v", cases[i].CaseID, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	active, err := repo.ListActive(ctx, "AETNA", "Adalimumab")
	if err != nil {
		t.Fatalf("Failed to list active cases: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active cases (denied excluded), got %d", len(active))
	}
	if active[0].CaseID != "case-001" || active[1].CaseID != "case-002" {
		t.Errorf("Expected cases oldest first [case-001 case-002], got [%s %s]", active[0].CaseID, active[1].CaseID)
	}
	if active[0].Patient.Demographics.AgeYears == nil || *active[0].Patient.Demographics.AgeYears != 42 {
		t.Error("Expected patient record to round-trip through the jsonb document")
	}
}

func TestCaseRepository_UpdateStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCaseRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	activeCase := domain.ActiveCase{
		CaseID:  "case-001",
		Status:  "pending",
		Patient: domain.PatientRecord{PatientID: "pt-001"},
	}
	if err := repo.Create(ctx, "Aetna", "Adalimumab", &activeCase); err != nil {
		t.Fatalf("Failed to store case: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "case-001", "denied"); err != nil {
		t.Fatalf("Failed to update case status: %v", err)
	}

	active, err := repo.ListActive(ctx, "Aetna", "Adalimumab")
	if err != nil {
		t.Fatalf("Failed to list active cases: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected denied case to be excluded from active list, got %d cases", len(active))
	}

	if err := repo.UpdateStatus(ctx, "case-missing", "approved"); err == nil {
		t.Error("Expected error when updating unknown case, got nil")
	}
}
