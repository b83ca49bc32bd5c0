package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// PolicyRepository persists digitized policy versions. Each version is stored
// as one immutable jsonb document; the relational columns exist only for
// lookup, the document is the source of truth.
type PolicyRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *pgxpool.Pool, logger *logrus.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:  db,
		log: logger,
	}
}

// Create stores a new policy version. The policy is validated before insert;
// versions are append-only and never updated in place.
func (r *PolicyRepository) Create(ctx context.Context, policy *domain.DigitizedPolicy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("validating policy %s version %s: %w", policy.PolicyID, policy.Version, err)
	}

	document, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshaling policy document: %w", err)
	}

	query := `
		INSERT INTO policy_versions (
			id, policy_id, payer_name, medication_name, version, document
		) VALUES (
			$1, $2, lower($3), lower($4), $5, $6
		)`

	_, err = r.db.Exec(ctx, query,
		uuid.New(),
		policy.PolicyID,
		policy.PayerName,
		policy.MedicationName,
		policy.Version,
		document,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"policy_id": policy.PolicyID,
			"version":   policy.Version,
			"error":     err,
		}).Error("Failed to store policy version")
		return fmt.Errorf("storing policy version: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"policy_id":  policy.PolicyID,
		"payer":      policy.PayerName,
		"medication": policy.MedicationName,
		"version":    policy.Version,
	}).Info("Policy version stored")

	return nil
}

// GetVersion retrieves one specific policy version for the pair.
func (r *PolicyRepository) GetVersion(ctx context.Context, payer, medication, version string) (*domain.DigitizedPolicy, error) {
	query := `
		SELECT document
		FROM policy_versions
		WHERE payer_name = lower($1) AND medication_name = lower($2) AND version = $3`

	var document []byte
	err := r.db.QueryRow(ctx, query, payer, medication, version).Scan(&document)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("policy %s/%s version %s: %w", payer, medication, version, domain.ErrPolicyNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"payer":      payer,
			"medication": medication,
			"version":    version,
			"error":      err,
		}).Error("Failed to get policy version")
		return nil, fmt.Errorf("getting policy version: %w", err)
	}

	return unmarshalPolicy(document)
}

// GetLatest retrieves the most recently stored version for the pair.
func (r *PolicyRepository) GetLatest(ctx context.Context, payer, medication string) (*domain.DigitizedPolicy, error) {
	query := `
		SELECT document
		FROM policy_versions
		WHERE payer_name = lower($1) AND medication_name = lower($2)
		ORDER BY created_at DESC
		LIMIT 1`

	var document []byte
	err := r.db.QueryRow(ctx, query, payer, medication).Scan(&document)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("policy %s/%s: %w", payer, medication, domain.ErrPolicyNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"payer":      payer,
			"medication": medication,
			"error":      err,
		}).Error("Failed to get latest policy version")
		return nil, fmt.Errorf("getting latest policy version: %w", err)
	}

	return unmarshalPolicy(document)
}

// ListVersions returns the stored version identifiers for the pair, oldest
// first.
func (r *PolicyRepository) ListVersions(ctx context.Context, payer, medication string) ([]string, error) {
	query := `
		SELECT version
		FROM policy_versions
		WHERE payer_name = lower($1) AND medication_name = lower($2)
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, payer, medication)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"payer":      payer,
			"medication": medication,
			"error":      err,
		}).Error("Failed to list policy versions")
		return nil, fmt.Errorf("listing policy versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version rows: %w", err)
	}

	return versions, nil
}

// ListPolicies returns the distinct (payer, medication) pairs with at least
// one stored version, with their version counts and newest timestamp.
func (r *PolicyRepository) ListPolicies(ctx context.Context) ([]PolicySummary, error) {
	query := `
		SELECT payer_name, medication_name, COUNT(*), MAX(created_at)
		FROM policy_versions
		GROUP BY payer_name, medication_name
		ORDER BY payer_name, medication_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.log.WithField("error", err).Error("Failed to list policies")
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var summaries []PolicySummary
	for rows.Next() {
		var s PolicySummary
		if err := rows.Scan(&s.PayerName, &s.MedicationName, &s.VersionCount, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy summary rows: %w", err)
	}

	return summaries, nil
}

// PolicySummary is one row of the policy catalog listing.
type PolicySummary struct {
	PayerName      string    `json:"payer_name"`
	MedicationName string    `json:"medication_name"`
	VersionCount   int       `json:"version_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func unmarshalPolicy(document []byte) (*domain.DigitizedPolicy, error) {
	var policy domain.DigitizedPolicy
	if err := json.Unmarshal(document, &policy); err != nil {
		return nil, fmt.Errorf("unmarshaling policy document: %w", err)
	}
	return &policy, nil
}
