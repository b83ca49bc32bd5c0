package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// Case statuses the impact analyzer considers open.
var activeCaseStatuses = []string{"pending", "in_review", "approved"}

// CaseRepository persists active prior-authorization cases. The patient
// record is stored as a jsonb document alongside the case's routing columns.
type CaseRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool, logger *logrus.Logger) *CaseRepository {
	return &CaseRepository{
		db:  db,
		log: logger,
	}
}

// Create stores a new case.
func (r *CaseRepository) Create(ctx context.Context, payer, medication string, activeCase *domain.ActiveCase) error {
	patient, err := json.Marshal(activeCase.Patient)
	if err != nil {
		return fmt.Errorf("marshaling patient record: %w", err)
	}

	query := `
		INSERT INTO active_cases (
			id, case_id, payer_name, medication_name, status, patient
		) VALUES (
			$1, $2, lower($3), lower($4), $5, $6
		)`

	_, err = r.db.Exec(ctx, query,
		uuid.New(),
		activeCase.CaseID,
		payer,
		medication,
		activeCase.Status,
		patient,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": activeCase.CaseID,
			"error":   err,
		}).Error("Failed to store case")
		return fmt.Errorf("storing case: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"case_id":    activeCase.CaseID,
		"payer":      payer,
		"medication": medication,
		"status":     activeCase.Status,
	}).Info("Case stored")

	return nil
}

// ListActive returns the open cases for the pair, oldest first. Closed and
// denied cases are excluded; a policy change cannot affect them.
func (r *CaseRepository) ListActive(ctx context.Context, payer, medication string) ([]domain.ActiveCase, error) {
	query := `
		SELECT case_id, status, patient
		FROM active_cases
		WHERE payer_name = lower($1) AND medication_name = lower($2) AND status = ANY($3)
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, payer, medication, activeCaseStatuses)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"payer":      payer,
			"medication": medication,
			"error":      err,
		}).Error("Failed to list active cases")
		return nil, fmt.Errorf("listing active cases: %w", err)
	}
	defer rows.Close()

	var cases []domain.ActiveCase
	for rows.Next() {
		var activeCase domain.ActiveCase
		var patient []byte
		if err := rows.Scan(&activeCase.CaseID, &activeCase.Status, &patient); err != nil {
			return nil, fmt.Errorf("scanning case row: %w", err)
		}
		if err := json.Unmarshal(patient, &activeCase.Patient); err != nil {
			return nil, fmt.Errorf("unmarshaling patient record for case %s: %w", activeCase.CaseID, err)
		}
		cases = append(cases, activeCase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating case rows: %w", err)
	}

	return cases, nil
}

// UpdateStatus moves a case to a new status.
func (r *CaseRepository) UpdateStatus(ctx context.Context, caseID, status string) error {
	query := `UPDATE active_cases SET status = $2, updated_at = NOW() WHERE case_id = $1`

	result, err := r.db.Exec(ctx, query, caseID, status)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"status":  status,
			"error":   err,
		}).Error("Failed to update case status")
		return fmt.Errorf("updating case status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("case %s not found", caseID)
	}

	return nil
}
