// Package review stores analyst reviews of engine verdicts. Analysts confirm
// or override the engine's evaluation, and the stored record is the audit
// trail for those decisions.
package review

import (
	"context"
	"io"
	"time"

	"github.com/pa-policy-engine/internal/domain"
)

// Review is one analyst's decision on one case evaluation. The pair
// (case_id, policy_version) is unique; re-reviewing the same case under the
// same version replaces the earlier record.
type Review struct {
	ID             int64                   `json:"id,omitempty"`
	CaseID         string                  `json:"case_id"`
	PolicyID       string                  `json:"policy_id"`
	PolicyVersion  string                  `json:"policy_version"`
	EngineVerdict  domain.EvaluationStatus `json:"engine_verdict"`
	AnalystVerdict domain.EvaluationStatus `json:"analyst_verdict"`
	AnalystAgreed  bool                    `json:"analyst_agreed"`
	Reviewer       string                  `json:"reviewer,omitempty"`
	Notes          string                  `json:"notes,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Store defines the interface for review storage operations.
type Store interface {
	// Save stores or updates a review. A review for the same
	// case_id + policy_version is updated in place.
	Save(ctx context.Context, review *Review) error

	// Get retrieves the review for a case under a policy version, or nil
	// when none exists.
	Get(ctx context.Context, caseID, policyVersion string) (*Review, error)

	// List returns reviews newest first, with pagination.
	List(ctx context.Context, limit, offset int) ([]*Review, error)

	// Count returns the total number of stored reviews.
	Count(ctx context.Context) (int64, error)

	// Delete removes a review by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON writes all reviews to the writer as one JSON document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export document and inserts reviews that do not
	// already exist. Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export is the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Reviews    []*Review `json:"reviews"`
}
