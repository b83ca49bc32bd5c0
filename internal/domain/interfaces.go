package domain

import "context"

// PolicyStore provides read access to versioned digitized policies.
// Implementations own all I/O; the evaluation core never touches storage.
type PolicyStore interface {
	// GetVersion returns one specific policy version, or ErrPolicyNotFound.
	GetVersion(ctx context.Context, payer, medication, version string) (*DigitizedPolicy, error)

	// GetLatest returns the most recently stored version for the pair, or
	// ErrPolicyNotFound.
	GetLatest(ctx context.Context, payer, medication string) (*DigitizedPolicy, error)

	// ListVersions returns the stored version identifiers for the pair,
	// oldest first. Versions are opaque strings; no semver ordering is
	// assumed beyond insertion order.
	ListVersions(ctx context.Context, payer, medication string) ([]string, error)
}

// PolicyWriter stores new policy versions. Versions are append-only.
type PolicyWriter interface {
	Create(ctx context.Context, policy *DigitizedPolicy) error
}

// PolicyFetcher pulls digitized policies from the upstream digitization
// pipeline.
type PolicyFetcher interface {
	FetchPolicy(ctx context.Context, payer, medication, version string) (*DigitizedPolicy, error)
	ListVersions(ctx context.Context, payer, medication string) ([]string, error)
}

// CaseStore lists the open cases a policy change could affect.
type CaseStore interface {
	ListActive(ctx context.Context, payer, medication string) ([]ActiveCase, error)
}

// DiffCache memoizes diff results keyed by
// (payer, medication, old_version, new_version).
type DiffCache interface {
	Get(ctx context.Context, payer, medication, oldVersion, newVersion string) (*PolicyDiff, bool, error)
	Set(ctx context.Context, diff *PolicyDiff) error
}
