package domain

import "time"

// PatientImpact is the projected effect of a policy change on one active
// case. Produced once per impact-analysis run per case.
type PatientImpact struct {
	CaseID            string           `json:"case_id"`
	CurrentVerdict    EvaluationStatus `json:"current_verdict"`
	ProjectedVerdict  EvaluationStatus `json:"projected_verdict"`
	VerdictChanged    bool             `json:"verdict_changed"`
	AffectedCriteria  []string         `json:"affected_criteria,omitempty"`
	RiskLevel         RiskLevel        `json:"risk_level"`
	RecommendedAction string           `json:"recommended_action"`
}

// ImpactReport aggregates per-case impacts for one policy-version change.
// Reports are all-or-nothing: a cancelled or failed analysis never yields a
// partial report.
type ImpactReport struct {
	PayerName        string          `json:"payer_name"`
	MedicationName   string          `json:"medication_name"`
	OldVersion       string          `json:"old_version"`
	NewVersion       string          `json:"new_version"`
	TotalActiveCases int             `json:"total_active_cases"`
	ImpactedCases    int             `json:"impacted_cases"`
	VerdictFlips     int             `json:"verdict_flips"`
	AtRiskCases      int             `json:"at_risk_cases"`
	PatientImpacts   []PatientImpact `json:"patient_impacts"`
	ActionItems      []string        `json:"action_items,omitempty"`
	GeneratedAt      time.Time       `json:"generated_at"`
}
