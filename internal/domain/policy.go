package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClinicalCode is a coded clinical concept (ICD-10, SNOMED, ...) attached to
// a criterion or exclusion.
type ClinicalCode struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// Root returns the code portion before the first dot, upper-cased.
// ICD-10 prefix matching is done on roots, so K50.1 matches K50.113.
func (c ClinicalCode) Root() string {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	if i := strings.Index(code, "."); i >= 0 {
		return code[:i]
	}
	return code
}

// IndicationCode is an ICD-10-like code identifying a covered condition.
type IndicationCode struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

// Root returns the code portion before the first dot, upper-cased.
func (c IndicationCode) Root() string {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	if i := strings.Index(code, "."); i >= 0 {
		return code[:i]
	}
	return code
}

// AtomicCriterion is a single, indivisible approval requirement extracted
// from a payer policy. Criteria are immutable once loaded from a policy
// version; the policy owns them.
type AtomicCriterion struct {
	ID                 string             `json:"id"`
	CriterionType      CriterionType      `json:"criterion_type"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	PolicyText         string             `json:"policy_text,omitempty"`
	Category           CriterionCategory  `json:"category"`
	IsRequired         bool               `json:"is_required"`
	ComparisonOperator ComparisonOperator `json:"comparison_operator,omitempty"`
	ThresholdValue     *float64           `json:"threshold_value,omitempty"`
	ThresholdUnit      string             `json:"threshold_unit,omitempty"`
	AllowedValues      []string           `json:"allowed_values,omitempty"`
	DrugNames          []string           `json:"drug_names,omitempty"`
	DrugClasses        []string           `json:"drug_classes,omitempty"`
	ClinicalCodes      []ClinicalCode     `json:"clinical_codes,omitempty"`
}

// UnmarshalJSON defaults is_required to true when the field is absent,
// matching the digitization pipeline's contract.
func (a *AtomicCriterion) UnmarshalJSON(data []byte) error {
	type alias AtomicCriterion
	tmp := alias{IsRequired: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*a = AtomicCriterion(tmp)
	return nil
}

// Validate checks the criterion's structural integrity.
func (a *AtomicCriterion) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "id", Message: "criterion id is required"}
	}
	if a.CriterionType != "" && !a.CriterionType.IsValid() {
		// Unknown types are tolerated at evaluation time (they resolve to
		// unknown), but flagged here so the loader can log them.
		return &ValidationError{Field: "criterion_type", Message: "unrecognized criterion type", Value: string(a.CriterionType)}
	}
	if a.ComparisonOperator != "" && !a.ComparisonOperator.IsValid() {
		return &ValidationError{Field: "comparison_operator", Message: "unrecognized comparison operator", Value: string(a.ComparisonOperator)}
	}
	return nil
}

// CriterionGroup is a boolean combination of criteria and subgroups. Members
// are referenced by id into the owning policy's maps; the graph rooted at an
// indication must be acyclic, and the resolver guards against cycles anyway.
type CriterionGroup struct {
	ID        string        `json:"id"`
	Operator  GroupOperator `json:"operator"`
	Criteria  []string      `json:"criteria,omitempty"`
	Subgroups []string      `json:"subgroups,omitempty"`
	Negated   bool          `json:"negated,omitempty"`
}

// Validate checks the group's structural integrity.
func (g *CriterionGroup) Validate() error {
	if g.ID == "" {
		return &ValidationError{Field: "id", Message: "group id is required"}
	}
	if !g.Operator.IsValid() {
		return &ValidationError{Field: "operator", Message: "unrecognized group operator", Value: string(g.Operator)}
	}
	seen := make(map[string]struct{}, len(g.Criteria))
	for _, id := range g.Criteria {
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "criteria", Message: "duplicate criterion reference", Value: id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Indication is a covered condition within a policy, with its own approval
// criteria and duration.
type Indication struct {
	ID                            string           `json:"id"`
	Name                          string           `json:"name"`
	IndicationCodes               []IndicationCode `json:"indication_codes,omitempty"`
	InitialApprovalCriteria       string           `json:"initial_approval_criteria"`
	ContinuationCriteria          string           `json:"continuation_criteria,omitempty"`
	MinAgeYears                   *int             `json:"min_age_years,omitempty"`
	MaxAgeYears                   *int             `json:"max_age_years,omitempty"`
	InitialApprovalDurationMonths int              `json:"initial_approval_duration_months,omitempty"`
}

// StepTherapyRequirement describes alternative treatments that must be tried
// or failed before the requested medication is approved.
type StepTherapyRequirement struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	DrugNames   []string `json:"drug_names,omitempty"`
	DrugClasses []string `json:"drug_classes,omitempty"`
}

// Exclusion describes a condition under which the medication is not covered.
type Exclusion struct {
	ID            string         `json:"id"`
	Description   string         `json:"description,omitempty"`
	ClinicalCodes []ClinicalCode `json:"clinical_codes,omitempty"`
}

// DigitizedPolicy is one version of a digitized payer policy for a
// (payer, medication) pair. It is produced by the digitization pipeline and
// read-only to this engine.
type DigitizedPolicy struct {
	PolicyID                string                                  `json:"policy_id"`
	Version                 string                                  `json:"version"`
	PayerName               string                                  `json:"payer_name"`
	MedicationName          string                                  `json:"medication_name"`
	AtomicCriteria          map[string]AtomicCriterion              `json:"atomic_criteria"`
	CriterionGroups         map[string]CriterionGroup               `json:"criterion_groups"`
	Indications             []Indication                            `json:"indications"`
	StepTherapyRequirements []StepTherapyRequirement                `json:"step_therapy_requirements,omitempty"`
	Exclusions              []Exclusion                             `json:"exclusions,omitempty"`
	// CategoryAggregation optionally overrides how a category's criteria
	// aggregate into a satisfied verdict. Absent categories fall back to
	// all_required, except step_therapy which defaults to any_one.
	CategoryAggregation map[CriterionCategory]AggregationPolicy `json:"category_aggregation,omitempty"`
}

// Validate performs load-time structural checks on the policy. Dangling
// criterion/group references are deliberately not an error here: the group
// resolver tolerates them at evaluation time and logs a warning instead.
func (p *DigitizedPolicy) Validate() error {
	if p.PolicyID == "" {
		return &ValidationError{Field: "policy_id", Message: "policy id is required"}
	}
	if p.Version == "" {
		return &ValidationError{Field: "version", Message: "policy version is required"}
	}
	if p.PayerName == "" {
		return &ValidationError{Field: "payer_name", Message: "payer name is required"}
	}
	if p.MedicationName == "" {
		return &ValidationError{Field: "medication_name", Message: "medication name is required"}
	}
	for id, criterion := range p.AtomicCriteria {
		if criterion.ID != "" && criterion.ID != id {
			return &ValidationError{Field: "atomic_criteria", Message: "criterion id does not match map key", Value: id}
		}
		if err := criterion.Validate(); err != nil {
			return fmt.Errorf("criterion %q: %w", id, err)
		}
	}
	for id, group := range p.CriterionGroups {
		if group.ID != "" && group.ID != id {
			return &ValidationError{Field: "criterion_groups", Message: "group id does not match map key", Value: id}
		}
		if err := group.Validate(); err != nil {
			return fmt.Errorf("group %q: %w", id, err)
		}
	}
	for _, ind := range p.Indications {
		if ind.ID == "" {
			return &ValidationError{Field: "indications", Message: "indication id is required"}
		}
	}
	for cat, agg := range p.CategoryAggregation {
		if !cat.IsValid() {
			return &ValidationError{Field: "category_aggregation", Message: "unrecognized category", Value: string(cat)}
		}
		if !agg.IsValid() {
			return &ValidationError{Field: "category_aggregation", Message: "unrecognized aggregation policy", Value: string(agg)}
		}
	}
	return nil
}

// AggregationFor returns the aggregation policy for a category, applying the
// policy-level override when present. step_therapy defaults to any_one (any
// single satisfied step-therapy path suffices); every other category defaults
// to all_required.
func (p *DigitizedPolicy) AggregationFor(category CriterionCategory) AggregationPolicy {
	if p.CategoryAggregation != nil {
		if agg, ok := p.CategoryAggregation[category]; ok && agg.IsValid() {
			return agg
		}
	}
	if category == CategoryStepTherapy {
		return AggregateAnyOne
	}
	return AggregateAllRequired
}

// Criterion looks up an atomic criterion by id.
func (p *DigitizedPolicy) Criterion(id string) (AtomicCriterion, bool) {
	c, ok := p.AtomicCriteria[id]
	return c, ok
}

// Group looks up a criterion group by id.
func (p *DigitizedPolicy) Group(id string) (CriterionGroup, bool) {
	g, ok := p.CriterionGroups[id]
	return g, ok
}

// SamePolicyAs reports whether other covers the same (payer, medication)
// pair. The diff engine refuses to compare versions of unrelated policies.
func (p *DigitizedPolicy) SamePolicyAs(other *DigitizedPolicy) bool {
	return other != nil &&
		strings.EqualFold(p.PayerName, other.PayerName) &&
		strings.EqualFold(p.MedicationName, other.MedicationName)
}
