package domain

import "time"

// FieldChange records one field-level difference between two versions of a
// policy entry.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Change is one classified difference between two policy versions. Changes
// are produced once per diff run and immutable afterwards.
type Change struct {
	ID           string         `json:"id"`
	EntryID      string         `json:"entry_id"`
	Category     ChangeCategory `json:"category"`
	ChangeType   ChangeType     `json:"change_type"`
	Severity     ChangeSeverity `json:"severity"`
	FieldChanges []FieldChange  `json:"field_changes,omitempty"`
	OldValue     any            `json:"old_value,omitempty"`
	NewValue     any            `json:"new_value,omitempty"`
}

// DiffSummary aggregates counts across all change domains of one diff run.
type DiffSummary struct {
	TotalCriteriaOld   int                `json:"total_criteria_old"`
	TotalCriteriaNew   int                `json:"total_criteria_new"`
	Added              int                `json:"added"`
	Removed            int                `json:"removed"`
	Modified           int                `json:"modified"`
	Unchanged          int                `json:"unchanged"`
	BreakingChanges    int                `json:"breaking_changes"`
	MaterialChanges    int                `json:"material_changes"`
	SeverityAssessment SeverityAssessment `json:"severity_assessment"`
}

// ChangeSet groups changes by policy domain.
type ChangeSet struct {
	Criteria    []Change `json:"criteria"`
	Indications []Change `json:"indications"`
	StepTherapy []Change `json:"step_therapy"`
	Exclusions  []Change `json:"exclusions"`
}

// All returns every change in the set, in domain order.
func (cs *ChangeSet) All() []Change {
	out := make([]Change, 0, len(cs.Criteria)+len(cs.Indications)+len(cs.StepTherapy)+len(cs.Exclusions))
	out = append(out, cs.Criteria...)
	out = append(out, cs.Indications...)
	out = append(out, cs.StepTherapy...)
	out = append(out, cs.Exclusions...)
	return out
}

// BreakingCriterionIDs returns the ids of criteria with breaking changes.
// The impact analyzer intersects these with each case's criteria.
func (cs *ChangeSet) BreakingCriterionIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, c := range cs.Criteria {
		if c.Severity == SeverityBreaking {
			ids[c.EntryID] = struct{}{}
		}
	}
	return ids
}

// ChangedCriterionIDs returns the ids of all changed criteria.
func (cs *ChangeSet) ChangedCriterionIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(cs.Criteria))
	for _, c := range cs.Criteria {
		ids[c.EntryID] = struct{}{}
	}
	return ids
}

// PolicyDiff is the full result of comparing two versions of one policy.
type PolicyDiff struct {
	PayerName      string      `json:"payer_name"`
	MedicationName string      `json:"medication_name"`
	OldVersion     string      `json:"old_version"`
	NewVersion     string      `json:"new_version"`
	Summary        DiffSummary `json:"summary"`
	Changes        ChangeSet   `json:"changes"`
	GeneratedAt    time.Time   `json:"generated_at"`
}
