package service

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// DiffEngine compares two versions of one digitized policy and emits
// classified, severity-ranked changes. Comparison is deterministic: the same
// input pair always yields the same change set (modulo generated change ids).
type DiffEngine struct {
	log *logrus.Logger
}

// NewDiffEngine creates a diff engine.
func NewDiffEngine(logger *logrus.Logger) *DiffEngine {
	return &DiffEngine{log: logger}
}

// Diff aligns the two versions' criteria, indications, step-therapy
// requirements, and exclusions by id and classifies every difference.
// Policies for different (payer, medication) pairs are rejected with
// domain.ErrPolicyMismatch.
func (d *DiffEngine) Diff(oldPolicy, newPolicy *domain.DigitizedPolicy) (*domain.PolicyDiff, error) {
	if !oldPolicy.SamePolicyAs(newPolicy) {
		return nil, fmt.Errorf("diffing %s/%s against %s/%s: %w",
			oldPolicy.PayerName, oldPolicy.MedicationName,
			newPolicy.PayerName, newPolicy.MedicationName,
			domain.ErrPolicyMismatch)
	}

	diff := &domain.PolicyDiff{
		PayerName:      oldPolicy.PayerName,
		MedicationName: oldPolicy.MedicationName,
		OldVersion:     oldPolicy.Version,
		NewVersion:     newPolicy.Version,
		GeneratedAt:    time.Now().UTC(),
	}

	unchangedCriteria := 0
	diff.Changes.Criteria, unchangedCriteria = d.diffCriteria(oldPolicy, newPolicy)
	diff.Changes.Indications = d.diffIndications(oldPolicy, newPolicy)
	diff.Changes.StepTherapy = d.diffStepTherapy(oldPolicy, newPolicy)
	diff.Changes.Exclusions = d.diffExclusions(oldPolicy, newPolicy)

	diff.Summary = summarize(diff, len(oldPolicy.AtomicCriteria), len(newPolicy.AtomicCriteria), unchangedCriteria)

	d.log.WithFields(logrus.Fields{
		"payer":       diff.PayerName,
		"medication":  diff.MedicationName,
		"old_version": diff.OldVersion,
		"new_version": diff.NewVersion,
		"added":       diff.Summary.Added,
		"removed":     diff.Summary.Removed,
		"modified":    diff.Summary.Modified,
		"breaking":    diff.Summary.BreakingChanges,
		"assessment":  diff.Summary.SeverityAssessment,
	}).Info("Computed policy diff")

	return diff, nil
}

// diffCriteria aligns atomic criteria by id and returns the change list plus
// the count of unchanged criteria.
func (d *DiffEngine) diffCriteria(oldPolicy, newPolicy *domain.DigitizedPolicy) ([]domain.Change, int) {
	changes := make([]domain.Change, 0)
	unchanged := 0

	for _, id := range sortedKeys(oldPolicy.AtomicCriteria) {
		oldC := oldPolicy.AtomicCriteria[id]
		newC, exists := newPolicy.AtomicCriteria[id]
		if !exists {
			// Dropping a requirement relaxes the policy.
			changes = append(changes, newChange(id, domain.ChangeCategoryCriterion, domain.ChangeRemoved, domain.SeverityMaterial, nil, oldC, nil))
			continue
		}
		fields := diffCriterionFields(&oldC, &newC)
		if len(fields) == 0 {
			unchanged++
			continue
		}
		severity := classifyCriterionModification(&oldC, &newC, fields)
		changes = append(changes, newChange(id, domain.ChangeCategoryCriterion, domain.ChangeModified, severity, fields, oldC, newC))
	}

	for _, id := range sortedKeys(newPolicy.AtomicCriteria) {
		if _, exists := oldPolicy.AtomicCriteria[id]; exists {
			continue
		}
		newC := newPolicy.AtomicCriteria[id]
		severity := domain.SeverityMaterial
		if newC.IsRequired {
			// A brand-new required criterion can fail cases that were
			// previously approvable.
			severity = domain.SeverityBreaking
		}
		changes = append(changes, newChange(id, domain.ChangeCategoryCriterion, domain.ChangeAdded, severity, nil, nil, newC))
	}

	return changes, unchanged
}

// diffCriterionFields lists every changed field as {field, old, new}.
func diffCriterionFields(oldC, newC *domain.AtomicCriterion) []domain.FieldChange {
	var fields []domain.FieldChange
	add := func(name string, oldV, newV any) {
		fields = append(fields, domain.FieldChange{Field: name, Old: oldV, New: newV})
	}

	if oldC.CriterionType != newC.CriterionType {
		add("criterion_type", oldC.CriterionType, newC.CriterionType)
	}
	if oldC.Name != newC.Name {
		add("name", oldC.Name, newC.Name)
	}
	if oldC.Description != newC.Description {
		add("description", oldC.Description, newC.Description)
	}
	if oldC.PolicyText != newC.PolicyText {
		add("policy_text", oldC.PolicyText, newC.PolicyText)
	}
	if oldC.Category != newC.Category {
		add("category", oldC.Category, newC.Category)
	}
	if oldC.IsRequired != newC.IsRequired {
		add("is_required", oldC.IsRequired, newC.IsRequired)
	}
	if oldC.ComparisonOperator != newC.ComparisonOperator {
		add("comparison_operator", oldC.ComparisonOperator, newC.ComparisonOperator)
	}
	if !floatPtrEqual(oldC.ThresholdValue, newC.ThresholdValue) {
		add("threshold_value", deref(oldC.ThresholdValue), deref(newC.ThresholdValue))
	}
	if oldC.ThresholdUnit != newC.ThresholdUnit {
		add("threshold_unit", oldC.ThresholdUnit, newC.ThresholdUnit)
	}
	if !reflect.DeepEqual(oldC.AllowedValues, newC.AllowedValues) {
		add("allowed_values", oldC.AllowedValues, newC.AllowedValues)
	}
	if !reflect.DeepEqual(oldC.DrugNames, newC.DrugNames) {
		add("drug_names", oldC.DrugNames, newC.DrugNames)
	}
	if !reflect.DeepEqual(oldC.DrugClasses, newC.DrugClasses) {
		add("drug_classes", oldC.DrugClasses, newC.DrugClasses)
	}
	if !reflect.DeepEqual(oldC.ClinicalCodes, newC.ClinicalCodes) {
		add("clinical_codes", oldC.ClinicalCodes, newC.ClinicalCodes)
	}
	return fields
}

// classifyCriterionModification is the deterministic severity lookup keyed
// by field and direction of change. A modification is breaking when any
// single field change is breaking; anything unclassifiable defaults to
// material, never dropped.
func classifyCriterionModification(oldC, newC *domain.AtomicCriterion, fields []domain.FieldChange) domain.ChangeSeverity {
	for _, fc := range fields {
		if criterionFieldSeverity(oldC, newC, fc.Field) == domain.SeverityBreaking {
			return domain.SeverityBreaking
		}
	}
	return domain.SeverityMaterial
}

// criterionFieldSeverity classifies one field change.
//
//	is_required false->true        breaking (new hard requirement)
//	criterion_type change          breaking (evaluation semantics change)
//	comparison_operator change     breaking
//	threshold stricter             breaking, relaxed material
//	allowed_values narrowed        breaking, widened material
//	drug_names/classes narrowed    breaking, widened material
//	clinical_codes narrowed        breaking, widened material
//	name/description/policy_text   material (cosmetic)
//	everything else                material
func criterionFieldSeverity(oldC, newC *domain.AtomicCriterion, field string) domain.ChangeSeverity {
	switch field {
	case "is_required":
		if !oldC.IsRequired && newC.IsRequired {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "criterion_type", "comparison_operator":
		return domain.SeverityBreaking
	case "threshold_value":
		if thresholdStricter(oldC, newC) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "allowed_values":
		if listNarrowed(oldC.AllowedValues, newC.AllowedValues) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "drug_names":
		if listNarrowed(oldC.DrugNames, newC.DrugNames) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "drug_classes":
		if listNarrowed(oldC.DrugClasses, newC.DrugClasses) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "clinical_codes":
		if codesNarrowed(oldC.ClinicalCodes, newC.ClinicalCodes) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	default:
		return domain.SeverityMaterial
	}
}

// thresholdStricter interprets a threshold move relative to the operator's
// direction: raising a minimum (gte/gt) or lowering a maximum (lte/lt) is
// stricter. Equality thresholds and operator-less criteria cannot be ranked,
// so any change there counts as stricter.
func thresholdStricter(oldC, newC *domain.AtomicCriterion) bool {
	if oldC.ThresholdValue == nil || newC.ThresholdValue == nil {
		return true
	}
	oldV, newV := *oldC.ThresholdValue, *newC.ThresholdValue
	switch newC.ComparisonOperator {
	case domain.OpGTE, domain.OpGT:
		return newV > oldV
	case domain.OpLTE, domain.OpLT:
		return newV < oldV
	default:
		return true
	}
}

// listNarrowed reports whether the new list dropped any old entry.
func listNarrowed(oldList, newList []string) bool {
	newSet := make(map[string]struct{}, len(newList))
	for _, v := range newList {
		newSet[v] = struct{}{}
	}
	for _, v := range oldList {
		if _, ok := newSet[v]; !ok {
			return true
		}
	}
	return false
}

// codesNarrowed reports whether any old clinical code disappeared.
func codesNarrowed(oldCodes, newCodes []domain.ClinicalCode) bool {
	newSet := make(map[string]struct{}, len(newCodes))
	for _, c := range newCodes {
		newSet[c.System+"|"+c.Code] = struct{}{}
	}
	for _, c := range oldCodes {
		if _, ok := newSet[c.System+"|"+c.Code]; !ok {
			return true
		}
	}
	return false
}

// diffIndications aligns indications by id. A removed indication strips
// coverage from every case approved under it, so removal is breaking;
// additions only expand coverage.
func (d *DiffEngine) diffIndications(oldPolicy, newPolicy *domain.DigitizedPolicy) []domain.Change {
	oldByID := indicationsByID(oldPolicy.Indications)
	newByID := indicationsByID(newPolicy.Indications)
	changes := make([]domain.Change, 0)

	for _, id := range sortedKeys(oldByID) {
		oldInd := oldByID[id]
		newInd, exists := newByID[id]
		if !exists {
			changes = append(changes, newChange(id, domain.ChangeCategoryIndication, domain.ChangeRemoved, domain.SeverityBreaking, nil, oldInd, nil))
			continue
		}
		fields := diffIndicationFields(&oldInd, &newInd)
		if len(fields) == 0 {
			continue
		}
		severity := domain.SeverityMaterial
		for _, fc := range fields {
			if indicationFieldSeverity(&oldInd, &newInd, fc.Field) == domain.SeverityBreaking {
				severity = domain.SeverityBreaking
				break
			}
		}
		changes = append(changes, newChange(id, domain.ChangeCategoryIndication, domain.ChangeModified, severity, fields, oldInd, newInd))
	}
	for _, id := range sortedKeys(newByID) {
		if _, exists := oldByID[id]; !exists {
			changes = append(changes, newChange(id, domain.ChangeCategoryIndication, domain.ChangeAdded, domain.SeverityMaterial, nil, nil, newByID[id]))
		}
	}
	return changes
}

func diffIndicationFields(oldInd, newInd *domain.Indication) []domain.FieldChange {
	var fields []domain.FieldChange
	add := func(name string, oldV, newV any) {
		fields = append(fields, domain.FieldChange{Field: name, Old: oldV, New: newV})
	}
	if oldInd.Name != newInd.Name {
		add("name", oldInd.Name, newInd.Name)
	}
	if !reflect.DeepEqual(oldInd.IndicationCodes, newInd.IndicationCodes) {
		add("indication_codes", oldInd.IndicationCodes, newInd.IndicationCodes)
	}
	if oldInd.InitialApprovalCriteria != newInd.InitialApprovalCriteria {
		add("initial_approval_criteria", oldInd.InitialApprovalCriteria, newInd.InitialApprovalCriteria)
	}
	if oldInd.ContinuationCriteria != newInd.ContinuationCriteria {
		add("continuation_criteria", oldInd.ContinuationCriteria, newInd.ContinuationCriteria)
	}
	if !intPtrEqual(oldInd.MinAgeYears, newInd.MinAgeYears) {
		add("min_age_years", derefInt(oldInd.MinAgeYears), derefInt(newInd.MinAgeYears))
	}
	if !intPtrEqual(oldInd.MaxAgeYears, newInd.MaxAgeYears) {
		add("max_age_years", derefInt(oldInd.MaxAgeYears), derefInt(newInd.MaxAgeYears))
	}
	if oldInd.InitialApprovalDurationMonths != newInd.InitialApprovalDurationMonths {
		add("initial_approval_duration_months", oldInd.InitialApprovalDurationMonths, newInd.InitialApprovalDurationMonths)
	}
	return fields
}

// indicationFieldSeverity: tightened age bounds and swapped criteria roots
// can fail existing cases; code-set narrowing likewise. Everything else is
// material (including shortened approval duration, which affects renewals
// but not the current verdict).
func indicationFieldSeverity(oldInd, newInd *domain.Indication, field string) domain.ChangeSeverity {
	switch field {
	case "initial_approval_criteria":
		return domain.SeverityBreaking
	case "min_age_years":
		if intPtrRaised(oldInd.MinAgeYears, newInd.MinAgeYears) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "max_age_years":
		if intPtrLowered(oldInd.MaxAgeYears, newInd.MaxAgeYears) {
			return domain.SeverityBreaking
		}
		return domain.SeverityMaterial
	case "indication_codes":
		oldSet := make(map[string]struct{}, len(oldInd.IndicationCodes))
		for _, c := range oldInd.IndicationCodes {
			oldSet[c.System+"|"+c.Code] = struct{}{}
		}
		for key := range oldSet {
			found := false
			for _, c := range newInd.IndicationCodes {
				if c.System+"|"+c.Code == key {
					found = true
					break
				}
			}
			if !found {
				return domain.SeverityBreaking
			}
		}
		return domain.SeverityMaterial
	default:
		return domain.SeverityMaterial
	}
}

// diffStepTherapy aligns step-therapy requirements by id. New requirements
// force additional trial-and-failure history, so additions are breaking;
// removals relax the policy.
func (d *DiffEngine) diffStepTherapy(oldPolicy, newPolicy *domain.DigitizedPolicy) []domain.Change {
	oldByID := stepTherapyByID(oldPolicy.StepTherapyRequirements)
	newByID := stepTherapyByID(newPolicy.StepTherapyRequirements)
	changes := make([]domain.Change, 0)

	for _, id := range sortedKeys(oldByID) {
		oldReq := oldByID[id]
		newReq, exists := newByID[id]
		if !exists {
			changes = append(changes, newChange(id, domain.ChangeCategoryStepTherapy, domain.ChangeRemoved, domain.SeverityMaterial, nil, oldReq, nil))
			continue
		}
		var fields []domain.FieldChange
		if oldReq.Description != newReq.Description {
			fields = append(fields, domain.FieldChange{Field: "description", Old: oldReq.Description, New: newReq.Description})
		}
		if !reflect.DeepEqual(oldReq.DrugNames, newReq.DrugNames) {
			fields = append(fields, domain.FieldChange{Field: "drug_names", Old: oldReq.DrugNames, New: newReq.DrugNames})
		}
		if !reflect.DeepEqual(oldReq.DrugClasses, newReq.DrugClasses) {
			fields = append(fields, domain.FieldChange{Field: "drug_classes", Old: oldReq.DrugClasses, New: newReq.DrugClasses})
		}
		if len(fields) == 0 {
			continue
		}
		severity := domain.SeverityMaterial
		// Removing qualifying alternatives narrows the ways a patient can
		// satisfy step therapy.
		if listNarrowed(oldReq.DrugNames, newReq.DrugNames) || listNarrowed(oldReq.DrugClasses, newReq.DrugClasses) {
			severity = domain.SeverityBreaking
		}
		changes = append(changes, newChange(id, domain.ChangeCategoryStepTherapy, domain.ChangeModified, severity, fields, oldReq, newReq))
	}
	for _, id := range sortedKeys(newByID) {
		if _, exists := oldByID[id]; !exists {
			changes = append(changes, newChange(id, domain.ChangeCategoryStepTherapy, domain.ChangeAdded, domain.SeverityBreaking, nil, nil, newByID[id]))
		}
	}
	return changes
}

// diffExclusions aligns exclusions by id. A new exclusion can disqualify
// existing cases; removals and edits are material.
func (d *DiffEngine) diffExclusions(oldPolicy, newPolicy *domain.DigitizedPolicy) []domain.Change {
	oldByID := exclusionsByID(oldPolicy.Exclusions)
	newByID := exclusionsByID(newPolicy.Exclusions)
	changes := make([]domain.Change, 0)

	for _, id := range sortedKeys(oldByID) {
		oldEx := oldByID[id]
		newEx, exists := newByID[id]
		if !exists {
			changes = append(changes, newChange(id, domain.ChangeCategoryExclusion, domain.ChangeRemoved, domain.SeverityMaterial, nil, oldEx, nil))
			continue
		}
		var fields []domain.FieldChange
		if oldEx.Description != newEx.Description {
			fields = append(fields, domain.FieldChange{Field: "description", Old: oldEx.Description, New: newEx.Description})
		}
		if !reflect.DeepEqual(oldEx.ClinicalCodes, newEx.ClinicalCodes) {
			fields = append(fields, domain.FieldChange{Field: "clinical_codes", Old: oldEx.ClinicalCodes, New: newEx.ClinicalCodes})
		}
		if len(fields) == 0 {
			continue
		}
		changes = append(changes, newChange(id, domain.ChangeCategoryExclusion, domain.ChangeModified, domain.SeverityMaterial, fields, oldEx, newEx))
	}
	for _, id := range sortedKeys(newByID) {
		if _, exists := oldByID[id]; !exists {
			changes = append(changes, newChange(id, domain.ChangeCategoryExclusion, domain.ChangeAdded, domain.SeverityBreaking, nil, nil, newByID[id]))
		}
	}
	return changes
}

// summarize derives the diff-level counts and overall assessment. Any
// breaking change rates the diff high_impact; material-only diffs are
// moderate; a clean diff is low.
func summarize(diff *domain.PolicyDiff, totalOld, totalNew, unchanged int) domain.DiffSummary {
	summary := domain.DiffSummary{
		TotalCriteriaOld: totalOld,
		TotalCriteriaNew: totalNew,
		Unchanged:        unchanged,
	}
	for _, change := range diff.Changes.All() {
		switch change.ChangeType {
		case domain.ChangeAdded:
			summary.Added++
		case domain.ChangeRemoved:
			summary.Removed++
		case domain.ChangeModified:
			summary.Modified++
		}
		switch change.Severity {
		case domain.SeverityBreaking:
			summary.BreakingChanges++
		case domain.SeverityMaterial:
			summary.MaterialChanges++
		}
	}
	switch {
	case summary.BreakingChanges > 0:
		summary.SeverityAssessment = domain.AssessmentHighImpact
	case summary.MaterialChanges > 0:
		summary.SeverityAssessment = domain.AssessmentModerateImpact
	default:
		summary.SeverityAssessment = domain.AssessmentLowImpact
	}
	return summary
}

func newChange(entryID string, category domain.ChangeCategory, changeType domain.ChangeType, severity domain.ChangeSeverity, fields []domain.FieldChange, oldValue, newValue any) domain.Change {
	return domain.Change{
		ID:           uuid.NewString(),
		EntryID:      entryID,
		Category:     category,
		ChangeType:   changeType,
		Severity:     severity,
		FieldChanges: fields,
		OldValue:     oldValue,
		NewValue:     newValue,
	}
}

func indicationsByID(indications []domain.Indication) map[string]domain.Indication {
	m := make(map[string]domain.Indication, len(indications))
	for _, ind := range indications {
		m[ind.ID] = ind
	}
	return m
}

func stepTherapyByID(reqs []domain.StepTherapyRequirement) map[string]domain.StepTherapyRequirement {
	m := make(map[string]domain.StepTherapyRequirement, len(reqs))
	for _, req := range reqs {
		m[req.ID] = req
	}
	return m
}

func exclusionsByID(exclusions []domain.Exclusion) map[string]domain.Exclusion {
	m := make(map[string]domain.Exclusion, len(exclusions))
	for _, ex := range exclusions {
		m[ex.ID] = ex
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// intPtrRaised reports whether a minimum bound got higher (nil counts as
// unbounded).
func intPtrRaised(oldV, newV *int) bool {
	if newV == nil {
		return false
	}
	if oldV == nil {
		return true
	}
	return *newV > *oldV
}

// intPtrLowered reports whether a maximum bound got lower.
func intPtrLowered(oldV, newV *int) bool {
	if newV == nil {
		return false
	}
	if oldV == nil {
		return true
	}
	return *newV < *oldV
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
