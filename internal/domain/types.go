// Package domain contains the core business entities for prior-authorization
// policy evaluation: digitized payer policies, patient records, criterion
// evaluation statuses, and policy-change classifications.
package domain

// EvaluationStatus is the four-valued outcome of evaluating a criterion,
// group, or case against a policy. partial and unknown are distinct:
// partial means some but not all supporting evidence was found, unknown
// means no determinable evidence exists.
type EvaluationStatus string

const (
	StatusMet     EvaluationStatus = "met"
	StatusNotMet  EvaluationStatus = "not_met"
	StatusPartial EvaluationStatus = "partial"
	StatusUnknown EvaluationStatus = "unknown"
)

// IsValid reports whether the status is one of the four defined values.
func (s EvaluationStatus) IsValid() bool {
	switch s {
	case StatusMet, StatusNotMet, StatusPartial, StatusUnknown:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the status.
func (s EvaluationStatus) String() string {
	return string(s)
}

// CriterionType is the closed set of atomic criterion kinds the evaluator
// dispatches on. Unrecognized types always evaluate to unknown.
type CriterionType string

const (
	CriterionAge                      CriterionType = "age"
	CriterionDiagnosisConfirmed       CriterionType = "diagnosis_confirmed"
	CriterionPrescriberSpecialty      CriterionType = "prescriber_specialty"
	CriterionPriorTreatmentTried      CriterionType = "prior_treatment_tried"
	CriterionPriorTreatmentFailed     CriterionType = "prior_treatment_failed"
	CriterionSafetyScreeningCompleted CriterionType = "safety_screening_completed"
	CriterionSafetyScreeningNegative  CriterionType = "safety_screening_negative"
	CriterionClinicalMarkerPresent    CriterionType = "clinical_marker_present"
	CriterionLabValue                 CriterionType = "lab_value"
	CriterionLabTestCompleted         CriterionType = "lab_test_completed"
	CriterionOther                    CriterionType = "other"
)

// IsValid reports whether the criterion type is a known kind.
func (ct CriterionType) IsValid() bool {
	switch ct {
	case CriterionAge, CriterionDiagnosisConfirmed, CriterionPrescriberSpecialty,
		CriterionPriorTreatmentTried, CriterionPriorTreatmentFailed,
		CriterionSafetyScreeningCompleted, CriterionSafetyScreeningNegative,
		CriterionClinicalMarkerPresent, CriterionLabValue,
		CriterionLabTestCompleted, CriterionOther:
		return true
	default:
		return false
	}
}

func (ct CriterionType) String() string {
	return string(ct)
}

// CriterionCategory groups criteria for category-level verdict summaries.
type CriterionCategory string

const (
	CategoryAge             CriterionCategory = "age"
	CategoryDiagnosis       CriterionCategory = "diagnosis"
	CategoryStepTherapy     CriterionCategory = "step_therapy"
	CategoryPriorTreatment  CriterionCategory = "prior_treatment"
	CategorySafety          CriterionCategory = "safety"
	CategorySafetyScreening CriterionCategory = "safety_screening"
	CategoryPrescriber      CriterionCategory = "prescriber"
	CategoryLab             CriterionCategory = "lab"
	CategoryDocumentation   CriterionCategory = "documentation"
	CategoryClinical        CriterionCategory = "clinical"
	CategoryOther           CriterionCategory = "other"
)

// IsValid reports whether the category is a known value.
func (cc CriterionCategory) IsValid() bool {
	switch cc {
	case CategoryAge, CategoryDiagnosis, CategoryStepTherapy,
		CategoryPriorTreatment, CategorySafety, CategorySafetyScreening,
		CategoryPrescriber, CategoryLab, CategoryDocumentation,
		CategoryClinical, CategoryOther:
		return true
	default:
		return false
	}
}

func (cc CriterionCategory) String() string {
	return string(cc)
}

// ComparisonOperator is applied by numeric criteria (age, lab thresholds)
// against the criterion's threshold value.
type ComparisonOperator string

const (
	OpGTE ComparisonOperator = "gte"
	OpGT  ComparisonOperator = "gt"
	OpLTE ComparisonOperator = "lte"
	OpLT  ComparisonOperator = "lt"
	OpEQ  ComparisonOperator = "eq"
)

// IsValid reports whether the operator is one of the defined comparators.
func (op ComparisonOperator) IsValid() bool {
	switch op {
	case OpGTE, OpGT, OpLTE, OpLT, OpEQ:
		return true
	default:
		return false
	}
}

// Compare applies the operator to value against threshold.
func (op ComparisonOperator) Compare(value, threshold float64) bool {
	switch op {
	case OpGTE:
		return value >= threshold
	case OpGT:
		return value > threshold
	case OpLTE:
		return value <= threshold
	case OpLT:
		return value < threshold
	case OpEQ:
		return value == threshold
	default:
		return false
	}
}

// GroupOperator combines criteria and subgroups within a CriterionGroup.
type GroupOperator string

const (
	OperatorAND GroupOperator = "AND"
	OperatorOR  GroupOperator = "OR"
	OperatorNOT GroupOperator = "NOT"
)

// IsValid reports whether the operator is AND, OR, or NOT.
func (g GroupOperator) IsValid() bool {
	switch g {
	case OperatorAND, OperatorOR, OperatorNOT:
		return true
	default:
		return false
	}
}

func (g GroupOperator) String() string {
	return string(g)
}

// AggregationPolicy controls how a category's criteria combine into a
// category-level satisfied/not-satisfied summary.
type AggregationPolicy string

const (
	AggregateAllRequired AggregationPolicy = "all_required"
	AggregateAnyOne      AggregationPolicy = "any_one"
)

// IsValid reports whether the aggregation policy is a defined value.
func (a AggregationPolicy) IsValid() bool {
	switch a {
	case AggregateAllRequired, AggregateAnyOne:
		return true
	default:
		return false
	}
}

// ChangeCategory identifies which policy domain a change belongs to.
type ChangeCategory string

const (
	ChangeCategoryCriterion   ChangeCategory = "criterion"
	ChangeCategoryIndication  ChangeCategory = "indication"
	ChangeCategoryStepTherapy ChangeCategory = "step_therapy"
	ChangeCategoryExclusion   ChangeCategory = "exclusion"
)

// IsValid reports whether the change category is a defined value.
func (c ChangeCategory) IsValid() bool {
	switch c {
	case ChangeCategoryCriterion, ChangeCategoryIndication,
		ChangeCategoryStepTherapy, ChangeCategoryExclusion:
		return true
	default:
		return false
	}
}

// ChangeType classifies how an entry differs between two policy versions.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// IsValid reports whether the change type is added, removed, or modified.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeAdded, ChangeRemoved, ChangeModified:
		return true
	default:
		return false
	}
}

// ChangeSeverity ranks a change's likely effect on open cases.
// breaking changes are likely to flip an existing case's verdict;
// material changes are relevant but non-verdict-changing.
type ChangeSeverity string

const (
	SeverityBreaking ChangeSeverity = "breaking"
	SeverityMaterial ChangeSeverity = "material"
)

// IsValid reports whether the severity is breaking or material.
func (s ChangeSeverity) IsValid() bool {
	switch s {
	case SeverityBreaking, SeverityMaterial:
		return true
	default:
		return false
	}
}

func (s ChangeSeverity) String() string {
	return string(s)
}

// SeverityAssessment is the diff-level overall impact rating.
type SeverityAssessment string

const (
	AssessmentHighImpact     SeverityAssessment = "high_impact"
	AssessmentModerateImpact SeverityAssessment = "moderate_impact"
	AssessmentLowImpact      SeverityAssessment = "low_impact"
)

// IsValid reports whether the assessment is a defined value.
func (s SeverityAssessment) IsValid() bool {
	switch s {
	case AssessmentHighImpact, AssessmentModerateImpact, AssessmentLowImpact:
		return true
	default:
		return false
	}
}

// RiskLevel classifies a single case's exposure to a policy change.
type RiskLevel string

const (
	RiskVerdictFlip RiskLevel = "verdict_flip"
	RiskAtRisk      RiskLevel = "at_risk"
	RiskNoImpact    RiskLevel = "no_impact"
)

// IsValid reports whether the risk level is a defined value.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskVerdictFlip, RiskAtRisk, RiskNoImpact:
		return true
	default:
		return false
	}
}

func (r RiskLevel) String() string {
	return string(r)
}
