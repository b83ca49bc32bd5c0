package domain

// CriterionResult is the evaluation outcome for one atomic criterion.
type CriterionResult struct {
	CriterionID string            `json:"criterion_id"`
	Name        string            `json:"name,omitempty"`
	Category    CriterionCategory `json:"category"`
	IsRequired  bool              `json:"is_required"`
	Status      EvaluationStatus  `json:"status"`
}

// CategorySummary aggregates the criteria of one category into a
// satisfied/not-satisfied verdict using the policy's aggregation rule for
// that category.
type CategorySummary struct {
	Category    CriterionCategory `json:"category"`
	Aggregation AggregationPolicy `json:"aggregation"`
	Satisfied   bool              `json:"satisfied"`
	Status      EvaluationStatus  `json:"status"`
	Criteria    []CriterionResult `json:"criteria"`
}

// EvaluationReport is the full verdict for one patient case against one
// policy version: the matched indication, the group-resolved verdict for its
// initial approval criteria, and per-category summaries.
type EvaluationReport struct {
	PolicyID          string            `json:"policy_id"`
	PolicyVersion     string            `json:"policy_version"`
	IndicationID      string            `json:"indication_id"`
	IndicationName    string            `json:"indication_name"`
	Verdict           EvaluationStatus  `json:"verdict"`
	CategorySummaries []CategorySummary `json:"category_summaries"`
	CriterionResults  []CriterionResult `json:"criterion_results"`
}

// Favorable reports whether the verdict would support approval. Only a full
// met verdict counts; partial and unknown are treated as unfavorable when
// deciding whether a policy change flipped a case.
func (r *EvaluationReport) Favorable() bool {
	return r.Verdict == StatusMet
}
