package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// EvaluationCache memoizes per-criterion statuses for (criterion id, patient
// hash) keys. Evaluation is pure, so cached entries never go stale for a
// given policy version.
type EvaluationCache interface {
	Get(key string) (domain.EvaluationStatus, bool)
	Add(key string, status domain.EvaluationStatus)
}

// Evaluator is the single entry point for evaluating one patient case
// against one policy version. It composes the indication matcher, criterion
// evaluator, and group resolver so that the per-case view and the category
// summary view share one engine.
type Evaluator struct {
	log       *logrus.Logger
	matcher   *IndicationMatcher
	criterion *CriterionEvaluator
	resolver  *GroupResolver
	cache     EvaluationCache
}

// NewEvaluator creates an evaluator. cache may be nil to disable
// memoization.
func NewEvaluator(logger *logrus.Logger, cache EvaluationCache) *Evaluator {
	return &Evaluator{
		log:       logger,
		matcher:   NewIndicationMatcher(logger),
		criterion: NewCriterionEvaluator(logger),
		resolver:  NewGroupResolver(logger),
		cache:     cache,
	}
}

// Resolver exposes the group resolver for callers that need criterion-id
// collection (the impact analyzer).
func (e *Evaluator) Resolver() *GroupResolver {
	return e.resolver
}

// EvaluateCase matches the patient to an indication and resolves the
// indication's initial approval criteria into a verdict with per-category
// summaries. Returns domain.ErrNoMatchingIndication when the patient's
// diagnoses match none of the policy's indications.
func (e *Evaluator) EvaluateCase(ctx context.Context, policy *domain.DigitizedPolicy, patient *domain.PatientRecord) (*domain.EvaluationReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indication, ok := e.matcher.Match(patient, policy)
	if !ok {
		return nil, fmt.Errorf("policy %s version %s: %w", policy.PolicyID, policy.Version, domain.ErrNoMatchingIndication)
	}

	eval := e.memoizedEval(policy, patient)
	verdict := e.resolver.Resolve(policy, indication.InitialApprovalCriteria, eval)
	summaries := e.resolver.ResolveCategories(policy, indication, eval)

	results := make([]domain.CriterionResult, 0)
	for _, summary := range summaries {
		results = append(results, summary.Criteria...)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CriterionID < results[j].CriterionID })

	report := &domain.EvaluationReport{
		PolicyID:          policy.PolicyID,
		PolicyVersion:     policy.Version,
		IndicationID:      indication.ID,
		IndicationName:    indication.Name,
		Verdict:           verdict,
		CategorySummaries: summaries,
		CriterionResults:  results,
	}

	e.log.WithFields(logrus.Fields{
		"policy_id":      policy.PolicyID,
		"policy_version": policy.Version,
		"indication_id":  indication.ID,
		"verdict":        verdict,
		"criteria":       len(results),
	}).Info("Evaluated case")

	return report, nil
}

// memoizedEval wraps the pure criterion evaluator with the cache, keyed by
// policy version, criterion id, and patient hash.
func (e *Evaluator) memoizedEval(policy *domain.DigitizedPolicy, patient *domain.PatientRecord) EvalFunc {
	if e.cache == nil {
		return func(criterion *domain.AtomicCriterion) domain.EvaluationStatus {
			return e.criterion.Evaluate(criterion, patient)
		}
	}
	patientHash := patient.Hash()
	return func(criterion *domain.AtomicCriterion) domain.EvaluationStatus {
		key := fmt.Sprintf("%s:%s:%s:%s", policy.PolicyID, policy.Version, criterion.ID, patientHash)
		if status, ok := e.cache.Get(key); ok {
			return status
		}
		status := e.criterion.Evaluate(criterion, patient)
		e.cache.Add(key, status)
		return status
	}
}
