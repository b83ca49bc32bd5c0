package service

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// EvalFunc evaluates one atomic criterion for the patient under evaluation.
// The resolver treats it as a black box so callers can layer memoization on
// top of the pure evaluator.
type EvalFunc func(criterion *domain.AtomicCriterion) domain.EvaluationStatus

// GroupResolver recursively evaluates a criterion-group tree into a verdict.
// Groups reference criteria and subgroups by id into the policy's maps;
// dangling references are skipped (they contribute no evidence either way)
// and logged at warn, and a visited set guards against reference cycles the
// digitization pipeline should never produce but sometimes does.
type GroupResolver struct {
	log *logrus.Logger
}

// NewGroupResolver creates a group resolver.
func NewGroupResolver(logger *logrus.Logger) *GroupResolver {
	return &GroupResolver{log: logger}
}

// Resolve evaluates the group with the given id. A dangling root id yields
// unknown rather than an error.
func (r *GroupResolver) Resolve(policy *domain.DigitizedPolicy, groupID string, eval EvalFunc) domain.EvaluationStatus {
	visited := make(map[string]struct{})
	return r.resolveGroup(policy, groupID, eval, visited)
}

func (r *GroupResolver) resolveGroup(policy *domain.DigitizedPolicy, groupID string, eval EvalFunc, visited map[string]struct{}) domain.EvaluationStatus {
	if _, seen := visited[groupID]; seen {
		r.log.WithFields(logrus.Fields{
			"policy_id": policy.PolicyID,
			"group_id":  groupID,
		}).Warn("Criterion group cycle detected, treating revisited group as absent")
		return domain.StatusUnknown
	}
	visited[groupID] = struct{}{}
	defer delete(visited, groupID)

	group, ok := policy.Group(groupID)
	if !ok {
		r.log.WithFields(logrus.Fields{
			"policy_id": policy.PolicyID,
			"group_id":  groupID,
		}).Warn("Dangling criterion group reference")
		return domain.StatusUnknown
	}

	statuses := r.memberStatuses(policy, &group, eval, visited)

	var verdict domain.EvaluationStatus
	switch group.Operator {
	case domain.OperatorAND:
		verdict = combineAll(statuses)
	case domain.OperatorOR:
		verdict = combineAny(statuses)
	case domain.OperatorNOT:
		verdict = invert(combineAll(statuses))
	default:
		verdict = domain.StatusUnknown
	}

	if group.Negated {
		verdict = invert(verdict)
	}
	return verdict
}

// memberStatuses evaluates the group's direct criteria and subgroups in
// order. Dangling criterion ids are skipped.
func (r *GroupResolver) memberStatuses(policy *domain.DigitizedPolicy, group *domain.CriterionGroup, eval EvalFunc, visited map[string]struct{}) []domain.EvaluationStatus {
	statuses := make([]domain.EvaluationStatus, 0, len(group.Criteria)+len(group.Subgroups))
	for _, id := range group.Criteria {
		criterion, ok := policy.Criterion(id)
		if !ok {
			r.log.WithFields(logrus.Fields{
				"policy_id":    policy.PolicyID,
				"group_id":     group.ID,
				"criterion_id": id,
			}).Warn("Dangling criterion reference")
			continue
		}
		statuses = append(statuses, eval(&criterion))
	}
	for _, id := range group.Subgroups {
		statuses = append(statuses, r.resolveGroup(policy, id, eval, visited))
	}
	return statuses
}

// combineAll is AND semantics: met only when every member is met (vacuously
// met for zero members), not_met as soon as any member is not_met, and
// partial when evidence is mixed but nothing is outright failed.
func combineAll(statuses []domain.EvaluationStatus) domain.EvaluationStatus {
	if len(statuses) == 0 {
		return domain.StatusMet
	}
	allMet := true
	anyEvidence := false
	for _, s := range statuses {
		switch s {
		case domain.StatusNotMet:
			return domain.StatusNotMet
		case domain.StatusMet:
			anyEvidence = true
		case domain.StatusPartial:
			allMet = false
			anyEvidence = true
		default:
			allMet = false
		}
	}
	if allMet {
		return domain.StatusMet
	}
	if anyEvidence {
		return domain.StatusPartial
	}
	return domain.StatusUnknown
}

// combineAny is OR semantics: met as soon as any member is met, not_met for
// zero members or when every member is not_met.
func combineAny(statuses []domain.EvaluationStatus) domain.EvaluationStatus {
	if len(statuses) == 0 {
		return domain.StatusNotMet
	}
	allNotMet := true
	anyPartial := false
	for _, s := range statuses {
		switch s {
		case domain.StatusMet:
			return domain.StatusMet
		case domain.StatusPartial:
			anyPartial = true
			allNotMet = false
		case domain.StatusUnknown:
			allNotMet = false
		}
	}
	if allNotMet {
		return domain.StatusNotMet
	}
	if anyPartial {
		return domain.StatusPartial
	}
	return domain.StatusUnknown
}

// invert flips the boolean verdicts; partial and unknown carry no boolean
// value to invert.
func invert(status domain.EvaluationStatus) domain.EvaluationStatus {
	switch status {
	case domain.StatusMet:
		return domain.StatusNotMet
	case domain.StatusNotMet:
		return domain.StatusMet
	default:
		return status
	}
}

// CollectCriterionIDs gathers every criterion id reachable from the group,
// including nested subgroups, in deterministic order. Used by the impact
// analyzer to intersect a case's criteria with a diff's changed ids.
func (r *GroupResolver) CollectCriterionIDs(policy *domain.DigitizedPolicy, groupID string) []string {
	ids := make(map[string]struct{})
	visited := make(map[string]struct{})
	r.collectIDs(policy, groupID, ids, visited)

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *GroupResolver) collectIDs(policy *domain.DigitizedPolicy, groupID string, ids map[string]struct{}, visited map[string]struct{}) {
	if _, seen := visited[groupID]; seen {
		return
	}
	visited[groupID] = struct{}{}

	group, ok := policy.Group(groupID)
	if !ok {
		return
	}
	for _, id := range group.Criteria {
		if _, ok := policy.Criterion(id); ok {
			ids[id] = struct{}{}
		}
	}
	for _, sub := range group.Subgroups {
		r.collectIDs(policy, sub, ids, visited)
	}
}

// ResolveCategories groups the criteria reachable from the indication's
// initial approval criteria by category and aggregates each category using
// the policy's per-category aggregation rule.
func (r *GroupResolver) ResolveCategories(policy *domain.DigitizedPolicy, indication *domain.Indication, eval EvalFunc) []domain.CategorySummary {
	ids := r.CollectCriterionIDs(policy, indication.InitialApprovalCriteria)

	byCategory := make(map[domain.CriterionCategory][]domain.CriterionResult)
	for _, id := range ids {
		criterion, ok := policy.Criterion(id)
		if !ok {
			continue
		}
		category := criterion.Category
		if category == "" {
			category = domain.CategoryOther
		}
		byCategory[category] = append(byCategory[category], domain.CriterionResult{
			CriterionID: criterion.ID,
			Name:        criterion.Name,
			Category:    category,
			IsRequired:  criterion.IsRequired,
			Status:      eval(&criterion),
		})
	}

	categories := make([]domain.CriterionCategory, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	summaries := make([]domain.CategorySummary, 0, len(categories))
	for _, cat := range categories {
		results := byCategory[cat]
		agg := policy.AggregationFor(cat)
		status := aggregateCategory(results, agg)
		summaries = append(summaries, domain.CategorySummary{
			Category:    cat,
			Aggregation: agg,
			Satisfied:   status == domain.StatusMet,
			Status:      status,
			Criteria:    results,
		})
	}
	return summaries
}

// aggregateCategory folds criterion results with the category's aggregation
// policy: all_required behaves like AND, any_one like OR.
func aggregateCategory(results []domain.CriterionResult, agg domain.AggregationPolicy) domain.EvaluationStatus {
	statuses := make([]domain.EvaluationStatus, len(results))
	for i, res := range results {
		statuses[i] = res.Status
	}
	if agg == domain.AggregateAnyOne {
		return combineAny(statuses)
	}
	return combineAll(statuses)
}
