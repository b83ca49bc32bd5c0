package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pa-policy-engine/internal/domain"
)

// Recommended actions per risk level. Kept as templates so the API layer can
// surface them verbatim to analysts.
const (
	actionVerdictFlip = "Re-review case before the new policy version takes effect; the projected verdict differs from the current one"
	actionAtRisk      = "Verify documentation for the changed required criteria; the verdict holds today but depends on criteria that changed"
	actionNoImpact    = "No action needed"
)

// ImpactAnalyzer projects a policy diff onto the book of active cases for the
// affected (payer, medication) pair. Per-case evaluation fans out across a
// bounded worker pool; the report is all-or-nothing and a cancelled context
// yields no partial output.
type ImpactAnalyzer struct {
	log       *logrus.Logger
	evaluator *Evaluator
	workers   int
}

// NewImpactAnalyzer creates an impact analyzer running at most workers
// concurrent case evaluations. workers values below 1 fall back to 4.
func NewImpactAnalyzer(logger *logrus.Logger, evaluator *Evaluator, workers int) *ImpactAnalyzer {
	if workers < 1 {
		workers = 4
	}
	return &ImpactAnalyzer{
		log:       logger,
		evaluator: evaluator,
		workers:   workers,
	}
}

// Analyze evaluates every active case under both policy versions and
// classifies each case's risk. cases order is preserved in the report.
func (a *ImpactAnalyzer) Analyze(ctx context.Context, oldPolicy, newPolicy *domain.DigitizedPolicy, diff *domain.PolicyDiff, cases []domain.ActiveCase) (*domain.ImpactReport, error) {
	if !oldPolicy.SamePolicyAs(newPolicy) {
		return nil, fmt.Errorf("impact analysis across %s/%s and %s/%s: %w",
			oldPolicy.PayerName, oldPolicy.MedicationName,
			newPolicy.PayerName, newPolicy.MedicationName,
			domain.ErrPolicyMismatch)
	}

	changedIDs := diff.Changes.ChangedCriterionIDs()
	breakingIDs := diff.Changes.BreakingCriterionIDs()

	impacts := make([]domain.PatientImpact, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range cases {
		g.Go(func() error {
			impact, err := a.analyzeCase(gctx, oldPolicy, newPolicy, &cases[i], changedIDs, breakingIDs)
			if err != nil {
				return fmt.Errorf("case %s: %w", cases[i].CaseID, err)
			}
			impacts[i] = *impact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &domain.ImpactReport{
		PayerName:        oldPolicy.PayerName,
		MedicationName:   oldPolicy.MedicationName,
		OldVersion:       diff.OldVersion,
		NewVersion:       diff.NewVersion,
		TotalActiveCases: len(cases),
		PatientImpacts:   impacts,
		GeneratedAt:      time.Now().UTC(),
	}
	for _, impact := range impacts {
		switch impact.RiskLevel {
		case domain.RiskVerdictFlip:
			report.VerdictFlips++
			report.ImpactedCases++
		case domain.RiskAtRisk:
			report.AtRiskCases++
			report.ImpactedCases++
		}
	}
	report.ActionItems = buildActionItems(report)

	a.log.WithFields(logrus.Fields{
		"payer":         report.PayerName,
		"medication":    report.MedicationName,
		"old_version":   report.OldVersion,
		"new_version":   report.NewVersion,
		"total_cases":   report.TotalActiveCases,
		"verdict_flips": report.VerdictFlips,
		"at_risk":       report.AtRiskCases,
	}).Info("Completed impact analysis")

	return report, nil
}

// analyzeCase evaluates one case under both versions and classifies its risk.
// A case that matches no indication under a version is treated as not_met
// under that version rather than aborting the whole run.
func (a *ImpactAnalyzer) analyzeCase(ctx context.Context, oldPolicy, newPolicy *domain.DigitizedPolicy, activeCase *domain.ActiveCase, changedIDs, breakingIDs map[string]struct{}) (*domain.PatientImpact, error) {
	currentVerdict, oldIndication, err := a.verdictUnder(ctx, oldPolicy, &activeCase.Patient)
	if err != nil {
		return nil, err
	}
	projectedVerdict, newIndication, err := a.verdictUnder(ctx, newPolicy, &activeCase.Patient)
	if err != nil {
		return nil, err
	}

	affected := a.affectedCriteria(oldPolicy, newPolicy, oldIndication, newIndication, changedIDs)
	changed := currentVerdict != projectedVerdict

	var riskLevel domain.RiskLevel
	switch {
	case changed && currentVerdict == domain.StatusMet:
		riskLevel = domain.RiskVerdictFlip
	case !changed && intersects(affected, breakingIDs):
		riskLevel = domain.RiskAtRisk
	default:
		riskLevel = domain.RiskNoImpact
	}

	return &domain.PatientImpact{
		CaseID:            activeCase.CaseID,
		CurrentVerdict:    currentVerdict,
		ProjectedVerdict:  projectedVerdict,
		VerdictChanged:    changed,
		AffectedCriteria:  affected,
		RiskLevel:         riskLevel,
		RecommendedAction: recommendedAction(riskLevel),
	}, nil
}

// verdictUnder evaluates the patient under one policy version. No matching
// indication means the patient is not covered under that version, which for
// impact purposes is a not_met verdict, not an error.
func (a *ImpactAnalyzer) verdictUnder(ctx context.Context, policy *domain.DigitizedPolicy, patient *domain.PatientRecord) (domain.EvaluationStatus, *domain.Indication, error) {
	report, err := a.evaluator.EvaluateCase(ctx, policy, patient)
	if err != nil {
		if errors.Is(err, domain.ErrNoMatchingIndication) {
			return domain.StatusNotMet, nil, nil
		}
		return "", nil, err
	}
	indication := findIndication(policy, report.IndicationID)
	return report.Verdict, indication, nil
}

// affectedCriteria intersects the criteria reachable from the case's matched
// indications (under both versions) with the diff's changed criterion ids.
func (a *ImpactAnalyzer) affectedCriteria(oldPolicy, newPolicy *domain.DigitizedPolicy, oldIndication, newIndication *domain.Indication, changedIDs map[string]struct{}) []string {
	reachable := make(map[string]struct{})
	if oldIndication != nil {
		for _, id := range a.evaluator.Resolver().CollectCriterionIDs(oldPolicy, oldIndication.InitialApprovalCriteria) {
			reachable[id] = struct{}{}
		}
	}
	if newIndication != nil {
		for _, id := range a.evaluator.Resolver().CollectCriterionIDs(newPolicy, newIndication.InitialApprovalCriteria) {
			reachable[id] = struct{}{}
		}
	}

	affected := make([]string, 0)
	for id := range reachable {
		if _, ok := changedIDs[id]; ok {
			affected = append(affected, id)
		}
	}
	sort.Strings(affected)
	return affected
}

func intersects(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func recommendedAction(risk domain.RiskLevel) string {
	switch risk {
	case domain.RiskVerdictFlip:
		return actionVerdictFlip
	case domain.RiskAtRisk:
		return actionAtRisk
	default:
		return actionNoImpact
	}
}

// buildActionItems produces the report-level worklist analysts act on.
func buildActionItems(report *domain.ImpactReport) []string {
	var items []string
	if report.VerdictFlips > 0 {
		items = append(items, fmt.Sprintf("%d case(s) project a different verdict under version %s and need re-review before rollout", report.VerdictFlips, report.NewVersion))
	}
	if report.AtRiskCases > 0 {
		items = append(items, fmt.Sprintf("%d case(s) depend on criteria with breaking changes; verify supporting documentation", report.AtRiskCases))
	}
	if len(items) == 0 && report.TotalActiveCases > 0 {
		items = append(items, fmt.Sprintf("No active cases affected by the %s to %s change", report.OldVersion, report.NewVersion))
	}
	return items
}

func findIndication(policy *domain.DigitizedPolicy, id string) *domain.Indication {
	for i := range policy.Indications {
		if policy.Indications[i].ID == id {
			return &policy.Indications[i]
		}
	}
	return nil
}
