package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pa-policy-engine/internal/domain"
)

func diffPolicy() *domain.DigitizedPolicy {
	threshold := 18.0
	return &domain.DigitizedPolicy{
		PolicyID:       "pol-aetna-adalimumab",
		Version:        "2024-01",
		PayerName:      "Aetna",
		MedicationName: "adalimumab",
		AtomicCriteria: map[string]domain.AtomicCriterion{
			"crit_age": {
				ID:                 "crit_age",
				CriterionType:      domain.CriterionAge,
				Name:               "Age 18 or older",
				Category:           domain.CategoryAge,
				IsRequired:         true,
				ComparisonOperator: domain.OpGTE,
				ThresholdValue:     &threshold,
			},
			"crit_step": {
				ID:            "crit_step",
				CriterionType: domain.CriterionPriorTreatmentFailed,
				Name:          "Failed conventional therapy",
				Category:      domain.CategoryStepTherapy,
				IsRequired:    true,
				DrugNames:     strs("methotrexate", "azathioprine"),
			},
		},
		CriterionGroups: map[string]domain.CriterionGroup{
			"grp_root": {ID: "grp_root", Operator: domain.OperatorAND, Criteria: []string{"crit_age", "crit_step"}},
		},
		Indications: []domain.Indication{
			{
				ID:                      "ind_cd",
				Name:                    "Crohn's Disease",
				IndicationCodes:         []domain.IndicationCode{{System: "ICD-10", Code: "K50"}},
				InitialApprovalCriteria: "grp_root",
			},
		},
		StepTherapyRequirements: []domain.StepTherapyRequirement{
			{ID: "step_conventional", DrugNames: strs("methotrexate", "azathioprine")},
		},
		Exclusions: []domain.Exclusion{
			{ID: "excl_infection", Description: "Active serious infection"},
		},
	}
}

func changesByEntry(changes []domain.Change) map[string]domain.Change {
	m := make(map[string]domain.Change, len(changes))
	for _, c := range changes {
		m[c.EntryID] = c
	}
	return m
}

func TestDiff_IdenticalVersions(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	newPolicy.Version = "2024-07"

	diff, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)

	assert.Empty(t, diff.Changes.All())
	assert.Equal(t, 2, diff.Summary.Unchanged)
	assert.Zero(t, diff.Summary.Added)
	assert.Zero(t, diff.Summary.Removed)
	assert.Zero(t, diff.Summary.Modified)
	assert.Equal(t, domain.AssessmentLowImpact, diff.Summary.SeverityAssessment)
	assert.Equal(t, "2024-01", diff.OldVersion)
	assert.Equal(t, "2024-07", diff.NewVersion)
}

func TestDiff_RejectsDifferentPolicies(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	newPolicy.MedicationName = "infliximab"

	_, err := engine.Diff(oldPolicy, newPolicy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPolicyMismatch))
}

func TestDiff_AddedCriterion(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	newPolicy.AtomicCriteria["crit_tb"] = domain.AtomicCriterion{
		ID: "crit_tb", CriterionType: domain.CriterionSafetyScreeningCompleted, IsRequired: true,
	}
	newPolicy.AtomicCriteria["crit_note"] = domain.AtomicCriterion{
		ID: "crit_note", CriterionType: domain.CriterionOther, IsRequired: false,
	}

	diff, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)

	byEntry := changesByEntry(diff.Changes.Criteria)
	require.Len(t, byEntry, 2)
	assert.Equal(t, domain.SeverityBreaking, byEntry["crit_tb"].Severity,
		"a new required criterion can fail previously approvable cases")
	assert.Equal(t, domain.SeverityMaterial, byEntry["crit_note"].Severity)
	assert.Equal(t, domain.AssessmentHighImpact, diff.Summary.SeverityAssessment)
}

func TestDiff_RemovedCriterionIsMaterial(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	delete(newPolicy.AtomicCriteria, "crit_step")

	diff, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)

	require.Len(t, diff.Changes.Criteria, 1)
	change := diff.Changes.Criteria[0]
	assert.Equal(t, domain.ChangeRemoved, change.ChangeType)
	assert.Equal(t, domain.SeverityMaterial, change.Severity, "dropping a requirement relaxes the policy")
	assert.Equal(t, domain.AssessmentModerateImpact, diff.Summary.SeverityAssessment)
}

func TestDiff_ThresholdDirection(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	tests := []struct {
		name     string
		op       domain.ComparisonOperator
		oldValue float64
		newValue float64
		want     domain.ChangeSeverity
	}{
		{"minimum raised", domain.OpGTE, 18, 21, domain.SeverityBreaking},
		{"minimum lowered", domain.OpGTE, 18, 12, domain.SeverityMaterial},
		{"maximum lowered", domain.OpLTE, 75, 65, domain.SeverityBreaking},
		{"maximum raised", domain.OpLTE, 65, 75, domain.SeverityMaterial},
		{"equality change", domain.OpEQ, 1, 2, domain.SeverityBreaking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldPolicy := diffPolicy()
			newPolicy := diffPolicy()

			oldC := oldPolicy.AtomicCriteria["crit_age"]
			oldC.ComparisonOperator = tt.op
			oldC.ThresholdValue = floatPtr(tt.oldValue)
			oldPolicy.AtomicCriteria["crit_age"] = oldC

			newC := newPolicy.AtomicCriteria["crit_age"]
			newC.ComparisonOperator = tt.op
			newC.ThresholdValue = floatPtr(tt.newValue)
			newPolicy.AtomicCriteria["crit_age"] = newC

			diff, err := engine.Diff(oldPolicy, newPolicy)
			require.NoError(t, err)

			change := changesByEntry(diff.Changes.Criteria)["crit_age"]
			assert.Equal(t, domain.ChangeModified, change.ChangeType)
			assert.Equal(t, tt.want, change.Severity)
			require.Len(t, change.FieldChanges, 1)
			assert.Equal(t, "threshold_value", change.FieldChanges[0].Field)
		})
	}
}

func TestDiff_DrugListNarrowing(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	newC := newPolicy.AtomicCriteria["crit_step"]
	newC.DrugNames = strs("methotrexate")
	newPolicy.AtomicCriteria["crit_step"] = newC

	diff, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)

	change := changesByEntry(diff.Changes.Criteria)["crit_step"]
	assert.Equal(t, domain.SeverityBreaking, change.Severity,
		"dropping a qualifying drug narrows the ways to satisfy the criterion")

	// Widening the list instead is material.
	widened := diffPolicy()
	newC.DrugNames = strs("methotrexate", "azathioprine", "6-mercaptopurine")
	widened.AtomicCriteria["crit_step"] = newC

	diff, err = engine.Diff(oldPolicy, widened)
	require.NoError(t, err)
	change = changesByEntry(diff.Changes.Criteria)["crit_step"]
	assert.Equal(t, domain.SeverityMaterial, change.Severity)
}

func TestDiff_RequiredFlip(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	optional := diffPolicy()
	oldC := optional.AtomicCriteria["crit_step"]
	oldC.IsRequired = false
	optional.AtomicCriteria["crit_step"] = oldC

	required := diffPolicy()

	diff, err := engine.Diff(optional, required)
	require.NoError(t, err)
	change := changesByEntry(diff.Changes.Criteria)["crit_step"]
	assert.Equal(t, domain.SeverityBreaking, change.Severity, "optional to required is a new hard requirement")

	// The reverse direction relaxes the policy.
	diff, err = engine.Diff(required, optional)
	require.NoError(t, err)
	change = changesByEntry(diff.Changes.Criteria)["crit_step"]
	assert.Equal(t, domain.SeverityMaterial, change.Severity)
}

func TestDiff_CosmeticEditIsMaterial(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	newC := newPolicy.AtomicCriteria["crit_age"]
	newC.Description = "Member must be at least 18 years of age"
	newPolicy.AtomicCriteria["crit_age"] = newC

	diff, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)

	change := changesByEntry(diff.Changes.Criteria)["crit_age"]
	assert.Equal(t, domain.SeverityMaterial, change.Severity)
	assert.Equal(t, domain.AssessmentModerateImpact, diff.Summary.SeverityAssessment)
}

func TestDiff_Indications(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	t.Run("removed indication is breaking", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Indications = nil

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Indications, 1)
		assert.Equal(t, domain.ChangeRemoved, diff.Changes.Indications[0].ChangeType)
		assert.Equal(t, domain.SeverityBreaking, diff.Changes.Indications[0].Severity)
	})

	t.Run("added indication is material", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Indications = append(newPolicy.Indications, domain.Indication{
			ID: "ind_uc", Name: "Ulcerative Colitis", InitialApprovalCriteria: "grp_root",
		})

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Indications, 1)
		assert.Equal(t, domain.ChangeAdded, diff.Changes.Indications[0].ChangeType)
		assert.Equal(t, domain.SeverityMaterial, diff.Changes.Indications[0].Severity)
	})

	t.Run("raised minimum age is breaking", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Indications[0].MinAgeYears = intPtr(18)

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Indications, 1)
		assert.Equal(t, domain.SeverityBreaking, diff.Changes.Indications[0].Severity,
			"an unbounded minimum becoming bounded is a tightening")
	})

	t.Run("swapped criteria root is breaking", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Indications[0].InitialApprovalCriteria = "grp_other"

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Indications, 1)
		assert.Equal(t, domain.SeverityBreaking, diff.Changes.Indications[0].Severity)
	})

	t.Run("longer approval duration is material", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Indications[0].InitialApprovalDurationMonths = 12

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Indications, 1)
		assert.Equal(t, domain.SeverityMaterial, diff.Changes.Indications[0].Severity)
	})
}

func TestDiff_StepTherapyAndExclusions(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	t.Run("added step therapy is breaking", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.StepTherapyRequirements = append(newPolicy.StepTherapyRequirements,
			domain.StepTherapyRequirement{ID: "step_biologic", DrugNames: strs("infliximab")})

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.StepTherapy, 1)
		assert.Equal(t, domain.SeverityBreaking, diff.Changes.StepTherapy[0].Severity)
	})

	t.Run("removed step therapy is material", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.StepTherapyRequirements = nil

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.StepTherapy, 1)
		assert.Equal(t, domain.SeverityMaterial, diff.Changes.StepTherapy[0].Severity)
	})

	t.Run("narrowed step therapy alternatives are breaking", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.StepTherapyRequirements = []domain.StepTherapyRequirement{
			{ID: "step_conventional", DrugNames: strs("methotrexate")},
		}

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.StepTherapy, 1)
		assert.Equal(t, domain.ChangeModified, diff.Changes.StepTherapy[0].ChangeType)
		assert.Equal(t, domain.SeverityBreaking, diff.Changes.StepTherapy[0].Severity)
	})

	t.Run("added exclusion is breaking", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Exclusions = append(newPolicy.Exclusions,
			domain.Exclusion{ID: "excl_malignancy", Description: "Active malignancy"})

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Exclusions, 1)
		assert.Equal(t, domain.SeverityBreaking, diff.Changes.Exclusions[0].Severity)
	})

	t.Run("removed exclusion is material", func(t *testing.T) {
		oldPolicy := diffPolicy()
		newPolicy := diffPolicy()
		newPolicy.Exclusions = nil

		diff, err := engine.Diff(oldPolicy, newPolicy)
		require.NoError(t, err)
		require.Len(t, diff.Changes.Exclusions, 1)
		assert.Equal(t, domain.SeverityMaterial, diff.Changes.Exclusions[0].Severity)
	})
}

func TestDiff_SummaryCounts(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	// One modification, one removal, one addition.
	newC := newPolicy.AtomicCriteria["crit_age"]
	newC.ThresholdValue = floatPtr(21)
	newPolicy.AtomicCriteria["crit_age"] = newC
	delete(newPolicy.AtomicCriteria, "crit_step")
	newPolicy.AtomicCriteria["crit_tb"] = domain.AtomicCriterion{
		ID: "crit_tb", CriterionType: domain.CriterionSafetyScreeningCompleted, IsRequired: true,
	}

	diff, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)

	assert.Equal(t, 2, diff.Summary.TotalCriteriaOld)
	assert.Equal(t, 2, diff.Summary.TotalCriteriaNew)
	assert.Equal(t, 1, diff.Summary.Added)
	assert.Equal(t, 1, diff.Summary.Removed)
	assert.Equal(t, 1, diff.Summary.Modified)
	assert.Equal(t, 0, diff.Summary.Unchanged)
	assert.Equal(t, 2, diff.Summary.BreakingChanges)
	assert.Equal(t, 1, diff.Summary.MaterialChanges)
	assert.Equal(t, domain.AssessmentHighImpact, diff.Summary.SeverityAssessment)
}

func TestDiff_AntiSymmetry(t *testing.T) {
	engine := NewDiffEngine(testLogger())

	oldPolicy := diffPolicy()
	newPolicy := diffPolicy()
	newPolicy.Version = "2024-07"
	newC := newPolicy.AtomicCriteria["crit_age"]
	newC.ThresholdValue = floatPtr(21)
	newPolicy.AtomicCriteria["crit_age"] = newC
	delete(newPolicy.AtomicCriteria, "crit_step")
	newPolicy.AtomicCriteria["crit_tb"] = domain.AtomicCriterion{
		ID: "crit_tb", CriterionType: domain.CriterionSafetyScreeningCompleted, IsRequired: true,
	}

	forward, err := engine.Diff(oldPolicy, newPolicy)
	require.NoError(t, err)
	reverse, err := engine.Diff(newPolicy, oldPolicy)
	require.NoError(t, err)

	forwardByEntry := changesByEntry(forward.Changes.Criteria)
	reverseByEntry := changesByEntry(reverse.Changes.Criteria)
	require.Len(t, reverseByEntry, len(forwardByEntry))

	// Additions and removals swap between directions.
	assert.Equal(t, domain.ChangeAdded, forwardByEntry["crit_tb"].ChangeType)
	assert.Equal(t, domain.ChangeRemoved, reverseByEntry["crit_tb"].ChangeType)
	assert.Equal(t, domain.ChangeRemoved, forwardByEntry["crit_step"].ChangeType)
	assert.Equal(t, domain.ChangeAdded, reverseByEntry["crit_step"].ChangeType)
	assert.Equal(t, forward.Summary.Added, reverse.Summary.Removed)
	assert.Equal(t, forward.Summary.Removed, reverse.Summary.Added)
	assert.Equal(t, forward.Summary.Modified, reverse.Summary.Modified)

	// Modifications keep their type with old and new values mirrored.
	forwardMod := forwardByEntry["crit_age"]
	reverseMod := reverseByEntry["crit_age"]
	assert.Equal(t, domain.ChangeModified, forwardMod.ChangeType)
	assert.Equal(t, domain.ChangeModified, reverseMod.ChangeType)
	require.Len(t, forwardMod.FieldChanges, 1)
	require.Len(t, reverseMod.FieldChanges, 1)
	assert.Equal(t, forwardMod.FieldChanges[0].Field, reverseMod.FieldChanges[0].Field)
	assert.Equal(t, forwardMod.FieldChanges[0].Old, reverseMod.FieldChanges[0].New)
	assert.Equal(t, forwardMod.FieldChanges[0].New, reverseMod.FieldChanges[0].Old)
}
