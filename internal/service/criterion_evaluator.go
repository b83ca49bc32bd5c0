// Package service implements the prior-authorization evaluation core:
// indication matching, criterion evaluation, group resolution, policy
// diffing, and impact analysis. Everything here is a pure function over
// immutable inputs; all I/O belongs to the callers.
package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// screeningTokens maps criterion-id substrings to the screening-record keys
// they select. Checked in order; first hit wins.
var screeningTokens = []struct {
	idSubstrings []string
	recordKeys   []string
}{
	{[]string{"hep_b", "hepatitis_b"}, []string{"hep_b", "hepatitis_b"}},
	{[]string{"hep_c", "hepatitis_c"}, []string{"hep_c", "hepatitis_c"}},
	{[]string{"tb", "tuberculosis"}, []string{"tb", "tuberculosis"}},
}

// markerKeywords maps a clinical-marker token found in the criterion id or
// name to the keyword set searched across the chart.
var markerKeywords = map[string][]string{
	"fistula":   {"fistula"},
	"resection": {"resection", "ileocolectomy"},
}

// failureOutcomeTerms mark a prior treatment as failed when found in its
// outcome text.
var failureOutcomeTerms = []string{"inadequate", "fail", "intolerance"}

// CriterionEvaluator maps one atomic criterion and one patient record to an
// EvaluationStatus. Evaluation is deterministic and total: every criterion
// yields one of the four statuses and never errors.
type CriterionEvaluator struct {
	log *logrus.Logger
}

// NewCriterionEvaluator creates a criterion evaluator.
func NewCriterionEvaluator(logger *logrus.Logger) *CriterionEvaluator {
	return &CriterionEvaluator{log: logger}
}

// Evaluate dispatches on the criterion type. Unrecognized types resolve to
// unknown rather than erroring, so newly digitized criterion kinds degrade
// gracefully.
func (e *CriterionEvaluator) Evaluate(criterion *domain.AtomicCriterion, patient *domain.PatientRecord) domain.EvaluationStatus {
	var status domain.EvaluationStatus

	switch criterion.CriterionType {
	case domain.CriterionAge:
		status = e.evaluateAge(criterion, patient)
	case domain.CriterionDiagnosisConfirmed:
		status = e.evaluateDiagnosisConfirmed(criterion, patient)
	case domain.CriterionPrescriberSpecialty:
		status = e.evaluatePrescriberSpecialty(criterion, patient)
	case domain.CriterionPriorTreatmentTried:
		status = e.evaluatePriorTreatment(criterion, patient, false)
	case domain.CriterionPriorTreatmentFailed:
		status = e.evaluatePriorTreatment(criterion, patient, true)
	case domain.CriterionSafetyScreeningCompleted:
		status = e.evaluateSafetyScreening(criterion, patient, false)
	case domain.CriterionSafetyScreeningNegative:
		status = e.evaluateSafetyScreening(criterion, patient, true)
	case domain.CriterionClinicalMarkerPresent:
		status = e.evaluateClinicalMarker(criterion, patient)
	case domain.CriterionLabValue, domain.CriterionLabTestCompleted:
		status = e.evaluateLab(patient)
	case domain.CriterionOther:
		status = domain.StatusUnknown
	default:
		status = domain.StatusUnknown
	}

	e.log.WithFields(logrus.Fields{
		"criterion_id":   criterion.ID,
		"criterion_type": criterion.CriterionType,
		"status":         status,
	}).Debug("Evaluated criterion")

	return status
}

// evaluateAge applies the criterion's comparison operator against the
// patient's age. A missing age is unknown; a failed comparison is not_met,
// never unknown.
func (e *CriterionEvaluator) evaluateAge(criterion *domain.AtomicCriterion, patient *domain.PatientRecord) domain.EvaluationStatus {
	age := patient.Demographics.AgeYears
	if age == nil {
		return domain.StatusUnknown
	}
	if criterion.ComparisonOperator == "" || criterion.ThresholdValue == nil {
		return domain.StatusUnknown
	}
	if criterion.ComparisonOperator.Compare(float64(*age), *criterion.ThresholdValue) {
		return domain.StatusMet
	}
	return domain.StatusNotMet
}

// evaluateDiagnosisConfirmed matches the criterion's clinical-code roots
// (text before the first dot, upper-cased) as prefixes of the patient's
// diagnosis codes.
func (e *CriterionEvaluator) evaluateDiagnosisConfirmed(criterion *domain.AtomicCriterion, patient *domain.PatientRecord) domain.EvaluationStatus {
	for _, code := range criterion.ClinicalCodes {
		root := code.Root()
		if root == "" {
			continue
		}
		for _, dx := range patient.Diagnoses {
			if strings.HasPrefix(strings.ToUpper(dx.ICD10Code), root) {
				return domain.StatusMet
			}
		}
	}
	return domain.StatusNotMet
}

// evaluatePrescriberSpecialty checks specialty-keyword heuristics derived
// from the criterion id first, then falls back to a generic allowed_values
// substring match.
func (e *CriterionEvaluator) evaluatePrescriberSpecialty(criterion *domain.AtomicCriterion, patient *domain.PatientRecord) domain.EvaluationStatus {
	if patient.Prescriber == nil || patient.Prescriber.Specialty == "" {
		return domain.StatusUnknown
	}
	specialty := strings.ToLower(patient.Prescriber.Specialty)
	id := strings.ToLower(criterion.ID)

	for _, keyword := range specialtyKeywordsForID(id) {
		if strings.Contains(specialty, keyword) {
			return domain.StatusMet
		}
	}
	for _, allowed := range criterion.AllowedValues {
		if allowed == "" {
			continue
		}
		if strings.Contains(specialty, strings.ToLower(allowed)) {
			return domain.StatusMet
		}
	}
	return domain.StatusNotMet
}

// specialtyKeywordsForID derives specialty keywords from criterion-id
// substrings. The vocabulary mirrors what the digitization pipeline emits
// for biologic policies; unlisted specialties fall through to
// allowed_values.
func specialtyKeywordsForID(id string) []string {
	var keywords []string
	if strings.Contains(id, "gastro") || strings.Contains(id, "gi") {
		keywords = append(keywords, "gastro", "gi")
	}
	if strings.Contains(id, "rheum") {
		keywords = append(keywords, "rheum")
	}
	if strings.Contains(id, "derm") {
		keywords = append(keywords, "derm")
	}
	return keywords
}

// evaluatePriorTreatment matches the criterion's drug names/classes as
// case-insensitive substrings of the patient's prior treatments.
// For the tried variant any match is met, otherwise unknown (absence of a
// record is not evidence the drug was never tried). For the failed variant
// a matching treatment with a failure outcome is met, a tried-but-not-failed
// match is partial, and no match at all is unknown.
func (e *CriterionEvaluator) evaluatePriorTreatment(criterion *domain.AtomicCriterion, patient *domain.PatientRecord, requireFailure bool) domain.EvaluationStatus {
	tried := false
	for _, treatment := range patient.PriorTreatments {
		if !treatmentMatches(criterion, &treatment) {
			continue
		}
		tried = true
		if !requireFailure {
			return domain.StatusMet
		}
		outcome := strings.ToLower(treatment.Outcome + " " + treatment.OutcomeDescription)
		for _, term := range failureOutcomeTerms {
			if strings.Contains(outcome, term) {
				return domain.StatusMet
			}
		}
	}
	if !requireFailure {
		return domain.StatusUnknown
	}
	if tried {
		return domain.StatusPartial
	}
	return domain.StatusUnknown
}

// treatmentMatches reports whether any of the criterion's drug names or
// classes appears in the treatment's medication name or drug class.
func treatmentMatches(criterion *domain.AtomicCriterion, treatment *domain.PriorTreatment) bool {
	name := strings.ToLower(treatment.MedicationName)
	class := strings.ToLower(treatment.DrugClass)
	for _, drug := range criterion.DrugNames {
		d := strings.ToLower(drug)
		if d != "" && (strings.Contains(name, d) || strings.Contains(class, d)) {
			return true
		}
	}
	for _, drugClass := range criterion.DrugClasses {
		d := strings.ToLower(drugClass)
		if d != "" && (strings.Contains(name, d) || strings.Contains(class, d)) {
			return true
		}
	}
	return false
}

// evaluateSafetyScreening dispatches on criterion-id substrings (tb, hep_b,
// hep_c) to the matching pre-biologic screening record. A completed
// screening is met (the negative variant additionally requires a negative
// result text); NOT_FOUND or a missing record is not_met; any other status
// is indeterminate.
func (e *CriterionEvaluator) evaluateSafetyScreening(criterion *domain.AtomicCriterion, patient *domain.PatientRecord, requireNegative bool) domain.EvaluationStatus {
	record, found := findScreeningRecord(criterion.ID, patient.PreBiologicScreening)
	if !found {
		return domain.StatusNotMet
	}

	switch {
	case strings.EqualFold(record.Status, "completed"):
		if !requireNegative {
			return domain.StatusMet
		}
		result := strings.ToLower(record.Result)
		if strings.Contains(result, "negative") || strings.Contains(result, "not detected") {
			return domain.StatusMet
		}
		return domain.StatusNotMet
	case strings.EqualFold(record.Status, "not_found"):
		return domain.StatusNotMet
	default:
		return domain.StatusUnknown
	}
}

// findScreeningRecord resolves a criterion id to the patient's screening
// record. Hepatitis tokens are checked before tb so that ids like
// "hep_b_tb_panel" never mis-dispatch on the bare "tb" substring.
func findScreeningRecord(criterionID string, screenings map[string]domain.ScreeningRecord) (domain.ScreeningRecord, bool) {
	id := strings.ToLower(criterionID)
	for _, entry := range screeningTokens {
		matched := false
		for _, sub := range entry.idSubstrings {
			if strings.Contains(id, sub) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for key, record := range screenings {
			k := strings.ToLower(key)
			for _, want := range entry.recordKeys {
				if strings.Contains(k, want) {
					return record, true
				}
			}
		}
		return domain.ScreeningRecord{}, false
	}
	return domain.ScreeningRecord{}, false
}

// evaluateClinicalMarker OR-combines evidence across diagnoses, procedure
// and imaging findings, and the clinical-history chief complaint using the
// fixed keyword set for the marker named in the criterion. This type never
// yields unknown: either a source mentions the marker or it is not_met.
func (e *CriterionEvaluator) evaluateClinicalMarker(criterion *domain.AtomicCriterion, patient *domain.PatientRecord) domain.EvaluationStatus {
	keywords := keywordsForMarker(criterion)
	if len(keywords) == 0 {
		return domain.StatusNotMet
	}

	for _, dx := range patient.Diagnoses {
		if containsAny(dx.Description, keywords) || containsAny(dx.ICD10Code, keywords) {
			return domain.StatusMet
		}
	}
	for _, proc := range append(append([]domain.Procedure{}, patient.Procedures...), patient.Imaging...) {
		if containsAny(proc.Impression, keywords) || containsAny(proc.Name, keywords) {
			return domain.StatusMet
		}
		for _, finding := range proc.Findings {
			if containsAny(finding, keywords) {
				return domain.StatusMet
			}
		}
	}
	if patient.ClinicalHistory != nil {
		if containsAny(patient.ClinicalHistory.ChiefComplaint, keywords) || containsAny(patient.ClinicalHistory.Notes, keywords) {
			return domain.StatusMet
		}
	}
	return domain.StatusNotMet
}

// keywordsForMarker picks the keyword set from marker tokens in the
// criterion id or name.
func keywordsForMarker(criterion *domain.AtomicCriterion) []string {
	haystack := strings.ToLower(criterion.ID + " " + criterion.Name)
	for token, keywords := range markerKeywords {
		if strings.Contains(haystack, token) {
			return keywords
		}
	}
	return nil
}

// evaluateLab reflects a documented limitation: the evaluator only checks
// that laboratory results exist at all, it does not interpret individual
// values. Present results are partial evidence, absent results are unknown.
func (e *CriterionEvaluator) evaluateLab(patient *domain.PatientRecord) domain.EvaluationStatus {
	if len(patient.LaboratoryResults) == 0 {
		return domain.StatusUnknown
	}
	return domain.StatusPartial
}

// containsAny reports whether text contains any keyword, case-insensitive.
func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
