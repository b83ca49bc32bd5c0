package domain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// PatientDiagnosis is a coded diagnosis from the patient's chart.
type PatientDiagnosis struct {
	ICD10Code   string `json:"icd10_code"`
	Description string `json:"description,omitempty"`
}

// PriorTreatment records a medication the patient has previously tried,
// with its clinical outcome.
type PriorTreatment struct {
	MedicationName     string `json:"medication_name"`
	DrugClass          string `json:"drug_class,omitempty"`
	Outcome            string `json:"outcome,omitempty"`
	OutcomeDescription string `json:"outcome_description,omitempty"`
}

// ScreeningRecord is the status and result of one pre-biologic safety
// screening (TB, hepatitis B, hepatitis C, ...). Status values come from the
// upstream chart-extraction service; COMPLETED and NOT_FOUND are the two it
// guarantees, anything else is treated as indeterminate.
type ScreeningRecord struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// Procedure is a procedure or imaging study with structured findings and a
// free-text impression.
type Procedure struct {
	Name       string   `json:"name,omitempty"`
	Findings   []string `json:"findings,omitempty"`
	Impression string   `json:"impression,omitempty"`
}

// ClinicalHistory carries the narrative portions of the chart the evaluator
// mines for clinical markers.
type ClinicalHistory struct {
	ChiefComplaint string `json:"chief_complaint,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// LabResult is a single laboratory result. The evaluator does not inspect
// individual values; only the presence of any results matters.
type LabResult struct {
	TestName string  `json:"test_name"`
	Value    float64 `json:"value,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Flag     string  `json:"flag,omitempty"`
}

// Demographics holds the patient attributes the engine evaluates against.
type Demographics struct {
	AgeYears *int   `json:"age_years,omitempty"`
	Sex      string `json:"sex,omitempty"`
}

// Prescriber identifies the ordering clinician.
type Prescriber struct {
	Name      string `json:"name,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// PatientRecord is the structured patient data the engine consumes
// read-only. It is assembled by upstream chart extraction; missing sections
// degrade individual criteria to unknown rather than failing evaluation.
type PatientRecord struct {
	PatientID            string                     `json:"patient_id,omitempty"`
	Demographics         Demographics               `json:"demographics"`
	Diagnoses            []PatientDiagnosis         `json:"diagnoses,omitempty"`
	PriorTreatments      []PriorTreatment           `json:"prior_treatments,omitempty"`
	Prescriber           *Prescriber                `json:"prescriber,omitempty"`
	PreBiologicScreening map[string]ScreeningRecord `json:"pre_biologic_screening,omitempty"`
	Procedures           []Procedure                `json:"procedures,omitempty"`
	Imaging              []Procedure                `json:"imaging,omitempty"`
	ClinicalHistory      *ClinicalHistory           `json:"clinical_history,omitempty"`
	LaboratoryResults    []LabResult                `json:"laboratory_results,omitempty"`
}

// Hash returns a stable digest of the record, used as a memoization key for
// pure evaluation results.
func (p *PatientRecord) Hash() string {
	data, err := json.Marshal(p)
	if err != nil {
		// Marshal of a plain struct cannot fail in practice; fall back to a
		// key that never collides with real hashes.
		return fmt.Sprintf("unhashable:%s", p.PatientID)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:16])
}

// ActiveCase is an open prior-authorization case whose verdict may be
// affected by a policy change.
type ActiveCase struct {
	CaseID  string        `json:"case_id"`
	Status  string        `json:"status,omitempty"`
	Patient PatientRecord `json:"patient"`
}
