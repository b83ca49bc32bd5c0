package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
)

// diseaseKeywords is the fixed fallback vocabulary for name-based indication
// matching when no diagnosis code matches. The set covers the disease
// families seen in digitized biologic policies; indications outside it only
// match by code.
var diseaseKeywords = []string{
	"crohn",
	"ulcerative colitis",
	"rheumatoid",
	"psoria",
	"ankylosing",
	"hidradenitis",
	"uveitis",
}

// IndicationMatcher finds the policy indication a patient's diagnoses
// correspond to. First match wins, in the policy's indication list order;
// the list order is the only priority the digitization pipeline provides.
type IndicationMatcher struct {
	log *logrus.Logger
}

// NewIndicationMatcher creates an indication matcher.
func NewIndicationMatcher(logger *logrus.Logger) *IndicationMatcher {
	return &IndicationMatcher{log: logger}
}

// Match returns the first matching indication, or false when none matches.
// Code matching runs first across all indications; the keyword fallback is
// only consulted when no code match exists anywhere in the policy.
func (m *IndicationMatcher) Match(patient *domain.PatientRecord, policy *domain.DigitizedPolicy) (*domain.Indication, bool) {
	for i := range policy.Indications {
		ind := &policy.Indications[i]
		if m.codeMatch(patient, ind) {
			m.log.WithFields(logrus.Fields{
				"policy_id":     policy.PolicyID,
				"indication_id": ind.ID,
				"match_type":    "code",
			}).Debug("Matched indication")
			return ind, true
		}
	}

	for i := range policy.Indications {
		ind := &policy.Indications[i]
		if m.keywordMatch(patient, ind) {
			m.log.WithFields(logrus.Fields{
				"policy_id":     policy.PolicyID,
				"indication_id": ind.ID,
				"match_type":    "keyword",
			}).Debug("Matched indication")
			return ind, true
		}
	}

	m.log.WithField("policy_id", policy.PolicyID).Debug("No matching indication")
	return nil, false
}

// codeMatch tests whether any patient diagnosis code, upper-cased, starts
// with the root (text before the first dot) of any indication code.
func (m *IndicationMatcher) codeMatch(patient *domain.PatientRecord, ind *domain.Indication) bool {
	for _, code := range ind.IndicationCodes {
		root := code.Root()
		if root == "" {
			continue
		}
		for _, dx := range patient.Diagnoses {
			if strings.HasPrefix(strings.ToUpper(dx.ICD10Code), root) {
				return true
			}
		}
	}
	return false
}

// keywordMatch returns true when the indication name and any diagnosis
// description both contain the same disease keyword.
func (m *IndicationMatcher) keywordMatch(patient *domain.PatientRecord, ind *domain.Indication) bool {
	name := strings.ToLower(ind.Name)
	for _, keyword := range diseaseKeywords {
		if !strings.Contains(name, keyword) {
			continue
		}
		for _, dx := range patient.Diagnoses {
			if strings.Contains(strings.ToLower(dx.Description), keyword) {
				return true
			}
		}
	}
	return false
}
