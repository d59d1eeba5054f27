package service

import (
	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// TreatmentMatcher recommends a protocol by exact lookup of the patient's
// current (gender, hemoglobin state, hematological state, toxicity grade)
// tuple in the treatment rules.
type TreatmentMatcher struct {
	logger *logrus.Logger
}

// NewTreatmentMatcher creates a new matcher.
func NewTreatmentMatcher(logger *logrus.Logger) *TreatmentMatcher {
	return &TreatmentMatcher{logger: logger}
}

// Recommend resolves the tuple to an outcome. Any undefined input makes the
// outcome InsufficientData naming exactly what is missing; a fully defined
// tuple with no configured rule is NoMatchingProtocol, which is a valid
// answer rather than an error.
func (m *TreatmentMatcher) Recommend(rules domain.TreatmentRules, gender domain.Gender, state1, state2 string, grade domain.Grade) domain.TreatmentOutcome {
	var missing []string
	if !gender.IsValid() {
		missing = append(missing, "Gender")
	}
	if state1 == "" {
		missing = append(missing, domain.StateHemoglobin.String())
	}
	if state2 == "" {
		missing = append(missing, domain.StateHematological.String())
	}
	if !grade.IsDefined() {
		missing = append(missing, domain.StateSystemicToxicity.String())
	}
	if len(missing) > 0 {
		return domain.InsufficientData(missing...)
	}

	key := domain.TreatmentKey(state1, state2, grade)
	protocol, ok := rules[gender.Key()][key]
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"gender": gender,
			"key":    key,
		}).Debug("No treatment rule for tuple")
		return domain.NoMatchingProtocol()
	}
	return domain.ProtocolOutcome(protocol)
}
