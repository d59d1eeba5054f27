// Package service implements the decision logic: classification of raw
// facts into clinical states, reconstruction of the intervals those states
// held over, and treatment matching on top of them.
package service

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// Classifier evaluates classification tables against input values. Missing
// or unparsable inputs never error: they make the derived state undefined,
// reported by ok=false.
type Classifier struct {
	logger *logrus.Logger
}

// NewClassifier creates a new classifier.
func NewClassifier(logger *logrus.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Evaluate applies one classification table. values maps canonical
// parameter names (the table's declared inputs) to raw observed values;
// gender selects the rule arm for gender-partitioned tables.
func (c *Classifier) Evaluate(rs *domain.ClassificationRuleSet, gender domain.Gender, values map[string]string) (string, bool) {
	switch rs.Type {
	case domain.RuleSetRange:
		return c.evaluateRange(rs, gender, values)
	case domain.RuleSetMatrix:
		return c.evaluateMatrix(rs, gender, values)
	case domain.RuleSetMaximalOr:
		// A defined zero grade names no state, same as undefined.
		grade, ok := c.EvaluateGrade(rs, values)
		if !ok || !grade.IsDefined() {
			return "", false
		}
		return grade.Canonical(), true
	default:
		c.logger.WithFields(logrus.Fields{
			"table": rs.Name,
			"type":  rs.Type,
		}).Error("Unknown rule set type")
		return "", false
	}
}

func (c *Classifier) evaluateRange(rs *domain.ClassificationRuleSet, gender domain.Gender, values map[string]string) (string, bool) {
	rules, ok := rs.Range[gender.Key()]
	if !ok {
		return "", false
	}
	v, ok := numericInput(rs, values, 0)
	if !ok {
		return "", false
	}
	for _, r := range rules {
		if r.Contains(v) {
			return r.State, true
		}
	}
	return "", false
}

func (c *Classifier) evaluateMatrix(rs *domain.ClassificationRuleSet, gender domain.Gender, values map[string]string) (string, bool) {
	m, ok := rs.Matrix[gender.Key()]
	if !ok {
		return "", false
	}
	rowVal, ok := numericInput(rs, values, 0)
	if !ok {
		return "", false
	}
	colVal, ok := numericInput(rs, values, 1)
	if !ok {
		return "", false
	}
	row, ok := partitionIndex(m.RowPartitions, rowVal)
	if !ok {
		return "", false
	}
	col, ok := partitionIndex(m.ColPartitions, colVal)
	if !ok {
		return "", false
	}
	return m.States[row][col], true
}

// EvaluateGrade applies a maximal-OR table: when the precondition holds,
// each symptom is graded independently and the maximum defined grade wins.
// Symptoms with no observed value contribute nothing. No contributing
// symptom, or a failed precondition, leaves the grade undefined - which is
// not the same as grade zero.
func (c *Classifier) EvaluateGrade(rs *domain.ClassificationRuleSet, values map[string]string) (domain.Grade, bool) {
	rules := rs.MaximalOr
	if rules == nil {
		return domain.GradeUndefined, false
	}

	observed, ok := values[rules.Precondition.Parameter]
	if !ok || !strings.EqualFold(strings.TrimSpace(observed), rules.Precondition.Value) {
		return domain.GradeUndefined, false
	}

	best := domain.GradeUndefined
	contributed := false
	for _, symptom := range rules.Symptoms {
		raw, ok := values[symptom.Parameter]
		if !ok {
			continue
		}
		grade, ok := gradeSymptom(symptom, raw)
		if !ok {
			continue
		}
		contributed = true
		if grade > best {
			best = grade
		}
	}
	if !contributed {
		return domain.GradeUndefined, false
	}
	return best, true
}

func gradeSymptom(symptom domain.SymptomRule, raw string) (domain.Grade, bool) {
	if len(symptom.Ranges) > 0 {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return domain.GradeUndefined, false
		}
		for _, r := range symptom.Ranges {
			if v >= r.Min && (r.Max == nil || v < *r.Max) {
				return r.Grade, true
			}
		}
		return domain.GradeUndefined, false
	}
	return matchLabel(symptom.Labels, raw)
}

// matchLabel resolves a symbolic observation against the configured labels,
// longest label first so "Severe-Bronchospasm" is never swallowed by its
// "Bronchospasm" substring.
func matchLabel(labels []domain.GradeLabel, raw string) (domain.Grade, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	ordered := make([]domain.GradeLabel, len(labels))
	copy(ordered, labels)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Label) > len(ordered[j].Label)
	})
	for _, l := range ordered {
		if strings.Contains(value, strings.ToLower(l.Label)) {
			return l.Grade, true
		}
	}
	return domain.GradeUndefined, false
}

// numericInput resolves the nth non-gender declared input to a number.
func numericInput(rs *domain.ClassificationRuleSet, values map[string]string, n int) (float64, bool) {
	seen := 0
	for _, name := range rs.Inputs {
		if strings.EqualFold(name, "Gender") {
			continue
		}
		if seen == n {
			raw, ok := values[name]
			if !ok {
				return 0, false
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
		seen++
	}
	return 0, false
}

// partitionIndex finds the partition a value falls into. Partitions are
// "min-max" half-open intervals or "min+" for unbounded above; values
// outside every partition leave the result undefined.
func partitionIndex(partitions []string, v float64) (int, bool) {
	for i, p := range partitions {
		min, max, ok := parsePartition(p)
		if !ok {
			continue
		}
		if v < min {
			continue
		}
		if max == nil || v < *max {
			return i, true
		}
	}
	return 0, false
}

func parsePartition(p string) (min float64, max *float64, ok bool) {
	p = strings.TrimSpace(p)
	if open, found := strings.CutSuffix(p, "+"); found {
		v, err := strconv.ParseFloat(strings.TrimSpace(open), 64)
		if err != nil {
			return 0, nil, false
		}
		return v, nil, true
	}
	lo, hi, found := strings.Cut(p, "-")
	if !found {
		return 0, nil, false
	}
	loV, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return 0, nil, false
	}
	hiV, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return 0, nil, false
	}
	return loV, &hiV, true
}
