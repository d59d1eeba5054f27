package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration is a time.Duration that marshals as a human-editable string
// ("168h", "30m") in the knowledge-base document.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON renders the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or raw nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("duration must be a string or nanoseconds: %s", string(data))
	}
	*d = Duration(ns)
	return nil
}

// RuleSetType tags the closed sum of classification rule shapes.
type RuleSetType string

const (
	RuleSetRange     RuleSetType = "range"
	RuleSetMatrix    RuleSetType = "matrix"
	RuleSetMaximalOr RuleSetType = "maximal_or"
)

// IsValid reports whether the rule-set type is one of the three shapes.
func (t RuleSetType) IsValid() bool {
	switch t {
	case RuleSetRange, RuleSetMatrix, RuleSetMaximalOr:
		return true
	default:
		return false
	}
}

// RangeRule is one half-open interval [Min, Max) mapped to a state name.
// A nil Max means the interval is unbounded above.
type RangeRule struct {
	Min   float64  `json:"min"`
	Max   *float64 `json:"max,omitempty"`
	State string   `json:"state"`
}

// Contains reports whether v falls in [Min, Max). Values exactly on Max
// belong to the next, higher interval.
func (r RangeRule) Contains(v float64) bool {
	if v < r.Min {
		return false
	}
	return r.Max == nil || v < *r.Max
}

// MatrixRules is a two-axis classification for one gender: ordered partition
// lists for each axis plus a 2-D table of state names, indexed row-major by
// the partition each input value falls into.
type MatrixRules struct {
	RowPartitions []string   `json:"row_partitions"`
	ColPartitions []string   `json:"col_partitions"`
	States        [][]string `json:"states"`
}

// GradeRange maps a half-open numeric interval [Min, Max) to a grade.
type GradeRange struct {
	Min   float64  `json:"min"`
	Max   *float64 `json:"max,omitempty"`
	Grade Grade    `json:"grade"`
}

// GradeLabel maps a symbolic observation label to a grade. Matching is
// case-insensitive exact-or-substring.
type GradeLabel struct {
	Label string `json:"label"`
	Grade Grade  `json:"grade"`
}

// SymptomRule grades one contributing symptom, either numerically (Ranges)
// or symbolically (Labels).
type SymptomRule struct {
	Parameter string       `json:"parameter"`
	Ranges    []GradeRange `json:"ranges,omitempty"`
	Labels    []GradeLabel `json:"labels,omitempty"`
}

// Precondition gates a maximal-OR rule set: the named parameter must carry
// exactly this value before any grade is computed.
type Precondition struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

// MaximalOrRules grades independent symptoms and takes the maximum non-zero
// grade. If no symptom contributes, the overall result is undefined.
type MaximalOrRules struct {
	Precondition Precondition  `json:"precondition"`
	Symptoms     []SymptomRule `json:"symptoms"`
}

// ClassificationRuleSet is the tagged union of the three rule shapes. The
// Type tag selects which arm is populated; evaluation is an exhaustive
// switch so an unknown table shape is rejected at load, not at query time.
type ClassificationRuleSet struct {
	Name   string      `json:"name,omitempty"`
	Type   RuleSetType `json:"type"`
	Inputs []string    `json:"inputs,omitempty"`
	Output string      `json:"output,omitempty"`

	Range     map[string][]RangeRule `json:"range_rules,omitempty"`
	Matrix    map[string]MatrixRules `json:"matrix_rules,omitempty"`
	MaximalOr *MaximalOrRules        `json:"maximal_or_rules,omitempty"`
}

// Validate checks that the tag matches the populated arm and the arm is
// internally consistent.
func (rs *ClassificationRuleSet) Validate() error {
	if !rs.Type.IsValid() {
		return fmt.Errorf("rule set %q: invalid type %q", rs.Name, rs.Type)
	}
	switch rs.Type {
	case RuleSetRange:
		if len(rs.Range) == 0 {
			return fmt.Errorf("rule set %q: range type with no range rules", rs.Name)
		}
	case RuleSetMatrix:
		if len(rs.Matrix) == 0 {
			return fmt.Errorf("rule set %q: matrix type with no matrix rules", rs.Name)
		}
		for gender, m := range rs.Matrix {
			if len(m.States) != len(m.RowPartitions) {
				return fmt.Errorf("rule set %q (%s): %d state rows for %d row partitions",
					rs.Name, gender, len(m.States), len(m.RowPartitions))
			}
			for i, row := range m.States {
				if len(row) != len(m.ColPartitions) {
					return fmt.Errorf("rule set %q (%s): row %d has %d states for %d col partitions",
						rs.Name, gender, i, len(row), len(m.ColPartitions))
				}
			}
		}
	case RuleSetMaximalOr:
		if rs.MaximalOr == nil || len(rs.MaximalOr.Symptoms) == 0 {
			return fmt.Errorf("rule set %q: maximal_or type with no symptoms", rs.Name)
		}
	}
	return nil
}

// TreatmentRules holds the exact-tuple protocol lookup: gender key to combo
// key ("state1 + state2 + GRADE N") to protocol text.
type TreatmentRules map[string]map[string]string

const treatmentKeySeparator = " + "

// TreatmentKey builds the canonical combo key for a treatment rule.
func TreatmentKey(state1, state2 string, grade Grade) string {
	return state1 + treatmentKeySeparator + state2 + treatmentKeySeparator + grade.Canonical()
}

// ParseTreatmentKey splits a combo key into its states and grade,
// normalizing the grade spelling.
func ParseTreatmentKey(key string) (state1, state2 string, grade Grade, ok bool) {
	parts := strings.Split(key, treatmentKeySeparator)
	if len(parts) != 3 {
		return "", "", GradeUndefined, false
	}
	grade, ok = ParseGrade(parts[2])
	if !ok {
		return "", "", GradeUndefined, false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), grade, true
}

// OutcomeKind distinguishes the three treatment-lookup results.
type OutcomeKind string

const (
	OutcomeProtocol         OutcomeKind = "protocol"
	OutcomeInsufficientData OutcomeKind = "insufficient_data"
	OutcomeNoMatch          OutcomeKind = "no_matching_protocol"
)

// TreatmentOutcome is the result of a treatment lookup. InsufficientData
// (some required input is itself undefined, Missing names which) is a
// distinct outcome from NoMatch (all inputs defined, no rule for the tuple).
type TreatmentOutcome struct {
	Kind     OutcomeKind `json:"kind"`
	Protocol string      `json:"protocol,omitempty"`
	Missing  []string    `json:"missing,omitempty"`
}

// ProtocolOutcome wraps a matched protocol text.
func ProtocolOutcome(text string) TreatmentOutcome {
	return TreatmentOutcome{Kind: OutcomeProtocol, Protocol: text}
}

// InsufficientData names the upstream values that are missing.
func InsufficientData(missing ...string) TreatmentOutcome {
	return TreatmentOutcome{Kind: OutcomeInsufficientData, Missing: missing}
}

// NoMatchingProtocol reports that all inputs were defined but no configured
// rule matched the exact tuple.
func NoMatchingProtocol() TreatmentOutcome {
	return TreatmentOutcome{Kind: OutcomeNoMatch}
}

// ParameterSpec describes one trackable parameter in the catalogue.
type ParameterSpec struct {
	Name     string   `json:"name"`
	LongName string   `json:"long_name,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
	Numeric  bool     `json:"numeric,omitempty"`
}

// ValidityPeriodSpec is the editable form of a validity period.
type ValidityPeriodSpec struct {
	BeforeGood Duration `json:"before_good"`
	AfterGood  Duration `json:"after_good"`
}

// Period converts the spec to the engine's validity period.
func (s ValidityPeriodSpec) Period() ValidityPeriod {
	return ValidityPeriod{BeforeGood: s.BeforeGood.Std(), AfterGood: s.AfterGood.Std()}
}

// KnowledgeDocument is the single editable configuration document: the three
// classification tables, the treatment rules, per-parameter validity periods
// and the parameter catalogue. It is re-read live so edits are observed on
// the next query without a restart.
type KnowledgeDocument struct {
	ClassificationTables map[string]*ClassificationRuleSet `json:"classification_tables"`
	Treatments           TreatmentRules                    `json:"treatments"`
	ValidityPeriods      map[string]ValidityPeriodSpec     `json:"validity_periods"`
	Parameters           map[string]ParameterSpec          `json:"parameters"`
}

// Validate checks every classification table and every treatment key.
func (d *KnowledgeDocument) Validate() error {
	for name, rs := range d.ClassificationTables {
		if rs == nil {
			return fmt.Errorf("classification table %q is empty", name)
		}
		if rs.Name == "" {
			rs.Name = name
		}
		if err := rs.Validate(); err != nil {
			return fmt.Errorf("knowledge document: %w", err)
		}
	}
	for gender, rules := range d.Treatments {
		for key := range rules {
			if _, _, _, ok := ParseTreatmentKey(key); !ok {
				return fmt.Errorf("treatment rule %q (%s): malformed key", key, gender)
			}
		}
	}
	return nil
}
