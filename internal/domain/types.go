// Package domain contains the core entities of the bi-temporal clinical
// decision support engine: observed facts, patient demographics, derived
// clinical states and the time intervals during which they held.
//
// Every fact carries two timestamps. Valid time is when the measurement was
// true of the patient; transaction time is when it was recorded or corrected
// in the store. Corrections never mutate history - they append a new fact for
// the same valid time with a later transaction time.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Gender is a closed enumeration. Every classification rule is
// gender-partitioned; an unknown gender makes every derived state undefined.
type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

// ParseGender normalizes a free-form gender string to one of the two
// configured buckets. Unrecognized input returns ok=false, never a default.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return Male, true
	case "female", "f":
		return Female, true
	default:
		return "", false
	}
}

// IsValid reports whether the gender is one of the configured buckets.
func (g Gender) IsValid() bool {
	return g == Male || g == Female
}

// String returns the string representation of the gender.
func (g Gender) String() string {
	return string(g)
}

// Key returns the lower-case form used as a knowledge-base map key.
func (g Gender) Key() string {
	return strings.ToLower(string(g))
}

// StateType identifies a derived clinical state computed from facts.
type StateType string

const (
	StateHemoglobin       StateType = "Hemoglobin-state"
	StateHematological    StateType = "Hematological-state"
	StateSystemicToxicity StateType = "Systemic-Toxicity"
	StateTherapy          StateType = "Therapy"
)

// IsValid reports whether the state type is known to the engine.
func (st StateType) IsValid() bool {
	switch st {
	case StateHemoglobin, StateHematological, StateSystemicToxicity, StateTherapy:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state type.
func (st StateType) String() string {
	return string(st)
}

// ParseStateType resolves a state type name case-insensitively.
func ParseStateType(s string) (StateType, bool) {
	for _, st := range []StateType{StateHemoglobin, StateHematological, StateSystemicToxicity, StateTherapy} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, true
		}
	}
	return "", false
}

// Grade is a systemic toxicity grade. Zero means undefined: the maximal-OR
// evaluator produced no contributing symptom, which is a distinct outcome
// from "no toxicity".
type Grade int

const (
	GradeUndefined Grade = 0
	GradeI         Grade = 1
	GradeII        Grade = 2
	GradeIII       Grade = 3
	GradeIV        Grade = 4
)

var romanGrades = [...]string{1: "I", 2: "II", 3: "III", 4: "IV"}

// IsDefined reports whether the grade carries a value.
func (g Grade) IsDefined() bool {
	return g >= GradeI && g <= GradeIV
}

// Canonical returns the canonical form used as a treatment-rule key,
// e.g. "GRADE II". Undefined grades have no canonical form.
func (g Grade) Canonical() string {
	if !g.IsDefined() {
		return ""
	}
	return "GRADE " + romanGrades[g]
}

// String renders the grade for display, e.g. "Grade II".
func (g Grade) String() string {
	if !g.IsDefined() {
		return "undefined"
	}
	return "Grade " + romanGrades[g]
}

// ParseGrade accepts the Roman and Arabic spellings that appear in rule
// tables and user input: "GRADE II", "Grade 2", "II", "2".
func ParseGrade(s string) (Grade, bool) {
	t := strings.ToUpper(strings.TrimSpace(s))
	t = strings.TrimPrefix(t, "GRADE")
	t = strings.TrimSpace(t)
	switch t {
	case "I", "1":
		return GradeI, true
	case "II", "2":
		return GradeII, true
	case "III", "3":
		return GradeIII, true
	case "IV", "4":
		return GradeIV, true
	default:
		return GradeUndefined, false
	}
}

// Patient holds the immutable demographic attributes loaded at construction.
type Patient struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    Gender `json:"gender"`
	Age       int    `json:"age"`
}

// DisplayName builds the human-readable patient name from the demographic
// name columns, title-cased the way the source sheets are normalized.
func (p Patient) DisplayName() string {
	first := titleCase(p.FirstName)
	last := titleCase(p.LastName)
	return strings.TrimSpace(first + " " + last)
}

func titleCase(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	parts := strings.Fields(s)
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Fact is one observation: a value for a parameter of a patient, true at
// ValidTime and recorded at TransactionTime. Facts are append-only and
// immutable; a correction is a new Fact for the same (patient, parameter,
// valid time) with a later transaction time.
type Fact struct {
	PatientID       string    `json:"patient_id"`
	Parameter       string    `json:"parameter"`
	Value           string    `json:"value"`
	Unit            string    `json:"unit,omitempty"`
	ValidTime       time.Time `json:"valid_time"`
	TransactionTime time.Time `json:"transaction_time"`
}

// NumericValue parses the value as a number. Symbolic values return ok=false.
func (f Fact) NumericValue() (float64, bool) {
	return parseNumber(f.Value)
}

// LogFields returns structured logging fields for audit trails.
func (f Fact) LogFields() map[string]any {
	return map[string]any{
		"patient":          f.PatientID,
		"parameter":        f.Parameter,
		"value":            f.Value,
		"valid_time":       f.ValidTime,
		"transaction_time": f.TransactionTime,
	}
}

func parseNumber(s string) (float64, bool) {
	var v float64
	n, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &v)
	if err != nil || n != 1 {
		return 0, false
	}
	return v, true
}

// ValidityPeriod bounds how long a single observation stays authoritative
// around its valid time: the fact is current inside
// [valid_time - BeforeGood, valid_time + AfterGood].
type ValidityPeriod struct {
	BeforeGood time.Duration `json:"before_good"`
	AfterGood  time.Duration `json:"after_good"`
}

// Window returns the closed validity window around a valid time.
func (vp ValidityPeriod) Window(validTime time.Time) (start, end time.Time) {
	return validTime.Add(-vp.BeforeGood), validTime.Add(vp.AfterGood)
}

// Contains reports whether t falls inside the validity window around
// validTime, boundaries included.
func (vp ValidityPeriod) Contains(validTime, t time.Time) bool {
	start, end := vp.Window(validTime)
	return !t.Before(start) && !t.After(end)
}

// StateInterval is a maximal time range during which a derived state held a
// specific value. Intervals are closed: both Start and End belong to the
// interval, so two intervals that touch exactly at a boundary merge.
type StateInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	State string    `json:"state"`
}

// Overlaps reports whether the other interval overlaps or touches this one.
func (si StateInterval) Overlaps(other StateInterval) bool {
	return !other.Start.After(si.End) && !si.Start.After(other.End)
}

// ValidTimeSelector designates the fact(s) a retraction targets: either an
// exact valid-time instant, or a whole day when only the date is known.
type ValidTimeSelector struct {
	Instant  time.Time
	WholeDay bool
}

// SelectorAt targets the fact at an exact valid-time instant.
func SelectorAt(t time.Time) ValidTimeSelector {
	return ValidTimeSelector{Instant: t}
}

// SelectorDay targets the single latest-transaction fact within the day.
func SelectorDay(day time.Time) ValidTimeSelector {
	y, m, d := day.Date()
	return ValidTimeSelector{
		Instant:  time.Date(y, m, d, 0, 0, 0, 0, day.Location()),
		WholeDay: true,
	}
}

// Bounds returns the half-open valid-time range the selector covers.
func (s ValidTimeSelector) Bounds() (start, end time.Time) {
	if s.WholeDay {
		return s.Instant, s.Instant.Add(24 * time.Hour)
	}
	return s.Instant, s.Instant
}
