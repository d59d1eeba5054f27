package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
	"github.com/NevoLevi/mini-project-cdss/internal/knowledge"
	"github.com/NevoLevi/mini-project-cdss/internal/repository"
)

// Engine wires the store, the knowledge base and the decision services into
// the query surface the API exposes. Every read takes an explicit as-of
// time, so the same question can be asked about the present or about any
// past moment of the record.
type Engine struct {
	logger     *logrus.Logger
	store      *repository.FactStore
	factLog    *repository.FactLog
	kb         *knowledge.Provider
	catalog    *knowledge.Catalog
	patients   *repository.PatientDirectory
	classifier *Classifier
	intervals  *IntervalReconstructor
	matcher    *TreatmentMatcher
	now        func() time.Time
}

// NewEngine creates the engine. factLog may be nil to run without
// persistence, as the tests do.
func NewEngine(
	logger *logrus.Logger,
	store *repository.FactStore,
	factLog *repository.FactLog,
	kb *knowledge.Provider,
	catalog *knowledge.Catalog,
	patients *repository.PatientDirectory,
) *Engine {
	classifier := NewClassifier(logger)
	return &Engine{
		logger:     logger,
		store:      store,
		factLog:    factLog,
		kb:         kb,
		catalog:    catalog,
		patients:   patients,
		classifier: classifier,
		intervals:  NewIntervalReconstructor(logger, classifier),
		matcher:    NewTreatmentMatcher(logger),
		now:        time.Now,
	}
}

// LatestValueResult is one authoritative measurement, decorated with the
// catalogue's display name.
type LatestValueResult struct {
	PatientID       string    `json:"patient_id"`
	Parameter       string    `json:"parameter"`
	DisplayName     string    `json:"display_name"`
	Value           string    `json:"value"`
	Unit            string    `json:"unit,omitempty"`
	ValidTime       time.Time `json:"valid_time"`
	TransactionTime time.Time `json:"transaction_time"`
}

// PatientStates is the full derived picture of one patient at one moment.
// Empty strings and an undefined grade mean the state could not be derived,
// which is an answer, not an error.
type PatientStates struct {
	PatientID     string       `json:"patient_id"`
	AsOf          time.Time    `json:"as_of"`
	Hemoglobin    string       `json:"hemoglobin_state,omitempty"`
	Hematological string       `json:"hematological_state,omitempty"`
	ToxicityGrade domain.Grade `json:"toxicity_grade,omitempty"`
	Therapy       string       `json:"therapy,omitempty"`
}

// Recommendation pairs the treatment outcome with the states it was
// derived from.
type Recommendation struct {
	States  PatientStates           `json:"states"`
	Outcome domain.TreatmentOutcome `json:"outcome"`
}

// PatientStatus is one row of the all-patients dashboard.
type PatientStatus struct {
	Patient        domain.Patient          `json:"patient"`
	DisplayName    string                  `json:"display_name"`
	States         PatientStates           `json:"states"`
	Recommendation domain.TreatmentOutcome `json:"recommendation"`
}

func (e *Engine) decorate(f domain.Fact) LatestValueResult {
	return LatestValueResult{
		PatientID:       f.PatientID,
		Parameter:       f.Parameter,
		DisplayName:     e.catalog.DisplayName(f.Parameter),
		Value:           f.Value,
		Unit:            f.Unit,
		ValidTime:       f.ValidTime,
		TransactionTime: f.TransactionTime,
	}
}

// Record appends a brand new measurement. The transaction time is stamped
// by the engine clock; the valid time is the caller's.
func (e *Engine) Record(ctx context.Context, patientID, token, value, unit string, validTime time.Time) (domain.Fact, error) {
	if _, ok := e.patients.Get(patientID); !ok {
		return domain.Fact{}, fmt.Errorf("%q: %w", patientID, domain.ErrUnknownPatient)
	}
	code, err := e.catalog.Resolve(token)
	if err != nil {
		return domain.Fact{}, err
	}
	if e.catalog.IsNumeric(code) {
		if _, ok := (domain.Fact{Value: value}).NumericValue(); !ok {
			return domain.Fact{}, fmt.Errorf("parameter %s requires a numeric value, got %q", code, value)
		}
	}

	fact := domain.Fact{
		PatientID:       patientID,
		Parameter:       code,
		Value:           strings.TrimSpace(value),
		Unit:            unit,
		ValidTime:       validTime,
		TransactionTime: e.now(),
	}
	e.store.Append(fact)
	if e.factLog != nil {
		if err := e.factLog.Append(ctx, fact); err != nil {
			return domain.Fact{}, fmt.Errorf("persisting fact: %w", err)
		}
	}
	e.logger.WithFields(fact.LogFields()).Info("Measurement recorded")
	return fact, nil
}

// Update corrects an existing measurement: it appends a new version of the
// fact at the same valid time with the current transaction time. Updating a
// valid time that was never measured is an error, not an insert.
func (e *Engine) Update(ctx context.Context, patientID, token, value string, validTime time.Time) (domain.Fact, error) {
	code, err := e.catalog.Resolve(token)
	if err != nil {
		return domain.Fact{}, err
	}
	existing, ok := e.store.LatestVersionAt(patientID, code, validTime)
	if !ok {
		return domain.Fact{}, fmt.Errorf("%s at %s: %w", code, validTime.Format(time.RFC3339), domain.ErrNoSuchMeasurement)
	}
	if e.catalog.IsNumeric(code) {
		if _, ok := (domain.Fact{Value: value}).NumericValue(); !ok {
			return domain.Fact{}, fmt.Errorf("parameter %s requires a numeric value, got %q", code, value)
		}
	}

	fact := domain.Fact{
		PatientID:       patientID,
		Parameter:       code,
		Value:           strings.TrimSpace(value),
		Unit:            existing.Unit,
		ValidTime:       existing.ValidTime,
		TransactionTime: e.now(),
	}
	e.store.Append(fact)
	if e.factLog != nil {
		if err := e.factLog.Append(ctx, fact); err != nil {
			return domain.Fact{}, fmt.Errorf("persisting correction: %w", err)
		}
	}
	e.logger.WithFields(fact.LogFields()).Info("Measurement corrected")
	return fact, nil
}

// Delete retracts the latest recorded version the selector targets and
// returns it. After a retraction the previous version, if any, becomes
// authoritative again.
func (e *Engine) Delete(ctx context.Context, patientID, token string, sel domain.ValidTimeSelector) (domain.Fact, error) {
	code, err := e.catalog.Resolve(token)
	if err != nil {
		return domain.Fact{}, err
	}
	removed, err := e.store.RetractLatest(patientID, code, sel)
	if err != nil {
		return domain.Fact{}, err
	}
	if e.factLog != nil {
		if err := e.factLog.Retract(ctx, removed); err != nil {
			e.logger.WithError(err).WithFields(removed.LogFields()).Warn("Retracted fact missing from persistent log")
		}
	}
	return removed, nil
}

// GetLatestValue returns the authoritative value of one parameter at asOf,
// or nil when no measurement is current.
func (e *Engine) GetLatestValue(ctx context.Context, patientID, token string, asOf time.Time) (*LatestValueResult, error) {
	code, err := e.catalog.Resolve(token)
	if err != nil {
		return nil, err
	}
	fact, ok := e.store.Latest(patientID, code, asOf)
	if !ok {
		return nil, nil
	}
	result := e.decorate(fact)
	return &result, nil
}

// History returns the latest recorded version of every measurement with
// valid time in [start, end], oldest first. A non-zero asOf answers the
// question as the record stood at that transaction time; a non-nil hour
// restricts results to measurements valid at that hour of day.
func (e *Engine) History(ctx context.Context, patientID, token string, start, end, asOf time.Time, hour *int) ([]LatestValueResult, error) {
	code, err := e.catalog.Resolve(token)
	if err != nil {
		return nil, err
	}
	facts := e.store.History(patientID, code, start, end, asOf, hour)
	out := make([]LatestValueResult, 0, len(facts))
	for _, f := range facts {
		out = append(out, e.decorate(f))
	}
	return out, nil
}

// GetPatientStates derives every configured state for one patient at asOf.
// Unknown patients yield fully undefined states rather than an error.
func (e *Engine) GetPatientStates(ctx context.Context, patientID string, asOf time.Time) (PatientStates, error) {
	snap := e.store.Snapshot(patientID)
	return e.statesFrom(patientID, snap, asOf)
}

func (e *Engine) statesFrom(patientID string, snap map[string][]domain.Fact, asOf time.Time) (PatientStates, error) {
	states := PatientStates{PatientID: patientID, AsOf: asOf}
	patient, known := e.patients.Get(patientID)

	if known {
		if rs, err := e.kb.RuleSet(knowledge.TableHemoglobinState); err == nil {
			values, err := e.tableValues(rs, snap, asOf)
			if err != nil {
				return states, err
			}
			if state, ok := e.classifier.Evaluate(rs, patient.Gender, values); ok {
				states.Hemoglobin = state
			}
		}
		if rs, err := e.kb.RuleSet(knowledge.TableHematologicState); err == nil {
			values, err := e.tableValues(rs, snap, asOf)
			if err != nil {
				return states, err
			}
			if state, ok := e.classifier.Evaluate(rs, patient.Gender, values); ok {
				states.Hematological = state
			}
		}
	}

	rs, err := e.kb.RuleSet(knowledge.TableSystemicToxicity)
	if err == nil {
		values, err := e.gradedValues(rs, snap, asOf)
		if err != nil {
			return states, err
		}
		if grade, ok := e.classifier.EvaluateGrade(rs, values); ok {
			states.ToxicityGrade = grade
		}
	}

	if code, err := e.catalog.CodeForName("Therapy"); err == nil {
		if f, ok := latestIn(snap, code, e.kb.WindowFor(code), asOf); ok {
			states.Therapy = f.Value
		}
	}
	return states, nil
}

// tableValues resolves the authoritative value of each declared non-gender
// input at asOf.
func (e *Engine) tableValues(rs *domain.ClassificationRuleSet, snap map[string][]domain.Fact, asOf time.Time) (map[string]string, error) {
	values := make(map[string]string, len(rs.Inputs))
	for _, name := range rs.Inputs {
		if strings.EqualFold(name, "Gender") {
			continue
		}
		code, err := e.catalog.CodeForName(name)
		if err != nil {
			return nil, err
		}
		if f, ok := latestIn(snap, code, e.kb.WindowFor(code), asOf); ok {
			values[name] = f.Value
		}
	}
	return values, nil
}

// gradedValues resolves the precondition parameter and every symptom of a
// maximal-OR table at asOf.
func (e *Engine) gradedValues(rs *domain.ClassificationRuleSet, snap map[string][]domain.Fact, asOf time.Time) (map[string]string, error) {
	if rs.MaximalOr == nil {
		return nil, nil
	}
	names := []string{rs.MaximalOr.Precondition.Parameter}
	for _, s := range rs.MaximalOr.Symptoms {
		names = append(names, s.Parameter)
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		code, err := e.catalog.CodeForName(name)
		if err != nil {
			return nil, err
		}
		if f, ok := latestIn(snap, code, e.kb.WindowFor(code), asOf); ok {
			values[name] = f.Value
		}
	}
	return values, nil
}

// latestIn applies the latest-fact reduction to a snapshot slice: newest
// valid time among versions recorded by asOf whose window contains asOf.
func latestIn(snap map[string][]domain.Fact, code string, window domain.ValidityPeriod, asOf time.Time) (domain.Fact, bool) {
	candidates := repository.LatestVersions(snap[code], asOf)
	for i := len(candidates) - 1; i >= 0; i-- {
		if window.Contains(candidates[i].ValidTime, asOf) {
			return candidates[i], true
		}
	}
	return domain.Fact{}, false
}

// GetStateIntervals reconstructs when a derived state held which value
// inside [start, end], as seen from the record at asOf (zero means all
// recorded versions count). A non-empty targetState narrows the result to
// that state's intervals; grades accept any spelling ParseGrade does.
func (e *Engine) GetStateIntervals(ctx context.Context, patientID string, stateType domain.StateType, targetState string, start, end, asOf time.Time) ([]domain.StateInterval, error) {
	if !stateType.IsValid() {
		return nil, fmt.Errorf("%q: %w", stateType, domain.ErrUnknownRuleSet)
	}
	if start.After(end) {
		return nil, nil
	}
	patient, _ := e.patients.Get(patientID)
	snap := e.store.Snapshot(patientID)

	var intervals []domain.StateInterval
	switch stateType {
	case domain.StateHemoglobin:
		rs, err := e.kb.RuleSet(knowledge.TableHemoglobinState)
		if err != nil {
			return nil, err
		}
		in, err := e.seriesFor("Hemoglobin", snap, start, end, asOf)
		if err != nil {
			return nil, err
		}
		intervals = e.intervals.SingleParam(rs, patient.Gender, in)

	case domain.StateHematological:
		rs, err := e.kb.RuleSet(knowledge.TableHematologicState)
		if err != nil {
			return nil, err
		}
		row, err := e.seriesFor("Hemoglobin", snap, start, end, asOf)
		if err != nil {
			return nil, err
		}
		col, err := e.seriesFor("WBC", snap, start, end, asOf)
		if err != nil {
			return nil, err
		}
		intervals = e.intervals.Paired(rs, patient.Gender, row, col)

	case domain.StateSystemicToxicity:
		rs, err := e.kb.RuleSet(knowledge.TableSystemicToxicity)
		if err != nil {
			return nil, err
		}
		if rs.MaximalOr == nil {
			return nil, nil
		}
		names := []string{rs.MaximalOr.Precondition.Parameter}
		for _, s := range rs.MaximalOr.Symptoms {
			names = append(names, s.Parameter)
		}
		var inputs []SeriesInput
		for _, name := range names {
			in, err := e.seriesFor(name, snap, start, end, asOf)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, in)
		}
		intervals = e.intervals.Graded(rs, inputs)

	case domain.StateTherapy:
		in, err := e.seriesFor("Therapy", snap, start, end, asOf)
		if err != nil {
			return nil, err
		}
		raw := make([]domain.StateInterval, 0, len(in.Facts))
		for _, f := range in.Facts {
			ws, we := in.Window.Window(f.ValidTime)
			raw = append(raw, domain.StateInterval{Start: ws, End: we, State: f.Value})
		}
		intervals = MergeIntervals(raw)
	}

	intervals = clipIntervals(intervals, start, end)
	if targetState == "" {
		return intervals, nil
	}
	want := targetState
	if grade, ok := domain.ParseGrade(targetState); ok {
		want = grade.Canonical()
	}
	var filtered []domain.StateInterval
	for _, iv := range intervals {
		if strings.EqualFold(iv.State, want) {
			filtered = append(filtered, iv)
		}
	}
	return filtered, nil
}

// seriesFor builds the reconstruction input for one canonical parameter
// name: latest versions as of asOf whose validity window reaches into
// [start, end].
func (e *Engine) seriesFor(name string, snap map[string][]domain.Fact, start, end, asOf time.Time) (SeriesInput, error) {
	code, err := e.catalog.CodeForName(name)
	if err != nil {
		return SeriesInput{}, err
	}
	window := e.kb.WindowFor(code)

	var facts []domain.Fact
	for _, f := range repository.LatestVersions(snap[code], asOf) {
		ws, we := window.Window(f.ValidTime)
		if we.Before(start) || ws.After(end) {
			continue
		}
		facts = append(facts, f)
	}
	return SeriesInput{Parameter: name, Facts: facts, Window: window}, nil
}

func clipIntervals(intervals []domain.StateInterval, start, end time.Time) []domain.StateInterval {
	var out []domain.StateInterval
	for _, iv := range intervals {
		if iv.End.Before(start) || iv.Start.After(end) {
			continue
		}
		if iv.Start.Before(start) {
			iv.Start = start
		}
		if iv.End.After(end) {
			iv.End = end
		}
		out = append(out, iv)
	}
	return out
}

// GetTreatmentRecommendation derives the patient's states at asOf and
// resolves them against the treatment rules.
func (e *Engine) GetTreatmentRecommendation(ctx context.Context, patientID string, asOf time.Time) (Recommendation, error) {
	states, err := e.GetPatientStates(ctx, patientID, asOf)
	if err != nil {
		return Recommendation{}, err
	}
	rules, err := e.kb.Treatments()
	if err != nil {
		return Recommendation{}, err
	}
	patient, _ := e.patients.Get(patientID)
	outcome := e.matcher.Recommend(rules, patient.Gender, states.Hemoglobin, states.Hematological, states.ToxicityGrade)
	return Recommendation{States: states, Outcome: outcome}, nil
}

// Status derives states and recommendations for every registered patient
// at asOf, the dashboard query.
func (e *Engine) Status(ctx context.Context, asOf time.Time) ([]PatientStatus, error) {
	rules, err := e.kb.Treatments()
	if err != nil {
		return nil, err
	}

	patients := e.patients.All()
	out := make([]PatientStatus, 0, len(patients))
	for _, p := range patients {
		snap := e.store.Snapshot(p.ID)
		states, err := e.statesFrom(p.ID, snap, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, PatientStatus{
			Patient:        p,
			DisplayName:    p.DisplayName(),
			States:         states,
			Recommendation: e.matcher.Recommend(rules, p.Gender, states.Hemoglobin, states.Hematological, states.ToxicityGrade),
		})
	}
	return out, nil
}

// AllPatientStatesAt derives the states of the whole population at one
// moment, without treatment lookups.
func (e *Engine) AllPatientStatesAt(ctx context.Context, asOf time.Time) ([]PatientStates, error) {
	patients := e.patients.All()
	out := make([]PatientStates, 0, len(patients))
	for _, p := range patients {
		states, err := e.GetPatientStates(ctx, p.ID, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, states)
	}
	return out, nil
}

// FindPatients returns every patient whose derived state of the given type
// equals value at asOf, optionally restricted to one gender. Grade values
// accept any spelling ParseGrade does.
func (e *Engine) FindPatients(ctx context.Context, gender domain.Gender, stateType domain.StateType, value string, asOf time.Time) ([]domain.Patient, error) {
	if !stateType.IsValid() {
		return nil, fmt.Errorf("%q: %w", stateType, domain.ErrUnknownRuleSet)
	}

	var matched []domain.Patient
	for _, p := range e.patients.All() {
		if gender.IsValid() && p.Gender != gender {
			continue
		}
		states, err := e.GetPatientStates(ctx, p.ID, asOf)
		if err != nil {
			return nil, err
		}
		var current string
		switch stateType {
		case domain.StateHemoglobin:
			current = states.Hemoglobin
		case domain.StateHematological:
			current = states.Hematological
		case domain.StateSystemicToxicity:
			current = states.ToxicityGrade.Canonical()
			if grade, ok := domain.ParseGrade(value); ok && grade == states.ToxicityGrade {
				matched = append(matched, p)
				continue
			}
		case domain.StateTherapy:
			current = states.Therapy
		}
		if current != "" && strings.EqualFold(current, value) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// Patients exposes the directory for the API layer.
func (e *Engine) Patients() []domain.Patient {
	return e.patients.All()
}

// Now reports the engine clock, the default as-of for queries that omit
// one.
func (e *Engine) Now() time.Time {
	return e.now()
}

// SetClock overrides the engine clock. Tests use it to pin time.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
