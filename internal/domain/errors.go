package domain

import "errors"

// Sentinel errors for the engine's failure taxonomy. Missing data is not an
// error anywhere in classification - it is a representable outcome. These
// cover caller mistakes and write operations only.
var (
	// ErrUnknownParameter is returned when a caller supplies a code or alias
	// the catalogue cannot resolve to any parameter.
	ErrUnknownParameter = errors.New("unknown parameter code")

	// ErrAmbiguousParameter is returned when an alias resolves to more than
	// one parameter. Ambiguity is an error, never a silent first match.
	ErrAmbiguousParameter = errors.New("parameter alias is ambiguous")

	// ErrNoSuchMeasurement is returned by update/delete when no fact matches
	// the given valid-time selector.
	ErrNoSuchMeasurement = errors.New("no matching measurement")

	// ErrUnknownPatient is returned by write operations targeting a patient
	// the engine has no demographics for. Read queries on unknown patients
	// return empty results instead.
	ErrUnknownPatient = errors.New("unknown patient")

	// ErrUnknownRuleSet is returned when the knowledge base has no
	// classification table under the requested name.
	ErrUnknownRuleSet = errors.New("unknown classification table")
)
