package repository

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

type fixedWindows struct {
	period domain.ValidityPeriod
}

func (w fixedWindows) WindowFor(string) domain.ValidityPeriod {
	return w.period
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestStore(before, after time.Duration) *FactStore {
	return NewFactStore(fixedWindows{domain.ValidityPeriod{BeforeGood: before, AfterGood: after}}, testLogger())
}

func fact(patient, code, value string, valid, txn time.Time) domain.Fact {
	return domain.Fact{
		PatientID:       patient,
		Parameter:       code,
		Value:           value,
		ValidTime:       valid,
		TransactionTime: txn,
	}
}

var base = time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)

func TestLatestPicksGreatestValidTime(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))
	s.Append(fact("p1", "30313-1", "10.2", base.Add(2*time.Hour), base.Add(2*time.Hour)))

	f, ok := s.Latest("p1", "30313-1", base.Add(3*time.Hour))
	require.True(t, ok)
	assert.Equal(t, "10.2", f.Value)
}

func TestLatestCorrectionPrecedence(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))
	s.Append(fact("p1", "30313-1", "9.9", base, base.Add(time.Hour)))

	// The correction wins once recorded.
	f, ok := s.Latest("p1", "30313-1", base.Add(2*time.Hour))
	require.True(t, ok)
	assert.Equal(t, "9.9", f.Value)

	// A query as-of before the correction still sees the original version.
	f, ok = s.Latest("p1", "30313-1", base.Add(30*time.Minute))
	require.True(t, ok)
	assert.Equal(t, "9.5", f.Value)
}

func TestLatestIsIdempotent(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))
	asOf := base.Add(time.Hour)

	first, ok := s.Latest("p1", "30313-1", asOf)
	require.True(t, ok)
	second, ok := s.Latest("p1", "30313-1", asOf)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestLatestRespectsValidityWindow(t *testing.T) {
	s := newTestStore(12*time.Hour, 12*time.Hour)
	s.Append(fact("p1", "39106-0", "38.0", base, base))

	_, ok := s.Latest("p1", "39106-0", base.Add(13*time.Hour))
	assert.False(t, ok, "fact outside its validity window must not be authoritative")

	f, ok := s.Latest("p1", "39106-0", base.Add(12*time.Hour))
	require.True(t, ok, "window boundary is inclusive")
	assert.Equal(t, "38.0", f.Value)
}

func TestLatestIgnoresFutureTransactions(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base.Add(5*time.Hour)))

	_, ok := s.Latest("p1", "30313-1", base.Add(time.Hour))
	assert.False(t, ok, "facts recorded after as-of are invisible")
}

func TestLatestUnknownPatient(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	_, ok := s.Latest("nobody", "30313-1", base)
	assert.False(t, ok)
}

func TestHistory(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.0", base, base))
	s.Append(fact("p1", "30313-1", "9.4", base, base.Add(time.Hour)))
	s.Append(fact("p1", "30313-1", "10.0", base.Add(24*time.Hour), base.Add(24*time.Hour)))
	s.Append(fact("p1", "30313-1", "11.0", base.Add(72*time.Hour), base.Add(72*time.Hour)))

	got := s.History("p1", "30313-1", base, base.Add(48*time.Hour), time.Time{}, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "9.4", got[0].Value, "history returns the corrected version")
	assert.Equal(t, "10.0", got[1].Value)

	assert.Empty(t, s.History("p1", "30313-1", base.Add(48*time.Hour), base, time.Time{}, nil),
		"inverted range returns empty, not an error")

	hour := 10
	filtered := s.History("p1", "30313-1", base, base.Add(96*time.Hour), time.Time{}, &hour)
	require.Len(t, filtered, 3, "every measurement here is valid at 10:00")
	other := 8
	assert.Empty(t, s.History("p1", "30313-1", base, base.Add(96*time.Hour), time.Time{}, &other))
}

func TestRetractLatestInstant(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))
	s.Append(fact("p1", "30313-1", "9.9", base, base.Add(time.Hour)))

	removed, err := s.RetractLatest("p1", "30313-1", domain.SelectorAt(base))
	require.NoError(t, err)
	assert.Equal(t, "9.9", removed.Value, "retraction targets the latest recorded version")

	// The earlier version becomes authoritative again.
	f, ok := s.Latest("p1", "30313-1", base.Add(2*time.Hour))
	require.True(t, ok)
	assert.Equal(t, "9.5", f.Value)

	_, err = s.RetractLatest("p1", "30313-1", domain.SelectorAt(base.Add(time.Minute)))
	assert.ErrorIs(t, err, domain.ErrNoSuchMeasurement)
}

func TestRetractLatestWholeDay(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))
	s.Append(fact("p1", "30313-1", "10.1", base.Add(4*time.Hour), base.Add(4*time.Hour)))
	s.Append(fact("p1", "30313-1", "11.0", base.Add(26*time.Hour), base.Add(26*time.Hour)))

	day := time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC)
	removed, err := s.RetractLatest("p1", "30313-1", domain.SelectorDay(day))
	require.NoError(t, err)
	assert.Equal(t, "10.1", removed.Value, "day retraction removes the single latest recording in the day")

	got := s.History("p1", "30313-1", day, day.Add(24*time.Hour), time.Time{}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "9.5", got[0].Value)
}

func TestLatestVersionAt(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))
	s.Append(fact("p1", "30313-1", "9.9", base, base.Add(time.Hour)))

	f, ok := s.LatestVersionAt("p1", "30313-1", base)
	require.True(t, ok)
	assert.Equal(t, "9.9", f.Value)

	_, ok = s.LatestVersionAt("p1", "30313-1", base.Add(time.Minute))
	assert.False(t, ok)
}

func TestSnapshotIsolation(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p1", "30313-1", "9.5", base, base))

	snap := s.Snapshot("p1")
	require.Len(t, snap["30313-1"], 1)

	s.Append(fact("p1", "30313-1", "10.0", base.Add(time.Hour), base.Add(time.Hour)))
	assert.Len(t, snap["30313-1"], 1, "snapshot is unaffected by later writes")
}

func TestPatients(t *testing.T) {
	s := newTestStore(24*time.Hour, 24*time.Hour)
	s.Append(fact("p2", "30313-1", "9.5", base, base))
	s.Append(fact("p1", "30313-1", "9.5", base, base))

	assert.Equal(t, []string{"p1", "p2"}, s.Patients())
}
