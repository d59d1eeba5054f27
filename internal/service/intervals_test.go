package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
	"github.com/NevoLevi/mini-project-cdss/internal/knowledge"
)

func at(hour int) time.Time {
	return time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC).Add(time.Duration(hour) * time.Hour)
}

func iv(start, end int, state string) domain.StateInterval {
	return domain.StateInterval{Start: at(start), End: at(end), State: state}
}

func TestMergeIntervals(t *testing.T) {
	tests := []struct {
		name string
		in   []domain.StateInterval
		want []domain.StateInterval
	}{
		{
			name: "overlapping same state",
			in:   []domain.StateInterval{iv(10, 12, "A"), iv(11, 13, "A")},
			want: []domain.StateInterval{iv(10, 13, "A")},
		},
		{
			name: "touching boundaries merge",
			in:   []domain.StateInterval{iv(10, 12, "A"), iv(12, 14, "A")},
			want: []domain.StateInterval{iv(10, 14, "A")},
		},
		{
			name: "gap stays split",
			in:   []domain.StateInterval{iv(10, 11, "A"), iv(12, 14, "A")},
			want: []domain.StateInterval{iv(10, 11, "A"), iv(12, 14, "A")},
		},
		{
			name: "different states never merge",
			in:   []domain.StateInterval{iv(10, 12, "A"), iv(11, 13, "B")},
			want: []domain.StateInterval{iv(10, 12, "A"), iv(11, 13, "B")},
		},
		{
			name: "contained interval is absorbed",
			in:   []domain.StateInterval{iv(10, 20, "A"), iv(12, 14, "A")},
			want: []domain.StateInterval{iv(10, 20, "A")},
		},
		{
			name: "empty input",
			in:   nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeIntervals(tt.in))

			// Order independence and idempotence.
			reversed := make([]domain.StateInterval, 0, len(tt.in))
			for i := len(tt.in) - 1; i >= 0; i-- {
				reversed = append(reversed, tt.in[i])
			}
			assert.Equal(t, tt.want, MergeIntervals(reversed))
			assert.Equal(t, tt.want, MergeIntervals(MergeIntervals(tt.in)))
		})
	}
}

func TestSingleParamReconstruction(t *testing.T) {
	r := NewIntervalReconstructor(testLogger(), NewClassifier(testLogger()))
	rs := defaultTable(t, knowledge.TableHemoglobinState)
	window := domain.ValidityPeriod{BeforeGood: 2 * time.Hour, AfterGood: 2 * time.Hour}

	in := SeriesInput{
		Parameter: "Hemoglobin",
		Window:    window,
		Facts: []domain.Fact{
			{Value: "7.0", ValidTime: at(10)},
			{Value: "7.5", ValidTime: at(13)},
			{Value: "13.0", ValidTime: at(20)},
		},
	}
	got := r.SingleParam(rs, domain.Female, in)
	require.Len(t, got, 2)
	assert.Equal(t, iv(8, 15, "Severe Anemia"), got[0], "overlapping same-state windows merge")
	assert.Equal(t, iv(18, 22, "Normal Hemoglobin"), got[1])
}

func TestPairedReconstruction(t *testing.T) {
	r := NewIntervalReconstructor(testLogger(), NewClassifier(testLogger()))
	rs := defaultTable(t, knowledge.TableHematologicState)
	window := domain.ValidityPeriod{BeforeGood: 3 * time.Hour, AfterGood: 3 * time.Hour}

	row := SeriesInput{
		Parameter: "Hemoglobin",
		Window:    window,
		Facts:     []domain.Fact{{Value: "13.0", ValidTime: at(10)}},
	}
	col := SeriesInput{
		Parameter: "WBC",
		Window:    window,
		Facts: []domain.Fact{
			{Value: "6000", ValidTime: at(11)},
			{Value: "11000", ValidTime: at(30)},
		},
	}

	got := r.Paired(rs, domain.Male, row, col)
	require.Len(t, got, 1, "the second WBC fact shares no window with the hemoglobin fact")
	assert.Equal(t, iv(8, 13, "Normal"), got[0], "state holds over the window intersection")
}

func TestGradedReconstruction(t *testing.T) {
	r := NewIntervalReconstructor(testLogger(), NewClassifier(testLogger()))
	rs := defaultTable(t, knowledge.TableSystemicToxicity)

	therapy := SeriesInput{
		Parameter: "Therapy",
		Window:    domain.ValidityPeriod{BeforeGood: 100 * time.Hour, AfterGood: 100 * time.Hour},
		Facts:     []domain.Fact{{Value: "CCTG522", ValidTime: at(12)}},
	}
	fever := SeriesInput{
		Parameter: "Fever",
		Window:    domain.ValidityPeriod{BeforeGood: 2 * time.Hour, AfterGood: 2 * time.Hour},
		Facts: []domain.Fact{
			{Value: "38.0", ValidTime: at(10)},
			{Value: "39.0", ValidTime: at(14)},
		},
	}

	got := r.Graded(rs, []SeriesInput{therapy, fever})
	require.Len(t, got, 2)
	assert.Equal(t, iv(8, 12, "GRADE I"), got[0])
	assert.Equal(t, iv(12, 16, "GRADE II"), got[1], "the newer measurement wins where windows overlap")
}

func TestGradedReconstructionNoPrecondition(t *testing.T) {
	r := NewIntervalReconstructor(testLogger(), NewClassifier(testLogger()))
	rs := defaultTable(t, knowledge.TableSystemicToxicity)

	fever := SeriesInput{
		Parameter: "Fever",
		Window:    domain.ValidityPeriod{BeforeGood: 2 * time.Hour, AfterGood: 2 * time.Hour},
		Facts:     []domain.Fact{{Value: "39.0", ValidTime: at(10)}},
	}

	got := r.Graded(rs, []SeriesInput{fever})
	assert.Empty(t, got, "no therapy on record means no toxicity grade anywhere")
}

func TestGradedReconstructionZeroGrade(t *testing.T) {
	r := NewIntervalReconstructor(testLogger(), NewClassifier(testLogger()))
	rs := defaultTable(t, knowledge.TableSystemicToxicity)

	therapy := SeriesInput{
		Parameter: "Therapy",
		Window:    domain.ValidityPeriod{BeforeGood: 100 * time.Hour, AfterGood: 100 * time.Hour},
		Facts:     []domain.Fact{{Value: "CCTG522", ValidTime: at(12)}},
	}
	chills := SeriesInput{
		Parameter: "Chills",
		Window:    domain.ValidityPeriod{BeforeGood: 2 * time.Hour, AfterGood: 2 * time.Hour},
		Facts:     []domain.Fact{{Value: "None", ValidTime: at(10)}},
	}

	got := r.Graded(rs, []SeriesInput{therapy, chills})
	assert.Empty(t, got, "all-normal symptoms grade to zero, which names no state")
}
