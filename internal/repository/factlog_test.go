package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

func newTestLog(t *testing.T) *FactLog {
	t.Helper()
	log, err := NewFactLog(filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestFactLogReplay(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	valid := time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)
	f1 := fact("p1", "30313-1", "9.5", valid, valid)
	f2 := fact("p1", "30313-1", "9.9", valid, valid.Add(time.Hour))
	require.NoError(t, log.Append(ctx, f1))
	require.NoError(t, log.Append(ctx, f2))

	var replayed []domain.Fact
	require.NoError(t, log.Replay(ctx, func(f domain.Fact) {
		replayed = append(replayed, f)
	}))
	require.Len(t, replayed, 2)
	assert.Equal(t, "9.5", replayed[0].Value, "replay preserves recording order")
	assert.Equal(t, "9.9", replayed[1].Value)
	assert.True(t, replayed[1].ValidTime.Equal(valid))
	assert.True(t, replayed[1].TransactionTime.Equal(valid.Add(time.Hour)))
}

func TestFactLogCount(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	count, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a fresh log is empty")

	valid := time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(ctx, fact("p1", "30313-1", "9.5", valid, valid)))

	count, err = log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFactLogRetract(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	valid := time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)
	f1 := fact("p1", "30313-1", "9.5", valid, valid)
	f2 := fact("p1", "30313-1", "9.9", valid, valid.Add(time.Hour))
	require.NoError(t, log.Append(ctx, f1))
	require.NoError(t, log.Append(ctx, f2))

	require.NoError(t, log.Retract(ctx, f2))

	count, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var replayed []domain.Fact
	require.NoError(t, log.Replay(ctx, func(f domain.Fact) {
		replayed = append(replayed, f)
	}))
	require.Len(t, replayed, 1, "tombstoned rows are skipped on replay")
	assert.Equal(t, "9.5", replayed[0].Value)

	err = log.Retract(ctx, f2)
	assert.ErrorIs(t, err, domain.ErrNoSuchMeasurement, "retracting twice finds nothing")
}
