// Package repository holds the bi-temporal fact storage: an in-memory
// per-patient store serving queries, backed by an append-only SQLite log
// that survives restarts.
package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// WindowResolver maps a parameter code to its current validity period. The
// store consults it on every read so validity edits in the knowledge base
// apply to the very next query.
type WindowResolver interface {
	WindowFor(code string) domain.ValidityPeriod
}

// partition holds one patient's facts, keyed by parameter code. Each slice
// is kept sorted by (valid time, transaction time) ascending.
type partition struct {
	mu    sync.RWMutex
	facts map[string][]domain.Fact
}

// FactStore is the in-memory bi-temporal store. Facts are append-only: a
// correction is a new fact for the same valid time with a later transaction
// time, and a retraction physically removes exactly one recorded version.
// Partitioning is per patient, so writes to one patient never block reads
// on another.
type FactStore struct {
	windows WindowResolver
	log     *logrus.Logger

	mu         sync.RWMutex
	partitions map[string]*partition
}

// NewFactStore creates an empty store.
func NewFactStore(windows WindowResolver, log *logrus.Logger) *FactStore {
	return &FactStore{
		windows:    windows,
		log:        log,
		partitions: make(map[string]*partition),
	}
}

func (s *FactStore) partitionFor(patientID string, create bool) *partition {
	s.mu.RLock()
	p, ok := s.partitions[patientID]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[patientID]; ok {
		return p
	}
	p = &partition{facts: make(map[string][]domain.Fact)}
	s.partitions[patientID] = p
	return p
}

// Append records one fact. Appending the same fact twice is harmless: the
// duplicate carries no new information and latest-version reduction is
// unaffected.
func (s *FactStore) Append(fact domain.Fact) {
	p := s.partitionFor(fact.PatientID, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	facts := append(p.facts[fact.Parameter], fact)
	sort.Slice(facts, func(i, j int) bool {
		if !facts[i].ValidTime.Equal(facts[j].ValidTime) {
			return facts[i].ValidTime.Before(facts[j].ValidTime)
		}
		return facts[i].TransactionTime.Before(facts[j].TransactionTime)
	})
	p.facts[fact.Parameter] = facts
}

// LatestVersions reduces raw facts to one fact per valid time: the version
// with the greatest transaction time not exceeding asOf. A zero asOf means
// no transaction-time cut. The input must be sorted by (valid time,
// transaction time) ascending, as store slices and snapshots are; the
// result stays sorted by valid time ascending.
func LatestVersions(facts []domain.Fact, asOf time.Time) []domain.Fact {
	var out []domain.Fact
	for _, f := range facts {
		if !asOf.IsZero() && f.TransactionTime.After(asOf) {
			continue
		}
		// Input order makes the later version always arrive last.
		if n := len(out); n > 0 && out[n-1].ValidTime.Equal(f.ValidTime) {
			out[n-1] = f
			continue
		}
		out = append(out, f)
	}
	return out
}

// Latest returns the authoritative fact for a parameter at asOf: among
// versions recorded by asOf whose validity window contains asOf, the one
// with the greatest valid time. ok is false when no such fact exists, which
// covers unknown patients, never-measured parameters and expired windows
// alike.
func (s *FactStore) Latest(patientID, code string, asOf time.Time) (domain.Fact, bool) {
	p := s.partitionFor(patientID, false)
	if p == nil {
		return domain.Fact{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	window := s.windows.WindowFor(code)
	candidates := LatestVersions(p.facts[code], asOf)
	for i := len(candidates) - 1; i >= 0; i-- {
		if window.Contains(candidates[i].ValidTime, asOf) {
			return candidates[i], true
		}
	}
	return domain.Fact{}, false
}

// History returns the latest recorded version of every fact whose valid
// time falls in [start, end], ordered by valid time ascending. An inverted
// range returns an empty slice. A non-zero asOf limits the reduction to
// versions recorded by that transaction time; a non-nil hour keeps only
// facts valid at that hour of day.
func (s *FactStore) History(patientID, code string, start, end, asOf time.Time, hour *int) []domain.Fact {
	if start.After(end) {
		return nil
	}
	p := s.partitionFor(patientID, false)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []domain.Fact
	for _, f := range LatestVersions(p.facts[code], asOf) {
		if f.ValidTime.Before(start) || f.ValidTime.After(end) {
			continue
		}
		if hour != nil && f.ValidTime.Hour() != *hour {
			continue
		}
		out = append(out, f)
	}
	return out
}

// LatestVersionAt returns the most recently recorded version of the fact at
// an exact valid time, regardless of validity windows.
func (s *FactStore) LatestVersionAt(patientID, code string, validTime time.Time) (domain.Fact, bool) {
	p := s.partitionFor(patientID, false)
	if p == nil {
		return domain.Fact{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found domain.Fact
	var ok bool
	for _, f := range p.facts[code] {
		if !f.ValidTime.Equal(validTime) {
			continue
		}
		if !ok || f.TransactionTime.After(found.TransactionTime) {
			found = f
			ok = true
		}
	}
	return found, ok
}

// RetractLatest removes the latest-transaction fact the selector targets
// and returns it. An instant selector targets versions at that exact valid
// time; a whole-day selector targets the single most recently recorded fact
// anywhere in the day. No matching fact yields ErrNoSuchMeasurement.
func (s *FactStore) RetractLatest(patientID, code string, sel domain.ValidTimeSelector) (domain.Fact, error) {
	p := s.partitionFor(patientID, false)
	if p == nil {
		return domain.Fact{}, domain.ErrNoSuchMeasurement
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	start, end := sel.Bounds()
	facts := p.facts[code]
	target := -1
	for i, f := range facts {
		if sel.WholeDay {
			if f.ValidTime.Before(start) || !f.ValidTime.Before(end) {
				continue
			}
		} else if !f.ValidTime.Equal(start) {
			continue
		}
		if target < 0 || f.TransactionTime.After(facts[target].TransactionTime) {
			target = i
		}
	}
	if target < 0 {
		return domain.Fact{}, domain.ErrNoSuchMeasurement
	}

	removed := facts[target]
	p.facts[code] = append(facts[:target:target], facts[target+1:]...)
	s.log.WithFields(removed.LogFields()).Info("Fact retracted")
	return removed, nil
}

// Snapshot deep-copies one patient's facts so a multi-step query can work
// against a stable view while writers proceed.
func (s *FactStore) Snapshot(patientID string) map[string][]domain.Fact {
	p := s.partitionFor(patientID, false)
	if p == nil {
		return map[string][]domain.Fact{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := make(map[string][]domain.Fact, len(p.facts))
	for code, facts := range p.facts {
		cp := make([]domain.Fact, len(facts))
		copy(cp, facts)
		snap[code] = cp
	}
	return snap
}

// Patients lists every patient id with at least one recorded fact, sorted.
func (s *FactStore) Patients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
