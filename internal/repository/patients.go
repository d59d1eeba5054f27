package repository

import (
	"sort"
	"sync"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// PatientDirectory holds the demographics the engine was loaded with.
// Reads vastly outnumber writes; writes only happen at load time.
type PatientDirectory struct {
	mu       sync.RWMutex
	patients map[string]domain.Patient
}

// NewPatientDirectory creates an empty directory.
func NewPatientDirectory() *PatientDirectory {
	return &PatientDirectory{patients: make(map[string]domain.Patient)}
}

// Put registers or replaces a patient.
func (d *PatientDirectory) Put(p domain.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

// Get looks a patient up by id.
func (d *PatientDirectory) Get(id string) (domain.Patient, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	return p, ok
}

// All returns every registered patient, sorted by id.
func (d *PatientDirectory) All() []domain.Patient {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.Patient, 0, len(d.patients))
	for _, p := range d.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered patients.
func (d *PatientDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.patients)
}
