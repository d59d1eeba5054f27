// Package loader ingests the project workbook: patient demographics plus
// historical lab results and clinical observations.
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
	"github.com/NevoLevi/mini-project-cdss/internal/knowledge"
	"github.com/NevoLevi/mini-project-cdss/internal/repository"
)

// Sheet names the loader expects in the workbook.
const (
	SheetDemographics = "Patient_Demographics"
	SheetLabResults   = "Lab_Results"
	SheetObservations = "Clinical_Observations"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01-02-06 15:04",
	"1/2/06 15:04",
}

// Stats summarizes one load.
type Stats struct {
	Patients int
	Facts    int
	Skipped  int
}

// Loader reads the workbook and feeds demographics and facts into the
// engine's stores. Rows that cannot be resolved or parsed are skipped with
// a warning, never fatal: one bad row must not sink the whole history.
type Loader struct {
	logger  *logrus.Logger
	catalog *knowledge.Catalog
}

// NewLoader creates a new workbook loader.
func NewLoader(logger *logrus.Logger, catalog *knowledge.Catalog) *Loader {
	return &Loader{logger: logger, catalog: catalog}
}

// LoadWorkbook reads all three sheets, registering patients in the
// directory and passing each fact to apply.
func (l *Loader) LoadWorkbook(path string, patients *repository.PatientDirectory, apply func(domain.Fact) error) (Stats, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	stats := Stats{}
	if err := l.loadDemographics(f, patients, &stats); err != nil {
		return stats, err
	}
	for _, sheet := range []string{SheetLabResults, SheetObservations} {
		if err := l.loadFacts(f, sheet, apply, &stats); err != nil {
			return stats, err
		}
	}

	l.logger.WithFields(logrus.Fields{
		"path":     path,
		"patients": stats.Patients,
		"facts":    stats.Facts,
		"skipped":  stats.Skipped,
	}).Info("Workbook loaded")
	return stats, nil
}

// loadDemographics expects columns: id, first name, last name, gender, age.
func (l *Loader) loadDemographics(f *excelize.File, patients *repository.PatientDirectory, stats *Stats) error {
	rows, err := f.GetRows(SheetDemographics)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", SheetDemographics, err)
	}

	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if len(row) < 4 {
			l.skip(SheetDemographics, i, "too few columns", stats)
			continue
		}
		gender, ok := domain.ParseGender(row[3])
		if !ok {
			l.skip(SheetDemographics, i, fmt.Sprintf("unrecognized gender %q", row[3]), stats)
			continue
		}
		age := 0
		if len(row) > 4 {
			if v, err := strconv.Atoi(strings.TrimSpace(row[4])); err == nil {
				age = v
			}
		}
		patients.Put(domain.Patient{
			ID:        strings.TrimSpace(row[0]),
			FirstName: strings.TrimSpace(row[1]),
			LastName:  strings.TrimSpace(row[2]),
			Gender:    gender,
			Age:       age,
		})
		stats.Patients++
	}
	return nil
}

// loadFacts expects columns: patient id, parameter (code or alias), value,
// unit, valid time, transaction time. The unit column may be empty.
func (l *Loader) loadFacts(f *excelize.File, sheet string, apply func(domain.Fact) error, stats *Stats) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", sheet, err)
	}

	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if len(row) < 6 {
			l.skip(sheet, i, "too few columns", stats)
			continue
		}
		code, err := l.catalog.Resolve(row[1])
		if err != nil {
			l.skip(sheet, i, err.Error(), stats)
			continue
		}
		validTime, err := parseTime(row[4])
		if err != nil {
			l.skip(sheet, i, err.Error(), stats)
			continue
		}
		txnTime, err := parseTime(row[5])
		if err != nil {
			l.skip(sheet, i, err.Error(), stats)
			continue
		}

		fact := domain.Fact{
			PatientID:       strings.TrimSpace(row[0]),
			Parameter:       code,
			Value:           strings.TrimSpace(row[2]),
			Unit:            strings.TrimSpace(row[3]),
			ValidTime:       validTime,
			TransactionTime: txnTime,
		}
		if err := apply(fact); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
		stats.Facts++
	}
	return nil
}

func (l *Loader) skip(sheet string, row int, reason string, stats *Stats) {
	stats.Skipped++
	l.logger.WithFields(logrus.Fields{
		"sheet":  sheet,
		"row":    row + 1,
		"reason": reason,
	}).Warn("Skipping workbook row")
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
