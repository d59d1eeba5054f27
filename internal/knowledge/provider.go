// Package knowledge supplies the editable knowledge base: classification
// tables, treatment rules, validity periods and the parameter catalogue.
// The backing JSON document is re-read on change, so an edit is observed by
// the very next query without a restart.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// Names of the built-in classification tables.
const (
	TableHemoglobinState  = "hemoglobin_state"
	TableHematologicState = "hematological_state"
	TableSystemicToxicity = "systemic_toxicity"
)

// Default validity window for parameters with no explicit configuration.
const (
	DefaultBeforeGood = 4 * time.Hour
	DefaultAfterGood  = 8 * time.Hour
)

// Provider loads the knowledge document from disk and serves it to the
// classifier, the validity resolver and the treatment matcher. Callers get
// the current document on every call; the provider's only caching is the
// modification-time check that skips re-parsing an unchanged file.
type Provider struct {
	path string
	log  *logrus.Logger

	mu      sync.Mutex
	doc     *domain.KnowledgeDocument
	modTime time.Time
}

// NewProvider opens the knowledge document at path, writing the default
// document first if none exists.
func NewProvider(path string, log *logrus.Logger) (*Provider, error) {
	p := &Provider{path: path, log: log}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		p.log.WithField("path", path).Info("Knowledge base not found, writing defaults")
		if err := p.write(DefaultDocument()); err != nil {
			return nil, fmt.Errorf("writing default knowledge base: %w", err)
		}
	}
	if _, err := p.Document(); err != nil {
		return nil, err
	}
	return p, nil
}

// Document returns the current knowledge document, reloading the file if it
// changed since the last read.
func (p *Provider) Document() (*domain.KnowledgeDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("stat knowledge base: %w", err)
	}
	if p.doc != nil && info.ModTime().Equal(p.modTime) {
		return p.doc, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge base: %w", err)
	}
	doc := &domain.KnowledgeDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing knowledge base: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	p.doc = doc
	p.modTime = info.ModTime()
	p.log.WithFields(logrus.Fields{
		"path":   p.path,
		"tables": len(doc.ClassificationTables),
	}).Debug("Knowledge base loaded")
	return doc, nil
}

// RuleSet returns the named classification table.
func (p *Provider) RuleSet(name string) (*domain.ClassificationRuleSet, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	rs, ok := doc.ClassificationTables[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownRuleSet)
	}
	return rs, nil
}

// Treatments returns the current treatment rule table.
func (p *Provider) Treatments() (domain.TreatmentRules, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	return doc.Treatments, nil
}

// WindowFor maps a parameter code to its validity period. Parameters with no
// explicit configuration fall back to the documented (4h, 8h) default. The
// document is consulted on every call so validity edits apply immediately.
func (p *Provider) WindowFor(code string) domain.ValidityPeriod {
	fallback := domain.ValidityPeriod{BeforeGood: DefaultBeforeGood, AfterGood: DefaultAfterGood}
	doc, err := p.Document()
	if err != nil {
		p.log.WithError(err).Warn("Knowledge base unavailable, using default validity window")
		return fallback
	}
	spec, ok := doc.Parameters[code]
	if !ok {
		return fallback
	}
	vp, ok := doc.ValidityPeriods[spec.Name]
	if !ok {
		return fallback
	}
	return vp.Period()
}

// UpdateTable replaces one classification table and persists the document.
func (p *Provider) UpdateTable(name string, rs *domain.ClassificationRuleSet) error {
	if rs == nil {
		return fmt.Errorf("%q: %w", name, domain.ErrUnknownRuleSet)
	}
	if rs.Name == "" {
		rs.Name = name
	}
	if err := rs.Validate(); err != nil {
		return err
	}
	return p.mutate(func(doc *domain.KnowledgeDocument) {
		doc.ClassificationTables[name] = rs
	})
}

// UpdateTreatments replaces the treatment rule table and persists it.
func (p *Provider) UpdateTreatments(rules domain.TreatmentRules) error {
	return p.mutate(func(doc *domain.KnowledgeDocument) {
		doc.Treatments = rules
	})
}

// UpdateValidityPeriods replaces the validity-period map and persists it.
func (p *Provider) UpdateValidityPeriods(periods map[string]domain.ValidityPeriodSpec) error {
	return p.mutate(func(doc *domain.KnowledgeDocument) {
		doc.ValidityPeriods = periods
	})
}

// mutate applies an edit to a copy of the current document, so a failed
// validation never leaves a half-edited document in the cache.
func (p *Provider) mutate(apply func(doc *domain.KnowledgeDocument)) error {
	doc, err := p.Document()
	if err != nil {
		return err
	}
	clone, err := cloneDocument(doc)
	if err != nil {
		return err
	}
	apply(clone)
	if err := clone.Validate(); err != nil {
		return err
	}
	if err := p.write(clone); err != nil {
		return err
	}
	p.log.WithField("path", p.path).Info("Knowledge base updated")
	return nil
}

func cloneDocument(doc *domain.KnowledgeDocument) (*domain.KnowledgeDocument, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("copying knowledge base: %w", err)
	}
	clone := &domain.KnowledgeDocument{}
	if err := json.Unmarshal(data, clone); err != nil {
		return nil, fmt.Errorf("copying knowledge base: %w", err)
	}
	return clone, nil
}

func (p *Provider) write(doc *domain.KnowledgeDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding knowledge base: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("writing knowledge base: %w", err)
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("stat knowledge base: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.modTime = info.ModTime()
	p.mu.Unlock()
	return nil
}
