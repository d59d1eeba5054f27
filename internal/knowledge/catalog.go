package knowledge

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

const displayNameCacheSize = 256

// Catalog resolves free-form parameter tokens (codes, names, aliases) to
// canonical parameter codes. Resolution is strict: a token matching nothing
// is an error, and a token matching more than one parameter is an error
// rather than a silent first hit.
type Catalog struct {
	provider *Provider
	log      *logrus.Logger
	names    *lru.Cache[string, string]
}

// NewCatalog wraps the provider with alias resolution.
func NewCatalog(provider *Provider, log *logrus.Logger) (*Catalog, error) {
	names, err := lru.New[string, string](displayNameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating display-name cache: %w", err)
	}
	return &Catalog{provider: provider, log: log, names: names}, nil
}

// Resolve maps a token to a canonical parameter code. Exact code matches win
// outright; otherwise every parameter whose name, long name or alias equals
// the token case-insensitively is a candidate.
func (c *Catalog) Resolve(token string) (string, error) {
	doc, err := c.provider.Document()
	if err != nil {
		return "", err
	}
	t := strings.TrimSpace(token)
	if t == "" {
		return "", fmt.Errorf("empty token: %w", domain.ErrUnknownParameter)
	}
	if _, ok := doc.Parameters[t]; ok {
		return t, nil
	}

	var matches []string
	for code, spec := range doc.Parameters {
		if specMatches(spec, t) {
			matches = append(matches, code)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", token, domain.ErrUnknownParameter)
	case 1:
		return matches[0], nil
	default:
		c.log.WithFields(logrus.Fields{
			"token":   token,
			"matches": matches,
		}).Warn("Ambiguous parameter token")
		return "", fmt.Errorf("%q matches %d parameters: %w", token, len(matches), domain.ErrAmbiguousParameter)
	}
}

func specMatches(spec domain.ParameterSpec, token string) bool {
	if strings.EqualFold(spec.Name, token) || (spec.LongName != "" && strings.EqualFold(spec.LongName, token)) {
		return true
	}
	for _, a := range spec.Aliases {
		if strings.EqualFold(a, token) {
			return true
		}
	}
	return false
}

// CodeForName maps a canonical parameter name (e.g. "Hemoglobin") to its
// code. Rule tables reference parameters by name; facts are stored by code.
// Two parameters sharing a name is a knowledge-base defect and errors, same
// as an ambiguous token in Resolve.
func (c *Catalog) CodeForName(name string) (string, error) {
	doc, err := c.provider.Document()
	if err != nil {
		return "", err
	}
	var matches []string
	for code, spec := range doc.Parameters {
		if strings.EqualFold(spec.Name, name) {
			matches = append(matches, code)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", name, domain.ErrUnknownParameter)
	case 1:
		return matches[0], nil
	default:
		c.log.WithFields(logrus.Fields{
			"name":    name,
			"matches": matches,
		}).Warn("Ambiguous parameter name")
		return "", fmt.Errorf("%q names %d parameters: %w", name, len(matches), domain.ErrAmbiguousParameter)
	}
}

// DisplayName returns the human-readable name for a code, preferring the
// long name. Names are cached; codes are stable identifiers so a stale
// display name is at worst cosmetic.
func (c *Catalog) DisplayName(code string) string {
	if name, ok := c.names.Get(code); ok {
		return name
	}
	doc, err := c.provider.Document()
	if err != nil {
		return code
	}
	spec, ok := doc.Parameters[code]
	if !ok {
		return code
	}
	name := spec.Name
	if spec.LongName != "" {
		name = spec.LongName
	}
	c.names.Add(code, name)
	return name
}

// IsNumeric reports whether the parameter carries numeric values.
func (c *Catalog) IsNumeric(code string) bool {
	doc, err := c.provider.Document()
	if err != nil {
		return false
	}
	spec, ok := doc.Parameters[code]
	return ok && spec.Numeric
}
