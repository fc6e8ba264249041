// Package catalog holds the static reference data served alongside
// verifications: dental procedures with typical costs, and the insurers
// recognized on cards together with their provider phone lines.
package catalog

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/BoweryJG/clearverify-patient/internal/model"
)

//go:embed catalog.yaml
var builtin []byte

// UnknownPhone is returned when an insurer has no listed phone number.
const UnknownPhone = "800-xxx-xxxx (lookup required)"

// Insurer is a known insurance carrier.
type Insurer struct {
	Name string `yaml:"name"`
	// Keywords are lower-case substrings that identify the insurer.
	Keywords []string `yaml:"keywords"`
	Phone    string   `yaml:"phone"`
}

// Matches reports whether text mentions the insurer.
func (i Insurer) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range i.Keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Catalog is the loaded reference data.
type Catalog struct {
	Procedures []model.Procedure `yaml:"procedures"`
	Insurers   []Insurer         `yaml:"insurers"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file, or returns the built-in catalog when path is
// empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a catalog document. Procedure codes are upper-cased and
// insurer keywords lower-cased.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}
	seen := make(map[string]bool, len(c.Procedures))
	for i := range c.Procedures {
		code := strings.ToUpper(strings.TrimSpace(c.Procedures[i].Code))
		if code == "" {
			return nil, eris.Errorf("catalog: procedure %d has no code", i)
		}
		if seen[code] {
			return nil, eris.Errorf("catalog: duplicate procedure %s", code)
		}
		seen[code] = true
		c.Procedures[i].Code = code
	}
	for i := range c.Insurers {
		if c.Insurers[i].Name == "" {
			return nil, eris.Errorf("catalog: insurer %d has no name", i)
		}
		for j, kw := range c.Insurers[i].Keywords {
			c.Insurers[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &c, nil
}

// Procedure looks up a procedure by code, case-insensitively.
func (c *Catalog) Procedure(code string) (*model.Procedure, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i := range c.Procedures {
		if c.Procedures[i].Code == code {
			p := c.Procedures[i]
			return &p, true
		}
	}
	return nil, false
}

// Insurer returns the first insurer mentioned in text.
func (c *Catalog) Insurer(text string) (*Insurer, bool) {
	for i := range c.Insurers {
		if c.Insurers[i].Matches(text) {
			ins := c.Insurers[i]
			return &ins, true
		}
	}
	return nil, false
}

// PhoneNumber returns the provider phone line for an insurer name, or
// UnknownPhone.
func (c *Catalog) PhoneNumber(insurerName string) string {
	for _, ins := range c.Insurers {
		if ins.Phone != "" && ins.Matches(insurerName) {
			return ins.Phone
		}
	}
	return UnknownPhone
}
