package learner

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/BoweryJG/clearverify-patient/internal/model"
)

//go:embed templates.yaml
var builtinTemplates []byte

// Login flows.
const (
	FlowStandard  = "standard"
	FlowMultiStep = "multi_step"
)

// Template is a family of portal UIs: the login selectors and navigation
// paths it expects, plus data selectors known to work on it.
type Template struct {
	Name       string              `yaml:"name"`
	Flow       string              `yaml:"flow"`
	Selectors  map[string][]string `yaml:"selectors"`
	Navigation map[string][]string `yaml:"navigation"`
	Extraction map[string][]string `yaml:"extraction"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() []Template {
	t, err := ParseTemplates(builtinTemplates)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTemplates reads templates from a YAML file, or returns the built-in
// set when path is empty.
func LoadTemplates(path string) ([]Template, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "learner: read templates %s", path)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes a templates document.
func ParseTemplates(data []byte) ([]Template, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "learner: parse templates")
	}
	if len(doc.Templates) == 0 {
		return nil, eris.New("learner: no templates defined")
	}
	for i, t := range doc.Templates {
		if t.Name == "" {
			return nil, eris.Errorf("learner: template %d has no name", i)
		}
		if t.Flow == "" {
			doc.Templates[i].Flow = FlowStandard
		}
	}
	return doc.Templates, nil
}

// ExtraSelectors gathers every template's login selectors by field, for
// widening the analysis catalog.
func ExtraSelectors(templates []Template) map[string][]string {
	out := make(map[string][]string)
	for _, t := range templates {
		for field, sels := range t.Selectors {
			out[field] = append(out[field], sels...)
		}
	}
	return out
}

// Score rates how well a template fits an analysis: 10 points for each of
// the template's login fields that was detected and 5 for each of its
// navigation patterns that was detected.
func Score(t Template, a model.PortalAnalysis) int {
	score := 0
	for field := range t.Selectors {
		if _, ok := a.LoginFields[field]; ok {
			score += 10
		}
	}
	for pattern := range t.Navigation {
		if _, ok := a.Navigation[pattern]; ok {
			score += 5
		}
	}
	return score
}

// BestTemplate returns the highest-scoring template, the first declared on
// ties, or nil when no template scores above zero.
func BestTemplate(templates []Template, a model.PortalAnalysis) (*Template, int) {
	var (
		best      *Template
		bestScore int
	)
	for i := range templates {
		if s := Score(templates[i], a); s > bestScore {
			best, bestScore = &templates[i], s
		}
	}
	return best, bestScore
}

// maxScore is the score that maps to full confidence.
const maxScore = 100

// Confidence converts a template score to [0,1].
func Confidence(score int) float64 {
	c := float64(score) / maxScore
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
