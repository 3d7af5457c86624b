package fact

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ExtractedFactCandidate is a fact proposed by an external extraction step.
// Only decay half-life and scope are defaulted when it becomes a fact.
type ExtractedFactCandidate struct {
	Subject    string   `yaml:"subject" json:"subject"`
	Predicate  string   `yaml:"predicate" json:"predicate"`
	Object     string   `yaml:"object" json:"object"`
	Confidence float64  `yaml:"confidence" json:"confidence"`
	Type       FactType `yaml:"type" json:"type"`
	Source     Source   `yaml:"source" json:"source"`
	Entities   []string `yaml:"entities,omitempty" json:"entities,omitempty"`
}

// ToFact converts the candidate into an unsaved fact.
func (c ExtractedFactCandidate) ToFact() TemporalFact {
	return TemporalFact{
		Subject:    c.Subject,
		Predicate:  c.Predicate,
		Object:     c.Object,
		Confidence: c.Confidence,
		Type:       c.Type,
		Source:     c.Source,
		Entities:   c.Entities,
	}
}

// LoadCandidates decodes a YAML (or JSON) list of extraction candidates.
// A document with a top-level "facts" key is also accepted.
func LoadCandidates(r io.Reader) ([]ExtractedFactCandidate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}

	var list []ExtractedFactCandidate
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Facts []ExtractedFactCandidate `yaml:"facts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return doc.Facts, nil
}
