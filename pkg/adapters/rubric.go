package adapters

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Rubric describes how the judge should score artifacts.
type Rubric struct {
	Name     string      `yaml:"name"`
	ScaleMax float64     `yaml:"scale_max"`
	Criteria []Criterion `yaml:"criteria"`
}

// Criterion is one scored dimension.
type Criterion struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// DefaultRubric is used when no rubric file is configured.
func DefaultRubric() Rubric {
	return Rubric{
		Name:     "diagram-quality",
		ScaleMax: 10,
		Criteria: []Criterion{
			{Name: "fidelity", Description: "The diagram depicts every component and relationship the request asks for."},
			{Name: "clarity", Description: "Labels are legible, flow direction is obvious, no overlapping elements."},
			{Name: "layout", Description: "Spacing and grouping reflect the logical structure of the system."},
			{Name: "style", Description: "Consistent iconography and color use, suitable for a technical audience."},
		},
	}
}

// LoadRubric reads a rubric YAML file.
func LoadRubric(path string) (Rubric, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Rubric{}, errors.Wrapf(err, "rubric: read %s", path)
	}
	var r Rubric
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Rubric{}, errors.Wrapf(err, "rubric: parse %s", path)
	}
	if len(r.Criteria) == 0 {
		return Rubric{}, errors.Errorf("rubric: %s has no criteria", path)
	}
	if r.ScaleMax <= 0 {
		r.ScaleMax = 10
	}
	return r, nil
}

// PromptText renders the rubric for inclusion in a judge prompt.
func (r Rubric) PromptText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score the image from 0 to %.0f against these criteria:\n", r.ScaleMax)
	for _, c := range r.Criteria {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	return b.String()
}
