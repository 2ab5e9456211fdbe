// Package prompts holds the system prompts for every pipeline stage. Built-in
// defaults can be overridden per key from a YAML file.
package prompts

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Set is the full collection of system prompts.
type Set struct {
	Persona             string `yaml:"persona"`
	PersonaReviewer     string `yaml:"persona_reviewer"`
	Simulation          string `yaml:"simulation"`
	Inquiry             string `yaml:"inquiry"`
	Refined             string `yaml:"refined"`
	AdGeneration        string `yaml:"ad_generation"`
	AdReviewer          string `yaml:"ad_reviewer"`
	ProductOptimization string `yaml:"product_optimization"`
	WebSearchPlanner    string `yaml:"web_search_planner"`
	WebSynthesis        string `yaml:"web_synthesis"`
	TokenEstimator      string `yaml:"token_estimator"`
}

// Default returns the built-in prompt set.
func Default() *Set {
	return &Set{
		Persona:             personaPrompt,
		PersonaReviewer:     personaReviewerPrompt,
		Simulation:          simulationPrompt,
		Inquiry:             inquiryPrompt,
		Refined:             refinedPrompt,
		AdGeneration:        adGenerationPrompt,
		AdReviewer:          adReviewerPrompt,
		ProductOptimization: productOptimizationPrompt,
		WebSearchPlanner:    webSearchPlannerPrompt,
		WebSynthesis:        webSynthesisPrompt,
		TokenEstimator:      tokenEstimatorPrompt,
	}
}

// Load returns the defaults overlaid with the non-blank keys of the YAML file
// at path. An empty path returns the defaults.
func Load(path string) (*Set, error) {
	set := Default()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompts: read %s", path)
	}

	var overlay Set
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, eris.Wrapf(err, "prompts: parse %s", path)
	}
	set.merge(overlay)
	return set, nil
}

func (s *Set) merge(o Set) {
	pick := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	pick(&s.Persona, o.Persona)
	pick(&s.PersonaReviewer, o.PersonaReviewer)
	pick(&s.Simulation, o.Simulation)
	pick(&s.Inquiry, o.Inquiry)
	pick(&s.Refined, o.Refined)
	pick(&s.AdGeneration, o.AdGeneration)
	pick(&s.AdReviewer, o.AdReviewer)
	pick(&s.ProductOptimization, o.ProductOptimization)
	pick(&s.WebSearchPlanner, o.WebSearchPlanner)
	pick(&s.WebSynthesis, o.WebSynthesis)
	pick(&s.TokenEstimator, o.TokenEstimator)
}
