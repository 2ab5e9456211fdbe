package model

import "encoding/json"

// DependencyLevel expresses how painful losing the product would be.
type DependencyLevel string

const (
	DependencyPainful     DependencyLevel = "painful"
	DependencyAcceptable  DependencyLevel = "acceptable"
	DependencyIndifferent DependencyLevel = "indifferent"
)

// DependencyLevels lists every valid dependency level.
var DependencyLevels = []DependencyLevel{DependencyPainful, DependencyAcceptable, DependencyIndifferent}

// ValidDependencyLevel reports whether s is one of the known dependency levels.
func ValidDependencyLevel(s string) bool {
	for _, d := range DependencyLevels {
		if string(d) == s {
			return true
		}
	}
	return false
}

// AdCopy is the advertising copy targeted at a persona's pain points.
type AdCopy struct {
	Headline           string   `json:"ad_headline"`
	Body               string   `json:"ad_body"`
	KeyPainPoints      []string `json:"key_pain_points"`
	TargetEmotions     []string `json:"target_emotions"`
	ControversialPoint string   `json:"controversial_point"`
	DiscussionAngle    string   `json:"discussion_angle"`
}

// AdCopyFromMap converts a decoded JSON object into an AdCopy.
func AdCopyFromMap(m map[string]any) *AdCopy {
	if m == nil {
		return nil
	}
	return &AdCopy{
		Headline:           StringOf(m["ad_headline"]),
		Body:               StringOf(m["ad_body"]),
		KeyPainPoints:      nonNil(StringsOf(m["key_pain_points"])),
		TargetEmotions:     nonNil(StringsOf(m["target_emotions"])),
		ControversialPoint: StringOf(m["controversial_point"]),
		DiscussionAngle:    StringOf(m["discussion_angle"]),
	}
}

// OptimizedProduct is an improved product description proposed for a persona.
type OptimizedProduct struct {
	Description            string   `json:"optimized_description"`
	KeyImprovements        []string `json:"key_improvements"`
	ExpectedBenefits       []string `json:"expected_benefits"`
	ImplementationPriority string   `json:"implementation_priority"`
}

// OptimizedProductFromMap converts a decoded JSON object into an OptimizedProduct.
func OptimizedProductFromMap(m map[string]any) *OptimizedProduct {
	if m == nil {
		return nil
	}
	return &OptimizedProduct{
		Description:            StringOf(m["optimized_description"]),
		KeyImprovements:        nonNil(StringsOf(m["key_improvements"])),
		ExpectedBenefits:       nonNil(StringsOf(m["expected_benefits"])),
		ImplementationPriority: StringOf(m["implementation_priority"]),
	}
}

// SimulationResult is one persona-reaction instance.
type SimulationResult struct {
	SimulationID          string            `json:"simulation_id"`
	PersonaID             string            `json:"persona_id"`
	UserType              string            `json:"user_type"`
	UsageFrequency        string            `json:"usage_frequency"`
	InitialImpression     string            `json:"initial_impression"`
	PerceivedNeeds        string            `json:"perceived_needs"`
	WouldTry              bool              `json:"would_try"`
	WouldBuy              bool              `json:"would_buy"`
	IsMustHave            bool              `json:"is_must_have"`
	WouldRecommend        bool              `json:"would_recommend"`
	DependencyLevel       string            `json:"dependency_level"`
	Alternatives          []string          `json:"alternatives"`
	BarrierToAdoption     string            `json:"barrier_to_adoption"`
	Feedback              string            `json:"feedback"`
	SuggestedImprovements string            `json:"suggested_improvements"`
	AdCopy                *AdCopy           `json:"ad_copy,omitempty"`
	OptimizedProduct      *OptimizedProduct `json:"optimized_product,omitempty"`
	SimulatedAt           string            `json:"simulated_at"`
	Error                 string            `json:"error,omitempty"`

	// Extra holds additional reaction fields the model produced.
	Extra map[string]any `json:"-"`
}

// HasError reports whether the result is an error or filler placeholder.
func (r SimulationResult) HasError() bool {
	return r.Error != ""
}

type simulationAlias SimulationResult

// MarshalJSON flattens Extra alongside the known fields.
func (r SimulationResult) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(simulationAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads known fields and keeps everything else in Extra.
func (r *SimulationResult) UnmarshalJSON(data []byte) error {
	var alias simulationAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range simulationKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		alias.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var decoded any
			if err := json.Unmarshal(v, &decoded); err != nil {
				return err
			}
			alias.Extra[k] = decoded
		}
	}
	*r = SimulationResult(alias)
	return nil
}

var simulationKeys = map[string]struct{}{
	"simulation_id": {}, "persona_id": {}, "user_type": {}, "usage_frequency": {},
	"initial_impression": {}, "perceived_needs": {}, "would_try": {}, "would_buy": {},
	"is_must_have": {}, "would_recommend": {}, "dependency_level": {}, "alternatives": {},
	"barrier_to_adoption": {}, "feedback": {}, "suggested_improvements": {}, "ad_copy": {},
	"optimized_product": {}, "simulated_at": {}, "error": {},
}

// IsSimulationKey reports whether key is one of SimulationResult's own fields.
func IsSimulationKey(key string) bool {
	_, ok := simulationKeys[key]
	return ok
}
