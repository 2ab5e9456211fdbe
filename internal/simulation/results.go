package simulation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/persona-sim/internal/model"
)

// Placeholder text for error and filler results.
const (
	SimulationErrorText = "simulation error"
	UndeterminedText    = "undetermined"
	FillerText          = "auto-filled simulation result"
	NoSuggestionsText   = "no suggestions provided"
)

// finalVersionKey holds a corrected copy of the reaction that some models
// append next to their first answer.
const finalVersionKey = "_final_corrected_version_for_production"

// ShortID returns the first n characters of a random UUID.
func ShortID(n int) string {
	return uuid.NewString()[:n]
}

// CleanPersona drops blank key_needs and usage_scenarios entries and fills
// empty lists with the unknown placeholders.
func CleanPersona(p model.Persona) model.Persona {
	p.KeyNeeds = nonBlank(p.KeyNeeds, model.UnknownNeed)
	p.UsageScenarios = nonBlank(p.UsageScenarios, model.UnknownScenario)
	return p
}

func nonBlank(in []string, fallback string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

// Normalize turns a merged stage output into a SimulationResult. Metadata
// keys starting with "_" are removed after merging a corrected final version
// over the result, missing fields get defaults, boolean-like values are
// coerced, and user_type/usage_frequency come from the persona.
func Normalize(raw map[string]any, p model.Persona, personaID, instance string, index int, now time.Time) model.SimulationResult {
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		m[k] = v
	}
	if final, ok := m[finalVersionKey].(map[string]any); ok {
		for k, v := range final {
			m[k] = v
		}
	}
	for k := range m {
		if strings.HasPrefix(k, "_") {
			delete(m, k)
		}
	}

	if instance == "" {
		instance = ShortID(6)
	}

	r := model.SimulationResult{
		SimulationID:          fmt.Sprintf("%s_%s_sim_%d", personaID, instance, index),
		PersonaID:             personaID,
		UserType:              enumOr(p.UserType, model.ValidUserType, string(model.UserTypeUnknown)),
		UsageFrequency:        enumOr(p.UsageFrequency, model.ValidUsageFrequency, string(model.FrequencyUnknown)),
		InitialImpression:     textOr(m, "initial_impression", model.NotProvided),
		PerceivedNeeds:        textOr(m, "perceived_needs", model.NotProvided),
		WouldTry:              truthy(m["would_try"]),
		WouldBuy:              truthy(m["would_buy"]),
		IsMustHave:            truthy(m["is_must_have"]),
		WouldRecommend:        truthy(m["would_recommend"]),
		DependencyLevel:       enumOr(textOr(m, "dependency_level", ""), model.ValidDependencyLevel, string(model.DependencyIndifferent)),
		Alternatives:          alternatives(m["alternatives"]),
		BarrierToAdoption:     textOr(m, "barrier_to_adoption", model.NotProvided),
		Feedback:              textOr(m, "feedback", model.NotProvided),
		SuggestedImprovements: textOr(m, "suggested_improvements", NoSuggestionsText),
		SimulatedAt:           now.Format(model.TimeLayout),
	}
	if ad, ok := m["ad_copy"].(map[string]any); ok {
		r.AdCopy = model.AdCopyFromMap(ad)
	}
	if op, ok := m["optimized_product"].(map[string]any); ok {
		r.OptimizedProduct = model.OptimizedProductFromMap(op)
	}

	for k, v := range m {
		if model.IsSimulationKey(k) {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}
	return r
}

// ErrorResult is the placeholder for an instance that failed. index 0 marks
// a result that is not tied to one instance. An empty instance gets a random
// six-character tag.
func ErrorResult(p model.Persona, personaID, msg, detail string, index int, instance string, now time.Time) model.SimulationResult {
	if instance == "" {
		instance = ShortID(6)
	}
	id := fmt.Sprintf("%s_%s_error", personaID, instance)
	if index > 0 {
		id = fmt.Sprintf("%s_%s_sim_%d_error", personaID, instance, index)
	}
	return model.SimulationResult{
		SimulationID:          id,
		PersonaID:             personaID,
		UserType:              orUnknown(p.UserType),
		UsageFrequency:        orUnknown(p.UsageFrequency),
		InitialImpression:     SimulationErrorText,
		PerceivedNeeds:        SimulationErrorText,
		DependencyLevel:       string(model.DependencyIndifferent),
		Alternatives:          []string{UndeterminedText},
		BarrierToAdoption:     SimulationErrorText,
		Feedback:              msg,
		SuggestedImprovements: "no suggestions available because the simulation failed",
		SimulatedAt:           now.Format(model.TimeLayout),
		Error:                 detail,
	}
}

// FillerResult backfills a batch that came back short. i is 1-based.
func FillerResult(p model.Persona, personaID, instance string, i int, now time.Time) model.SimulationResult {
	if instance == "" {
		instance = ShortID(6)
	}
	const note = "This is an auto-filled simulation result that keeps the expected simulation count"
	return model.SimulationResult{
		SimulationID:          fmt.Sprintf("%s_%s_sim_filler_%d", personaID, instance, i),
		PersonaID:             personaID,
		UserType:              orUnknown(p.UserType),
		UsageFrequency:        orUnknown(p.UsageFrequency),
		InitialImpression:     FillerText,
		PerceivedNeeds:        UndeterminedText,
		DependencyLevel:       string(model.DependencyIndifferent),
		Alternatives:          []string{UndeterminedText},
		BarrierToAdoption:     FillerText,
		Feedback:              note,
		SuggestedImprovements: note,
		SimulatedAt:           now.Format(model.TimeLayout),
		Error:                 "not enough simulation results, auto-filled",
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func enumOr(v string, valid func(string) bool, def string) string {
	if valid(v) {
		return v
	}
	return def
}

// textOr returns the field as text. Non-string values are rendered as JSON.
func textOr(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return def
	}
	return string(b)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return false
	}
}

func alternatives(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	case []string:
		return t
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{}
	}
}
