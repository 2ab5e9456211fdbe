package model

import (
	"encoding/json"
	"strings"
)

// TimeLayout is the timestamp format used for generated_at and simulated_at.
const TimeLayout = "2006-01-02 15:04:05"

// UserType classifies how central a persona is to the product's audience.
type UserType string

const (
	UserTypeCore      UserType = "core"
	UserTypeMarginal  UserType = "marginal"
	UserTypePotential UserType = "potential"
	UserTypeNonTarget UserType = "non-target"
	UserTypeUnknown   UserType = "unknown"
)

// UserTypes lists every valid user type in display order.
var UserTypes = []UserType{UserTypeCore, UserTypeMarginal, UserTypePotential, UserTypeNonTarget, UserTypeUnknown}

// UsageFrequency describes how often a persona would use the product.
type UsageFrequency string

const (
	FrequencyMultipleDaily   UsageFrequency = "multiple_daily"
	FrequencyDaily           UsageFrequency = "daily"
	FrequencyMultipleWeekly  UsageFrequency = "multiple_weekly"
	FrequencyWeekly          UsageFrequency = "weekly"
	FrequencyMultipleMonthly UsageFrequency = "multiple_monthly"
	FrequencyMonthly         UsageFrequency = "monthly"
	FrequencyOccasionally    UsageFrequency = "occasionally"
	FrequencyRarely          UsageFrequency = "rarely"
	FrequencyUnknown         UsageFrequency = "unknown"
)

// UsageFrequencies lists every valid usage frequency from most to least frequent.
var UsageFrequencies = []UsageFrequency{
	FrequencyMultipleDaily, FrequencyDaily, FrequencyMultipleWeekly, FrequencyWeekly,
	FrequencyMultipleMonthly, FrequencyMonthly, FrequencyOccasionally, FrequencyRarely,
	FrequencyUnknown,
}

// ValidUserType reports whether s is one of the known user types.
func ValidUserType(s string) bool {
	for _, u := range UserTypes {
		if string(u) == s {
			return true
		}
	}
	return false
}

// ValidUsageFrequency reports whether s is one of the known usage frequencies.
func ValidUsageFrequency(s string) bool {
	for _, f := range UsageFrequencies {
		if string(f) == s {
			return true
		}
	}
	return false
}

// Placeholder values used when the model omits a field or a stage fails.
const (
	UnknownNeed     = "unknown need"
	UnknownScenario = "unknown scenario"
	UnknownLocation = "unknown region"
	NotProvided     = "not provided"
)

// Persona is a synthetic user profile for one segment of a product's audience.
type Persona struct {
	ID             string   `json:"persona_id"`
	Description    string   `json:"persona_description"`
	KeyNeeds       []string `json:"key_needs"`
	UsageScenarios []string `json:"usage_scenarios"`
	UserType       string   `json:"user_type"`
	UsageFrequency string   `json:"usage_frequency"`
	Location       string   `json:"location"`
	WouldRecommend bool     `json:"would_recommend"`
	GeneratedAt    string   `json:"generated_at"`
	Error          string   `json:"error,omitempty"`

	// Extra holds any additional attributes the model produced (age,
	// occupation, income, ...). They round-trip through JSON unchanged.
	Extra map[string]any `json:"-"`
}

var personaKeys = map[string]struct{}{
	"persona_id": {}, "persona_description": {}, "key_needs": {}, "usage_scenarios": {},
	"user_type": {}, "usage_frequency": {}, "location": {}, "would_recommend": {},
	"generated_at": {}, "error": {},
}

// IsErrorStub reports whether the persona is a placeholder for a failed batch.
func (p Persona) IsErrorStub() bool {
	return strings.HasPrefix(p.ID, "error_stub_")
}

// ToMap renders the persona as a generic JSON object including extra fields.
func (p Persona) ToMap() map[string]any {
	m := make(map[string]any, len(p.Extra)+10)
	for k, v := range p.Extra {
		m[k] = v
	}
	m["persona_id"] = p.ID
	m["persona_description"] = p.Description
	m["key_needs"] = nonNil(p.KeyNeeds)
	m["usage_scenarios"] = nonNil(p.UsageScenarios)
	m["user_type"] = p.UserType
	m["usage_frequency"] = p.UsageFrequency
	m["location"] = p.Location
	m["would_recommend"] = p.WouldRecommend
	m["generated_at"] = p.GeneratedAt
	if p.Error != "" {
		m["error"] = p.Error
	}
	return m
}

// MarshalJSON flattens Extra alongside the known fields.
func (p Persona) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToMap())
}

// UnmarshalJSON reads known fields and keeps everything else in Extra.
func (p *Persona) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PersonaFromMap(raw)
	return nil
}

// PersonaFromMap converts a decoded JSON object into a Persona. Fields of the
// wrong type are left at their zero value.
func PersonaFromMap(m map[string]any) Persona {
	p := Persona{
		ID:             StringOf(m["persona_id"]),
		Description:    StringOf(m["persona_description"]),
		KeyNeeds:       StringsOf(m["key_needs"]),
		UsageScenarios: StringsOf(m["usage_scenarios"]),
		UserType:       StringOf(m["user_type"]),
		UsageFrequency: StringOf(m["usage_frequency"]),
		Location:       StringOf(m["location"]),
		GeneratedAt:    StringOf(m["generated_at"]),
		Error:          StringOf(m["error"]),
	}
	if b, ok := m["would_recommend"].(bool); ok {
		p.WouldRecommend = b
	}
	for k, v := range m {
		if _, known := personaKeys[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return p
}

// StringOf returns v if it is a string, otherwise "".
func StringOf(v any) string {
	s, _ := v.(string)
	return s
}

// StringsOf returns the string elements of a JSON array, skipping non-strings.
func StringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
