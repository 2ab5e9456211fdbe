// Package modelpool loads provider/model configurations and selects a
// rate-limited API key for each completion call.
package modelpool

import (
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// API styles understood by the completion service.
const (
	StyleOpenAICompat = "openai_compat"
	StyleOpenAI       = "openai"
	StyleAnthropic    = "anthropic"
)

// Defaults applied when a model config omits a field.
const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
	DefaultRateLimit   = 60
	DefaultWeight      = 1.0
	StatusActive       = "active"
)

// ErrNoAPIConfig is returned when no usable key exists for a model, either
// because the model is unknown or every key is rate limited.
var ErrNoAPIConfig = eris.New("modelpool: no api config available")

// Key is one API credential for a model.
type Key struct {
	URL       string            `json:"api_url"`
	Key       string            `json:"api_key"`
	Headers   map[string]string `json:"headers"`
	Weight    float64           `json:"weight"`
	RateLimit int               `json:"rate_limit"`
	Status    string            `json:"status"`
}

// Entry is one provider/model in the pool.
type Entry struct {
	// Name is the full pool name, "provider/model".
	Name     string
	Provider string
	// ModelName is the name sent to the endpoint.
	ModelName          string
	Style              string
	MaxTokens          int
	TemperatureDefault float64
	DisplayName        string
	Description        string
	Keys               []Key
}

// Type returns the part of the name after the provider prefix.
func (e *Entry) Type() string {
	return modelType(e.Name)
}

func modelType(name string) string {
	if _, after, ok := strings.Cut(name, "/"); ok {
		return after
	}
	return name
}

// Pool is the immutable set of loaded models.
type Pool struct {
	entries map[string]*Entry
	names   []string
}

// NewPool builds a pool from entries. It fails when entries is empty.
func NewPool(entries ...*Entry) (*Pool, error) {
	if len(entries) == 0 {
		return nil, eris.New("modelpool: no models loaded")
	}
	p := &Pool{entries: make(map[string]*Entry, len(entries))}
	for _, e := range entries {
		p.entries[e.Name] = e
		p.names = append(p.names, e.Name)
	}
	sort.Strings(p.names)
	return p, nil
}

// Names returns every model name in sorted order.
func (p *Pool) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of models.
func (p *Pool) Len() int { return len(p.names) }

// Entry looks up a model by full name.
func (p *Pool) Entry(name string) (*Entry, bool) {
	e, ok := p.entries[name]
	return e, ok
}

// Random returns a uniformly chosen model name.
func (p *Pool) Random() string {
	if len(p.names) == 0 {
		return ""
	}
	return p.names[rand.IntN(len(p.names))]
}

// PickLarge prefers reasoning-capable models for planning and synthesis
// calls, falling back to the first model by name.
func PickLarge(p *Pool) string {
	if p == nil || len(p.names) == 0 {
		return ""
	}
	for _, kw := range []string{"DeepSeek-R1", "DeepSeek-V3", "deepseek-reasoner", "deepseek-chat", "kimi-k2"} {
		kw = strings.ToLower(kw)
		for _, n := range p.names {
			if strings.Contains(strings.ToLower(n), kw) {
				return n
			}
		}
	}
	return p.names[0]
}

// ModelInfo is the public listing of one model.
type ModelInfo struct {
	Value              string  `json:"value"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	MaxTokens          int     `json:"max_tokens"`
	TemperatureDefault float64 `json:"temperature_default"`
	Keys               int     `json:"-"`
}

var knownModels = []struct {
	match, name, desc string
}{
	{"DeepSeek-V3", "DeepSeek V3", "High-performance model for complex analysis"},
	{"DeepSeek-R1", "DeepSeek R1", "Reinforcement-learned model with strong logical reasoning"},
	{"deepseek-chat", "DeepSeek Chat", "Multi-turn chat model with a smooth interaction style"},
	{"deepseek-reasoner", "DeepSeek Reasoner", "Reasoning model suited to deep thinking"},
	{"kimi-k2-turbo", "Kimi K2 Turbo", "Fast responses with strong long-context handling"},
}

func describe(e *Entry) (string, string) {
	name, desc := e.DisplayName, e.Description
	if name != "" && desc != "" {
		return name, desc
	}
	dn, dd := e.Name[strings.LastIndex(e.Name, "/")+1:], "General-purpose AI model"
	for _, k := range knownModels {
		if strings.Contains(strings.ToLower(e.Name), strings.ToLower(k.match)) {
			dn, dd = k.name, k.desc
			break
		}
	}
	if name == "" {
		name = dn
	}
	if desc == "" {
		desc = dd
	}
	return name, desc
}

// ActiveModels lists every model that has at least one active key.
func (p *Pool) ActiveModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(p.names))
	for _, n := range p.names {
		e := p.entries[n]
		if len(e.Keys) == 0 {
			continue
		}
		name, desc := describe(e)
		out = append(out, ModelInfo{
			Value:              e.Name,
			Name:               name,
			Description:        desc,
			MaxTokens:          e.MaxTokens,
			TemperatureDefault: e.TemperatureDefault,
			Keys:               len(e.Keys),
		})
	}
	return out
}

// MaskKey hides all but the first and last four characters of an API key.
func MaskKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return k[:4] + strings.Repeat("*", len(k)-8) + k[len(k)-4:]
}
