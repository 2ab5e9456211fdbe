package modelpool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// rawModel is the on-disk shape of one model. Legacy files carry a single
// api_url/api_key/headers triple instead of api_keys.
type rawModel struct {
	APIKeys            []Key             `json:"api_keys"`
	ModelName          string            `json:"model_name"`
	MaxTokens          int               `json:"max_tokens"`
	TemperatureDefault *float64          `json:"temperature_default"`
	APIStyle           string            `json:"api_style"`
	DisplayName        string            `json:"display_name"`
	Description        string            `json:"description"`
	APIURL             string            `json:"api_url"`
	APIKey             string            `json:"api_key"`
	Headers            map[string]string `json:"headers"`
}

var envRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${VAR} references in every string of a decoded JSON
// value. Unset variables expand to "".
func ExpandEnv(v any) any {
	switch t := v.(type) {
	case string:
		return envRe.ReplaceAllStringFunc(t, func(m string) string {
			return os.Getenv(m[2 : len(m)-1])
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ExpandEnv(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ExpandEnv(val)
		}
		return out
	default:
		return v
	}
}

// Load reads every provider directory under dir. Each *.json file maps model
// names to their config; the pool name is "provider/model". Directories
// starting with "__" are ignored.
func Load(dir string) (*Pool, error) {
	log := zap.L().With(zap.String("dir", dir))

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "modelpool: read dir %s", dir)
	}

	var entries []*Entry
	for _, de := range dirents {
		if !de.IsDir() || strings.HasPrefix(de.Name(), "__") {
			continue
		}
		provider := de.Name()
		files, err := filepath.Glob(filepath.Join(dir, provider, "*.json"))
		if err != nil {
			return nil, eris.Wrapf(err, "modelpool: glob %s", provider)
		}
		if len(files) == 0 {
			log.Warn("modelpool: provider has no config files", zap.String("provider", provider))
		}
		sort.Strings(files)
		for _, f := range files {
			loaded, err := loadFile(provider, f)
			if err != nil {
				log.Error("modelpool: skipping config file", zap.String("file", f), zap.Error(err))
				continue
			}
			entries = append(entries, loaded...)
		}
	}

	pool, err := NewPool(entries...)
	if err != nil {
		return nil, eris.Wrapf(err, "modelpool: load %s", dir)
	}
	log.Info("modelpool: loaded models", zap.Int("count", pool.Len()))
	return pool, nil
}

func loadFile(provider, path string) ([]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "modelpool: read file")
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, eris.Wrap(err, "modelpool: parse file")
	}
	expanded, err := json.Marshal(ExpandEnv(generic))
	if err != nil {
		return nil, eris.Wrap(err, "modelpool: re-encode file")
	}

	var models map[string]rawModel
	if err := json.Unmarshal(expanded, &models); err != nil {
		return nil, eris.Wrap(err, "modelpool: decode models")
	}

	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []*Entry
	for _, name := range names {
		e := buildEntry(provider, name, models[name])
		if len(e.Keys) == 0 {
			zap.L().Warn("modelpool: model has no active keys", zap.String("model", e.Name))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func buildEntry(provider, name string, rm rawModel) *Entry {
	e := &Entry{
		Name:               provider + "/" + name,
		Provider:           provider,
		ModelName:          rm.ModelName,
		Style:              rm.APIStyle,
		MaxTokens:          rm.MaxTokens,
		TemperatureDefault: DefaultTemperature,
		DisplayName:        rm.DisplayName,
		Description:        rm.Description,
	}
	if e.ModelName == "" {
		e.ModelName = name
	}
	if e.Style == "" {
		e.Style = StyleOpenAICompat
	}
	if e.MaxTokens <= 0 {
		e.MaxTokens = DefaultMaxTokens
	}
	if rm.TemperatureDefault != nil {
		e.TemperatureDefault = *rm.TemperatureDefault
	}

	if rm.APIKeys == nil {
		e.Keys = []Key{{
			URL:       rm.APIURL,
			Key:       rm.APIKey,
			Headers:   rm.Headers,
			Weight:    DefaultWeight,
			RateLimit: DefaultRateLimit,
			Status:    StatusActive,
		}}
		return e
	}

	for _, k := range rm.APIKeys {
		if k.Status == "" {
			k.Status = StatusActive
		}
		if k.Status != StatusActive {
			continue
		}
		if k.RateLimit <= 0 {
			k.RateLimit = DefaultRateLimit
		}
		if k.Weight <= 0 {
			k.Weight = DefaultWeight
		}
		e.Keys = append(e.Keys, k)
	}
	return e
}
