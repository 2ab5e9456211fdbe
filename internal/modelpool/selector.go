package modelpool

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/metrics"
)

// APIConfig is the endpoint and credential chosen for one call.
type APIConfig struct {
	// PoolName is the pool entry actually used, after any off-peak override.
	PoolName  string
	URL       string
	Key       string
	Headers   map[string]string
	Model     string
	Style     string
	MaxTokens int
}

// OffPeak describes the daily local-time window during which requests for
// deepseek-family models are routed to the first-party deepseek provider.
// Start and End are minutes after midnight; both ends are inclusive.
type OffPeak struct {
	Enabled bool
	Start   int
	End     int
}

// ParseOffPeak builds an OffPeak from "HH:MM" strings.
func ParseOffPeak(enabled bool, start, end string) (OffPeak, error) {
	s, err := parseClock(start)
	if err != nil {
		return OffPeak{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return OffPeak{}, err
	}
	return OffPeak{Enabled: enabled, Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, eris.Wrapf(err, "modelpool: invalid clock %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t falls in the window at minute granularity.
func (o OffPeak) Contains(t time.Time) bool {
	if !o.Enabled {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if o.Start <= o.End {
		return m >= o.Start && m <= o.End
	}
	return m >= o.Start || m <= o.End
}

// DefaultOffPeak is 00:30 to 08:30 local time.
var DefaultOffPeak = OffPeak{Enabled: true, Start: 30, End: 8*60 + 30}

// Selector picks an API key for a model, honoring per-key rate limits.
type Selector struct {
	pool    *Pool
	limiter RateLimiter
	offPeak OffPeak
	now     func() time.Time
	rng     *rand.Rand
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithOffPeak sets the off-peak window.
func WithOffPeak(o OffPeak) SelectorOption {
	return func(s *Selector) { s.offPeak = o }
}

// WithClock sets the clock used for the off-peak check.
func WithClock(now func() time.Time) SelectorOption {
	return func(s *Selector) { s.now = now }
}

// WithRand sets the random source used for weighted picks. The source is
// not synchronized, so it is meant for single-goroutine tests.
func WithRand(r *rand.Rand) SelectorOption {
	return func(s *Selector) { s.rng = r }
}

// NewSelector creates a selector over pool.
func NewSelector(pool *Pool, limiter RateLimiter, opts ...SelectorOption) *Selector {
	s := &Selector{
		pool:    pool,
		limiter: limiter,
		offPeak: DefaultOffPeak,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Pool returns the underlying model pool.
func (s *Selector) Pool() *Pool { return s.pool }

// Resolve applies the off-peak override to a requested model name.
func (s *Selector) Resolve(name string) string {
	if !s.offPeak.Contains(s.now()) || !strings.Contains(strings.ToLower(modelType(name)), "deepseek") {
		return name
	}
	for _, candidate := range s.pool.names {
		if !strings.HasPrefix(candidate, "deepseek/") {
			continue
		}
		if strings.Contains(strings.ToLower(modelType(candidate)), "deepseek") {
			if candidate != name {
				zap.L().Debug("modelpool: off-peak override",
					zap.String("requested", name), zap.String("using", candidate))
			}
			return candidate
		}
	}
	return name
}

// Select returns an APIConfig for model. A key at its rate limit is excluded
// and the weighted pick repeats over the remaining keys; ErrNoAPIConfig is
// returned when the model is unknown or every key is exhausted.
func (s *Selector) Select(ctx context.Context, model string) (*APIConfig, error) {
	name := s.Resolve(model)
	entry, ok := s.pool.Entry(name)
	if !ok {
		metrics.KeySelectionsTotal.WithLabelValues(name, "unknown_model").Inc()
		return nil, eris.Wrapf(ErrNoAPIConfig, "model %q not in pool", name)
	}

	remaining := make([]Key, len(entry.Keys))
	copy(remaining, entry.Keys)

	for len(remaining) > 0 {
		idx := s.weightedIndex(remaining)
		key := remaining[idx]

		ok, err := s.limiter.Acquire(ctx, KeyID(name, key.Key), key.RateLimit)
		if err != nil {
			return nil, eris.Wrapf(err, "modelpool: acquire %s", name)
		}
		if ok {
			metrics.KeySelectionsTotal.WithLabelValues(name, "admitted").Inc()
			return &APIConfig{
				PoolName:  name,
				URL:       key.URL,
				Key:       key.Key,
				Headers:   key.Headers,
				Model:     entry.ModelName,
				Style:     entry.Style,
				MaxTokens: entry.MaxTokens,
			}, nil
		}

		metrics.KeySelectionsTotal.WithLabelValues(name, "rate_limited").Inc()
		zap.L().Warn("modelpool: key at rate limit, trying another",
			zap.String("model", name), zap.String("key", MaskKey(key.Key)))
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	return nil, eris.Wrapf(ErrNoAPIConfig, "all keys for %q are rate limited", name)
}

func (s *Selector) weightedIndex(keys []Key) int {
	total := 0.0
	for _, k := range keys {
		total += weight(k)
	}
	var r float64
	if s.rng != nil {
		r = s.rng.Float64() * total
	} else {
		r = rand.Float64() * total
	}
	for i, k := range keys {
		r -= weight(k)
		if r < 0 {
			return i
		}
	}
	return len(keys) - 1
}

func weight(k Key) float64 {
	if k.Weight <= 0 {
		return 1
	}
	return k.Weight
}
