// Package completion issues chat completion calls against the model pool.
// Each call selects a model and a rate-limited key, then dispatches to the
// provider strategy registered for the entry's API style.
package completion

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/jsonx"
	"github.com/sells-group/persona-sim/internal/metrics"
	"github.com/sells-group/persona-sim/internal/modelpool"
	"github.com/sells-group/persona-sim/internal/resilience"
)

// ErrFormat marks a model response that did not honor the JSON contract.
var ErrFormat = eris.New("completion: response is not valid json")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build messages for the given role.
func System(content string) Message    { return Message{Role: "system", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// Request is one completion call.
type Request struct {
	Messages []Message
	// JSON asks for a JSON object response and strips any code fence from
	// the returned text.
	JSON bool
	// Temperature of zero uses the model's temperature_default.
	Temperature float64
	// Model is the pool name. Empty picks a pool model at random.
	Model string
}

// Chunk is one item of a streamed response. A stream ends with a Done chunk.
type Chunk struct {
	Content string         `json:"content,omitempty"`
	Error   string         `json:"error,omitempty"`
	Done    bool           `json:"done,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Completer performs blocking completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Streamer performs streaming completions.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Service implements Completer and Streamer over a model pool.
type Service struct {
	selector  *modelpool.Selector
	providers map[string]Provider
	breakers  *resilience.Breakers
	timeout   time.Duration
	maxTokens int
}

// Option configures the Service.
type Option func(*Service)

// WithProvider registers (or replaces) the strategy for an API style.
func WithProvider(style string, p Provider) Option {
	return func(s *Service) {
		s.providers[style] = p
	}
}

// WithTimeout bounds each blocking call. Default: 600s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxTokens sets the max_tokens used when an entry has none.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithBreakerConfig sets the per-model circuit breaker policy.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) {
		s.breakers = newBreakers(cfg)
	}
}

// NewService creates a completion service with the default provider table.
func NewService(selector *modelpool.Selector, opts ...Option) *Service {
	s := &Service{
		selector:  selector,
		providers: DefaultProviders(),
		breakers:  newBreakers(resilience.DefaultCircuitBreakerConfig()),
		timeout:   600 * time.Second,
		maxTokens: modelpool.DefaultMaxTokens,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newBreakers(cfg resilience.CircuitBreakerConfig) *resilience.Breakers {
	cfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		metrics.BreakerTransitionsTotal.WithLabelValues(name, to.String()).Inc()
		zap.L().Warn("completion: circuit breaker transition",
			zap.String("model", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return resilience.NewBreakers(cfg)
}

// Pool returns the model pool behind the service.
func (s *Service) Pool() *modelpool.Pool { return s.selector.Pool() }

// Breakers returns the per-model breaker set.
func (s *Service) Breakers() *resilience.Breakers { return s.breakers }

type prepared struct {
	cfg      *modelpool.APIConfig
	provider Provider
	req      ProviderRequest
}

func (s *Service) prepare(ctx context.Context, req Request) (*prepared, error) {
	model := req.Model
	if model == "" {
		model = s.selector.Pool().Random()
	}

	cfg, err := s.selector.Select(ctx, model)
	if err != nil {
		return nil, err
	}

	p, ok := s.providers[cfg.Style]
	if !ok {
		return nil, eris.Errorf("completion: unsupported api style %q for %s", cfg.Style, cfg.PoolName)
	}

	temp := req.Temperature
	if temp <= 0 {
		temp = modelpool.DefaultTemperature
		if e, ok := s.selector.Pool().Entry(cfg.PoolName); ok && e.TemperatureDefault > 0 {
			temp = e.TemperatureDefault
		}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	return &prepared{
		cfg:      cfg,
		provider: p,
		req: ProviderRequest{
			Model:       cfg.Model,
			Messages:    req.Messages,
			MaxTokens:   maxTokens,
			Temperature: temp,
			JSON:        req.JSON,
		},
	}, nil
}

// Complete performs one blocking completion and returns the response text.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	started := time.Now()

	p, err := s.prepare(ctx, req)
	if err != nil {
		metrics.ObserveCompletion(req.Model, "blocking", resilience.Classify(err), started)
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := resilience.ExecuteVal(ctx, s.breakers.Get(p.cfg.PoolName), func(ctx context.Context) (string, error) {
		return p.provider.Complete(ctx, p.cfg, p.req)
	})
	metrics.ObserveCompletion(p.cfg.PoolName, "blocking", resilience.Classify(err), started)
	if err != nil {
		return "", eris.Wrapf(err, "completion: %s", p.cfg.PoolName)
	}

	if req.JSON {
		text = jsonx.StripFence(text)
	}
	return text, nil
}

// Stream performs one streaming completion. Setup failures (no key, open
// circuit, non-200 status) are returned directly; failures after the stream
// starts arrive as an Error chunk followed by Done.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	started := time.Now()

	p, err := s.prepare(ctx, req)
	if err != nil {
		metrics.ObserveCompletion(req.Model, "stream", resilience.Classify(err), started)
		return nil, err
	}

	cb := s.breakers.Get(p.cfg.PoolName)
	if err := cb.Allow(); err != nil {
		metrics.ObserveCompletion(p.cfg.PoolName, "stream", resilience.Classify(err), started)
		return nil, err
	}

	upstream, err := p.provider.Stream(ctx, p.cfg, p.req)
	if err != nil {
		cb.Record(err)
		metrics.ObserveCompletion(p.cfg.PoolName, "stream", resilience.Classify(err), started)
		return nil, eris.Wrapf(err, "completion: %s", p.cfg.PoolName)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		var streamErr error
		for c := range upstream {
			if c.Error != "" && streamErr == nil {
				streamErr = eris.New(c.Error)
			}
			select {
			case out <- c:
			case <-ctx.Done():
				streamErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}
		cb.Record(streamErr)
		metrics.ObserveCompletion(p.cfg.PoolName, "stream", resilience.Classify(streamErr), started)
	}()
	return out, nil
}
