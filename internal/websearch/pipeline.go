// Package websearch decides whether a request needs external evidence, runs
// the searches and renders the results for prompts and reports.
package websearch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/jsonx"
	"github.com/sells-group/persona-sim/internal/metrics"
	"github.com/sells-group/persona-sim/internal/prompts"
	"github.com/sells-group/persona-sim/pkg/bocha"
)

// Defaults for search execution and rendering.
const (
	DefaultMaxQueries    = 3
	DefaultCount         = 5
	DefaultFreshness     = "noLimit"
	EvidenceMaxDocs      = 8
	SynthesisMaxDocs     = 10
	maxIntentChars       = 6000
	maxConcurrentQueries = 3
)

// ReasonPlannerParseError is the reason returned when the planner reply
// cannot be used.
const ReasonPlannerParseError = "planner_parse_error"

// Pipeline runs the planner, search and synthesis steps.
type Pipeline struct {
	completer  completion.Completer
	search     bocha.Client
	prompts    *prompts.Set
	largeModel string
	count      int
	freshness  string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPrompts overrides the planner and synthesis prompts.
func WithPrompts(p *prompts.Set) Option {
	return func(pl *Pipeline) { pl.prompts = p }
}

// WithLargeModel sets the pool model used for planning and synthesis. Empty
// lets the completion service pick at random.
func WithLargeModel(name string) Option {
	return func(pl *Pipeline) { pl.largeModel = name }
}

// WithCount sets the number of results requested per query.
func WithCount(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.count = n
		}
	}
}

// WithFreshness sets the provider freshness filter.
func WithFreshness(f string) Option {
	return func(pl *Pipeline) {
		if f != "" {
			pl.freshness = f
		}
	}
}

// New creates a Pipeline.
func New(completer completion.Completer, search bocha.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		completer: completer,
		search:    search,
		prompts:   prompts.Default(),
		count:     DefaultCount,
		freshness: DefaultFreshness,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Decide asks the planner whether to search and which queries to run. It
// never fails: planner errors yield (false, nil, "planner_parse_error").
func (p *Pipeline) Decide(ctx context.Context, intent string, maxQueries int) (bool, []string, string) {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}

	intent = strings.TrimSpace(intent)
	if r := []rune(intent); len(r) > maxIntentChars {
		intent = string(r[:maxIntentChars])
	}

	system := fmt.Sprintf("%s\nConstraints: queries length <= %d. Queries must be concrete and searchable.",
		p.prompts.WebSearchPlanner, maxQueries)

	raw, err := p.completer.Complete(ctx, completion.Request{
		Messages:    []completion.Message{completion.System(system), completion.User(intent)},
		JSON:        true,
		Temperature: 0.2,
		Model:       p.largeModel,
	})
	if err != nil {
		zap.L().Warn("websearch: planner call failed", zap.Error(err))
		return false, nil, ReasonPlannerParseError
	}

	obj, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Warn("websearch: planner reply is not json", zap.Error(err))
		return false, nil, ReasonPlannerParseError
	}

	should := truthy(obj["should_search"])

	var queries []string
	if list, ok := obj["queries"].([]any); ok {
		for _, q := range list {
			s := strings.TrimSpace(stringify(q))
			if s == "" {
				continue
			}
			queries = append(queries, s)
			if len(queries) == maxQueries {
				break
			}
		}
	}

	reason := ""
	if truthy(obj["reason"]) {
		reason = strings.TrimSpace(stringify(obj["reason"]))
	}

	return should && len(queries) > 0, queries, reason
}

// Run executes every query and returns a session whose runs are in query
// order. A failing query contributes an empty run.
func (p *Pipeline) Run(ctx context.Context, queries []string) *Session {
	runs := make([]QueryRun, len(queries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)

	for i, q := range queries {
		g.Go(func() error {
			raw, err := p.search.Search(gCtx, bocha.Request{
				Query:     q,
				Count:     p.count,
				Freshness: p.freshness,
				Summary:   true,
			})
			if err != nil {
				metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
				zap.L().Warn("websearch: query failed", zap.String("query", q), zap.Error(err))
				runs[i] = QueryRun{Query: q, Summary: HeuristicSummary(nil)}
				return nil
			}

			docs := Normalize(raw)
			outcome := "ok"
			if len(docs) == 0 {
				outcome = "empty"
			}
			metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
			zap.L().Debug("websearch: query done", zap.String("query", q), zap.Int("docs", len(docs)))

			runs[i] = QueryRun{Query: q, Docs: docs, Summary: HeuristicSummary(docs)}
			return nil
		})
	}
	_ = g.Wait()

	return &Session{Runs: runs}
}

// Synthesize produces one cross-document summary citing documents by their
// ordinal. A session without documents returns "".
func (p *Pipeline) Synthesize(ctx context.Context, s *Session, maxDocs int) (string, error) {
	if maxDocs <= 0 {
		maxDocs = SynthesisMaxDocs
	}
	docs := s.AllDocs()
	if len(docs) > maxDocs {
		docs = docs[:maxDocs]
	}
	if len(docs) == 0 {
		return "", nil
	}

	payload := make([]string, len(docs))
	for i, d := range docs {
		payload[i] = strings.TrimSpace(fmt.Sprintf("[%d] Title: %s\nURL: %s\nSnippet: %s", i+1, d.Title, d.URL, d.Snippet))
	}

	text, err := p.completer.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			completion.System(p.prompts.WebSynthesis),
			completion.User(strings.Join(payload, "\n\n")),
		},
		Temperature: 0.2,
		Model:       p.largeModel,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// truthy mirrors JSON truthiness: false, 0, "", null and empty containers
// are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
