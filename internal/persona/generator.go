// Package persona generates synthetic user personas for a product through a
// draft, review and refine loop against the completion service.
package persona

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/jsonx"
	"github.com/sells-group/persona-sim/internal/metrics"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/prompts"
	"github.com/sells-group/persona-sim/internal/resilience"
)

// Defaults for the generation loop.
const (
	PersonasPerCall     = 2
	StageAttempts       = 3
	BatchesPerSlot      = 3
	ReviewerTemperature = 0.8
	contextSampleSize   = 10
)

// Temperatures are the sampling temperatures a batch picks from.
var Temperatures = []float64{0.8, 0.85, 0.9, 0.95}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ProgressFunc receives the number of personas kept so far and the target.
type ProgressFunc func(completed, total int)

// Generator runs the persona loop.
type Generator struct {
	completer    completion.Completer
	prompts      *prompts.Set
	retry        resilience.RetryConfig
	personaDelay time.Duration
	batchDelay   time.Duration
	sleep        SleepFunc
	now          func() time.Time
	rng          *rand.Rand
	onProgress   ProgressFunc
}

// Option configures a Generator.
type Option func(*Generator)

// WithPrompts overrides the prompt set.
func WithPrompts(p *prompts.Set) Option {
	return func(g *Generator) { g.prompts = p }
}

// WithStagePolicy sets the attempts per stage and the delay between them.
func WithStagePolicy(attempts int, d time.Duration) Option {
	return func(g *Generator) {
		if attempts <= 0 {
			attempts = StageAttempts
		}
		g.retry = resilience.FixedBackoff(attempts, d)
	}
}

// WithThrottle sets the pauses after each persona and after each batch.
func WithThrottle(perPersona, perBatch time.Duration) Option {
	return func(g *Generator) {
		g.personaDelay = perPersona
		g.batchDelay = perBatch
	}
}

// WithSleep replaces the sleep used for throttling.
func WithSleep(fn SleepFunc) Option {
	return func(g *Generator) { g.sleep = fn }
}

// WithClock sets the clock used for generated_at.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRand sets the random source for temperatures and context sampling.
// The source is not synchronized.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = r }
}

// WithProgress registers a callback invoked at the start of each batch.
func WithProgress(fn ProgressFunc) Option {
	return func(g *Generator) { g.onProgress = fn }
}

// New creates a Generator.
func New(c completion.Completer, opts ...Option) *Generator {
	g := &Generator{
		completer:    c,
		prompts:      prompts.Default(),
		retry:        resilience.FixedBackoff(StageAttempts, time.Second),
		personaDelay: 2 * time.Second,
		batchDelay:   time.Second,
		sleep:        sleepCtx,
		now:          time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MaxBatches is the number of batches Generate runs before giving up on
// the remaining personas: BatchesPerSlot for every PersonasPerCall requested.
func MaxBatches(target int) int {
	return (target + PersonasPerCall - 1) / PersonasPerCall * BatchesPerSlot
}

// Generate produces target personas for productDesc. Batches whose draft
// stage fails every attempt contribute error stubs, which count toward the
// target. Slots still empty after MaxBatches batches are filled with error
// stubs as well. The only error returned is the context's.
func (g *Generator) Generate(ctx context.Context, productDesc string, target int) ([]model.Persona, error) {
	var (
		personas []model.Persona
		counter  = 1
		limit    = MaxBatches(target)
		batches  int
	)

	for len(personas) < target {
		if batches == limit {
			missing := target - len(personas)
			zap.L().Warn("persona: batch limit reached, adding error stubs",
				zap.Int("batches", batches), zap.Int("stubs", missing))
			cause := eris.Errorf("persona: no valid persona within %d batches", batches)
			for range missing {
				personas = append(personas, g.errorStub(counter, cause))
				counter++
			}
			metrics.PersonasGeneratedTotal.WithLabelValues("stub").Add(float64(missing))
			break
		}
		batches++

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.onProgress != nil {
			g.onProgress(len(personas), target)
		}

		temp := Temperatures[g.intN(len(Temperatures))]
		existing := g.existingContext(personas)

		drafts, err := g.draft(ctx, productDesc, existing, temp)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Warn("persona: draft failed, adding error stubs",
				zap.Int("stubs", PersonasPerCall), zap.Error(err))
			for range PersonasPerCall {
				personas = append(personas, g.errorStub(counter, err))
				counter++
			}
			metrics.PersonasGeneratedTotal.WithLabelValues("stub").Add(PersonasPerCall)
			continue
		}

		for _, d := range drafts {
			questions := g.review(ctx, productDesc, d)
			refined := g.refine(ctx, productDesc, d, questions, temp)

			if isValid(refined) {
				refined["persona_id"] = fmt.Sprintf("persona_%d", counter)
				refined["generated_at"] = g.now().Format(model.TimeLayout)
				counter++
				personas = append(personas, model.PersonaFromMap(refined))
				metrics.PersonasGeneratedTotal.WithLabelValues("valid").Inc()
			} else {
				zap.L().Warn("persona: dropping invalid persona",
					zap.String("description", model.StringOf(refined["persona_description"])))
				metrics.PersonasGeneratedTotal.WithLabelValues("rejected").Inc()
			}

			if err := g.sleep(ctx, g.personaDelay); err != nil {
				return nil, err
			}
		}

		if err := g.sleep(ctx, g.batchDelay); err != nil {
			return nil, err
		}
	}

	if len(personas) > target {
		personas = personas[:target]
	}
	return personas, nil
}

func (g *Generator) draft(ctx context.Context, productDesc, existing string, temp float64) ([]map[string]any, error) {
	user := strings.TrimSpace(fmt.Sprintf(
		"Product description: %s\n%s\n\nPlease generate %d personas, making sure they do not duplicate the existing ones above and strictly follow the required format.",
		productDesc, existing, PersonasPerCall))

	return resilience.DoVal(ctx, g.retry.WithLogger("persona", "draft"), func(ctx context.Context) ([]map[string]any, error) {
		raw, err := g.completer.Complete(ctx, completion.Request{
			Messages:    []completion.Message{completion.System(g.prompts.Persona), completion.User(user)},
			JSON:        true,
			Temperature: temp,
		})
		if err != nil {
			return nil, err
		}
		arr, err := jsonx.Array(raw)
		if err != nil {
			return nil, eris.Wrap(completion.ErrFormat, "persona: parse draft")
		}
		drafts := jsonx.Objects(arr)
		if len(drafts) == 0 {
			return nil, eris.Wrap(completion.ErrFormat, "persona: draft returned no personas")
		}
		return drafts, nil
	})
}

func (g *Generator) review(ctx context.Context, productDesc string, p map[string]any) []prompts.Question {
	user := fmt.Sprintf(
		"Please review the following persona and ask the 3-5 most important questions to improve it:\n\nProduct description:\n%s\n\nPersona:\n%s",
		productDesc, jsonx.Pretty(p))

	qs, err := resilience.DoVal(ctx, g.retry.WithLogger("persona", "review"), func(ctx context.Context) ([]prompts.Question, error) {
		raw, err := g.completer.Complete(ctx, completion.Request{
			Messages:    []completion.Message{completion.System(g.prompts.PersonaReviewer), completion.User(user)},
			JSON:        true,
			Temperature: ReviewerTemperature,
		})
		if err != nil {
			return nil, err
		}
		obj, err := jsonx.Object(raw)
		if err != nil {
			return nil, eris.Wrap(err, "persona: parse reviewer questions")
		}
		qs := prompts.ParseQuestions(obj, "dimension")
		if len(qs) == 0 {
			return nil, eris.New("persona: reviewer returned no questions")
		}
		return qs, nil
	})
	if err != nil {
		zap.L().Debug("persona: continuing without reviewer questions", zap.Error(err))
		return nil
	}
	return qs
}

func (g *Generator) refine(ctx context.Context, productDesc string, p map[string]any, qs []prompts.Question, temp float64) map[string]any {
	if len(qs) == 0 {
		return p
	}
	user := fmt.Sprintf(
		"Product description:\n%s\n\nCurrent persona:\n%s\n\nReview questions:\n%s\n\nPlease provide the refined persona in the same JSON format.",
		productDesc, jsonx.Pretty(p), prompts.FormatQuestions(qs, "improvement"))

	refined, err := resilience.DoVal(ctx, g.retry.WithLogger("persona", "refine"), func(ctx context.Context) (map[string]any, error) {
		raw, err := g.completer.Complete(ctx, completion.Request{
			Messages:    []completion.Message{completion.System(g.prompts.Persona), completion.User(user)},
			JSON:        true,
			Temperature: temp,
		})
		if err != nil {
			return nil, err
		}
		obj, err := jsonx.Object(raw)
		if err != nil {
			// Unparseable refinement keeps the draft without another attempt.
			zap.L().Debug("persona: refine response not json, keeping draft")
			return p, nil
		}
		if len(obj) == 0 {
			return nil, eris.New("persona: refine returned empty persona")
		}
		for _, k := range []string{"persona_id", "generated_at"} {
			if v, ok := p[k]; ok {
				obj[k] = v
			}
		}
		return obj, nil
	})
	if err != nil {
		return p
	}
	return refined
}

// existingContext samples up to ten kept personas for the dedup hint.
func (g *Generator) existingContext(personas []model.Persona) string {
	if len(personas) == 0 {
		return ""
	}
	idx := g.perm(len(personas))
	if len(idx) > contextSampleSize {
		idx = idx[:contextSampleSize]
	}
	var b strings.Builder
	b.WriteString("\nExisting persona examples:\n")
	for _, i := range idx {
		p := personas[i]
		fmt.Fprintf(&b, "• %s (type: %s, frequency: %s)\n", p.Description, p.UserType, p.UsageFrequency)
	}
	return b.String()
}

func (g *Generator) errorStub(n int, cause error) model.Persona {
	return model.Persona{
		ID:             fmt.Sprintf("error_stub_%d", n),
		Description:    "substitute persona after generation error",
		KeyNeeds:       []string{model.UnknownNeed},
		UsageScenarios: []string{model.UnknownScenario},
		UserType:       string(model.UserTypeUnknown),
		UsageFrequency: string(model.FrequencyUnknown),
		Location:       model.UnknownLocation,
		GeneratedAt:    g.now().Format(model.TimeLayout),
		Error:          cause.Error(),
	}
}

func (g *Generator) intN(n int) int {
	if g.rng != nil {
		return g.rng.IntN(n)
	}
	return rand.IntN(n)
}

func (g *Generator) perm(n int) []int {
	if g.rng != nil {
		return g.rng.Perm(n)
	}
	return rand.Perm(n)
}

// isValid checks the required persona fields and their enum values.
func isValid(m map[string]any) bool {
	for _, k := range []string{"persona_description", "user_type", "usage_frequency", "location"} {
		if _, ok := m[k].(string); !ok {
			return false
		}
	}
	for _, k := range []string{"key_needs", "usage_scenarios"} {
		if _, ok := m[k].([]any); !ok {
			return false
		}
	}
	return model.ValidUserType(m["user_type"].(string)) &&
		model.ValidUsageFrequency(m["usage_frequency"].(string)) &&
		strings.TrimSpace(m["location"].(string)) != ""
}
