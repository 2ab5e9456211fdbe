// Package simulation runs persona reaction simulations: several independent
// five-stage instances per persona, validated and retried as a batch.
package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/metrics"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/prompts"
)

// Defaults for the batch policy.
const (
	DefaultWorkers         = 5
	DefaultBatchAttempts   = 3
	DefaultBatchBackoff    = 2 * time.Second
	DefaultFormatThreshold = 0.1
)

// ModelPicker chooses the model for one simulation instance.
// *modelpool.Pool satisfies it.
type ModelPicker interface {
	Random() string
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine simulates persona reactions.
type Engine struct {
	completer       completion.Completer
	models          ModelPicker
	prompts         *prompts.Set
	workers         int
	attempts        int
	backoff         time.Duration
	formatThreshold float64
	sleep           SleepFunc
	now             func() time.Time
	instanceID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithModels sets the per-instance model picker. Without one the completion
// service picks a model for every call.
func WithModels(m ModelPicker) Option {
	return func(e *Engine) { e.models = m }
}

// WithPrompts overrides the prompt set.
func WithPrompts(p *prompts.Set) Option {
	return func(e *Engine) { e.prompts = p }
}

// WithWorkers caps concurrent instances per persona.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBatchPolicy sets the batch attempts, the pause before each retry and
// the fraction of format errors a batch may carry.
func WithBatchPolicy(attempts int, backoff time.Duration, threshold float64) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if backoff >= 0 {
			e.backoff = backoff
		}
		if threshold > 0 {
			e.formatThreshold = threshold
		}
	}
}

// WithSleep replaces the sleep used between batch attempts.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock sets the clock used for simulated_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithInstanceIDs sets the generator for batch instance tags.
func WithInstanceIDs(fn func() string) Option {
	return func(e *Engine) { e.instanceID = fn }
}

// New creates an Engine.
func New(c completion.Completer, opts ...Option) *Engine {
	e := &Engine{
		completer:       c,
		prompts:         prompts.Default(),
		workers:         DefaultWorkers,
		attempts:        DefaultBatchAttempts,
		backoff:         DefaultBatchBackoff,
		formatThreshold: DefaultFormatThreshold,
		sleep:           sleepCtx,
		now:             time.Now,
		instanceID:      func() string { return ShortID(8) },
	}
	for _, o := range opts {
		o(e)
	}
	return e
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

// Simulate runs n instances for the persona and always returns exactly n
// results. A nil persona or one without a usable description yields n error
// results without calling the model.
func (e *Engine) Simulate(ctx context.Context, p *model.Persona, productDesc string, n int, webContext string) []model.SimulationResult {
	if n <= 0 {
		return nil
	}
	if p == nil {
		return e.rejected(model.Persona{}, "unknown", "malformed persona", "persona is missing", n)
	}
	if desc := strings.TrimSpace(p.Description); desc == "" || desc == model.NotProvided {
		pid := p.ID
		if pid == "" {
			pid = "unknown"
		}
		zap.L().Warn("simulation: persona has no description", zap.String("persona_id", pid))
		return e.rejected(*p, pid, "persona missing required field",
			"persona missing required field or field is blank: persona_description", n)
	}

	persona := CleanPersona(*p)
	pid := persona.ID
	if pid == "" {
		pid = fmt.Sprintf("unknown_%d", 1000+rand.IntN(9000))
	}

	var (
		results  []model.SimulationResult
		instance string
		valid    bool
	)
	for attempt := 0; attempt < e.attempts; attempt++ {
		if attempt > 0 {
			zap.L().Info("simulation: retrying batch",
				zap.String("persona_id", pid), zap.Int("attempt", attempt+1))
			if err := e.sleep(ctx, e.backoff); err != nil {
				break
			}
		}

		instance = e.instanceID()
		results = e.batch(ctx, persona, pid, productDesc, n, webContext, instance)

		bad := countFormatErrors(results)
		if float64(bad) <= float64(len(results))*e.formatThreshold {
			valid = true
			zap.L().Debug("simulation: batch accepted",
				zap.String("persona_id", pid), zap.Int("valid", len(results)-bad), zap.Int("total", len(results)))
			break
		}
		zap.L().Warn("simulation: too many format errors in batch",
			zap.String("persona_id", pid), zap.Int("format_errors", bad), zap.Int("total", len(results)))
		metrics.SimulationBatchRetriesTotal.Inc()
	}

	if !valid {
		zap.L().Error("simulation: batch retries exhausted", zap.String("persona_id", pid), zap.Int("attempts", e.attempts))
		results = make([]model.SimulationResult, n)
		for i := range results {
			results[i] = ErrorResult(persona, pid,
				fmt.Sprintf("batch simulation failed after %d attempts", e.attempts),
				fmt.Sprintf("max retries exceeded: no valid simulation batch within %d attempts", e.attempts),
				i+1, e.instanceID(), e.now())
		}
	}

	missing := n - len(results)
	for i := 1; i <= missing; i++ {
		results = append(results, FillerResult(persona, pid, instance, i, e.now()))
	}
	return results
}

// batch runs n instances concurrently. Instances never scheduled because ctx
// ended leave no result; the caller backfills them.
func (e *Engine) batch(ctx context.Context, p model.Persona, pid, productDesc string, n int, webContext, inst string) []model.SimulationResult {
	slots := make([]*model.SimulationResult, n)

	var g errgroup.Group
	g.SetLimit(min(n, e.workers))
	for i := range n {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := e.runInstance(ctx, p, pid, productDesc, webContext, inst, i+1)
			slots[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.SimulationResult, 0, n)
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (e *Engine) runInstance(ctx context.Context, p model.Persona, pid, productDesc, webContext, inst string, index int) (res model.SimulationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("simulation: instance panicked",
				zap.String("persona_id", pid), zap.Int("index", index), zap.Any("panic", rec))
			detail := fmt.Sprint(rec)
			res = ErrorResult(p, pid, "error while processing result: "+detail, detail, index, inst, e.now())
		}
	}()

	in := &instance{
		completer:  e.completer,
		prompts:    e.prompts,
		persona:    p,
		product:    productDesc,
		webContext: webContext,
	}
	if e.models != nil {
		in.modelName = e.models.Random()
	}

	raw, err := in.run(ctx)
	if err != nil {
		zap.L().Warn("simulation: instance failed",
			zap.String("persona_id", pid), zap.Int("index", index),
			zap.String("model", in.modelName), zap.Error(err))
		return ErrorResult(p, pid, "error during simulation: "+err.Error(), err.Error(), index, inst, e.now())
	}
	return Normalize(raw, p, pid, inst, index, e.now())
}

func (e *Engine) rejected(p model.Persona, pid, msg, detail string, n int) []model.SimulationResult {
	out := make([]model.SimulationResult, n)
	inst := e.instanceID()
	for i := range out {
		out[i] = ErrorResult(p, pid, msg, detail, i+1, inst, e.now())
	}
	return out
}

// IsFormatError reports whether a result failed on malformed model output.
func IsFormatError(r model.SimulationResult) bool {
	if r.Error == "" {
		return false
	}
	return strings.Contains(r.Error, "JSON") || strings.Contains(r.Error, "json") || strings.Contains(r.Error, "format")
}

func countFormatErrors(rs []model.SimulationResult) int {
	n := 0
	for _, r := range rs {
		if IsFormatError(r) {
			n++
		}
	}
	return n
}
