package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/chat"
	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/config"
	"github.com/sells-group/persona-sim/internal/export"
	"github.com/sells-group/persona-sim/internal/modelpool"
	"github.com/sells-group/persona-sim/internal/notify"
	"github.com/sells-group/persona-sim/internal/orchestrator"
	"github.com/sells-group/persona-sim/internal/persona"
	"github.com/sells-group/persona-sim/internal/prompts"
	"github.com/sells-group/persona-sim/internal/resilience"
	"github.com/sells-group/persona-sim/internal/simulation"
	"github.com/sells-group/persona-sim/internal/store"
	"github.com/sells-group/persona-sim/internal/websearch"
	"github.com/sells-group/persona-sim/pkg/bocha"
)

// appEnv holds the initialized services shared by the run and serve
// commands.
type appEnv struct {
	Store      store.Store
	Pool       *modelpool.Pool
	Completion *completion.Service
	Search     *websearch.Pipeline // nil when web search is disabled
	Chat       *chat.Service
	Prompts    *prompts.Set
	Runner     *orchestrator.Runner
	Flags      *orchestrator.StopFlags

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// initEnv validates the config for mode, opens the store, loads the model
// pool and builds every pipeline stage. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	set, err := prompts.Load(c.Prompts.Path)
	if err != nil {
		return nil, err
	}

	pool, err := modelpool.Load(c.Models.Dir)
	if err != nil {
		return nil, eris.Wrap(err, "load model pool")
	}
	zap.L().Info("model pool loaded", zap.Int("models", pool.Len()))

	env := &appEnv{Pool: pool, Prompts: set}

	limiter, err := env.initLimiter(c.Models)
	if err != nil {
		return nil, err
	}
	offPeak, err := modelpool.ParseOffPeak(c.Models.OffPeakEnabled, c.Models.OffPeakStart, c.Models.OffPeakEnd)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "parse off-peak window")
	}
	selector := modelpool.NewSelector(pool, limiter, modelpool.WithOffPeak(offPeak))

	env.Completion = completion.NewService(selector,
		completion.WithTimeout(secs(c.Completion.TimeoutSecs)),
		completion.WithMaxTokens(c.Completion.MaxTokens),
		completion.WithBreakerConfig(resilience.NewCircuitBreakerConfig(c.Completion.BreakerThreshold, c.Completion.BreakerResetSecs)),
	)

	var searcher chat.Searcher
	if c.Pipeline.WebSearch {
		client := bocha.NewClient(c.Search.Key,
			bocha.WithEndpoint(c.Search.Endpoint),
			bocha.WithTimeout(secs(c.Search.TimeoutSecs)),
			bocha.WithRateLimit(c.Search.RatePerSec),
		)
		env.Search = websearch.New(env.Completion, client,
			websearch.WithPrompts(set),
			websearch.WithLargeModel(modelpool.PickLarge(pool)),
			websearch.WithCount(c.Search.Count),
			websearch.WithFreshness(c.Search.Freshness),
		)
		searcher = env.Search
	}
	env.Chat = chat.New(env.Completion, searcher, chat.WithMaxQueries(c.Search.MaxQueries))

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Store = st

	env.Flags = orchestrator.NewStopFlags()
	env.Runner = newRunner(c, env)
	return env, nil
}

func (e *appEnv) initLimiter(mc config.ModelsConfig) (modelpool.RateLimiter, error) {
	window := secs(mc.RateWindowSecs)
	if mc.Limiter != "redis" {
		return modelpool.NewMemoryLimiter(window), nil
	}
	client, err := modelpool.NewRedisClient(mc.RedisURL)
	if err != nil {
		return nil, eris.Wrap(err, "connect redis limiter")
	}
	e.redis = client
	zap.L().Info("using redis rate limiter")
	return modelpool.NewRedisLimiter(client, window), nil
}

func newRunner(c *config.Config, env *appEnv) *orchestrator.Runner {
	pc := c.Pipeline
	personas := func(onProgress persona.ProgressFunc) orchestrator.PersonaGenerator {
		return persona.New(env.Completion,
			persona.WithPrompts(env.Prompts),
			persona.WithStagePolicy(pc.StageRetries, ms(pc.StageBackoffMs)),
			persona.WithThrottle(ms(pc.PersonaDelayMs), ms(pc.BatchDelayMs)),
			persona.WithProgress(onProgress),
		)
	}
	sim := simulation.New(env.Completion,
		simulation.WithModels(env.Pool),
		simulation.WithPrompts(env.Prompts),
		simulation.WithWorkers(pc.SimulationWorkers),
		simulation.WithBatchPolicy(pc.BatchRetries, ms(pc.BatchBackoffMs), pc.FormatErrorThreshold),
	)

	opts := []orchestrator.Option{
		orchestrator.WithStopFlags(env.Flags),
		orchestrator.WithNotifier(notify.NewWebhook(c.Notify)),
		orchestrator.WithLimits(orchestrator.Limits{MaxPersonas: pc.MaxPersonas, MaxSimulations: pc.MaxSimulations}),
	}
	if env.Search != nil {
		opts = append(opts, orchestrator.WithWebSearch(env.Search, c.Search.MaxQueries))
	}
	return orchestrator.NewRunner(env.Store, personas, sim, export.Reporter{Dir: c.Export.Dir}, opts...)
}

// openStore opens and migrates the configured store for commands that only
// read task data.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if err := c.Validate("store"); err != nil {
		return nil, err
	}
	return store.Open(ctx, c.Store)
}
