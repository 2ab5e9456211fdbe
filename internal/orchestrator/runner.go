// Package orchestrator runs analysis tasks end to end: persona generation,
// simulation, statistics, report and notification, with progress
// checkpoints and cooperative stop.
package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/cost"
	"github.com/sells-group/persona-sim/internal/metrics"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/notify"
	"github.com/sells-group/persona-sim/internal/persona"
	"github.com/sells-group/persona-sim/internal/store"
	"github.com/sells-group/persona-sim/internal/websearch"
)

// ErrTaskAborted is returned when a stop request is observed at a checkpoint.
var ErrTaskAborted = eris.New("task aborted")

// Defaults for task clamping.
const (
	DefaultMaxPersonas    = 40
	DefaultMaxSimulations = 2
	// QuickTrialPersonas is the persona count that always runs two
	// simulations per persona.
	QuickTrialPersonas = 2
)

// Progress step names.
const (
	StepPending     = "pending"
	StepPersonas    = "personas"
	StepSimulations = "simulations"
	StepReport      = "generating_report"
	StepEmail       = "sending_email"
	StepCompleted   = "completed"
	StepStopped     = "stopped"
)

const simulationShare = 90.0

// WebIntent is the planner intent for task-level web research.
func WebIntent(productDesc string) string {
	return "We are about to run user-reaction simulations for the following product.\n" +
		"If useful, propose web-search queries to understand relevant market context, common alternatives, pricing, and constraints.\n\n" +
		"Product:\n" + productDesc
}

// PersonaGenerator produces personas for a product.
type PersonaGenerator interface {
	Generate(ctx context.Context, productDesc string, target int) ([]model.Persona, error)
}

// GeneratorFactory builds a generator reporting progress to onProgress.
type GeneratorFactory func(onProgress persona.ProgressFunc) PersonaGenerator

// Simulator runs the reaction simulations for one persona.
type Simulator interface {
	Simulate(ctx context.Context, p *model.Persona, productDesc string, n int, webContext string) []model.SimulationResult
}

// WebSearcher plans, runs and summarizes web research.
type WebSearcher interface {
	Decide(ctx context.Context, intent string, maxQueries int) (bool, []string, string)
	Run(ctx context.Context, queries []string) *websearch.Session
	Synthesize(ctx context.Context, s *websearch.Session, maxDocs int) (string, error)
}

// ReportWriter renders a finished task and returns the report location.
type ReportWriter interface {
	Write(ctx context.Context, in model.ReportInput) (string, error)
}

// Notifier tells the task owner the report is ready.
type Notifier interface {
	Notify(ctx context.Context, recipient, taskID, reportPath string) error
}

// Limits bounds the size of a task.
type Limits struct {
	MaxPersonas    int
	MaxSimulations int
}

// Runner executes tasks.
type Runner struct {
	store      store.Store
	personas   GeneratorFactory
	simulator  Simulator
	reports    ReportWriter
	search     WebSearcher
	maxQueries int
	notifier   Notifier
	flags      *StopFlags
	limits     Limits
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithWebSearch enables task-level web research.
func WithWebSearch(s WebSearcher, maxQueries int) Option {
	return func(r *Runner) {
		r.search = s
		if maxQueries > 0 {
			r.maxQueries = maxQueries
		}
	}
}

// WithNotifier sets the report-ready notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithStopFlags shares a stop flag set with a Manager.
func WithStopFlags(f *StopFlags) Option {
	return func(r *Runner) { r.flags = f }
}

// WithLimits overrides the persona and simulation caps.
func WithLimits(l Limits) Option {
	return func(r *Runner) {
		if l.MaxPersonas > 0 {
			r.limits.MaxPersonas = l.MaxPersonas
		}
		if l.MaxSimulations > 0 {
			r.limits.MaxSimulations = l.MaxSimulations
		}
	}
}

// WithClock sets the clock used for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, personas GeneratorFactory, sim Simulator, reports ReportWriter, opts ...Option) *Runner {
	r := &Runner{
		store:      st,
		personas:   personas,
		simulator:  sim,
		reports:    reports,
		maxQueries: websearch.DefaultMaxQueries,
		flags:      NewStopFlags(),
		limits:     Limits{MaxPersonas: DefaultMaxPersonas, MaxSimulations: DefaultMaxSimulations},
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Flags returns the stop flag set polled by the runner.
func (r *Runner) Flags() *StopFlags { return r.flags }

// Clamp applies the task size rules: the two-persona quick trial always runs
// two simulations, other tasks are capped by the limits.
func (r *Runner) Clamp(personas, simulations int) (int, int) {
	if personas == QuickTrialPersonas {
		return personas, 2
	}
	personas = max(1, min(r.limits.MaxPersonas, personas))
	simulations = max(1, min(r.limits.MaxSimulations, simulations))
	return personas, simulations
}

// Run executes the task and records its final status. Stop requests end the
// task as stopped, including runs whose context was cancelled by the stop;
// any other error marks it failed with the message.
func (r *Runner) Run(ctx context.Context, task *model.Task) error {
	log := zap.L().With(zap.String("task_id", task.ID))
	log.Info("orchestrator: starting task",
		zap.Int("personas", task.NumPersonas), zap.Int("simulations", task.NumSimulations))

	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	err := r.run(ctx, task, log)

	finished := r.now()
	task.FinishedAt = &finished
	switch {
	case err == nil:
		task.Status = model.TaskStatusCompleted
	case eris.Is(err, ErrTaskAborted), r.flags.Stopped(task.ID):
		err = ErrTaskAborted
		task.Status = model.TaskStatusStopped
		task.Progress = model.Progress{CurrentStep: StepStopped, Total: 100}
		log.Info("orchestrator: task stopped")
	default:
		task.Status = model.TaskStatusFailed
		task.Error = err.Error()
		log.Error("orchestrator: task failed", zap.Error(err))
	}
	r.checkpoint(context.WithoutCancel(ctx), task)
	metrics.TasksTotal.WithLabelValues(string(task.Status)).Inc()
	return err
}

func (r *Runner) run(ctx context.Context, task *model.Task, log *zap.Logger) error {
	numPersonas, numSims := r.Clamp(task.NumPersonas, task.NumSimulations)
	task.NumPersonas, task.NumSimulations = numPersonas, numSims
	totalTokens := cost.EstimateTokens(numPersonas, numSims)

	started := r.now()
	task.StartedAt = &started
	task.FinishedAt = nil
	task.Error = ""
	task.Status = model.TaskStatusRunning
	task.Progress = model.Progress{CurrentStep: StepPending, Total: 100, TotalTokens: totalTokens}
	r.checkpoint(ctx, task)

	if r.flags.Stopped(task.ID) {
		return ErrTaskAborted
	}

	// 1. Personas
	task.Status = model.TaskStatusGeneratingPersonas
	r.checkpoint(ctx, task)
	gen := r.personas(func(done, target int) {
		task.Progress = model.Progress{
			CurrentStep: StepPersonas,
			Completed:   done,
			Total:       target,
			Percentage:  round1(float64(done) / float64(target) * 100),
		}
		r.checkpoint(ctx, task)
	})
	personas, err := gen.Generate(ctx, task.ProductDescription, numPersonas)
	if err != nil {
		return eris.Wrap(err, "orchestrator: generate personas")
	}
	task.Progress = model.Progress{CurrentStep: StepPersonas, Completed: len(personas), Total: numPersonas, Percentage: 100}
	if err := r.store.SavePersonas(ctx, task.ID, personas); err != nil {
		return eris.Wrap(err, "orchestrator: save personas")
	}
	log.Info("orchestrator: personas ready", zap.Int("count", len(personas)))

	if r.flags.Stopped(task.ID) {
		return ErrTaskAborted
	}

	// 2. Simulations
	task.Status = model.TaskStatusSimulatingReactions
	r.checkpoint(ctx, task)
	session, webContext := r.research(ctx, task.ProductDescription, log)

	var results []model.SimulationResult
	for i := range personas {
		if r.flags.Stopped(task.ID) {
			return ErrTaskAborted
		}
		pct := round1(float64(i+1) / float64(len(personas)) * simulationShare)
		task.Progress = model.Progress{
			CurrentStep: StepSimulations,
			Completed:   i + 1,
			Total:       len(personas),
			Percentage:  pct,
			UsedTokens:  cost.Used(totalTokens, pct),
			TotalTokens: totalTokens,
		}
		r.checkpoint(ctx, task)

		batch := r.simulator.Simulate(ctx, &personas[i], task.ProductDescription, numSims, webContext)
		if err := r.store.SaveSimulations(ctx, task.ID, batch); err != nil {
			return eris.Wrap(err, "orchestrator: save simulations")
		}
		results = append(results, batch...)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if r.flags.Stopped(task.ID) {
		return ErrTaskAborted
	}

	// 3. Statistics and report
	task.Status = model.TaskStatusGeneratingReport
	r.progress(ctx, task, StepReport, 95, totalTokens)
	task.Stats = ComputeStats(personas, results)
	r.progress(ctx, task, StepReport, 97, totalTokens)

	var summary, references string
	if len(session.AllDocs()) > 0 {
		s, err := r.search.Synthesize(ctx, session, websearch.SynthesisMaxDocs)
		if err != nil {
			log.Warn("orchestrator: web summary failed", zap.Error(err))
		} else {
			summary = s
			references = session.ReferencesMarkdown(false)
			task.WebSearch = &model.WebSearchSummary{
				Queries:            session.Queries(),
				Summary:            summary,
				ReferencesMarkdown: references,
			}
		}
	}

	path, err := r.reports.Write(ctx, model.ReportInput{
		TaskID:             task.ID,
		ProductDescription: task.ProductDescription,
		Personas:           personas,
		Simulations:        results,
		Stats:              task.Stats,
		WebSummary:         summary,
		WebReferences:      references,
	})
	if err != nil {
		return eris.Wrap(err, "orchestrator: report generation failed")
	}
	task.ReportPath = path
	if r.flags.Stopped(task.ID) {
		return ErrTaskAborted
	}

	// 4. Notification
	task.Status = model.TaskStatusSendingEmail
	task.Progress = model.Progress{CurrentStep: StepEmail, Completed: 99, Total: 100, Percentage: 99}
	r.checkpoint(ctx, task)
	if r.notifier != nil && !notify.Skip(task.Email) {
		if err := r.notifier.Notify(ctx, task.Email, task.ID, path); err != nil {
			log.Warn("orchestrator: notification failed", zap.Error(err))
		}
	}

	task.Progress = model.Progress{
		CurrentStep: StepCompleted,
		Completed:   100,
		Total:       100,
		Percentage:  100,
		UsedTokens:  totalTokens,
		TotalTokens: totalTokens,
	}
	log.Info("orchestrator: task complete", zap.Int("simulations", len(results)), zap.String("report", path))
	return nil
}

// research runs task-level web search. It returns a nil session when
// search is disabled or not warranted.
func (r *Runner) research(ctx context.Context, productDesc string, log *zap.Logger) (*websearch.Session, string) {
	if r.search == nil {
		return nil, ""
	}
	should, queries, reason := r.search.Decide(ctx, WebIntent(productDesc), r.maxQueries)
	if !should {
		log.Debug("orchestrator: web search skipped", zap.String("reason", reason))
		return nil, ""
	}
	session := r.search.Run(ctx, queries)
	return session, websearch.EvidenceBlock(session, websearch.EvidenceMaxDocs)
}

func (r *Runner) progress(ctx context.Context, task *model.Task, step string, pct float64, totalTokens int) {
	task.Progress = model.Progress{
		CurrentStep: step,
		Completed:   int(pct),
		Total:       100,
		Percentage:  pct,
		UsedTokens:  cost.Used(totalTokens, pct),
		TotalTokens: totalTokens,
	}
	r.checkpoint(ctx, task)
}

// checkpoint persists the task. Failures are logged and do not stop the run.
func (r *Runner) checkpoint(ctx context.Context, task *model.Task) {
	if err := r.store.SaveTask(ctx, task); err != nil {
		zap.L().Warn("orchestrator: failed to save task", zap.String("task_id", task.ID), zap.Error(err))
	}
}
