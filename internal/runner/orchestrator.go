package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tpanarchist/omen/internal/bus"
	"github.com/Tpanarchist/omen/internal/config"
	"github.com/Tpanarchist/omen/internal/episode"
	"github.com/Tpanarchist/omen/internal/integrity"
	"github.com/Tpanarchist/omen/internal/layers"
	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/template"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// PoolFactory builds a layer pool for one episode. Cognition state is
// episode-scoped, so each run gets a fresh pool.
type PoolFactory func(compiled *template.CompiledEpisode) (*layers.Pool, error)

// Orchestrator compiles templates, wires ledgers to the integrity overlay,
// runs episodes, and persists their records. Episodes execute sequentially
// on their own worker; RunMany drives several concurrently.
type Orchestrator struct {
	log     *zap.Logger
	cfg     config.Config
	factory PoolFactory
	monitor *integrity.Monitor
	store   episode.Store
	north   *bus.Bus
	south   *bus.Bus
}

// OrchestratorOption configures an orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger attaches a structured logger.
func WithOrchestratorLogger(log *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// WithOrchestratorConfig overrides runtime tunables.
func WithOrchestratorConfig(cfg config.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithStore attaches episode persistence.
func WithStore(store episode.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.store = store }
}

// NewOrchestrator builds an orchestrator around a pool factory. The
// integrity overlay and both buses are created and wired internally.
func NewOrchestrator(factory PoolFactory, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		log:     zap.NewNop(),
		cfg:     config.Default(),
		factory: factory,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.north = bus.NewNorthbound(o.log, o.cfg.BusLogLimit)
	o.south = bus.NewSouthbound(o.log, o.cfg.BusLogLimit)
	o.monitor = integrity.New(
		integrity.WithLogger(o.log),
		integrity.WithConfig(o.cfg),
	)
	o.monitor.SubscribeTo(o.north, o.south)
	return o
}

// Monitor exposes the integrity overlay.
func (o *Orchestrator) Monitor() *integrity.Monitor { return o.monitor }

// Buses exposes the shared buses.
func (o *Orchestrator) Buses() (north, south *bus.Bus) { return o.north, o.south }

// EpisodeRequest names one episode to run.
type EpisodeRequest struct {
	TemplateID vocabulary.TemplateID
	Context    template.Context
}

// Run compiles and executes a single episode end to end: compile, ledger
// creation, integrity registration, the step loop, persistence.
func (o *Orchestrator) Run(ctx context.Context, req EpisodeRequest) (EpisodeResult, error) {
	compiled, err := template.Compile(req.TemplateID, req.Context)
	if err != nil {
		return EpisodeResult{}, err
	}

	pool, err := o.factory(compiled)
	if err != nil {
		return EpisodeResult{}, fmt.Errorf("build layer pool: %w", err)
	}

	led := ledger.New(compiled.CorrelationID,
		ledger.WithBudgets(compiled.Budgets),
		ledger.WithInitialState(compiled.InitialState),
		ledger.WithCampaign(compiled.CampaignID),
		ledger.WithTemplate(compiled.TemplateID),
		ledger.WithStakes(compiled.Stakes.StakesLevel),
		ledger.WithLogger(o.log),
		ledger.WithConfig(o.cfg),
	)
	o.monitor.Register(led)
	defer o.monitor.Unregister(compiled.CorrelationID)

	run := New(pool,
		WithLogger(o.log),
		WithConfig(o.cfg),
		WithBuses(o.north, o.south),
		WithMonitor(o.monitor),
	)
	result := run.Run(ctx, compiled, led, nil)

	if o.store != nil {
		if err := o.persist(ctx, &result, led); err != nil {
			o.log.Error("episode record persistence failed",
				zap.String("correlation_id", result.CorrelationID),
				zap.Error(err))
		}
	}

	o.log.Info("episode complete",
		zap.String("correlation_id", result.CorrelationID),
		zap.String("template", string(result.TemplateID)),
		zap.Bool("success", result.Success),
		zap.String("final_state", string(result.FinalState)),
		zap.Int("steps", len(result.Steps)))
	return result, nil
}

// RunMany executes several episodes concurrently, one worker each. Ledgers
// are episode-owned; only the buses and the integrity overlay are shared.
func (o *Orchestrator) RunMany(ctx context.Context, reqs []EpisodeRequest) ([]EpisodeResult, error) {
	results := make([]EpisodeResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := o.Run(gctx, req)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) persist(ctx context.Context, result *EpisodeResult, led *ledger.Ledger) error {
	rec := &episode.Record{
		CorrelationID: result.CorrelationID,
		TemplateID:    result.TemplateID,
		Success:       result.Success,
		FinalState:    result.FinalState,
		Errors:        result.Errors,
		Snapshot:      result.Snapshot,
	}
	for _, step := range result.Steps {
		rec.Steps = append(rec.Steps, episode.StepRecord{
			StepID:          step.StepID,
			Layer:           step.Layer,
			Success:         step.Success,
			PacketsEmitted:  step.PacketsEmitted,
			Error:           step.Error,
			DurationSeconds: step.Duration.Seconds(),
		})
	}
	packets := led.Packets()
	if err := rec.EncodePackets(packets); err != nil {
		return err
	}
	if len(packets) > 0 {
		rec.CompletedAt = packets[len(packets)-1].Header.CreatedAt
	}
	return o.store.Put(ctx, rec)
}
