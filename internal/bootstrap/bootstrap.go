package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/customs-clearance/internal/config"
	"github.com/kirillkom/customs-clearance/internal/core/ports"
	"github.com/kirillkom/customs-clearance/internal/core/usecase"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/classifier/hsservice"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/lock"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/queue/nats"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/resilience"
	"github.com/kirillkom/customs-clearance/internal/observability/metrics"
)

type Options struct {
	Service string
	Logger  *slog.Logger
	// Registerer receives the workflow collectors; nil disables workflow metrics.
	Registerer prometheus.Registerer
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Bus       *nats.Bus
	Shipments *postgres.ShipmentRepository
	Brokers   *postgres.BrokerRepository
	Documents *postgres.DocumentRepository
	Audit     *postgres.AuditRepository

	Workflow *usecase.Orchestrator
	Advisor  *usecase.ComplianceAdvisorService
	Sweeper  *usecase.AllocationSweeper

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var observer ports.WorkflowObserver = usecase.NopObserver{}
	var onBreakerChange resilience.StateChangeFunc
	if opts.Registerer != nil {
		workflowMetrics := metrics.NewWorkflowMetrics(opts.Service, opts.Registerer)
		observer = workflowMetrics
		onBreakerChange = workflowMetrics.ObserveBreakerState
	}

	rules, err := usecase.LoadHeuristicRules(cfg.ClassifierRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load heuristic rules: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	locker, closeLocker, err := newLocker(cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init shipment locker: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, nats.Options{
		SubjectPrefix: cfg.NATSSubjectPrefix,
		ResilienceExecutor: resilience.NewExecutor(resilience.PublisherConfig(),
			resilience.WithLogger(logger),
			resilience.WithStateChange(onBreakerChange),
		),
		Logger: logger,
	})
	if err != nil {
		closeLocker()
		_ = db.Close()
		return nil, fmt.Errorf("init notification bus: %w", err)
	}

	shipments := postgres.NewShipmentRepository(db)
	brokers := postgres.NewBrokerRepository(db)
	documents := postgres.NewDocumentRepository(db)
	audit := postgres.NewAuditRepository(db)

	evaluator := usecase.NewComplianceEvaluator(rules)
	gateway := usecase.NewClassificationGateway(newClassifier(cfg, logger, onBreakerChange), usecase.GatewayOptions{
		Timeout:  cfg.ClassifierTimeout(),
		TopK:     cfg.ClassifierTopK,
		Observer: observer,
		Logger:   logger,
	})
	allocator := usecase.NewBrokerAllocator(brokers, shipments, usecase.AllocatorOptions{
		StrictHSCategories: cfg.AllocatorStrictHS,
	})
	workflow := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Shipments: shipments,
		Documents: documents,
		Locker:    locker,
		Evaluator: evaluator,
		Gateway:   gateway,
		Allocator: allocator,
		Notifier:  bus,
		Observer:  observer,
		Logger:    logger,
	})

	return &App{
		Config: cfg,
		Logger: logger,

		Bus:       bus,
		Shipments: shipments,
		Brokers:   brokers,
		Documents: documents,
		Audit:     audit,

		Workflow: workflow,
		Advisor:  usecase.NewComplianceAdvisorService(evaluator, gateway, observer),

		closeFn: func() {
			bus.Close()
			closeLocker()
			_ = db.Close()
		},
	}, nil
}

// NewSweeper builds the stalled-submission and allocation retry loop; only the worker runs it.
func (a *App) NewSweeper(onOutcome usecase.SweepOutcomeFunc) *usecase.AllocationSweeper {
	a.Sweeper = usecase.NewAllocationSweeper(a.Shipments, a.Workflow, usecase.SweeperOptions{
		Batch:      usecase.DefaultSweepBatch,
		StallAfter: a.Config.SubmissionStallAge(),
		Logger:     a.Logger,
		OnOutcome:  onOutcome,
	})
	return a.Sweeper
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newLocker(cfg config.Config, logger *slog.Logger) (ports.ShipmentLocker, func(), error) {
	switch cfg.LockBackend {
	case "", config.LockBackendMemory:
		return lock.NewKeyed(), func() {}, nil
	case config.LockBackendRedis:
		redisLock, err := lock.NewRedis(cfg.RedisURL, lock.RedisOptions{LeaseTTL: cfg.LockTTL(), Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return redisLock, func() { _ = redisLock.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

// newClassifier returns nil when no classifier URL is configured.
func newClassifier(cfg config.Config, logger *slog.Logger, onBreakerChange resilience.StateChangeFunc) ports.ClassificationProvider {
	if cfg.ClassifierURL == "" {
		return nil
	}
	executor := resilience.NewExecutor(resilience.DefaultConfig(),
		resilience.WithLogger(logger),
		resilience.WithStateChange(onBreakerChange),
	)
	return hsservice.New(cfg.ClassifierURL, hsservice.WithExecutor(executor))
}
