package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/provenance_layer/internal/app/metrics"
	accesssvc "github.com/R3E-Network/provenance_layer/internal/app/services/access"
	adminsvc "github.com/R3E-Network/provenance_layer/internal/app/services/admin"
	oraclesvc "github.com/R3E-Network/provenance_layer/internal/app/services/oracle"
	provenancesvc "github.com/R3E-Network/provenance_layer/internal/app/services/provenance"
	"github.com/R3E-Network/provenance_layer/internal/app/services/sweeper"
	verifiersvc "github.com/R3E-Network/provenance_layer/internal/app/services/verifier"
	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/app/storage/leveldb"
	"github.com/R3E-Network/provenance_layer/internal/app/storage/memory"
	"github.com/R3E-Network/provenance_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/provenance_layer/internal/app/system"
	"github.com/R3E-Network/provenance_layer/internal/auth"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	"github.com/R3E-Network/provenance_layer/internal/platform/migrations"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager  *system.Manager
	log      *logger.Logger
	backend  storage.Backend
	redis    *redis.Client
	detached []func()

	Config       config.Config
	Engine       *ledger.Engine
	Events       *events.RingBuffer
	Capabilities *capability.Authority
	Auth         *auth.Service
	Content      *provenancesvc.Service
	Verifiers    *verifiersvc.Service
	Oracles      *oraclesvc.Service
	Access       *accesssvc.Service
	Admin        *adminsvc.Service
	Sweeper      *sweeper.Sweeper
	Dispatcher   *oraclesvc.Dispatcher
}

// OpenBackend opens the storage backend selected by cfg.
func OpenBackend(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (storage.Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrations.Apply(ctx, store.DB()); err != nil {
				store.Close()
				return nil, err
			}
			log.Info("postgres schema migrated")
		}
		return store, nil
	case "leveldb":
		store, err := leveldb.Open(cfg.Path, cfg.SyncWrites)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Open builds the application on the backend configured in cfg.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	backend, err := OpenBackend(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Storage.Driver, err)
	}
	application, err := New(cfg, backend, nil, log)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return application, nil
}

// New builds a fully initialised application on backend. A nil clock uses
// the system clock.
func New(cfg config.Config, backend storage.Backend, clock ledger.Clock, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}

	capSecret := cfg.Auth.CapabilitySecret
	if capSecret == "" {
		capSecret = cfg.Auth.JWTSecret
	}
	caps, err := capability.NewAuthority([]byte(capSecret))
	if err != nil {
		return nil, err
	}
	authService, err := auth.New(cfg.Auth, log)
	if err != nil {
		return nil, err
	}

	bufferSize := cfg.Server.EventBuffer
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	hub := events.NewRingBuffer(bufferSize)
	a := &Application{
		manager:      system.NewManager(),
		log:          log,
		backend:      backend,
		Config:       cfg,
		Events:       hub,
		Capabilities: caps,
		Auth:         authService,
	}
	a.detached = append(a.detached, metrics.CountEvents(hub))

	engine := ledger.New(backend, clock,
		ledger.WithPublisher(hub),
		ledger.WithObserver(metrics.LedgerObserver{}),
		ledger.WithLogger(log),
	)
	a.Engine = engine

	a.Content = provenancesvc.New(engine, caps, cfg.Protocol, log)
	a.Verifiers = verifiersvc.New(engine, caps, a.Content, cfg.Protocol, log)
	a.Oracles = oraclesvc.New(engine, caps, cfg.Protocol, log)
	a.Access = accesssvc.New(engine, caps, cfg.Protocol, log)
	a.Admin = adminsvc.New(engine, caps, cfg.Auth.Admins, log)
	a.Sweeper = sweeper.New(cfg.Sweeper, a.Verifiers, a.Oracles, a.Admin, engine.Now, log)

	a.Dispatcher = oraclesvc.NewDispatcher(a.Oracles, a.Content, log)
	httpClient := &http.Client{Timeout: 10 * time.Second}
	for _, dc := range cfg.Detectors {
		client := httpClient
		if dc.Timeout > 0 {
			client = &http.Client{Timeout: dc.Timeout}
		}
		detector, err := oraclesvc.NewHTTPDetector(client, dc, log)
		if err != nil {
			return nil, fmt.Errorf("detector for %s: %w", dc.Oracle, err)
		}
		a.Dispatcher.WithDetector(dc.Oracle, detector)
	}

	services := []system.Service{a.Dispatcher}
	if cfg.Sweeper.Enabled {
		services = append(services, a.Sweeper)
	}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		exporter := events.NewRedisExporter(a.redis, cfg.Redis.Stream, log)
		a.detached = append(a.detached, exporter.Attach(hub))
		services = append(services, exporter)
	}
	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return a, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the managed background services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Close releases the backend and external clients. Call after Stop.
func (a *Application) Close() error {
	for _, detach := range a.detached {
		detach()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.backend.Close())
	return errors.Join(errs...)
}
