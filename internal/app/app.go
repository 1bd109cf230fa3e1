// Package app wires configuration into a running roster backend.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/pokeroster/internal/catalog"
	"github.com/DoyleJ11/pokeroster/internal/config"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/hub"
	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/DoyleJ11/pokeroster/internal/metrics"
	"github.com/DoyleJ11/pokeroster/internal/service"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/DoyleJ11/pokeroster/internal/store/mongo"
	"github.com/DoyleJ11/pokeroster/internal/store/postgres"
	"go.uber.org/zap"
)

// OpenStore selects the roster backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.Storage, log *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case store.DriverMemory, "":
		return store.NewMemory(), nil
	case store.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: cfg.PostgresDSN, Channel: cfg.NotifyChannel}, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	case store.DriverMongo:
		s, err := mongo.New(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, log)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

type App struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Store   store.Store
	Hub     *hub.Hub
	Roster  *service.Service
	Catalog *catalog.Client
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	m := metrics.New()

	cat, err := catalog.New(catalog.Config{
		BaseURL:           cfg.Catalog.BaseURL,
		Timeout:           cfg.Catalog.Timeout.Std(),
		CacheTTL:          cfg.Catalog.CacheTTL.Std(),
		CacheSize:         cfg.Catalog.CacheSize,
		PageLimit:         cfg.Catalog.PageLimit,
		PrimaryLanguage:   cfg.Catalog.PrimaryLanguage,
		SecondaryLanguage: cfg.Catalog.SecondaryLanguage,
	}, log, m)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	s, err := OpenStore(ctx, cfg.Storage, log.Named("store"))
	if err != nil {
		return nil, err
	}

	h := hub.NewHub(ctx, s, cfg.Roster.TeamCap, log, m)
	svc := service.New(s, h, service.Options{
		TeamCap:           cfg.Roster.TeamCap,
		SessionCodeLength: cfg.Roster.SessionCodeLength,
		OverfillTeam:      cfg.Roster.OverfillTeam,
	}, log, m)

	return &App{
		Config:  cfg,
		Log:     log,
		Metrics: m,
		Store:   s,
		Hub:     h,
		Roster:  svc,
		Catalog: cat,
	}, nil
}

// NewController builds a view controller bound to ctx. st remembers its session.
func (a *App) NewController(ctx context.Context, st localstate.State) *controller.Controller {
	return controller.New(ctx, a.Roster, a.Catalog, st, controller.Options{
		Concurrency: a.Config.Catalog.Concurrency,
	}, a.Log)
}

// WatchChanges relays writes made by other processes into live feeds until ctx
// ends. Mongo change streams need a replica set and are opt-in.
func (a *App) WatchChanges(ctx context.Context) error {
	if a.Config.Storage.Driver == store.DriverMongo && !a.Config.Storage.MongoWatch {
		return nil
	}
	err := a.Roster.WatchChanges(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops every feed and releases the store.
func (a *App) Close() error {
	a.Hub.Shutdown()
	<-a.Hub.Done()
	return a.Store.Close()
}
