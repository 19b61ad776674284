package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jjestrada2/farmane/internal/alert"
	"github.com/jjestrada2/farmane/internal/cancel"
	"github.com/jjestrada2/farmane/internal/config"
	"github.com/jjestrada2/farmane/internal/db"
	"github.com/jjestrada2/farmane/internal/geoprocessing"
	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/lock"
	"github.com/jjestrada2/farmane/internal/logging"
	"github.com/jjestrada2/farmane/internal/notify"
	"github.com/jjestrada2/farmane/internal/observability"
	"github.com/jjestrada2/farmane/internal/orchestrator"
	"github.com/jjestrada2/farmane/internal/postgis"
	"github.com/jjestrada2/farmane/internal/prompts"
	"github.com/jjestrada2/farmane/internal/sandbox"
	"github.com/jjestrada2/farmane/internal/storage"
	"github.com/jjestrada2/farmane/internal/store"
	"github.com/jjestrada2/farmane/internal/tools"
	"github.com/jjestrada2/farmane/internal/workspace"
)

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// app is the fully wired service graph shared by serve and the local chat
// commands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	store     *store.Store
	workspace *workspace.Workspace
	locks     *lock.Locker
	flags     *cancel.Flags
	metrics   *observability.Metrics
	hub       *notify.Hub
	service   *orchestrator.Service

	closers []func() error
}

type appOpts struct {
	// Notifier replaces the websocket hub; the local chat commands print
	// to the terminal instead.
	Notifier notify.Notifier
}

func buildApp(ctx context.Context, configPath string, opts appOpts) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: gormDB}
	a.closers = append(a.closers, func() error {
		log.Sync()
		return nil
	})

	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, opts appOpts) error {
	cfg := a.cfg
	var err error

	if a.store, err = store.New(store.Opts{DB: a.db}); err != nil {
		return err
	}
	if a.workspace, err = workspace.New(a.db); err != nil {
		return err
	}
	hostname, _ := os.Hostname()
	a.locks = lock.New(a.db, cfg.Orchestrator.LockTTL, hostname+"/"+uuid.NewString())
	a.flags = cancel.New(a.db, cfg.Orchestrator.CancelTTL)
	a.metrics = observability.NewMetrics()

	notifier := opts.Notifier
	if notifier == nil {
		a.hub = notify.NewHub(a.log.Named("notify"))
		a.closers = append(a.closers, func() error {
			a.hub.Close()
			return nil
		})
		notifier = a.hub
	}

	deps := tools.Deps{
		Workspace: a.workspace,
		PostGIS:   postgis.PGXConnector{StatementTimeout: cfg.PostGIS.StatementTimeout},
		Notifier:  notifier,
		Logger:    a.log,
		PutURLTTL: cfg.Storage.PutURLTTL,
	}
	if deps.Catalog, err = geoprocessing.LoadCatalog(cfg.Geoprocessing.CatalogPath); err != nil {
		return err
	}
	if cfg.Storage.Bucket != "" {
		gcs, err := storage.NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, gcs.Close)
		deps.Storage = gcs
		deps.Locator = &storage.Locator{
			Store:       gcs,
			Exporter:    storage.OGR2OGR{Binary: cfg.Storage.OGR2OGRPath},
			Connections: a.workspace,
			GetTTL:      cfg.Storage.GetURLTTL,
			ExportTTL:   cfg.Storage.ExportURLTTL,
		}
	}
	if cfg.Geoprocessing.URL != "" {
		gp, err := geoprocessing.NewClient(geoprocessing.Options{
			BaseURL:      cfg.Geoprocessing.URL,
			Timeout:      cfg.Geoprocessing.Timeout,
			PollInterval: cfg.Geoprocessing.PollInterval,
			MaxWait:      cfg.Geoprocessing.MaxWait,
		})
		if err != nil {
			return err
		}
		deps.Geoprocessor = gp
	}
	if cfg.Sandbox.URL != "" {
		sb, err := sandbox.NewClient(cfg.Sandbox.URL, &http.Client{Timeout: cfg.Sandbox.Timeout})
		if err != nil {
			return err
		}
		deps.Sandbox = sb
	}
	dispatcher, err := tools.New(deps)
	if err != nil {
		return err
	}

	alerts, err := buildAlerts(cfg.Alerts)
	if err != nil {
		return err
	}
	system, err := prompts.NewDefault()
	if err != nil {
		return err
	}
	client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)

	loop, err := orchestrator.NewLoop(orchestrator.LoopOpts{
		Messages: a.store,
		LLM:      client,
		Params: llm.StaticParams{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		Prompts:   system,
		Tools:     dispatcher,
		Cancel:    a.flags,
		Notifier:  notifier,
		Alerts:    alerts,
		Metrics:   a.metrics,
		Logger:    a.log,
		MaxRounds: cfg.Orchestrator.MaxRounds,
	})
	if err != nil {
		return err
	}

	sopts := orchestrator.ServiceOpts{
		Conversations: a.store,
		Maps:          a.workspace,
		Locker:        a.locks,
		Cancel:        a.flags,
		Loop:          loop,
		Metrics:       a.metrics,
		Logger:        a.log,
	}
	if cfg.Orchestrator.LabelTitles {
		sopts.Labeler = store.NewLabeler(a.store, client, cfg.LLM.TitleModel, a.log)
	}
	a.service, err = orchestrator.NewService(sopts)
	return err
}

func buildAlerts(cfg config.AlertsConfig) (alert.Sink, error) {
	var sinks alert.Multi
	if cfg.Slack.Enabled() {
		s, err := alert.NewSlack(cfg.Slack.Token, cfg.Slack.ChannelID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Discord.Enabled() {
		d, err := alert.NewDiscord(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	if len(sinks) == 0 {
		return alert.Nop{}, nil
	}
	return sinks, nil
}

// Close waits for background work, then releases resources in reverse
// order of acquisition.
func (a *app) Close() error {
	if a.service != nil {
		a.service.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
