// Package app wires storage, source adapters, the rule engine and the HTTP
// surface into one process.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"dq-engine/config"
	"dq-engine/internal/alert"
	"dq-engine/internal/auth"
	"dq-engine/internal/catalog"
	"dq-engine/internal/logging"
	"dq-engine/internal/logs"
	"dq-engine/internal/middlewares"
	"dq-engine/internal/pipeline"
	"dq-engine/internal/rules"
	"dq-engine/internal/source"
	"dq-engine/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type App struct {
	Cfg   config.Config
	DB    *gorm.DB
	Log   *slog.Logger
	Clock clockwork.Clock

	Sources   *source.Registry
	databases *source.DatabaseAdapter
	Engine    *rules.Engine
	Runner    *pipeline.Runner
	Scheduler *pipeline.Scheduler

	Catalog   *catalog.CatalogService
	Alerts    *alert.AlertService
	Pipelines *pipeline.PipelineService
	Keys      *auth.APIKeyService
	Logs      *logs.LogService
}

// Models lists every persisted entity.
func Models() []any {
	models := catalog.Models()
	models = append(models, &alert.Alert{})
	models = append(models, pipeline.Models()...)
	models = append(models, auth.Models()...)
	return append(models, &logs.SystemLog{})
}

// New opens the database described by cfg and builds the application.
func New(cfg config.Config, log *slog.Logger) (*App, error) {
	log = logging.OrDefault(log)
	db, err := storage.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	return NewWithDB(cfg, db, log, nil)
}

// NewWithDB builds the application on an open database. A nil clock uses
// the wall clock.
func NewWithDB(cfg config.Config, db *gorm.DB, log *slog.Logger, clock clockwork.Clock) (*App, error) {
	log = logging.OrDefault(log)
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ruleCfg, err := config.LoadRuleConfig(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	a := &App{Cfg: cfg, DB: db, Log: log, Clock: clock}

	a.databases = source.NewDatabaseAdapter()
	a.Sources = source.NewRegistry()
	a.Sources.Register(catalog.DataSourceFile, source.NewFileAdapter())
	a.Sources.Register(catalog.DataSourceCloud, source.NewCloudAdapter())
	a.Sources.Register(catalog.DataSourceDatabase, a.databases)

	a.Engine = rules.NewEngine(log, rules.DefaultRules(ruleCfg)...)
	a.Runner = pipeline.NewRunner(db, a.Sources, a.Engine, pipeline.RunnerConfig{
		StepTimeout:        cfg.StepTimeout,
		HistoryWindow:      cfg.HistoryWindow,
		DistinctExactLimit: cfg.DistinctExactLimit,
		ResolveAfter:       cfg.AlertResolveAfter,
		Clock:              clock,
		Log:                log,
	})

	a.Catalog = catalog.NewCatalogService(db)
	a.Scheduler = pipeline.NewScheduler(a.Runner, a.Catalog, cfg.MaxConcurrentRuns, clock, log)
	a.Alerts = &alert.AlertService{DB: db}
	a.Pipelines = pipeline.NewPipelineService(a.Scheduler, a.Runner.Tracker, clock)
	a.Keys = auth.NewAPIKeyService(db, clock)
	a.Logs = logs.NewLogService(db, clock)

	log.Info("rule engine ready", "rules", len(a.Engine.Rules()))
	return a, nil
}

func (a *App) Migrate() error {
	if err := storage.Migrate(a.DB, Models()...); err != nil {
		return err
	}
	a.Log.Info("migrations applied")
	return nil
}

// Router builds the HTTP surface. Everything under /api requires
// authentication.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(a.Log))

	if len(a.Cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     a.Cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
		}))
	}

	r.GET("/healthz", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middlewares.AuthMiddleware(a.Cfg.JWTSecret, a.Keys))
	catalog.RegisterRoutes(api, a.Catalog, a.Logs)
	alert.RegisterRoutes(api, a.Alerts)
	pipeline.RegisterRoutes(api, a.Pipelines, a.Logs)
	auth.RegisterRoutes(api, a.Keys, a.Logs)
	logs.RegisterRoutes(api, a.Logs)
	return r
}

func (a *App) health(c *gin.Context) {
	sqlDB, err := a.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Close releases source connections and the metadata database.
func (a *App) Close() error {
	var errs []error
	if a.databases != nil {
		errs = append(errs, a.databases.Close())
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	} else {
		errs = append(errs, fmt.Errorf("db handle: %w", err))
	}
	return errors.Join(errs...)
}
