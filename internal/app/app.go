// Package app assembles the application: database, config, template
// catalog, stores, and session wiring shared by the CLI and the API
// server.
package app

import (
	"database/sql"
	"log/slog"
	"path/filepath"

	"fieldops/internal/config"
	"fieldops/internal/db"
	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/migrate"
	"fieldops/internal/registry"
	"fieldops/internal/report"
	"fieldops/internal/session"
	"fieldops/internal/store"
	"fieldops/internal/template"
	"fieldops/internal/uploads"
)

type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Store     store.Store
	Templates *template.Store
	Registry  registry.Registry
	Events    events.Writer
	Logger    *slog.Logger
}

// Open prepares the workspace: database opened and migrated, config
// loaded (defaults when fieldops.yml is absent), template catalog
// validated.
func Open(workspace string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	templates, err := template.New()
	if err != nil {
		conn.Close()
		return nil, err
	}
	st := store.New(conn)
	return &App{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Store:     st,
		Templates: templates,
		Registry:  registry.New(st, logger),
		Events:    events.Writer{DB: conn},
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// NewQueue builds and starts an upload queue per the config: simulated
// while offline mode is on, HTTP against the media endpoint otherwise.
func (a *App) NewQueue() *uploads.Queue {
	var up uploads.Uploader
	if a.Config.Uploads.Simulate {
		up = &uploads.SimulatedUploader{Latency: a.Config.SimulatedLatency()}
	} else {
		up = uploads.NewHTTPUploader(a.Config.Uploads.Endpoint, a.Config.UploadTimeout())
	}
	q := uploads.New(uploads.Options{
		Uploader: up,
		Timeout:  a.Config.UploadTimeout(),
		Workers:  a.Config.Uploads.Workers,
		Logger:   a.Logger,
	})
	q.Start(a.Config.Uploads.Workers)
	return q
}

// Exporter builds the export fan-out: a JSON file per completion, plus
// any configured webhooks.
func (a *App) Exporter() report.Exporter {
	dir := a.Config.Export.Dir
	if dir == "" {
		dir = "reports"
	}
	targets := report.MultiExporter{report.FileExporter{Dir: filepath.Join(a.Workspace, dir)}}
	if len(a.Config.Export.Webhooks) > 0 {
		targets = append(targets, report.NewWebhookExporter(a.Config.Export.Webhooks))
	}
	return targets
}

// NewSession builds an unstarted session controller wired to the app.
func (a *App) NewSession(queue *uploads.Queue) *session.Controller {
	return session.New(session.Deps{
		Config:    a.Config,
		Store:     a.Store,
		Templates: a.Templates,
		Registry:  a.Registry,
		Events:    a.Events,
		Queue:     queue,
		Exporter:  a.Exporter(),
		Logger:    a.Logger,
	})
}

// SessionContext resolves the session context, falling back to config
// defaults for unset fields.
func (a *App) SessionContext(season, occupancy string) domain.SessionContext {
	if season == "" {
		season = a.Config.Context.Season
	}
	if occupancy == "" {
		occupancy = a.Config.Context.Occupancy
	}
	return domain.SessionContext{Season: season, Occupancy: occupancy}
}
