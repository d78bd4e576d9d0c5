package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plutobridge/internal/backend"
	"plutobridge/internal/command"
	"plutobridge/internal/config"
	"plutobridge/internal/db"
	"plutobridge/internal/historydb"
	"plutobridge/internal/lifecycle"
	"plutobridge/internal/logging"
	"plutobridge/internal/mcpserver"
	"plutobridge/internal/notebook"
	"plutobridge/internal/render"
	"plutobridge/internal/worker"
)

var version = "dev"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:   config.LoadConfig,
		RunServe:     runServe,
		RunFmt:       runFmt,
		RunHistory:   runHistory,
		RunMigrateUp: runMigrateUp,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "plutobridge"}).Error("plutobridge failed", "err", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "plutobridge"})
	logger.Info("starting", "version", version, "server_url", cfg.ServerBaseURL)

	gdb, err := db.OpenSQLiteWithMigrations(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store, err := historydb.NewStore(gdb)
	if err != nil {
		return err
	}

	client := backend.NewClient(cfg.ServerBaseURL, backend.RealDialer{}, logger.With("module", "backend"))

	var manager *worker.Manager
	manager = worker.NewManager(worker.ManagerOptions{
		Backend:         client,
		Logger:          logger.With("module", "worker"),
		ReadFile:        os.ReadFile,
		FirstRunTimeout: cfg.FirstRunTimeout,
		OnSettle: func(path string, unit *worker.ExecutionUnit) {
			recordExecution(store, manager, logger, path, unit)
		},
	})

	manager.SubscribeEvents(func(e worker.Event) {
		if e.Kind == worker.EventNotebookOpened {
			if err := store.RecordOpen(e.Path); err != nil {
				logger.Warn("history record open failed", "path", e.Path, "err", err)
			}
		}
	})

	srv := mcpserver.New(manager, store, logger.With("module", "mcp"))

	lc := lifecycle.NewManager()
	lc.AddRun("mcp server", srv.Run)
	lc.AddRun("backend watch", func(runCtx context.Context) error {
		manager.WatchBackend(runCtx, cfg.PingInterval)
		return nil
	})
	lc.AddShutdown("sessions", func(shutdownCtx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer cancel()
		manager.CloseAll(shutdownCtx)
		return nil
	})
	lc.AddShutdown("database", func(context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return lc.StartAndWait(ctx)
}

// recordExecution persists a settled execution unit, including the cell's
// current code when the session still knows it.
func recordExecution(store *historydb.Store, manager *worker.Manager, logger *slog.Logger, path string, unit *worker.ExecutionUnit) {
	exec := historydb.Execution{
		NotebookPath: path,
		CellID:       unit.CellID,
		Errored:      unit.Errored,
		FailReason:   unit.FailReason,
		RuntimeNS:    unit.RuntimeNS,
	}
	if unit.Output != nil {
		rendered := render.Format(unit.Output.Mime, unit.Output.Body)
		exec.Mime = unit.Output.Mime
		exec.Output = rendered.Text
		if rendered.Kind == render.KindObject {
			exec.Output = render.Dump(unit.Output.Body)
		}
	}
	if manager != nil {
		if view, err := manager.ReadCell(context.Background(), path, unit.CellID); err == nil {
			exec.Code = view.Code
		}
	}
	if err := store.RecordExecution(exec); err != nil {
		logger.Warn("history record execution failed", "path", path, "cell_id", unit.CellID, "err", err)
	}
}

func runFmt(ctx context.Context, cfg config.Config, path string, write bool) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "plutobridge"})

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	nb, err := notebook.Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, warning := range nb.Warnings {
		logger.Warn("notebook warning", "path", path, "warning", warning)
	}
	out := notebook.Serialize(nb)
	if write {
		return os.WriteFile(path, []byte(out), 0o644)
	}
	_, err = fmt.Fprint(os.Stdout, out)
	return err
}

func runHistory(ctx context.Context, cfg config.Config, path string, limit int) error {
	gdb, err := db.OpenSQLiteWithMigrations(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	store, err := historydb.NewStore(gdb)
	if err != nil {
		return err
	}
	entries, err := store.ListExecutions(path, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		status := "ok"
		if e.Errored {
			status = "error"
			if e.FailReason != "" {
				status = "error (" + e.FailReason + ")"
			}
		}
		fmt.Fprintf(os.Stdout, "%s  %s  %s  %s  %s\n",
			e.CreatedAt.Format(time.RFC3339), e.NotebookPath, e.CellID, status, firstLine(e.Output))
	}
	return nil
}

func runMigrateUp(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "plutobridge"})
	gdb, err := db.OpenSQLiteWithMigrations(cfg.DBPath)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	logger.Info("migrations applied", "db_path", cfg.DBPath)
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
