package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mtzanidakis/meshwork/internal/ai"
	"github.com/mtzanidakis/meshwork/internal/architect"
	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/commands"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/ipc"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
	"github.com/mtzanidakis/meshwork/internal/router"
	"github.com/mtzanidakis/meshwork/internal/scheduler"
	"github.com/mtzanidakis/meshwork/internal/store"
	"github.com/mtzanidakis/meshwork/internal/telegram"
	"github.com/mtzanidakis/meshwork/internal/vault"
	"github.com/mtzanidakis/meshwork/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("meshwork %s\n", version)
		return
	case "gateway":
		err = runGateway()
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	case "vault":
		err = runVault(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: meshwork <command>

Commands:
  gateway    Start the meshwork gateway service
  backup     Write workspace, ecosystem and job catalog to an archive
  restore    Load an archive written by backup
  vault      Manage the sealed AI API key
  version    Print version
`)
}

// openKeyring returns nil when no vault passphrase is configured.
func openKeyring(cfg *config.Config, db *store.Store) (mesh.KeyStore, error) {
	if cfg.Vault.Passphrase == "" {
		return nil, nil
	}
	v, err := vault.New(cfg.Vault.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	return vault.NewKeyring(v, db), nil
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting meshwork gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	events, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer events.Close()

	keys, err := openKeyring(cfg, db)
	if err != nil {
		return err
	}
	if keys == nil {
		slog.Warn("vault passphrase not set, runtime api keys cannot be stored")
	}

	// Workspace, ecosystem and settings
	ws, err := mesh.NewWorkspaceStore(db)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	eco, err := mesh.NewEcosystemStore(db)
	if err != nil {
		return fmt.Errorf("load ecosystem: %w", err)
	}
	system, err := mesh.NewSystemStore(db, keys, cfg.AI.Model, cfg.AI.APIKey)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	aiClient := ai.NewClient(cfg.AI, system)
	arch := architect.New(ws, eco, aiClient)

	// Job queue and catalog
	queue, err := jobs.NewQueue(jobs.WithPersister(db), jobs.WithPublisher(events))
	if err != nil {
		return fmt.Errorf("init job queue: %w", err)
	}
	catalog := jobs.NewCatalog(db)

	// Command registry
	reg := command.NewRegistry()
	if err := commands.Register(reg); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	env := &command.Env{
		Workspace: ws,
		Ecosystem: eco,
		Jobs:      queue,
		Catalog:   catalog,
		System:    system,
		Architect: arch,
		AI:        aiClient,
		Logger:    slog.Default(),
	}
	slog.Info("commands registered", "count", len(reg.List()))

	// Background workers; wait for them before the store closes
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	proc := jobs.NewProcessor(queue, command.NewDispatcher(reg, env), cfg.Jobs.PollInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		proc.Run(ctx)
	}()

	sched := scheduler.New(catalog, queue, events, cfg.Scheduler, cfg.Jobs.Retention)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()
	slog.Info("scheduler started")

	// meshctl IPC
	ipcSrv := ipc.New(events, queue, reg, command.RoleOperator)
	if err := ipcSrv.Start(); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer ipcSrv.Stop()

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, router.New(reg, ws), queue, events)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		defer bot.Stop()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(cfg.Web, queue, proc, reg, catalog, ws, eco, bus, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	return nil
}
