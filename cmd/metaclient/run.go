package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wlnet/metaclient/internal/api"
	"github.com/wlnet/metaclient/internal/cli"
	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/db"
	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/health"
	"github.com/wlnet/metaclient/internal/scheduler"
	"github.com/wlnet/metaclient/internal/telemetry"
	"github.com/wlnet/metaclient/internal/util"
)

type runOptions struct {
	noCLI   bool
	noLogin bool
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the metaserver and serve the CLI, API and telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noCLI, "no-cli", false, "Do not start the interactive CLI")
	cmd.Flags().BoolVar(&opts.noLogin, "no-login", false, "Do not log in on startup")
	return cmd
}

func run(flags *globalFlags, opts *runOptions) error {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting metaclient")

	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appData := cfg.GetApplicationData()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = appData.Logging.Level
	logCfg.Directory = appData.Logging.Directory
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
		appData = cfg.GetApplicationData()
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// History store. The typed nil must not reach the API and CLI, which
	// check their store against a plain nil.
	var (
		historyDB    *db.HistoryDatabase
		historyStore api.HistoryStore
		cliHistory   cli.HistoryStore
		pruner       scheduler.Pruner
	)
	if appData.History.Enabled {
		historyDB, err = db.NewHistoryDatabase(appData.History.DBPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
		} else {
			historyDB.Attach(eventBus)
			historyStore, cliHistory, pruner = historyDB, historyDB, historyDB
		}
	}

	metaConn := connector.NewMetaserverConnector(cfg, eventBus, nil)
	healthMgr := health.NewManager(cfg, metaConn)
	sched := scheduler.NewScheduler(cfg, pruner)

	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, metaConn, historyStore)
		apiServer.SetHealth(healthMgr)
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, func() interface{} { return metaConn.Status() })
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Shutdown requests from the CLI arrive on the bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		if e.Source == "main" {
			return nil
		}
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("server", cfg.GetMetaserver().Address()).Msg("starting metaserver connector")
		if err := metaConn.Run(ctx, !opts.noLogin); err != nil {
			errCh <- fmt.Errorf("metaserver connector: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// The CLI blocks on stdin, so it is not waited for on shutdown.
	if !opts.noCLI {
		cliHandler := cli.NewCLI(eventBus, metaConn, cliHistory, os.Stdin, os.Stdout)
		go func() {
			log.Info().Msg("starting interactive CLI")
			cliHandler.Start(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(ctx, events.Event{
		Type:   events.EventShutdown,
		Source: "main",
		Time:   time.Now(),
	})
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	if historyDB != nil {
		historyDB.Detach(eventBus)
		if err := historyDB.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history database")
		}
	}

	if err := cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to save configuration")
	}

	log.Info().Msg("metaclient stopped")
	return runErr
}

// startWithRetry attempts to start a listener with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
