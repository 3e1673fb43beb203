package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sebogh/readoutq/internal/config"
	"github.com/sebogh/readoutq/internal/emulator"
	"github.com/sebogh/readoutq/internal/frame"
	"github.com/sebogh/readoutq/internal/monitor"
	"github.com/sebogh/readoutq/internal/queue"
	"github.com/sebogh/readoutq/internal/readout"
	"github.com/sebogh/readoutq/internal/recorder"
	"github.com/sebogh/readoutq/internal/runctl"
)

const (
	shutdownTimeout = 10 * time.Second
	hubDepth        = 60
)

var (
	runConfigFile string
	runListen     string
	runDebug      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a readout chain until interrupted",
	Long: `Build the buffer, the emulated source, the recorder (or the cleaner when
recording is disabled) and the window requester from the config file, then
configure and start them. SIGINT or SIGTERM stops and scraps the chain.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigFile, "config", "readoutq.yaml", "Path to config YAML file")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Address serving /metrics and /ws (overrides monitor.listen)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if runDebug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "readoutq").Logger()

	cfg, err := config.LoadFromFile(runConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("listen") {
		cfg.Monitor.Listen = runListen
	}

	stats, ctrl, err := build(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.Monitor.Listen != "" {
		srv, err = serve(ctx, cfg.Monitor, stats, logger)
		if err != nil {
			return err
		}
	}

	if err := ctrl.Event(ctx, runctl.EventConf); err != nil {
		return err
	}
	if err := ctrl.Event(ctx, runctl.EventStart); err != nil {
		return errors.Join(err, ctrl.Event(context.Background(), runctl.EventScrap))
	}
	logger.Info().
		Int("capacity", cfg.Buffer.Capacity).
		Str("lookup", cfg.Buffer.LookupStrategy).
		Bool("recorder", cfg.Recorder.Enabled).
		Bool("requester", cfg.Requester.Enabled).
		Msg("readout running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = errors.Join(
		ctrl.Event(shutdownCtx, runctl.EventStop),
		ctrl.Event(shutdownCtx, runctl.EventScrap),
	)
	if srv != nil {
		err = errors.Join(err, srv.Shutdown(shutdownCtx))
	}
	return err
}

// build wires the buffer and the modules. Consumers are registered before
// the emulator so that they start first and stop last.
func build(cfg *config.Config, logger zerolog.Logger) (*readoutStats, *runctl.Controller, error) {
	rb := queue.NewRingBuffer[frame.SuperChunk](cfg.Buffer.Capacity)
	strategy, err := queue.ParseStrategy(cfg.Buffer.LookupStrategy)
	if err != nil {
		return nil, nil, err
	}
	lookup, err := queue.NewLookup(rb, strategy)
	if err != nil {
		return nil, nil, err
	}

	stats := &readoutStats{rb: rb}
	var modules []runctl.Module

	if cfg.Recorder.Enabled {
		stats.recorder = recorder.New[frame.SuperChunk]("recorder", cfg.Recorder, rb, logger)
		modules = append(modules, stats.recorder)
	} else {
		stats.cleaner, err = readout.NewCleaner(cfg.Cleaner, rb, logger)
		if err != nil {
			return nil, nil, err
		}
		modules = append(modules, stats.cleaner)
	}

	if cfg.Requester.Enabled {
		stats.requester = readout.NewRequester("requester", cfg.Requester, rb, lookup, logger)
		modules = append(modules, stats.requester)
	}

	stats.emulator = emulator.New[frame.SuperChunk]("emulator", cfg.Emulator, rb, frame.Decode, frame.ChunkSize, logger)
	modules = append(modules, stats.emulator)

	stats.ctrl = runctl.New(logger, modules...)
	return stats, stats.ctrl, nil
}

// serve starts the metrics and websocket endpoints. They stay up across
// run-control transitions and shut down with the process.
func serve(ctx context.Context, cfg config.MonitorConfig, stats *readoutStats, logger zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	hub := monitor.NewHub(monitor.NewGathererStore(hubDepth, stats), logger)
	go hub.Run(ctx, cfg.StatsInterval)

	srv := &http.Server{
		Handler:           monitor.Handler(stats, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("listen", ln.Addr().String()).Msg("serving /metrics and /ws")
	return srv, nil
}
