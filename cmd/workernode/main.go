// Package main provides the workernode CLI entrypoint.
//
// Usage:
//
//	workernode run -config <path>
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: config error
//   - 2: startup failure (transport/collaborator construction)
//   - 3: engine crashed after starting
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workernode/collab"
	"github.com/pithecene-io/workernode/config"
	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/events"
	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/logbuffer"
	"github.com/pithecene-io/workernode/metrics"
	"github.com/pithecene-io/workernode/scheduler"
	"github.com/pithecene-io/workernode/transport"
	"github.com/pithecene-io/workernode/tui"
	"github.com/pithecene-io/workernode/types"
)

// Exit codes.
const (
	exitSuccess        = 0
	exitConfigError    = 1
	exitStartupFailure = 2
	exitEngineCrash    = 3
)

const agentVersion = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "workernode",
		Usage:   "Worker node fleet agent - polls the scheduler, executes tasks, reports status",
		Version: agentVersion,
		Commands: []*cli.Command{
			runCommand(),
			statusCommand(),
		},
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitStartupFailure)
	}
}

func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitStartupFailure)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the worker node daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to workernode.yaml",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "grace-period",
				Usage: "How long to wait for in-flight tasks to drain on shutdown",
				Value: 30 * time.Second,
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	if cfg.NodeID == "" {
		return cli.Exit("config error: node_id is required", exitConfigError)
	}

	logger := log.NewNodeLogger(cfg.NodeID)
	defer logger.Sync()

	nodeInfo := types.NodeInfo{
		NodeID:       cfg.NodeID,
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		Hostname:     hostname(),
		NumCPU:       runtime.NumCPU(),
		AgentVersion: agentVersion,
	}

	bus := events.NewBus()
	comm := transport.NewCommunicationManager(logger, bus)

	collector := metrics.NewCollector(cfg.NodeID)
	sched := scheduler.New(schedulerQueueSize(cfg.Engine.MaxConcurrent), collector)

	store, err := buildStore(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup error: %v", err), exitStartupFailure)
	}
	if store != nil {
		if err := sched.Restore(store); err != nil {
			logger.Warn("failed to restore persisted queue", map[string]any{"error": err.Error()})
		}
	}

	logBufCfg := logbuffer.DefaultConfig()
	logBufCfg.Logger = logger
	logBufCfg.Collector = collector
	logBuf := logbuffer.New(logBufCfg, func(ctx context.Context, batch types.LogBatch) bool {
		return comm.SendLogs(ctx, batch) == nil
	})

	deps := engine.Deps{
		Transport: comm,
		Scheduler: sched,
		LogBuffer: logBuf,
		Collector: collector,
		Logger:    logger,
		NodeInfo:  nodeInfo,
		Store:     store,
	}

	if err := wireCollaborators(c.Context, cfg, nodeInfo, &deps); err != nil {
		return cli.Exit(fmt.Sprintf("startup error: %v", err), exitStartupFailure)
	}

	eng := engine.New(cfg.EngineConfig(), deps)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := comm.Connect(connCtx, cfg.ConnectionConfig()); err != nil {
		return cli.Exit(fmt.Sprintf("startup error: failed to connect to master: %v", err), exitStartupFailure)
	}

	var debugListener net.Listener
	if cfg.Debug.Addr != "" {
		debugListener, err = eng.ListenDebug(cfg.Debug.Addr)
		if err != nil {
			logger.Warn("debug listener failed to start", map[string]any{"error": err.Error(), "addr": cfg.Debug.Addr})
		}
	}

	logger.Info("workernode starting", map[string]any{"node_id": cfg.NodeID, "max_concurrent": cfg.Engine.MaxConcurrent})
	eng.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining", map[string]any{})

	gracePeriod := c.Duration("grace-period")
	eng.Stop(gracePeriod)

	if debugListener != nil {
		debugListener.Close()
	}

	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer disconnectCancel()
	if err := comm.Disconnect(disconnectCtx); err != nil {
		logger.Warn("error disconnecting from master", map[string]any{"error": err.Error()})
	}

	logger.Info("workernode stopped", map[string]any{})
	return nil
}

// wireCollaborators constructs the optional engine.Deps collaborators from
// config, leaving any disabled section nil so the engine falls back to the
// degraded behavior spec.md §6 describes for a missing collaborator.
func wireCollaborators(ctx context.Context, cfg *config.Config, nodeInfo types.NodeInfo, deps *engine.Deps) error {
	envs := make([]collab.Env, 0, len(cfg.RuntimeEnvs))
	for _, e := range cfg.RuntimeEnvs {
		envs = append(envs, collab.Env{Name: e.Name, Version: e.Version, EnvVars: e.EnvVars})
	}
	deps.RuntimeManager = collab.NewRuntimeManager(nodeInfo, envs)

	registry := collab.NewRegistry()
	deps.PluginRegistry = registry

	if cfg.Fetcher.Enabled {
		retries := collab.DefaultFetchRetries
		if cfg.Fetcher.Retries != nil {
			retries = *cfg.Fetcher.Retries
		}
		fetcher, err := collab.NewFetcher(collab.FetcherConfig{
			CacheDir: cfg.Fetcher.CacheDir,
			Timeout:  cfg.Fetcher.Timeout.Duration,
			Retries:  retries,
		})
		if err != nil {
			return fmt.Errorf("fetcher: %w", err)
		}
		deps.ProjectFetcher = fetcher
	}

	if cfg.Artifacts.Enabled {
		artifacts, err := collab.NewArtifactManager(ctx, cfg.NodeID, collab.S3Config{
			Bucket:       cfg.Artifacts.Bucket,
			Prefix:       cfg.Artifacts.Prefix,
			Region:       cfg.Artifacts.Region,
			Endpoint:     cfg.Artifacts.Endpoint,
			UsePathStyle: cfg.Artifacts.S3PathStyle,
		})
		if err != nil {
			return fmt.Errorf("artifacts: %w", err)
		}
		deps.ArtifactManager = artifacts
	}

	if cfg.Logs.Enabled {
		logFactory, err := collab.NewLogManagerFactory(cfg.Logs.Dataset, cfg.Logs.Dir)
		if err != nil {
			return fmt.Errorf("logs: %w", err)
		}
		deps.LogManagerFactory = logFactory
	}

	deps.FlowController = collab.NewLimiter(cfg.Engine.MaxConcurrent)

	return nil
}

// buildStore constructs the scheduler's persistence backend from the
// queue config section, or returns a nil Store if persistence is disabled
// (no backend and no path/redis_url configured).
func buildStore(cfg *config.Config) (scheduler.Store, error) {
	q := cfg.Queue
	switch q.Backend {
	case "redis":
		if q.RedisURL == "" {
			return nil, fmt.Errorf("queue: backend redis requires redis_url")
		}
		retries := scheduler.DefaultRedisRetries
		if q.Retries != nil {
			retries = *q.Retries
		}
		key := q.RedisKey
		if key == "" {
			key = scheduler.DefaultRedisKey
		}
		timeout := q.Timeout.Duration
		if timeout <= 0 {
			timeout = scheduler.DefaultRedisTimeout
		}
		return scheduler.NewRedisStore(scheduler.RedisStoreConfig{
			URL:     q.RedisURL,
			Key:     key,
			Timeout: timeout,
			Retries: retries,
		})
	case "", "file":
		if q.Path == "" {
			return nil, nil
		}
		return scheduler.NewFileStore(q.Path), nil
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", q.Backend)
	}
}

func schedulerQueueSize(maxConcurrent int) int {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return maxConcurrent * 16
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Query a running worker node's debug status endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addr",
				Usage:    "Debug listener address (the config file's debug.addr)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Run a live-polling dashboard instead of a single snapshot",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval in --watch mode",
				Value: 2 * time.Second,
			},
		},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	addr := c.String("addr")

	if c.Bool("watch") {
		if err := tui.RunStatusTUI(addr, c.Duration("interval")); err != nil {
			return cli.Exit(fmt.Sprintf("status tui error: %v", err), exitStartupFailure)
		}
		return nil
	}

	s, err := tui.FetchStatus(addr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("status error: %v", err), exitStartupFailure)
	}

	fmt.Printf("running=%d capacity=%d queued=%d completed=%d failed=%d timed_out=%d reconnects=%d\n",
		s.RunningCount, s.MaxConcurrent, s.SchedulerDepth,
		s.Metrics.ExecutionsCompleted, s.Metrics.ExecutionsFailed, s.Metrics.ExecutionsTimedOut,
		s.Metrics.Reconnects)
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
