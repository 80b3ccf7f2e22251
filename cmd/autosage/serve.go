package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	appconfig "github.com/autosage/autosage/internal/config"
	"github.com/autosage/autosage/internal/engine"
	"github.com/autosage/autosage/internal/httpapi"
	"github.com/autosage/autosage/internal/jobs"
	"github.com/autosage/autosage/internal/observability"
	"github.com/autosage/autosage/internal/orchestrator"
	"github.com/autosage/autosage/internal/planner"
	"github.com/autosage/autosage/internal/requestid"
	"github.com/autosage/autosage/internal/session"
	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/tools/echo"
	"github.com/autosage/autosage/internal/tools/meshfit"
	"github.com/autosage/autosage/internal/tools/render"
	"github.com/autosage/autosage/internal/toolreg"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AutoSage HTTP server",
		Long: `Start the AutoSage HTTP server with the tool registry, execution engine,
job store, and session manifold wired behind one HTTP surface.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := serveOverrides{}
			if cmd.Flags().Changed("host") {
				overrides.host = &host
			}
			if cmd.Flags().Changed("port") {
				overrides.port = &port
			}
			if cmd.Flags().Changed("log-level") {
				overrides.logLevel = &logLevel
			}
			return runServe(cmd.Context(), configPath, overrides)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to bind the HTTP listener to")
	cmd.Flags().IntVar(&port, "port", 8080, "Port to bind the HTTP listener to")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	return cmd
}

type serveOverrides struct {
	host     *string
	port     *int
	logLevel *string
}

func runServe(ctx context.Context, configPath string, overrides serveOverrides) error {
	cfg := appconfig.Default()
	if configPath != "" {
		loaded, err := appconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if overrides.host != nil {
		cfg.Server.Host = *overrides.host
	}
	if overrides.port != nil {
		cfg.Server.Port = *overrides.port
	}
	if overrides.logLevel != nil {
		cfg.Server.LogLevel = *overrides.logLevel
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Server.LogLevel})
	slog.SetDefault(logger)

	logger.Info("starting autosage", "version", version, "host", cfg.Server.Host, "port", cfg.Server.Port)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TraceConfig{ServiceName: "autosage", ServiceVersion: version, Endpoint: cfg.Observability.OTLPEndpoint})
	if err != nil {
		logger.Warn("trace export unavailable", "error", err)
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	registry, err := buildRegistry()
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	sandbox, err := buildSandbox(cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("build sandbox: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	gen := requestid.New()

	eng, err := engine.New(engine.Config{
		Registry:       registry,
		RunRoot:        cfg.Engine.RunRoot,
		Concurrency:    cfg.Engine.Concurrency,
		DefaultLimits:  cfg.Engine.DefaultLimits,
		Sandbox:        sandbox,
		Logger:         logger,
		Metrics:        metrics,
		JobIDAllocator: gen.Job,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	jobStore, err := buildJobStore(ctx, cfg.Jobs, gen, logger)
	if err != nil {
		return fmt.Errorf("build job store: %w", err)
	}

	dispatcher := jobs.NewDispatcher(jobStore, func(ctx context.Context, jobID, toolName string, input structured.Value) toolapi.ToolResult {
		return eng.Execute(ctx, engine.Request{ToolName: toolName, Input: input, JobID: jobID, JobDirectory: jobStore.JobDirectory(jobID)}).Result
	})

	pruner, err := jobs.NewPruner(jobStore, jobs.PrunerConfig{Schedule: cfg.Jobs.PruneSchedule, Retention: cfg.Jobs.PruneAfter, Logger: logger})
	if err != nil {
		logger.Warn("job pruner disabled", "error", err)
	} else {
		pruner.Start(ctx)
		defer pruner.Stop()
	}

	sessions, err := session.New(session.Config{Root: cfg.Session.Root})
	if err != nil {
		return fmt.Errorf("build session manifold: %w", err)
	}

	orch := orchestrator.New(sessions, eng)

	planSource, err := buildPlanSource(ctx, cfg.Planner, registry)
	if err != nil {
		logger.Warn("plan source unavailable, chat endpoint will error", "error", err)
	}

	httpapi.Version = version
	server, err := httpapi.New(httpapi.Config{
		Registry:     registry,
		Engine:       eng,
		Jobs:         jobStore,
		Dispatcher:   dispatcher,
		Sessions:     sessions,
		Orchestrator: orch,
		PlanSource:   planSource,
		Generator:    gen,
		Metrics:      metrics,
		Logger:       logger,
		MaxBodyBytes: cfg.Engine.MaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, addr)
	}()

	logger.Info("autosage server started", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRegistry() (*toolreg.Registry, error) {
	b := toolreg.NewBuilder()
	for _, build := range []func() (toolreg.Descriptor, error){echo.Descriptor, meshfit.Descriptor, render.Descriptor} {
		desc, err := build()
		if err != nil {
			return nil, err
		}
		if err := b.Register(desc); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func buildSandbox(cfg appconfig.EngineConfig, logger *slog.Logger) (engine.Sandbox, error) {
	if cfg.Sandbox != "microvm" {
		return engine.DirectSandbox{}, nil
	}
	sandbox, ok := engine.NewMicroVMSandbox(cfg.JailerBinary, cfg.MicroVMKernel, cfg.MicroVMRootDrive, logger)
	if !ok {
		logger.Warn("microvm sandbox requested but unavailable, falling back to direct")
		return engine.DirectSandbox{}, nil
	}
	return sandbox, nil
}

func buildJobStore(ctx context.Context, cfg appconfig.JobsConfig, gen *requestid.Generator, logger *slog.Logger) (*jobs.FileStore, error) {
	storeCfg := jobs.Config{RunRoot: cfg.RunRoot, Generator: gen, Logger: logger}

	switch cfg.Index {
	case "postgres":
		idx, err := jobs.OpenSQLIndex(ctx, "postgres", cfg.IndexDSN)
		if err != nil {
			logger.Warn("postgres job index unavailable, continuing without it", "error", err)
		} else {
			storeCfg.Index = idx
		}
	case "sqlite", "":
		idx, err := jobs.OpenSQLIndex(ctx, "sqlite", cfg.IndexDSN)
		if err != nil {
			logger.Warn("sqlite job index unavailable, continuing without it", "error", err)
		} else {
			storeCfg.Index = idx
		}
	}

	if cfg.MirrorBucket != "" {
		mirror, err := jobs.NewS3Mirror(ctx, cfg.MirrorBucket, cfg.MirrorRegion)
		if err != nil {
			logger.Warn("artifact mirror unavailable, continuing without it", "error", err)
		} else {
			storeCfg.Mirror = mirror
		}
	}

	return jobs.NewFileStore(storeCfg)
}

// buildPlanSource resolves the configured backend to a planner.Source.
// Each branch assigns into a concrete local before returning it as the
// interface, rather than returning a constructor's result tuple directly:
// a failed constructor's nil *T would otherwise convert to a non-nil
// planner.Source wrapping a nil pointer, which panics on first use.
func buildPlanSource(ctx context.Context, cfg appconfig.PlannerConfig, registry *toolreg.Registry) (planner.Source, error) {
	switch cfg.Backend {
	case "anthropic":
		src, err := planner.NewAnthropicPlanSource(planner.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.Model, System: cfg.System}, registry)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "openai":
		src, err := planner.NewOpenAIPlanSource(planner.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.Model, System: cfg.System}, registry)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "bedrock":
		src, err := planner.NewBedrockPlanSource(ctx, planner.BedrockConfig{Region: cfg.BedrockRegion, Model: cfg.Model, System: cfg.System}, registry)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "genai":
		src, err := planner.NewGenAIPlanSource(ctx, planner.GenAIConfig{APIKey: cfg.GenAIAPIKey, Model: cfg.Model, System: cfg.System}, registry)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		src, err := buildStaticPlanSource(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func buildStaticPlanSource(fixturePath string) (*planner.StaticPlanSource, error) {
	if fixturePath == "" {
		return planner.NewStaticPlanSource(planner.Plan{Ack: "Ready."}), nil
	}
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		return nil, fmt.Errorf("read plan fixture: %w", err)
	}
	var script []planner.Plan
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse plan fixture: %w", err)
	}
	return planner.NewStaticPlanSource(script...), nil
}
