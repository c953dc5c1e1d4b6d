package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"canon-mcp/internal/adapter/ccapi"
	"canon-mcp/internal/adapter/mcpserver"
	"canon-mcp/internal/adapter/tool"
	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/config"
	"canon-mcp/internal/infra/logger"
	"canon-mcp/internal/infra/middleware"
	"canon-mcp/internal/infra/tracer"
)

// serveFlags override the server section of the config.
type serveFlags struct {
	transport string
	host      string
	port      int
}

func (f *serveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.transport, "transport", "", "MCP transport: http or stdio")
	cmd.Flags().StringVar(&f.host, "host", "", "HTTP listen host")
	cmd.Flags().IntVar(&f.port, "port", 0, "HTTP listen port")
}

func (f *serveFlags) apply(cfg *config.Config) {
	if f.transport != "" {
		cfg.Server.Transport = f.transport
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	sf := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the camera tools over MCP (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, sf)
		},
	}
	sf.register(cmd)
	return cmd
}

func runServe(ctx context.Context, flags *rootFlags, sf *serveFlags) error {
	// 1. Config
	cfg, err := loadConfig(flags, sf.apply)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	stdio := cfg.Server.Transport == "stdio"

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger, logger.Options{
		StdoutReserved: stdio,
		Attrs:          []slog.Attr{slog.String("camera", cfg.Camera.IP)},
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	var traceOut io.Writer = os.Stdout
	if stdio {
		traceOut = os.Stderr
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, traceOut)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
	}()

	// 3. Camera client
	client, err := newCameraClient(cfg, log)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	defer client.Close()
	probeCamera(ctx, client, log)

	// 4. Tools
	reg := tool.NewRegistry(log)
	if err := reg.RegisterAll(tool.NewCameraTools(client, tool.CameraToolsConfig{
		MaxListImages:        cfg.Tools.MaxListImages,
		MaxCapturesPerMinute: cfg.Tools.MaxCapturesPerMinute,
	}, log)...); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	// 5. MCP server
	srv, err := mcpserver.New(reg, mcpserver.Options{Name: "canon-mcp", Version: version, Logger: log})
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}

	if stdio {
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	}
	h := mcpserver.NewHTTPServer(srv, client, mcpserver.HTTPConfig{
		Addr:         cfg.ServerAddress(),
		EndpointPath: cfg.Server.EndpointPath,
		ReadTimeout:  cfg.Server.ReadTimeout,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerMin: cfg.Server.RequestsPerMin,
			BurstSize:      cfg.Server.BurstSize,
			TrustedProxies: cfg.Server.TrustedProxies,
		},
	}, log)
	if err := h.Start(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func newCameraClient(cfg *config.Config, log *slog.Logger) (*ccapi.Client, error) {
	ep, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	return ccapi.New(ccapi.Options{
		Endpoint:        ep,
		Timeouts:        cfg.Timeouts(),
		MinDownloadRate: cfg.Camera.MinDownloadRate,
		RetryBackoff:    cfg.Camera.ReadRetryBackoff,
		ZoomFallback:    domain.Range{Min: cfg.Camera.ZoomMin, Max: cfg.Camera.ZoomMax, Step: 1},
		Breaker: ccapi.BreakerSettings{
			MaxFailures: cfg.Camera.Breaker.MaxFailures,
			Timeout:     cfg.Camera.Breaker.Timeout,
			Interval:    cfg.Camera.Breaker.Interval,
		},
		CompressTarget: cfg.Tools.CompressTargetBytes,
		LiveViewTarget: cfg.Tools.LiveViewTargetBytes,
		Logger:         log,
	}), nil
}

// probeCamera tries to connect at startup. A camera that is off or asleep
// is not fatal; tools report Unreachable until it answers.
func probeCamera(ctx context.Context, client *ccapi.Client, log *slog.Logger) {
	info, err := client.Connect(ctx)
	if err != nil {
		log.Warn("camera not reachable at startup, tools will retry on use",
			"endpoint", client.Endpoint().String(), "error", err)
		return
	}
	log.Info("camera ready", "product", info.ProductName, "firmware", info.FirmwareVersion)
}
