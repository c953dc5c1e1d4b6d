package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"canon-mcp/internal/adapter/mcpserver"
	"canon-mcp/internal/infra/config"
	"canon-mcp/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

var (
	colorPass  = lipgloss.AdaptiveColor{Light: "#16A34A", Dark: "#4ADE80"}
	colorWarn  = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	colorFail  = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}
	colorMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}

	styleTitle = lipgloss.NewStyle().Bold(true)
	stylePass  = lipgloss.NewStyle().Foreground(colorPass).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	styleFail  = lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)
)

type doctorFlags struct {
	probeURL string
	timeout  time.Duration
}

func newDoctorCmd(flags *rootFlags) *cobra.Command {
	df := &doctorFlags{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, camera reachability and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgErr := loadConfig(flags, nil)
			checks := []Check{
				{Name: "Config file", Fn: checkConfigFile(flags.configPath, cfgErr)},
				{Name: "Camera address", Fn: checkCameraAddress},
				{Name: "Camera CCAPI", Fn: checkCamera(df.timeout)},
				{Name: "MCP endpoint", Fn: checkMCP(df.probeURL, df.timeout)},
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), cfg, checks)
		},
	}
	cmd.Flags().StringVar(&df.probeURL, "probe-url", "", "MCP endpoint to probe, defaults to the configured server address")
	cmd.Flags().DurationVar(&df.timeout, "timeout", 5*time.Second, "per-check timeout")
	return cmd
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, styleTitle.Render("canon-mcp doctor"))
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      %s\n", styleMuted.Render("Fix: "+result.Fix))
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before connecting an MCP client.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\ncanon-mcp should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return stylePass.Render("[PASS]")
	case StatusWarn:
		return styleWarn.Render("[WARN]")
	case StatusFail:
		return styleFail.Render("[FAIL]")
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config loaded. A missing file only
// warns since environment variables alone are a valid setup.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			var ve *config.ValidationError
			if errors.As(cfgErr, &ve) {
				return CheckResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("%d invalid setting(s): %s", len(ve.Errors), strings.Join(ve.Errors, "; ")),
					Fix:     "Set CANON_IP or --camera-ip, and check " + cfgPath,
				}
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and permissions (0600)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkCameraAddress verifies the camera host resolves.
func checkCameraAddress(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	host := cfg.Camera.IP
	if net.ParseIP(host) != nil {
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s:%d", host, cfg.Camera.Port)}
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot resolve %q", host),
			Fix:     "Use the camera's IP address shown under Network settings > CCAPI",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s resolves to %s", host, addrs[0])}
}

// checkCamera connects to the camera and reads its device information.
func checkCamera(timeout time.Duration) func(context.Context, *config.Config) CheckResult {
	return func(ctx context.Context, cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
		}
		client, err := newCameraClient(cfg, logger.Discard())
		if err != nil {
			return CheckResult{Status: StatusFail, Message: err.Error()}
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		info, err := client.Connect(ctx)
		if err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: err.Error(),
				Fix:     "Turn the camera on, enable CCAPI and join the same network",
			}
		}
		msg := info.ProductName
		if info.FirmwareVersion != "" {
			msg += " firmware " + info.FirmwareVersion
		}
		if info.ZoomRange == nil {
			return CheckResult{Status: StatusWarn, Message: msg + ", zoom range not reported"}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s, zoom %s", msg, info.ZoomRange)}
	}
}

// checkMCP probes a running canon-mcp HTTP endpoint. No listener is only a
// warning because doctor usually runs before serve.
func checkMCP(probeURL string, timeout time.Duration) func(context.Context, *config.Config) CheckResult {
	return func(ctx context.Context, cfg *config.Config) CheckResult {
		url := probeURL
		if url == "" {
			if cfg == nil {
				return CheckResult{Status: StatusWarn, Message: "skipped, config not loaded"}
			}
			if cfg.Server.Transport == "stdio" {
				return CheckResult{Status: StatusPass, Message: "stdio transport, nothing to probe"}
			}
			url = "http://" + cfg.ServerAddress() + cfg.Server.EndpointPath
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := mcpserver.Probe(ctx, url)
		if err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no MCP server at %s", url),
				Fix:     "Start it with 'canon-mcp serve'",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s %s, %d tools", res.ServerName, res.ServerVersion, len(res.Tools)),
		}
	}
}
