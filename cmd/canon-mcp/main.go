package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"canon-mcp/internal/infra/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	cameraIP   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	serve := &serveFlags{}

	root := &cobra.Command{
		Use:   "canon-mcp",
		Short: "Control a Canon camera over CCAPI from an MCP client",
		Long: `canon-mcp bridges a Canon camera's CCAPI (HTTP control API) to the
Model Context Protocol. It exposes capture, zoom, focus, image listing and
download, shooting settings and live view as MCP tools.

Configuration comes from config.yaml (optional), then the environment
(CANON_IP, CANON_PORT, MCP_HOST, MCP_PORT, CANONMCP_*), then flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, serve)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "config file path")
	root.PersistentFlags().StringVar(&flags.cameraIP, "camera-ip", "", "camera address, overrides CANON_IP and the config file")
	serve.register(root)

	root.AddCommand(
		newServeCmd(flags),
		newDoctorCmd(flags),
		newEncryptCmd(),
	)
	return root
}

// loadConfig layers file, environment and flags, then validates.
func loadConfig(flags *rootFlags, override func(*config.Config)) (*config.Config, error) {
	return config.LoadWith(flags.configPath, func(cfg *config.Config) {
		if flags.cameraIP != "" {
			cfg.Camera.IP = flags.cameraIP
		}
		if override != nil {
			override(cfg)
		}
	})
}
