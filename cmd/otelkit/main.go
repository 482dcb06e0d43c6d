// Package main implements the otelkit CLI: it validates telemetry
// configuration and runs a diagnostics server on top of the pipeline the
// configuration describes.
//
// Usage:
//
//	# Check a configuration file, environment overrides applied
//	otelkit validate --config otelkit.yaml
//
//	# Serve /health, /metrics and /api/v1/context
//	OTELKIT_METRICS_PROMETHEUS=true otelkit serve --config otelkit.yaml --port 9464
//
//	# Check a running server
//	otelkit health --server http://localhost:9464
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/otelkit/internal/server"
	"github.com/fyrsmithlabs/otelkit/pkg/telemetry"
)

// version information (set via ldflags during build)
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "otelkit",
		Short: "Telemetry pipeline bootstrap and diagnostics",
		Long: `otelkit loads a telemetry configuration (YAML plus OTELKIT_* environment
overrides), builds the trace, metric and log pipeline it describes, and serves
diagnostics endpoints for it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")

	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newHealthCmd())
	return root
}

func loadConfig(path string) (*telemetry.Config, error) {
	cfg, err := telemetry.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newValidateCmd prints the effective configuration. Header values are
// redacted.
func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and print the effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install the pipeline and serve diagnostics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, &server.Config{Host: host, Port: port})
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "listen host")
	cmd.Flags().IntVar(&port, "port", 9464, "listen port")
	return cmd
}

// serve blocks until ctx is cancelled, then stops the server and flushes the
// pipeline within the configured shutdown timeout.
func serve(ctx context.Context, cfg *telemetry.Config, srvCfg *server.Config) error {
	tel, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	srv, err := server.NewServer(tel, srvCfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return tel.Shutdown(shutdownCtx)
}

func newHealthCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running otelkit server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth(cmd.Context(), cmd.OutOrStdout(), serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9464", "otelkit server URL")
	return cmd
}

func checkHealth(ctx context.Context, out io.Writer, serverURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "Status: %s\n", health.Status)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}
