package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/app"
	"github.com/nupi-ai/warp/internal/session"
	warpversion "github.com/nupi-ai/warp/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "warpd",
		Short:         "Warp client runtime - keeps the realtime channel open and hosts plugins",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = warpversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := rootCmd.Flags()
	flags.String("config-dir", "", "Configuration directory (default $WARP_CONFIG_DIR or ./config)")
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	flags.Bool("connect", false, "Open the realtime channel (default warp_client.auto_connect)")
	flags.String("health-address", "", "gRPC health listener, host:port or unix:///path (default daemon.health_address)")
	flags.String("metrics-address", "", "Prometheus metrics listener (default daemon.metrics_address)")
	flags.String("token-name", "", "Vault token to authenticate with at startup (default authentication.default_token)")
	return rootCmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	logLevel, _ := cmd.Flags().GetString("log-level")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := app.New(ctx, app.Options{ConfigDir: configDir, LogLevel: logLevel})
	if err != nil {
		return err
	}
	defer rt.Shutdown()
	logger := rt.Logger

	opts := runOptions(cmd, rt)
	logger.Info("warpd starting",
		zap.Int("pid", os.Getpid()),
		zap.String("version", warpversion.String()),
		zap.String("config_dir", rt.Config.Paths().Dir),
		zap.Bool("transport", opts.Transport))

	_ = rt.LoadPlugins(ctx)

	tokenName, _ := cmd.Flags().GetString("token-name")
	if tokenName == "" {
		tokenName = rt.Config.GetString("authentication.default_token", "")
	}
	if tokenName != "" {
		rt.Session.Authenticate(ctx, session.Credential{TokenName: tokenName})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := rt.Run(ctx, opts); err != nil {
		logger.Error("warpd stopped with error", zap.Error(err))
		return err
	}
	logger.Info("warpd stopped")
	return nil
}

// runOptions applies explicitly set flags over the daemon section.
func runOptions(cmd *cobra.Command, rt *app.Runtime) app.RunOptions {
	opts := app.RunOptionsFromConfig(rt.Config)
	flags := cmd.Flags()
	if flags.Changed("connect") {
		opts.Transport, _ = flags.GetBool("connect")
	}
	if flags.Changed("health-address") {
		opts.HealthAddress, _ = flags.GetString("health-address")
	}
	if flags.Changed("metrics-address") {
		opts.MetricsAddress, _ = flags.GetString("metrics-address")
	}
	return opts
}
