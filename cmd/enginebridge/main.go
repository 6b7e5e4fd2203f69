package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/enginebridge/internal/config"
	"github.com/memohai/enginebridge/internal/logx"
	"github.com/memohai/enginebridge/internal/plugin"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "enginebridge",
	Short: "Redis-bridge plugin for the chat gateway",
	Long:  "Couples the chat gateway to an external conversational engine over Redis Streams: inbound request/response RPC, outbound delivery, rate limiting, and circuit breaking.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge standalone",
	Long:  "Connects to the broker and runs the outbound delivery worker until interrupted. The before_reply hook and redis_bridge tool are registered only when this package is loaded in-process by the gateway host.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the bridge's TOML config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Active() {
		return errors.New("enginebridge: no agents configured (REDIS_BRIDGE_AGENTS / agents); nothing to bridge")
	}

	logx.Init("info", "text")
	logger := logx.L.With(slog.String("service", "enginebridge"))

	b, err := plugin.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build plugin: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("enginebridge started",
		slog.Any("agents", cfg.Agents),
		slog.String("consumerGroup", cfg.ConsumerGroup),
		slog.String("consumerName", cfg.ConsumerName),
	)

	<-ctx.Done()
	logger.Info("enginebridge shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.Stop(stopCtx)
}
