package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"chatgpt-coordinator/internal/adapter/console"
	"chatgpt-coordinator/internal/adapter/openai"
	"chatgpt-coordinator/internal/adapter/telegram"
	"chatgpt-coordinator/internal/config"
	"chatgpt-coordinator/internal/usecase/chat"
)

var (
	verbose    bool
	configFile string
	dotEnvFile string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Chat with an OpenAI model through a single-flight request coordinator",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Serve every Telegram chat with its own coordinator",
	Args:  cobra.NoArgs,
	RunE:  runTelegram,
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start an interactive conversation in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runConsole,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dotEnvFile, "env-file", ".env", "Path to a .env file")
	rootCmd.AddCommand(telegramCmd, consoleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(dotEnvFile, configFile, logger)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func coordinatorFactory(cfg config.Config, client chat.Client) func() *chat.Coordinator {
	policy := chat.BusyDrop
	if cfg.BusyPolicy == config.BusyPolicyQueue {
		policy = chat.BusyQueue
	}
	opts := chat.Options{
		Model:          cfg.Model,
		MaxReplyTokens: cfg.MaxReplyTokens,
		RequestTimeout: cfg.RequestTimeout,
		DispatchDelay:  cfg.DispatchDelay,
		BusyPolicy:     policy,
	}
	return func() *chat.Coordinator {
		return chat.NewCoordinator(client, opts, logger)
	}
}

func runTelegram(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := openai.NewClientWithBaseURL(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	bot, err := telegram.NewBot(cfg, coordinatorFactory(cfg, client), logger)
	if err != nil {
		return fmt.Errorf("failed to init telegram bot: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return bot.Sessions().Run(gctx, time.Minute, cfg.SessionTTL) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped with error", zap.Error(err))
		return err
	}
	logger.Info("shutdown")
	return nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI; only errors reach stderr.
	if !verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel))
	}

	client := openai.NewClientWithBaseURL(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	coord := coordinatorFactory(cfg, client)()
	defer coord.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return console.Run(ctx, coord, cfg.Greeting)
}
