package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline sync for field-worker task dispatch",
	Long: `fieldsync keeps field-worker actions working without connectivity: it queues
mutations durably, caches task snapshots and replays the queue against the
field-service API when the network comes back.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		runCmd,
		statusCmd,
		syncCmd,
		enqueueCmd,
		snapshotCmd,
		photoCmd,
		failedCmd,
		clearCmd,
		workerCmd,
		taskCmd,
		dutyCmd,
		locateCmd,
	)
}

// env is what every command runs against
type env struct {
	cfg    *config.Config
	log    *zap.Logger
	syncer *app.App
}

func (e *env) Close() {
	if err := e.syncer.Close(); err != nil {
		e.log.Error("Error closing store", zap.Error(err))
	}
	_ = e.log.Sync()
}

func setup(cmd *cobra.Command) (*env, error) {
	// Load configuration
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.NewWithFile(cfg.LogLevel, logger.FileConfig{
		Path:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create application
	syncer, err := app.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to create offline sync: %w", err)
	}

	return &env{cfg: cfg, log: log, syncer: syncer}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, gracefully stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
