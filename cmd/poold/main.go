package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"poold/internal/capability"
	"poold/internal/config"
	"poold/internal/httpapi"
	"poold/internal/registry"
)

var (
	flagAddr         string
	flagConfig       string
	flagModelsDir    string
	flagBudgetMB     int
	flagDefaultModel string
	flagLogLevel     string
)

func main() {
	root := &cobra.Command{
		Use:           "poold",
		Short:         "Capability worker-pool daemon",
		Long:          "poold serves concurrent inference requests against pools of long-lived model workers under a fixed memory budget.",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVar(&flagAddr, "addr", ":8080", "HTTP listen address")
	root.Flags().StringVar(&flagConfig, "config", "", "Path to config file (yaml/json/toml)")
	root.Flags().StringVar(&flagModelsDir, "models-dir", "~/models/llm", "Directory holding *.gguf model files")
	root.Flags().IntVar(&flagBudgetMB, "budget-mb", 0, "Logical memory budget in MB for all workers (0=default)")
	root.Flags().StringVar(&flagDefaultModel, "default-model", "", "Default model id when a request omits model")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger(flagLogLevel)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	loader := capability.NewLlamaLoader(cfg.ModelsDir, cfg.LlamaCtx, cfg.LlamaThreads)
	reg := registry.New(cfg, loader, log)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewMux(reg, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).
			Int64("budget_mb", reg.Governor().BudgetMB()).
			Bool("llama", capability.Built()).Msg("poold listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful HTTP shutdown")
	}
	if err := reg.Close(ctx); err != nil {
		log.Error().Err(err).Msg("registry shutdown")
	}
	return nil
}

// loadConfig reads the optional config file and applies flag overrides on
// top: explicit flags always win over file values.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if cfg.Addr == "" || cmd.Flags().Changed("addr") {
		cfg.Addr = flagAddr
	}
	if cfg.ModelsDir == "" || cmd.Flags().Changed("models-dir") {
		cfg.ModelsDir = flagModelsDir
	}
	if cmd.Flags().Changed("budget-mb") || cfg.BudgetMB == 0 {
		cfg.BudgetMB = flagBudgetMB
	}
	if cfg.DefaultModel == "" || cmd.Flags().Changed("default-model") {
		cfg.DefaultModel = flagDefaultModel
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
