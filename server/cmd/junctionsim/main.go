package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"junction-sim/server/internal/analyzer"
	"junction-sim/server/internal/api"
	"junction-sim/server/internal/config"
	"junction-sim/server/internal/conversation"
	"junction-sim/server/internal/domain"
	"junction-sim/server/internal/llm"
	"junction-sim/server/internal/logging"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/objective"
	"junction-sim/server/internal/score"
	"junction-sim/server/internal/voice"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "junctionsim",
		Short:         "Junction Simulator backend: conversation analysis and scoring",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "server/configs/config.yaml", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Print the global score from the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			chars, svc, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer svc.Store().Close()

			recorded, err := svc.Recorded(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOutcome(score.Aggregate(chars, recorded)))
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every recorded objective (try again)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer svc.Store().Close()

			if err := svc.ResetAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("All objectives cleared."))
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, scoreCmd, resetCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// openStore 只加载持久化相关配置，score/reset 不需要 LLM 密钥。
func openStore(path string) ([]model.Character, *objective.Service, error) {
	cfg, err := config.Read(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, err
	}
	chars, err := domain.LoadCharacters(cfg.Paths.Characters)
	if err != nil {
		return nil, nil, err
	}
	store, err := objective.NewStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return chars, objective.NewService(store, chars), nil
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	chars, err := domain.LoadCharacters(cfg.Paths.Characters)
	if err != nil {
		return fmt.Errorf("load characters: %w", err)
	}
	for _, c := range chars {
		if c.AgentID == "" {
			logger.Warn().Str("character", c.ID).Msg("character has no voice agent id, sessions will be refused")
		}
	}

	store, err := objective.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open objective store: %w", err)
	}
	defer store.Close()

	client, err := llm.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}
	a := analyzer.New(client, analyzer.Options{Timeout: cfg.Analysis.Timeout}, logger)

	manager := conversation.NewManager(chars, objective.NewService(store, chars), a, conversation.Options{
		Interval:     cfg.Analysis.Interval,
		RecentWindow: cfg.Analysis.RecentWindow,
		FullWindow:   cfg.Analysis.FullWindow,
	}, logger)
	defer manager.Close()

	server := api.NewServer(cfg, manager, a, voice.NewClient(cfg.Voice), logger)
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     server.Routes(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logStartup(logger, cfg, len(chars))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func logStartup(logger zerolog.Logger, cfg *config.Config, characters int) {
	logger.Info().
		Str("addr", cfg.Server.Addr()).
		Str("llm_provider", cfg.LLM.Provider).
		Str("llm_model", cfg.LLM.Active().Model).
		Str("store", cfg.Store.Driver).
		Int("characters", characters).
		Int("analysis_interval", cfg.Analysis.Interval).
		Msg("junctionsim server listening")
}
