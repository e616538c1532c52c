package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"selfquiz/internal/app"
	"selfquiz/internal/config"
	"selfquiz/internal/countdown"
	"selfquiz/internal/domain"
	transport "selfquiz/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Serve the quiz session over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ledger, backends, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()
	if err := backends.openContent(ctx, cfg); err != nil {
		return err
	}

	ctrl, err := app.NewController(ctx, ledger, backends.store, backends.content,
		app.WithCompletionDelay(config.TTLDuration(cfg.Session.CompletionDelay, app.DefaultCompletionDelay)),
		app.WithTickInterval(config.TTLDuration(cfg.Session.TickInterval, countdown.DefaultInterval)),
	)
	if err != nil {
		return err
	}

	runCtx, stopTimer := context.WithCancel(ctx)
	defer stopTimer()
	go func() {
		if err := ctrl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("countdown driver stopped")
		}
	}()

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wsHandler := transport.NewWSHandler(ctrl, transport.WithAllowedOrigins(origins))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     c.Handler(mux),
		ReadTimeout: 15 * time.Second,
	}
	server.RegisterOnShutdown(wsHandler.Close)

	go func() {
		log.Info().Str("port", finalPort).Msg("starting selfquiz")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	stopTimer()
	wsHandler.Close()
	return ctrl.Shutdown(shutdownCtx)
}

// sampleContent provides a minimal set of topics for offline use; configure
// content.file or Postgres for real material.
func sampleContent() map[string][]domain.Item {
	return map[string][]domain.Item{
		"History": {
			{
				ID:     "history-1",
				Topic:  "History",
				Prompt: "In which year did the Berlin Wall fall?",
				Options: []domain.Option{
					{ID: "a", Text: "1987"},
					{ID: "b", Text: "1989", Correct: true},
					{ID: "c", Text: "1991"},
				},
			},
			{
				ID:     "history-2",
				Topic:  "History",
				Prompt: "Who was the first Roman emperor?",
				Options: []domain.Option{
					{ID: "a", Text: "Augustus", Correct: true},
					{ID: "b", Text: "Julius Caesar"},
					{ID: "c", Text: "Nero"},
				},
			},
		},
		"Biology": {
			{
				ID:     "biology-1",
				Topic:  "Biology",
				Prompt: "Which organelle produces most of a cell's ATP?",
				Options: []domain.Option{
					{ID: "a", Text: "Ribosome"},
					{ID: "b", Text: "Mitochondrion", Correct: true},
					{ID: "c", Text: "Golgi apparatus"},
				},
			},
			{
				ID:     "biology-2",
				Topic:  "Biology",
				Prompt: "What molecule carries genetic information?",
				Options: []domain.Option{
					{ID: "a", Text: "DNA", Correct: true},
					{ID: "b", Text: "ATP"},
					{ID: "c", Text: "Glucose"},
				},
			},
		},
		"Physics": {
			{
				ID:     "physics-1",
				Topic:  "Physics",
				Prompt: "What is the SI unit of force?",
				Options: []domain.Option{
					{ID: "a", Text: "Joule"},
					{ID: "b", Text: "Watt"},
					{ID: "c", Text: "Newton", Correct: true},
				},
			},
		},
	}
}
