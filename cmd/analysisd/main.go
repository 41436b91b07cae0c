// Command analysisd serves the sentiment analysis endpoint used by the desktop app.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aura/internal/analyzer"
	"aura/internal/config"
	"aura/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML or YAML config file")
	addr := flag.String("addr", "", "listen address (overrides analysisd.address)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "analysisd:", err)
		os.Exit(1)
	}
}

func run(configPath string, addrOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addrOverride != "" {
		cfg.Analysisd.Address = addrOverride
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	completer, err := newCompleter(ctx, cfg.Analysisd, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Analysisd.Address,
		Handler:           analyzer.NewRouter(analyzer.NewService(completer, 0, log), log),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting analysis server",
			logger.String("addr", server.Addr),
			logger.String("provider", completer.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down analysis server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newCompleter(ctx context.Context, cfg config.AnalysisdConfig, log *logger.Logger) (analyzer.Completer, error) {
	switch cfg.Provider {
	case "gemini":
		completer, err := analyzer.NewGeminiCompleter(ctx, analyzer.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, log)
		if err != nil {
			return nil, err
		}
		return completer, nil
	case "openai", "":
		completer, err := analyzer.NewOpenAICompleter(analyzer.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, log)
		if err != nil {
			return nil, err
		}
		return completer, nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}
