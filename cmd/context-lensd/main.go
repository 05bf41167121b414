// Command context-lensd runs the observability sidecar: a reverse proxy
// listener that captures and analyzes every LLM request/response pair it
// forwards, a query/ingest API listener for the inspection UI and
// external ingest sources, and an optional filesystem watcher that
// replays dropped capture files into the same store.
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

	"github.com/context-lens/sidecar/internal/api"
	"github.com/context-lens/sidecar/internal/config"
	"github.com/context-lens/sidecar/internal/lhar"
	"github.com/context-lens/sidecar/internal/proxy"
	"github.com/context-lens/sidecar/internal/store"
	"github.com/context-lens/sidecar/internal/store/distributed"
	"github.com/context-lens/sidecar/internal/telemetry"
	"github.com/context-lens/sidecar/internal/tokenpricing"
	"github.com/context-lens/sidecar/internal/watcher"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONTEXT_LENS_CONFIG_FILE"), "path to a YAML config file (optional)")
	vocabDir := flag.String("vocab-dir", os.Getenv("CONTEXT_LENS_VOCAB_DIR"), "directory of tokenizer vocab files (optional; falls back to heuristic estimation)")
	flag.Parse()

	if err := run(*configPath, *vocabDir); err != nil {
		fmt.Fprintln(os.Stderr, "context-lensd:", err)
		os.Exit(1)
	}
}

func run(configPath, vocabDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Telemetry.LogPretty, cfg.Telemetry.LogLevel)
	metrics := telemetry.NewMetrics()
	estimator := tokenpricing.NewEstimator(vocabDir)

	st, err := store.New(cfg.Store, estimator, logger, metrics)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var sharedRevision *distributed.Backend
	if cfg.Distributed.RedisAddr != "" {
		sharedRevision, err = distributed.New(cfg.Distributed.RedisAddr, cfg.Distributed.RedisPassword, cfg.Distributed.RedisDB)
		if err != nil {
			return fmt.Errorf("connecting to distributed backend: %w", err)
		}
		defer sharedRevision.Close()
		logger.Info().Str("addr", cfg.Distributed.RedisAddr).Msg("shared revision backend connected")
	}

	privacy := lhar.Privacy(cfg.Privacy.DefaultLevel)
	if privacy != lhar.PrivacyMinimal && privacy != lhar.PrivacyStandard && privacy != lhar.PrivacyFull {
		return fmt.Errorf("invalid privacy.default_level: %q", cfg.Privacy.DefaultLevel)
	}

	proxyHandler := proxy.New(*cfg, st, estimator, logger, metrics)
	apiServer := api.New(st, cfg.Store.CapturesDir, estimator, privacy, logger, metrics)

	w, err := watcher.New(cfg.Store.CapturesDir, st, estimator, logger)
	if err != nil {
		return fmt.Errorf("starting capture watcher: %w", err)
	}

	proxyAddr := fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.ProxyPort)
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.APIPort)

	proxySrv := &http.Server{
		Addr:         proxyAddr,
		Handler:      proxyHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	apiSrv := &http.Server{
		Addr:         apiAddr,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go w.Run(ctx)
	if sharedRevision != nil {
		go distributed.Relay(ctx, sharedRevision, st)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", proxyAddr).Msg("proxy listener starting")
		errCh <- listenAndServe(proxySrv)
	}()
	go func() {
		logger.Info().Str("addr", apiAddr).Msg("api listener starting")
		errCh <- listenAndServe(apiSrv)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("listener failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = proxySrv.Shutdown(shutdownCtx)
	_ = apiSrv.Shutdown(shutdownCtx)

	return nil
}

func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
