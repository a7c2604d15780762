// reconcilerd is the reconciliation daemon: it watches treasury addresses
// across configured chains, classifies discovered transfers and applies
// their effects to the ledger exactly once.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halcyonpay/reconciler/cache"
	"github.com/halcyonpay/reconciler/chains"
	"github.com/halcyonpay/reconciler/classify"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/cron"
	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/ledger"
	"github.com/halcyonpay/reconciler/logger"
	"github.com/halcyonpay/reconciler/scanner"
	"github.com/halcyonpay/reconciler/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reconcilerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; real deployments set env vars.
	_ = godotenv.Load()

	basePath := os.Getenv("RECONCILER_HOME")
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		basePath = filepath.Join(home, ".reconciler")
	}

	cfg, err := loadOrInitConfig(basePath)
	if err != nil {
		return err
	}

	log := logger.New(&cfg)
	log.Info().
		Str("base_path", basePath).
		Int("chains", len(cfg.ChainConfigs)).
		Msg("starting reconciler daemon")

	dbManager := db.NewManager(cfg.DataDir, log)
	defer func() {
		if err := dbManager.CloseAll(); err != nil {
			log.Error().Err(err).Msg("failed to close databases")
		}
	}()

	ledgerDB, err := dbManager.LedgerDB()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}

	engine := ledger.NewEngine(ledgerDB, log)
	resolver := ledger.NewResolver(ledgerDB)
	tokenCache := cache.NewTokenCache(log)
	classifier := classify.NewClassifier(resolver, tokenCache, log)

	sigCache, err := cache.NewSignatureCache(cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect signature cache: %w", err)
	}
	defer sigCache.Close()

	registry := chains.NewRegistry(dbManager, log)
	defer registry.StopAll()

	pipeline := scanner.NewPipeline(registry, classifier, engine, log)
	registry.SetTransferSink(pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := tokens.NewFileFeed(cfg.TokenFeedPath)
	tokenJob := cron.NewTokenRegistryJob(
		tokenCache,
		feed,
		registry,
		&cfg,
		time.Duration(cfg.TokenFeedRefreshSeconds)*time.Second,
		time.Duration(cfg.TokenFeedSyncTimeoutSeconds)*time.Second,
		log,
	)
	if err := tokenJob.Start(ctx); err != nil {
		return fmt.Errorf("failed to start token registry job: %w", err)
	}
	defer tokenJob.Stop()

	scan := scanner.NewScanner(&cfg, registry, pipeline, sigCache, log)
	if err := scan.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scanner: %w", err)
	}
	defer scan.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	return nil
}

// loadOrInitConfig loads the config from disk, writing the embedded default
// on first run so operators have a file to edit.
func loadOrInitConfig(basePath string) (config.Config, error) {
	cfg, err := config.Load(basePath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	defaults, derr := config.LoadDefaultConfig()
	if derr != nil {
		return config.Config{}, fmt.Errorf("failed to load default config: %w", derr)
	}
	if defaults.DataDir == "" {
		defaults.DataDir = basePath
	}
	if serr := config.Save(defaults, basePath); serr != nil {
		return config.Config{}, fmt.Errorf("failed to write initial config: %w", serr)
	}
	return *defaults, nil
}
