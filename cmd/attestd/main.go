// Command attestd verifies, stores and serves offchain attestation packages
// and follows the attestation contracts for timestamps and revocations.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/AgentMesh-Net/attest-go/internal/api"
	"github.com/AgentMesh-Net/attest-go/internal/chain"
	"github.com/AgentMesh-Net/attest-go/internal/config"
	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/store"
	"github.com/AgentMesh-Net/attest-go/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("attestd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		httpAddr    string
		chainsFile  string
		noWatch     bool
		memoryStore bool
		logLevel    string
	)
	pflag.StringVar(&httpAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	pflag.StringVar(&chainsFile, "chains", cfg.ChainsFile, "YAML file listing served chains")
	pflag.BoolVar(&noWatch, "no-watch", false, "do not follow chains for timestamps and revocations")
	pflag.BoolVar(&memoryStore, "memory-store", false, "keep packages in memory instead of PostgreSQL")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg.HTTPAddr = httpAddr
	if chainsFile != cfg.ChainsFile {
		cfg.ChainsFile = chainsFile
		if err := cfg.LoadChains(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepo(ctx, cfg, memoryStore, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	domains := make([]eip712.Domain, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		d, err := chain.ResolveDomain(ctx, chainCfg)
		if err != nil {
			return err
		}
		domains = append(domains, d)
		logger.Info("serving chain", "chain", chainCfg.ChainID, "contract", d.VerifyingContract.Hex(), "contract_version", d.Version)
	}
	if len(domains) == 0 {
		logger.Warn("no chains configured, packages can be verified but not stored")
	}

	// One watcher goroutine per configured chain.
	if !noWatch {
		for _, chainCfg := range cfg.Chains {
			if chainCfg.RPCURL == "" {
				logger.Info("no rpc_url configured, watcher disabled", "chain", chainCfg.ChainID)
				continue
			}
			go chain.NewWatcher(chainCfg, repo, logger).Run(ctx)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(repo, cfg, domains, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("attestd listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openRepo(ctx context.Context, cfg config.Config, memory bool, logger *slog.Logger) (store.Repo, func(), error) {
	if memory {
		logger.Warn("using in-memory store, packages are lost on exit")
		return store.NewMemoryRepo(), func() {}, nil
	}

	pool, err := store.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	names, err := store.MigrationFiles(migrations.FS)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	for _, name := range names {
		migrationSQL, err := migrations.FS.ReadFile(name)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		if err := store.RunMigrations(ctx, pool, string(migrationSQL)); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migration %s failed: %w", name, err)
		}
		logger.Info("migration applied", "file", name)
	}
	return store.NewPostgresRepo(pool), pool.Close, nil
}
