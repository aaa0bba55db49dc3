package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/jessevdk/go-flags"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
	"github.com/wx-shi/utxo-cluster-indexer/internal/db"
	"github.com/wx-shi/utxo-cluster-indexer/internal/indexer"
	"github.com/wx-shi/utxo-cluster-indexer/internal/metrics"
	"github.com/wx-shi/utxo-cluster-indexer/internal/node"
	"github.com/wx-shi/utxo-cluster-indexer/internal/server"
	"github.com/wx-shi/utxo-cluster-indexer/pkg"
	"go.uber.org/zap"
)

type options struct {
	Conf     string `long:"conf" env:"CLUSTER_INDEXER_CONF" description:"config path, eg: --conf config.yaml" default:"./config.yaml"`
	LogLevel string `long:"log-level" env:"CLUSTER_INDEXER_LOG_LEVEL" description:"overrides log_level from the config file"`
}

func main() {
	opts := options{}
	if _, err := flags.ParseArgs(&opts, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Printf("Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig(opts.Conf)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	// Initialize logger
	logger, err := pkg.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cluster indexer stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	params, err := pkg.ChainParams(cfg.RPC.Network)
	if err != nil {
		return err
	}

	store, err := db.NewDB(cfg.DB, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("DB::Close", zap.Error(err))
		}
	}()

	client, err := node.Dial(cfg.RPC, metrics.NewRPCClient(params.Name))
	if err != nil {
		return fmt.Errorf("init btc rpc client: %w", err)
	}
	defer client.Shutdown()

	// 等待节点可用
	var tip int64
	err = retry.Do(func() error {
		height, err := client.GetBlockCount(ctx)
		tip = height
		return err
	},
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("node not ready", zap.Uint("attempt", n+1), zap.Error(err))
		}))
	if err != nil {
		return fmt.Errorf("reach node: %w", err)
	}
	logger.Info("node ready", zap.String("network", params.Name), zap.Int64("height", tip))

	coordinator := indexer.NewCoordinator(cfg.Indexer, store, client, params, metrics.NewCoordinator(), logger.Named("indexer"))
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Run(ctx)
	}()

	// Start HTTP server
	httpServer := server.NewServer(cfg.Server, logger.Named("server"), store, client)
	httpServer.Run()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
		//确保没在存储时退出程序
		runErr = <-done
	case runErr = <-done:
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}
	return runErr
}
