package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"nftlend/config"
	"nftlend/core"
	"nftlend/native/permits"
	"nftlend/observability"
	"nftlend/observability/logging"
	"nftlend/rpc"
	"nftlend/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	permitsFlag := flag.String("permits", "", "Path to a permitted-list YAML seed (overrides PermitsFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("NFTLEND_ENV"))
	if env == "" {
		env = cfg.Logging.Env
	}
	logger, logCloser := logging.Setup("nftlendd", logging.Options{
		Env:        env,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}
	db, err := storage.Open(cfg.DBBackend, filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	opts, err := core.OptionsFromConfig(cfg)
	if err != nil {
		logger.Error("Invalid ledger configuration", slog.Any("error", err))
		os.Exit(1)
	}
	opts.Logger = logger
	ledger, err := core.NewLedger(db, opts)
	if err != nil {
		logger.Error("Failed to initialise ledger", slog.Any("error", err))
		os.Exit(1)
	}
	ledger.AddObserver(observability.Events().Record)

	permitsPath := strings.TrimSpace(*permitsFlag)
	if permitsPath == "" {
		permitsPath = strings.TrimSpace(cfg.PermitsFile)
	}
	if permitsPath != "" {
		if err := seedPermits(ledger, permitsPath); err != nil {
			logger.Error("Failed to apply permitted lists", slog.String("path", permitsPath), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Applied permitted lists", slog.String("path", permitsPath))
	}
	if err := applyPauses(ledger, cfg.Pauses); err != nil {
		logger.Error("Failed to apply startup pauses", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(ledger, rpc.Config{
		Address:           cfg.RPCAddress,
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeout) * time.Second,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("nftlendd started",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chainId", cfg.ChainID),
		slog.Any("offerTypes", ledger.OfferTypes()))
	if err := server.Serve(ctx); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("nftlendd stopped")
}

func seedPermits(ledger *core.Ledger, path string) error {
	seed, err := permits.LoadSeed(path)
	if err != nil {
		return err
	}
	return ledger.Execute(func() error {
		return ledger.Permits.Apply(core.SystemAddress, seed)
	})
}

// applyPauses writes every configured pause flag, clearing flags that the
// configuration no longer sets.
func applyPauses(ledger *core.Ledger, pauses config.Pauses) error {
	flags := map[string]bool{
		"lending":   pauses.Lending,
		"flash":     pauses.Flash,
		"swap":      pauses.Swap,
		"refinance": pauses.Refinance,
	}
	return ledger.Execute(func() error {
		for module, paused := range flags {
			if err := ledger.Pauses.SetPaused(core.SystemAddress, module, paused); err != nil {
				return err
			}
		}
		return nil
	})
}
