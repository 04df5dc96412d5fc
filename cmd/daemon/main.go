package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"lumenpay/go-backend/internal/api"
	"lumenpay/go-backend/internal/bootstrap/walletconfig"
	"lumenpay/go-backend/internal/keyvault"
	"lumenpay/go-backend/internal/ledger"
	"lumenpay/go-backend/internal/orchestrator"
	"lumenpay/go-backend/internal/platform/privacylog"
	"lumenpay/go-backend/internal/provisioning"
	"lumenpay/go-backend/internal/sequence"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("wallet-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(privacylog.WrapHandler(slog.NewTextHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	cfg := walletconfig.LoadFromPath(*configPath)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	var vault *keyvault.Vault
	if cfg.DataDir != "" && cfg.KeystorePassphrase != "" {
		v, err := keyvault.NewPersistentVault(filepath.Join(cfg.DataDir, "vault.enc"), cfg.KeystorePassphrase)
		if err != nil {
			log.Fatalf("wallet-daemon failed to open keystore: %v", err)
		}
		vault = v
	} else {
		logger.Warn("keystore persistence disabled; accounts will not survive restarts")
		vault = keyvault.NewVault()
	}

	counter := sequence.NewCounter(logger)
	client := ledger.NewClient(ledger.Options{
		HorizonURL:        cfg.Ledger.HorizonURL,
		FaucetURL:         cfg.Ledger.FaucetURL,
		NetworkPassphrase: cfg.Ledger.NetworkPassphrase,
		Timeout:           cfg.Ledger.Timeout,
		FaucetRPS:         cfg.Ledger.FaucetRPS,
		FaucetBurst:       cfg.Ledger.FaucetBurst,
		Logger:            logger,
	})
	orch := orchestrator.New(vault, counter, client, orchestrator.Options{
		BaseFee:        cfg.Ledger.BaseFee,
		SubmitAttempts: cfg.Ledger.SubmitAttempts,
		BackoffBase:    cfg.Ledger.BackoffBase,
		BackoffMax:     cfg.Ledger.BackoffMax,
		Logger:         logger,
		Metrics:        orchestrator.NewMetrics(prometheus.DefaultRegisterer),
	})
	worker := provisioning.NewWorker(vault, client, orch, provisioning.Options{
		FundingAccount: cfg.Funding.Account,
		Benefits:       cfg.Funding.Benefits,
		WaitAttempts:   cfg.Funding.WaitAttempts,
		WaitInterval:   cfg.Funding.WaitInterval,
		Logger:         logger,
		Metrics:        provisioning.NewMetrics(prometheus.DefaultRegisterer),
	})

	srv := api.NewServer(cfg.ListenAddr, worker, orch, logger)
	logger.Info("wallet-daemon starting", slog.String("version", version))
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("wallet-daemon failed: %v", err)
	}
	logger.Info("wallet-daemon stopped")
}
