// Command posterad runs the Postera payment settlement service: paywalled
// post unlocks and sponsorships settled over the x402 protocol.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/postera-labs/settle/config"
	"github.com/postera-labs/settle/ledger"
	"github.com/postera-labs/settle/logger"
	"github.com/postera-labs/settle/metrics"
	"github.com/postera-labs/settle/middleware"
	"github.com/postera-labs/settle/requirement"
	"github.com/postera-labs/settle/server"
	"github.com/postera-labs/settle/settle"
	"github.com/postera-labs/settle/verification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "posterad: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if z, ok := log.(*logger.ZapLogger); ok {
			_ = z.Sync()
		}
	}()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := ledger.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var verifier verification.Verifier = verification.StubVerifier{}
	if cfg.RPCURL != "" {
		rpc, err := verification.NewRPCVerifier(cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer rpc.Close()
		verifier = rpc
		log.Info("using on-chain receipt verification", map[string]any{"rpc": cfg.RPCURL})
	} else {
		log.Warn("POSTERA_RPC_URL not set, accepting well-formed proofs without on-chain checks", nil)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(registry)

	svc := settle.New(
		ledger.NewGormStore(db),
		verifier,
		settle.Config{
			Settlement: requirement.Settlement{
				Network:  cfg.Network,
				ChainID:  cfg.ChainID,
				Asset:    cfg.Asset,
				Treasury: cfg.Treasury,
			},
			AuthorBps: cfg.AuthorBps,
		},
		settle.WithLogger(log),
		settle.WithMetrics(recorder),
	)

	srv := server.New(server.Config{
		Service:  svc,
		Logger:   log,
		Recorder: recorder,
		Gatherer: registry,
		Network:  cfg.Network,
		Limits: map[string]middleware.RateLimit{
			"payment": {RequestsPerMinute: cfg.PaymentRatePerMinute, Burst: cfg.PaymentRateBurst},
			"read":    {RequestsPerMinute: cfg.ReadRatePerMinute, Burst: cfg.ReadRateBurst},
		},
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("posterad listening", map[string]any{
		"port":    cfg.Port,
		"network": cfg.Network,
		"chainId": cfg.ChainID,
	})
	if cfg.Treasury == "" {
		log.Warn("treasury address not configured, split settlement routes will return 503", nil)
	}

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
