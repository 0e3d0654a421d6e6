package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"

	"openlend/crypto"
	"openlend/lending"
	"openlend/observability"
	"openlend/observability/logging"
	"openlend/services/marketd/config"
	"openlend/services/marketd/server"
	"openlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/marketd/config.toml", "path to marketd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("marketd", "").Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.Setup("marketd", cfg.Environment)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		log.Error("open database", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("close database", "err", err)
		}
	}()

	genesis, err := lending.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		log.Error("load genesis", "err", err)
		os.Exit(1)
	}

	state := lending.NewKVState(db)
	registry := lending.NewRegistry()
	clock := lending.NewBlockClock(0)
	oracle := lending.NewStaticOracle()

	promRegistry := prometheus.NewRegistry()
	metrics := observability.Metrics()
	metrics.Register(promRegistry)

	engine := lending.NewEngine(state, registry, clock, moduleAddress("openlend/vault"))
	engine.SetLogger(log)
	engine.SetMetrics(metrics)

	risk := lending.NewRiskEngine(state, registry, clock, oracle)
	risk.SetLogger(log)
	engine.SetRiskEngine(risk)

	var rewards *lending.RewardEngine
	if genesis.Rewards.TokenSymbol != "" {
		pool := moduleAddress("openlend/rewards")
		token := lending.NewLedgerToken(genesis.Rewards.TokenSymbol)
		if genesis.Rewards.PoolBalance != "" {
			balance, err := lending.ParseAmount(genesis.Rewards.PoolBalance)
			if err != nil {
				log.Error("parse reward pool balance", "err", err)
				os.Exit(1)
			}
			if err := token.Mint(pool, balance); err != nil {
				log.Error("seed reward pool", "err", err)
				os.Exit(1)
			}
		}
		rewards = lending.NewRewardEngine(state, clock, token, pool)
		rewards.SetLogger(log)
		engine.SetRewardEngine(rewards)
	}

	liquidator := lending.NewLiquidationEngine(engine, risk)
	liquidator.SetLogger(log)

	assets := make(map[string]lending.FungibleAsset, len(genesis.Markets))
	for _, mc := range genesis.Markets {
		assets[mc.Symbol] = lending.NewLedgerToken(mc.Symbol)
	}
	if err := lending.ApplyGenesis(genesis, engine, risk, rewards, oracle, assets); err != nil {
		log.Error("apply genesis", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runBlockTicker(ctx, clock, cfg.BlockInterval.Duration)

	handler := server.New(engine, risk, liquidator, rewards, server.Options{
		Logger:            log,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Registry:          promRegistry,
	}).Router()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("marketd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("forcing server stop", "err", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve http", "err", err)
			os.Exit(1)
		}
	}
}

func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

// runBlockTicker advances the interest clock once per interval until the
// context is cancelled.
func runBlockTicker(ctx context.Context, clock *lending.BlockClock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clock.Advance(1)
		}
	}
}

// moduleAddress derives a deterministic ledger address for a protocol-owned
// account from its label.
func moduleAddress(label string) crypto.Address {
	hash := ethcrypto.Keccak256([]byte(label))
	return crypto.MustNewAddress(hash[12:])
}
