package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marketchain/config"
	"marketchain/core/events"
	"marketchain/core/state"
	"marketchain/crypto"
	nativecommon "marketchain/native/common"
	"marketchain/native/market"
	"marketchain/observability/logging"
	"marketchain/rpc"
	"marketchain/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup("marketd", cfg.Environment, cfg.LogFile)

	db, err := openDatabase(cfg)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	broker := events.NewBroker(256)

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(broker)
	if cfg.OfferQuotaMaxPerEpoch > 0 {
		engine.SetOfferQuota(nativecommon.Quota{
			MaxPerEpoch:  cfg.OfferQuotaMaxPerEpoch,
			EpochSeconds: cfg.OfferQuotaEpochSeconds,
		})
	}

	escrowEngine := market.NewEscrowEngine(engine)
	escrowEngine.SetState(manager)
	escrowEngine.SetEmitter(broker)

	if err := importGenesis(cfg, manager, engine); err != nil {
		log.Error("import genesis", "error", err)
		os.Exit(1)
	}

	var secret []byte
	if env := strings.TrimSpace(cfg.RPCTokenEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			secret = []byte(value)
		} else {
			log.Warn("RPC authentication disabled", "env", env)
		}
	}

	server := rpc.NewServer(rpc.Options{
		Log:           log,
		Market:        engine,
		Escrow:        escrowEngine,
		Broker:        broker,
		JWTSecret:     secret,
		RatePerMinute: cfg.RPCRateLimit,
	})

	log.Info("marketd starting", "network", cfg.NetworkName, "backend", cfg.Backend, "dataDir", cfg.DataDir)
	if err := server.Start(cfg.RPCAddress); err != nil {
		log.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "bolt":
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "market.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	}
}

// importGenesis seeds accounts and items on first start and initialises the
// shared marketplace registry. Subsequent starts are no-ops.
func importGenesis(cfg *config.Config, manager *state.Manager, engine *market.Engine) error {
	applied, err := manager.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if path := strings.TrimSpace(cfg.GenesisFile); path != "" {
		gen, err := config.LoadGenesis(path)
		if err != nil {
			return err
		}
		for _, alloc := range gen.Accounts {
			addr, err := crypto.DecodeAddress(alloc.Address)
			if err != nil {
				return fmt.Errorf("genesis account %s: %w", alloc.Address, err)
			}
			account, err := manager.GetAccount(addr.Bytes())
			if err != nil {
				return err
			}
			if account.BalanceMKT, err = config.ParseAmount(alloc.BalanceMKT); err != nil {
				return fmt.Errorf("genesis account %s: %w", alloc.Address, err)
			}
			if account.BalanceUSDM, err = config.ParseAmount(alloc.BalanceUSDM); err != nil {
				return fmt.Errorf("genesis account %s: %w", alloc.Address, err)
			}
			if err := manager.PutAccount(addr.Bytes(), account); err != nil {
				return err
			}
		}
		for _, seed := range gen.Items {
			id, err := config.ParseHash32(seed.ID)
			if err != nil {
				return fmt.Errorf("genesis item %s: %w", seed.ID, err)
			}
			var metaHash [32]byte
			if strings.TrimSpace(seed.MetaHash) != "" {
				if metaHash, err = config.ParseHash32(seed.MetaHash); err != nil {
					return fmt.Errorf("genesis item %s: %w", seed.ID, err)
				}
			}
			owner, err := crypto.DecodeAddress(seed.Owner)
			if err != nil {
				return fmt.Errorf("genesis item %s: %w", seed.ID, err)
			}
			item := &market.Item{ID: id, Class: seed.Class, MetaHash: metaHash}
			if err := manager.ItemPut(item, owner.Array()); err != nil {
				return err
			}
		}
	}
	if _, err := engine.CreateMarketplace(); err != nil {
		return err
	}
	return manager.SetGenesisApplied()
}
