package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the node-level settings for marketd.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	Backend      string `toml:"Backend"` // "leveldb" or "bolt"
	GenesisFile  string `toml:"GenesisFile"`
	NetworkName  string `toml:"NetworkName"`
	Environment  string `toml:"Environment"`
	LogFile      string `toml:"LogFile"`
	RPCTokenEnv  string `toml:"RPCTokenEnv"`
	RPCRateLimit int    `toml:"RPCRateLimit"`

	OfferQuotaMaxPerEpoch  uint32 `toml:"OfferQuotaMaxPerEpoch"`
	OfferQuotaEpochSeconds uint32 `toml:"OfferQuotaEpochSeconds"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a default configuration written back to the same path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, strings.Join(undecoded, "."))
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./market-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "market-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.RPCTokenEnv) == "" {
		cfg.RPCTokenEnv = "MARKET_RPC_SECRET"
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = 50
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if cfg.OfferQuotaMaxPerEpoch > 0 && cfg.OfferQuotaEpochSeconds == 0 {
		return fmt.Errorf("OfferQuotaEpochSeconds must be set when OfferQuotaMaxPerEpoch is enabled")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
