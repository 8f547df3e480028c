package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenesisAccount allocates initial token balances to an address.
type GenesisAccount struct {
	Address     string `yaml:"address"`
	BalanceMKT  string `yaml:"balanceMKT"`
	BalanceUSDM string `yaml:"balanceUSDM"`
}

// GenesisItem seeds a unique asset owned by an address at genesis.
type GenesisItem struct {
	ID       string `yaml:"id"`
	Class    string `yaml:"class"`
	MetaHash string `yaml:"metaHash"`
	Owner    string `yaml:"owner"`
}

// Genesis is the initial state document consumed on first start.
type Genesis struct {
	Accounts []GenesisAccount `yaml:"accounts"`
	Items    []GenesisItem    `yaml:"items"`
}

// LoadGenesis parses the YAML genesis document at the supplied path.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	gen := &Genesis{}
	if err := yaml.Unmarshal(data, gen); err != nil {
		return nil, fmt.Errorf("genesis file %s: %w", path, err)
	}
	return gen, nil
}

// ParseAmount converts a decimal amount string into a non-negative big.Int.
// Empty strings denote zero.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be non-negative", value)
	}
	return amount, nil
}

// ParseHash32 decodes a 32-byte hex string, with or without 0x prefix.
func ParseHash32(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash %q: %w", value, err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("hash %q must be 32 bytes, got %d", value, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
