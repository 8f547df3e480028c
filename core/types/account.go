package types

import "math/big"

// Account tracks the spendable balances held by a marketplace participant.
// MKT is the native settlement coin; USDM is the supported stable token.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceMKT  *big.Int `json:"balanceMKT"`
	BalanceUSDM *big.Int `json:"balanceUSDM"`
}

// NewAccount returns an account with zeroed, non-nil balances.
func NewAccount() *Account {
	return &Account{BalanceMKT: big.NewInt(0), BalanceUSDM: big.NewInt(0)}
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, BalanceMKT: big.NewInt(0), BalanceUSDM: big.NewInt(0)}
	if a.BalanceMKT != nil {
		clone.BalanceMKT = new(big.Int).Set(a.BalanceMKT)
	}
	if a.BalanceUSDM != nil {
		clone.BalanceUSDM = new(big.Int).Set(a.BalanceUSDM)
	}
	return clone
}
