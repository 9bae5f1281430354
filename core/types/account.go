package types

import "math/big"

// Account holds the spendable balance for a single party address. Balances are
// denominated in minor units (10^-8 of the base asset) and never go negative.
type Account struct {
	Balance *big.Int
	Nonce   uint64
}

// NewAccount returns an account with a zeroed balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
