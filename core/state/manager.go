package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowchain/core/types"
	"escrowchain/storage"
)

// Manager provides typed read/write access to ledger state on top of the raw
// key-value store. All keys are keccak256 hashes of a human-readable prefix
// plus the record identifier; all values are RLP encoded.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var accountPrefix = []byte("account:")

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

type storedAccount struct {
	Balance *big.Int
	Nonce   uint64
}

// GetAccount loads the account for the address, returning a zeroed account
// when none has been persisted yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	data, err := m.db.Get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return types.NewAccount(), nil
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	acc := types.NewAccount()
	acc.Nonce = stored.Nonce
	if stored.Balance != nil {
		acc.Balance = new(big.Int).Set(stored.Balance)
	}
	return acc, nil
}

// PutAccount persists the account. Balances must be non-negative.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	clone := account.Clone()
	if clone.Balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Balance: clone.Balance,
		Nonce:   clone.Nonce,
	})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}
