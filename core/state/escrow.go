package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowchain/native/escrow"
)

var (
	escrowPrefix       = []byte("escrow:")
	escrowLockedPrefix = []byte("escrow-locked:")
	escrowSeqKey       = ethcrypto.Keccak256([]byte("escrow-seq"))
	escrowVaultSeed    = []byte("escrowchain/module-vault")
)

func escrowKey(id uint64) []byte {
	buf := make([]byte, len(escrowPrefix)+8)
	copy(buf, escrowPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func escrowLockedKey(id uint64) []byte {
	buf := make([]byte, len(escrowLockedPrefix)+8)
	copy(buf, escrowLockedPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowLockedPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

// RLP cannot encode signed integers, so the stored mirror structs carry
// timestamps as uint64.
type storedMilestone struct {
	Description string
	Amount      *big.Int
	Deadline    uint64
	Status      uint8
	PaidAt      uint64
}

type storedEscrow struct {
	ID            uint64
	Client        [20]byte
	Freelancer    [20]byte
	Title         string
	Description   string
	Milestones    []storedMilestone
	TotalAmount   *big.Int
	Status        uint8
	CreatedAt     uint64
	CompletedAt   uint64
	CancelReason  string
	DisputeReason string
}

func toStoredEscrow(e *escrow.Escrow) *storedEscrow {
	stored := &storedEscrow{
		ID:            e.ID,
		Client:        e.Client,
		Freelancer:    e.Freelancer,
		Title:         e.Title,
		Description:   e.Description,
		TotalAmount:   e.TotalAmount,
		Status:        uint8(e.Status),
		CreatedAt:     uint64(e.CreatedAt),
		CompletedAt:   uint64(e.CompletedAt),
		CancelReason:  e.CancelReason,
		DisputeReason: e.DisputeReason,
	}
	stored.Milestones = make([]storedMilestone, len(e.Milestones))
	for i, ms := range e.Milestones {
		stored.Milestones[i] = storedMilestone{
			Description: ms.Description,
			Amount:      ms.Amount,
			Deadline:    uint64(ms.Deadline),
			Status:      uint8(ms.Status),
			PaidAt:      uint64(ms.PaidAt),
		}
	}
	return stored
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	e := &escrow.Escrow{
		ID:            s.ID,
		Client:        s.Client,
		Freelancer:    s.Freelancer,
		Title:         s.Title,
		Description:   s.Description,
		TotalAmount:   s.TotalAmount,
		Status:        escrow.EscrowStatus(s.Status),
		CreatedAt:     int64(s.CreatedAt),
		CompletedAt:   int64(s.CompletedAt),
		CancelReason:  s.CancelReason,
		DisputeReason: s.DisputeReason,
	}
	if e.TotalAmount == nil {
		e.TotalAmount = big.NewInt(0)
	}
	e.Milestones = make([]*escrow.Milestone, len(s.Milestones))
	for i := range s.Milestones {
		ms := &s.Milestones[i]
		amount := ms.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		e.Milestones[i] = &escrow.Milestone{
			Description: ms.Description,
			Amount:      amount,
			Deadline:    int64(ms.Deadline),
			Status:      escrow.MilestoneStatus(ms.Status),
			PaidAt:      int64(ms.PaidAt),
		}
	}
	return e
}

// EscrowPut persists the escrow record after sanitising it.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(toStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(escrowKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow record. The boolean reports existence; storage
// failures and decode failures also read as absence.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	data, err := m.db.Get(escrowKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	return stored.toEscrow(), true
}

// EscrowNextID increments and returns the monotonic escrow id counter. The
// first assigned id is 1; ids are never reused.
func (m *Manager) EscrowNextID() (uint64, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("state: database not configured")
	}
	var seq uint64
	data, err := m.db.Get(escrowSeqKey)
	if err != nil {
		return 0, err
	}
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &seq); err != nil {
			return 0, err
		}
	}
	seq++
	encoded, err := rlp.EncodeToBytes(seq)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(escrowSeqKey, encoded); err != nil {
		return 0, err
	}
	return seq, nil
}

// EscrowVaultAddress returns the module account that holds all locked escrow
// funds. The address is derived deterministically and has no known key.
func (m *Manager) EscrowVaultAddress() [20]byte {
	digest := ethcrypto.Keccak256(escrowVaultSeed)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// EscrowLocked returns the vault balance still held for the escrow.
func (m *Manager) EscrowLocked(id uint64) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	data, err := m.db.Get(escrowLockedKey(id))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	locked := new(big.Int)
	if err := rlp.DecodeBytes(data, locked); err != nil {
		return nil, err
	}
	return locked, nil
}

// EscrowCredit adds to the locked balance tracked for the escrow.
func (m *Manager) EscrowCredit(id uint64, amount *big.Int) error {
	locked, err := m.EscrowLocked(id)
	if err != nil {
		return err
	}
	return m.writeLocked(id, escrow.AddAmount(locked, amount))
}

// EscrowDebit subtracts from the locked balance tracked for the escrow,
// failing with ErrInsufficientFunds on underflow.
func (m *Manager) EscrowDebit(id uint64, amount *big.Int) error {
	locked, err := m.EscrowLocked(id)
	if err != nil {
		return err
	}
	remaining, err := escrow.SubAmount(locked, amount)
	if err != nil {
		return err
	}
	return m.writeLocked(id, remaining)
}

func (m *Manager) writeLocked(id uint64, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(escrowLockedKey(id), encoded)
}
