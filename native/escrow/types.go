package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// EscrowStatus represents the lifecycle states of an escrow agreement. The
// numeric values are part of the wire protocol and must not be reordered.
type EscrowStatus uint8

const (
	// EscrowOpen marks agreements that are funded and awaiting a freelancer.
	EscrowOpen EscrowStatus = iota
	// EscrowInProgress marks agreements accepted by a freelancer.
	EscrowInProgress
	// EscrowCompleted marks agreements whose milestones have all been paid.
	EscrowCompleted
	// EscrowCancelled marks agreements cancelled by the client before
	// acceptance. Cancelled escrows are retained for audit.
	EscrowCancelled
	// EscrowDisputed marks agreements frozen by a dispute. Remaining funds
	// stay locked until resolved outside the ledger.
	EscrowDisputed
)

// MilestoneStatus represents the state of an individual milestone. The numeric
// values are part of the wire protocol and must not be reordered.
type MilestoneStatus uint8

const (
	// MilestonePending indicates work has not been approved yet.
	MilestonePending MilestoneStatus = iota
	// MilestoneCompleted indicates the client approved the work. The engine
	// pays approved milestones out immediately, so this state is transient
	// and never persisted.
	MilestoneCompleted
	// MilestonePaid indicates the milestone amount has been transferred to
	// the freelancer.
	MilestonePaid
	// MilestoneDisputed indicates the milestone is frozen by a dispute.
	MilestoneDisputed
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowOpen, EscrowInProgress, EscrowCompleted, EscrowCancelled, EscrowDisputed:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label for the status.
func (s EscrowStatus) String() string {
	switch s {
	case EscrowOpen:
		return "open"
	case EscrowInProgress:
		return "in_progress"
	case EscrowCompleted:
		return "completed"
	case EscrowCancelled:
		return "cancelled"
	case EscrowDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Valid reports whether the status value is within the supported range.
func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestonePending, MilestoneCompleted, MilestonePaid, MilestoneDisputed:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label for the status.
func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneCompleted:
		return "completed"
	case MilestonePaid:
		return "paid"
	case MilestoneDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Milestone captures a single deliverable/payment unit inside an escrow.
type Milestone struct {
	Description string
	Amount      *big.Int
	Deadline    int64
	Status      MilestoneStatus
	PaidAt      int64
}

// Clone returns a deep copy of the milestone so callers can safely mutate the
// copy without affecting the stored instance.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Validate ensures the milestone definition is sane prior to persistence.
// Deadlines are advisory metadata and deliberately not checked against the
// clock.
func (m *Milestone) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: milestone must not be nil", ErrInvalidMilestoneSet)
	}
	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("%w: description required", ErrInvalidMilestoneSet)
	}
	if m.Amount == nil || m.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidMilestoneSet)
	}
	if m.Deadline < 0 {
		return fmt.Errorf("%w: deadline must not be negative", ErrInvalidMilestoneSet)
	}
	return nil
}

// Finalized reports whether the milestone can no longer be mutated.
func (m *Milestone) Finalized() bool {
	if m == nil {
		return false
	}
	return m.Status == MilestonePaid || m.Status == MilestoneDisputed
}

// UnassignedFreelancer is the sentinel value carried by escrows that have not
// been accepted yet.
var UnassignedFreelancer = [20]byte{}

// Escrow captures a single agreement: the funding client, the (optionally
// assigned) freelancer, the immutable milestone schedule and the runtime
// status. The identifier is assigned by the ledger, monotonically increasing
// and never reused.
type Escrow struct {
	ID            uint64
	Client        [20]byte
	Freelancer    [20]byte
	Title         string
	Description   string
	Milestones    []*Milestone
	TotalAmount   *big.Int
	Status        EscrowStatus
	CreatedAt     int64
	CompletedAt   int64
	CancelReason  string
	DisputeReason string
}

// Clone returns a deep copy of the escrow.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(e.TotalAmount)
	} else {
		clone.TotalAmount = big.NewInt(0)
	}
	if len(e.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(e.Milestones))
		for i, ms := range e.Milestones {
			clone.Milestones[i] = ms.Clone()
		}
	}
	return &clone
}

// HasFreelancer reports whether a freelancer has been assigned.
func (e *Escrow) HasFreelancer() bool {
	if e == nil {
		return false
	}
	return e.Freelancer != UnassignedFreelancer
}

// PaidAmount returns the sum of amounts of milestones already paid out.
func (e *Escrow) PaidAmount() *big.Int {
	total := big.NewInt(0)
	if e == nil {
		return total
	}
	for _, ms := range e.Milestones {
		if ms != nil && ms.Status == MilestonePaid && ms.Amount != nil {
			total.Add(total, ms.Amount)
		}
	}
	return total
}

// UnpaidAmount returns the sum of amounts of milestones not yet paid out.
func (e *Escrow) UnpaidAmount() *big.Int {
	total := big.NewInt(0)
	if e == nil {
		return total
	}
	for _, ms := range e.Milestones {
		if ms != nil && ms.Status != MilestonePaid && ms.Amount != nil {
			total.Add(total, ms.Amount)
		}
	}
	return total
}

// AllMilestonesPaid reports whether every milestone has been paid out.
func (e *Escrow) AllMilestonesPaid() bool {
	if e == nil || len(e.Milestones) == 0 {
		return false
	}
	for _, ms := range e.Milestones {
		if ms == nil || ms.Status != MilestonePaid {
			return false
		}
	}
	return true
}

// SumMilestoneAmounts computes the total of the supplied milestone amounts.
func SumMilestoneAmounts(milestones []*Milestone) *big.Int {
	total := big.NewInt(0)
	for _, ms := range milestones {
		if ms != nil && ms.Amount != nil {
			total.Add(total, ms.Amount)
		}
	}
	return total
}

// SanitizeEscrow validates and normalises the supplied escrow, returning a
// cloned instance with non-nil amount fields. The function does not mutate the
// original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.TotalAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow total amount must be non-negative")
	}
	for i, ms := range clone.Milestones {
		if ms == nil {
			return nil, fmt.Errorf("milestone %d must not be nil", i)
		}
		if !ms.Status.Valid() {
			return nil, fmt.Errorf("invalid milestone status: %d", ms.Status)
		}
		if ms.Amount.Sign() < 0 {
			return nil, fmt.Errorf("milestone %d amount must be non-negative", i)
		}
	}
	if sum := SumMilestoneAmounts(clone.Milestones); sum.Cmp(clone.TotalAmount) != 0 {
		return nil, fmt.Errorf("escrow total %s does not match milestone sum %s", clone.TotalAmount, sum)
	}
	return clone, nil
}
