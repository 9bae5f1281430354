package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"escrowchain/core/events"
	"escrowchain/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the narrow persistence surface the engine drives. The state
// manager implements it over the durable store; tests supply an in-memory
// mock. Index updates run inside the same transition critical section as the
// escrow record itself, so readers never observe a half-applied transition.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	EscrowNextID() (uint64, error)

	EscrowCredit(id uint64, amount *big.Int) error
	EscrowDebit(id uint64, amount *big.Int) error
	EscrowLocked(id uint64) (*big.Int, error)
	EscrowVaultAddress() [20]byte

	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error

	IndexClientAdd(addr [20]byte, id uint64) error
	IndexFreelancerAdd(addr [20]byte, id uint64) error
	IndexOpenAdd(id uint64) error
	IndexOpenRemove(id uint64) error
	IndexClientList(addr [20]byte) ([]uint64, error)
	IndexFreelancerList(addr [20]byte) ([]uint64, error)
	IndexOpenList() ([]uint64, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow transition logic with external state and event
// emitters. Every mutation validates its guards before touching state and
// persists the full record in one put, so a failed transition leaves the
// ledger untouched.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	// Work on a copy so guard failures never leak partial mutation into a
	// state backend that hands out shared pointers.
	return esc.Clone(), nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	remaining, err := SubAmount(fromAcc.Balance, amt)
	if err != nil {
		return err
	}
	fromAcc.Balance = remaining
	toAcc.Balance = AddAmount(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Create validates and persists a new escrow agreement, locking the milestone
// total from the client into the module vault. The assigned id is monotonic
// and never reused; a failed create consumes no id.
func (e *Engine) Create(client [20]byte, title, description string, milestones []*Milestone) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if client == ([20]byte{}) {
		return nil, fmt.Errorf("%w: client required", ErrNotAuthorized)
	}
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return nil, fmt.Errorf("escrow: title must not be empty")
	}
	trimmedDescription := strings.TrimSpace(description)
	if trimmedDescription == "" {
		return nil, fmt.Errorf("escrow: description must not be empty")
	}
	if len(milestones) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone required", ErrInvalidMilestoneSet)
	}
	cloned := make([]*Milestone, len(milestones))
	for i, ms := range milestones {
		if err := ms.Validate(); err != nil {
			return nil, err
		}
		clone := ms.Clone()
		clone.Status = MilestonePending
		clone.PaidAt = 0
		cloned[i] = clone
	}
	total := SumMilestoneAmounts(cloned)

	if err := e.transfer(client, e.state.EscrowVaultAddress(), total); err != nil {
		return nil, err
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:          id,
		Client:      client,
		Freelancer:  UnassignedFreelancer,
		Title:       trimmedTitle,
		Description: trimmedDescription,
		Milestones:  cloned,
		TotalAmount: total,
		Status:      EscrowOpen,
		CreatedAt:   e.now(),
	}
	if err := e.state.EscrowCredit(id, total); err != nil {
		return nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	if err := e.state.IndexClientAdd(client, id); err != nil {
		return nil, err
	}
	if err := e.state.IndexOpenAdd(id); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Accept assigns the freelancer and moves the escrow into InProgress. The
// freelancer must differ from the client.
func (e *Engine) Accept(id uint64, freelancer [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowOpen {
		return fmt.Errorf("%w: cannot accept in status %s", ErrInvalidState, esc.Status)
	}
	if freelancer == ([20]byte{}) {
		return fmt.Errorf("%w: freelancer required", ErrNotAuthorized)
	}
	if freelancer == esc.Client {
		return fmt.Errorf("%w: client cannot accept own escrow", ErrNotAuthorized)
	}
	esc.Freelancer = freelancer
	esc.Status = EscrowInProgress
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.state.IndexFreelancerAdd(freelancer, id); err != nil {
		return err
	}
	if err := e.state.IndexOpenRemove(id); err != nil {
		return err
	}
	e.emit(NewAcceptedEvent(esc))
	return nil
}

// CompleteMilestone approves the indexed milestone and immediately pays its
// amount from the vault to the freelancer. When the last milestone is paid
// the escrow transitions to Completed.
func (e *Engine) CompleteMilestone(id uint64, index int, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowInProgress {
		return fmt.Errorf("%w: cannot complete milestone in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Client {
		return fmt.Errorf("%w: only the client may approve milestones", ErrNotAuthorized)
	}
	if index < 0 || index >= len(esc.Milestones) {
		return fmt.Errorf("%w: index %d of %d milestones", ErrMilestoneIndexOutOfRange, index, len(esc.Milestones))
	}
	ms := esc.Milestones[index]
	if ms.Finalized() {
		return fmt.Errorf("%w: milestone %d is %s", ErrAlreadyFinalized, index, ms.Status)
	}
	if ms.Status != MilestonePending {
		return fmt.Errorf("%w: milestone %d is %s", ErrInvalidState, index, ms.Status)
	}
	locked, err := e.state.EscrowLocked(id)
	if err != nil {
		return err
	}
	if _, err := SubAmount(locked, ms.Amount); err != nil {
		return err
	}
	if err := e.transfer(e.state.EscrowVaultAddress(), esc.Freelancer, ms.Amount); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, ms.Amount); err != nil {
		return err
	}
	now := e.now()
	ms.Status = MilestonePaid
	ms.PaidAt = now
	completed := esc.AllMilestonesPaid()
	if completed {
		esc.Status = EscrowCompleted
		esc.CompletedAt = now
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewMilestonePaidEvent(esc, index, ms.Amount))
	if completed {
		e.emit(NewCompletedEvent(esc))
	}
	return nil
}

// Cancel refunds the locked total to the client. Only legal while the escrow
// is still Open with no freelancer assigned; the cancelled record is retained
// for audit.
func (e *Engine) Cancel(id uint64, caller [20]byte, reason string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowOpen || esc.HasFreelancer() {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Client {
		return fmt.Errorf("%w: only the client may cancel", ErrNotAuthorized)
	}
	locked, err := e.state.EscrowLocked(id)
	if err != nil {
		return err
	}
	if _, err := SubAmount(locked, esc.TotalAmount); err != nil {
		return err
	}
	if err := e.transfer(e.state.EscrowVaultAddress(), esc.Client, esc.TotalAmount); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, esc.TotalAmount); err != nil {
		return err
	}
	esc.Status = EscrowCancelled
	esc.CancelReason = strings.TrimSpace(reason)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.state.IndexOpenRemove(id); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Dispute freezes the escrow. Remaining unpaid funds stay locked in the vault
// until resolved outside the ledger; no resolution transition is modelled.
func (e *Engine) Dispute(id uint64, caller [20]byte, reason string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowInProgress {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Client && caller != esc.Freelancer {
		return fmt.Errorf("%w: only a party to the escrow may dispute", ErrNotAuthorized)
	}
	esc.Status = EscrowDisputed
	esc.DisputeReason = strings.TrimSpace(reason)
	for _, ms := range esc.Milestones {
		if ms != nil && ms.Status != MilestonePaid {
			ms.Status = MilestoneDisputed
		}
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	return e.loadEscrow(id)
}

// Milestone returns a copy of the indexed milestone.
func (e *Engine) Milestone(id uint64, index int) (*Milestone, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(esc.Milestones) {
		return nil, fmt.Errorf("%w: index %d of %d milestones", ErrMilestoneIndexOutOfRange, index, len(esc.Milestones))
	}
	return esc.Milestones[index], nil
}

// MilestoneCount returns the fixed number of milestones on the escrow.
func (e *Engine) MilestoneCount(id uint64) (int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return len(esc.Milestones), nil
}

// LockedAmount returns the vault balance still held for the escrow.
func (e *Engine) LockedAmount(id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.EscrowGet(id); !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return e.state.EscrowLocked(id)
}

// EscrowsByClient lists ids of escrows funded by the address, oldest first.
func (e *Engine) EscrowsByClient(addr [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.IndexClientList(addr)
}

// EscrowsByFreelancer lists ids of escrows accepted by the address, oldest
// first.
func (e *Engine) EscrowsByFreelancer(addr [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.IndexFreelancerList(addr)
}

// OpenEscrows lists ids of escrows currently awaiting acceptance.
func (e *Engine) OpenEscrows() ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.IndexOpenList()
}
