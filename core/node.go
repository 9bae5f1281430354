package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"escrowchain/core/events"
	nhstate "escrowchain/core/state"
	"escrowchain/core/types"
	"escrowchain/native/escrow"
	"escrowchain/observability"
	"escrowchain/storage"
)

// ErrEscrowNotFound is the node-level alias RPC handlers dispatch on.
var ErrEscrowNotFound = escrow.ErrNotFound

// SequencedEvent pairs an emitted event with its position in the node's
// event log. Sequences start at 1 and never repeat.
type SequencedEvent struct {
	Sequence int64       `json:"sequence"`
	Event    types.Event `json:"event"`
}

// Node owns the durable ledger state and is the sole writer of escrow
// records. Every transition takes the state mutex, so a transition reads,
// validates and commits without interleaving: escrow record, locked funds
// and query index move together. Event log appends happen inside the same
// critical section, after the commit.
type Node struct {
	db     storage.Database
	logger *slog.Logger

	stateMu sync.Mutex

	eventsMu sync.Mutex
	events   []types.Event
	subs     map[uint64]chan types.Event
	nextSub  uint64
}

// NewNode creates a ledger node on top of the supplied database.
func NewNode(db storage.Database, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:     db,
		logger: logger,
		subs:   make(map[uint64]chan types.Event),
	}
}

func (n *Node) newEscrowEngine(manager *nhstate.Manager) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(n)
	return engine
}

// Emit satisfies events.Emitter. Events carrying a structured payload are
// appended to the node's log and fanned out to subscribers; slow subscribers
// are skipped rather than blocking a transition.
func (n *Node) Emit(evt events.Event) {
	payloadSource, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := payloadSource.Event()
	if payload == nil {
		return
	}
	record := *payload.Clone()

	n.eventsMu.Lock()
	n.events = append(n.events, record)
	for _, ch := range n.subs {
		select {
		case ch <- record:
		default:
		}
	}
	n.eventsMu.Unlock()
}

// Events returns a copy of the full event log.
func (n *Node) Events() []types.Event {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// EventsAfter returns up to limit events with sequence greater than after.
// A non-positive limit means no cap.
func (n *Node) EventsAfter(after int64, limit int) []SequencedEvent {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	return n.eventsAfterLocked(after, limit)
}

func (n *Node) eventsAfterLocked(after int64, limit int) []SequencedEvent {
	if after < 0 {
		after = 0
	}
	if after >= int64(len(n.events)) {
		return nil
	}
	tail := n.events[after:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	out := make([]SequencedEvent, len(tail))
	for i, evt := range tail {
		out[i] = SequencedEvent{Sequence: after + int64(i) + 1, Event: *evt.Clone()}
	}
	return out
}

// SubscribeEvents registers a live event feed. The returned cancel function
// must be called to release the subscription.
func (n *Node) SubscribeEvents(buffer int) (<-chan types.Event, func()) {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	ch, cancel := n.subscribeLocked(buffer)
	return ch, cancel
}

// SubscribeEventsAfter registers a live feed and returns the backlog of
// events past the cursor in the same critical section, so the caller sees
// every event exactly once.
func (n *Node) SubscribeEventsAfter(after int64, buffer int) ([]SequencedEvent, <-chan types.Event, func()) {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	backlog := n.eventsAfterLocked(after, 0)
	ch, cancel := n.subscribeLocked(buffer)
	return backlog, ch, cancel
}

func (n *Node) subscribeLocked(buffer int) (chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.Event, buffer)
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	cancel := func() {
		n.eventsMu.Lock()
		if existing, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(existing)
		}
		n.eventsMu.Unlock()
	}
	return ch, cancel
}

func (n *Node) instrument(operation string, fn func() error) error {
	started := time.Now()
	err := fn()
	observability.Ledger().ObserveTransition(operation, err, started)
	if err != nil {
		n.logger.Info("escrow transition rejected",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
	} else {
		n.logger.Info("escrow transition applied", slog.String("operation", operation))
	}
	return err
}

// EscrowCreate validates and commits a new escrow agreement.
func (n *Node) EscrowCreate(client [20]byte, title, description string, milestones []*escrow.Milestone) (*escrow.Escrow, error) {
	var created *escrow.Escrow
	err := n.instrument("create", func() error {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
		engine := n.newEscrowEngine(nhstate.NewManager(n.db))
		esc, err := engine.Create(client, title, description, milestones)
		if err != nil {
			return err
		}
		created = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// EscrowAccept assigns the freelancer and moves the escrow into InProgress.
func (n *Node) EscrowAccept(id uint64, freelancer [20]byte) error {
	return n.instrument("accept", func() error {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
		return n.newEscrowEngine(nhstate.NewManager(n.db)).Accept(id, freelancer)
	})
}

// EscrowCompleteMilestone approves and pays out a single milestone.
func (n *Node) EscrowCompleteMilestone(id uint64, index int, caller [20]byte) error {
	return n.instrument("complete_milestone", func() error {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
		return n.newEscrowEngine(nhstate.NewManager(n.db)).CompleteMilestone(id, index, caller)
	})
}

// EscrowCancel refunds an unaccepted escrow to its client.
func (n *Node) EscrowCancel(id uint64, caller [20]byte, reason string) error {
	return n.instrument("cancel", func() error {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
		return n.newEscrowEngine(nhstate.NewManager(n.db)).Cancel(id, caller, reason)
	})
}

// EscrowDispute freezes an in-progress escrow.
func (n *Node) EscrowDispute(id uint64, caller [20]byte, reason string) error {
	return n.instrument("dispute", func() error {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
		return n.newEscrowEngine(nhstate.NewManager(n.db)).Dispute(id, caller, reason)
	})
}

// EscrowGet returns a copy of the escrow record.
func (n *Node) EscrowGet(id uint64) (*escrow.Escrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).Get(id)
}

// EscrowMilestone returns a copy of the indexed milestone.
func (n *Node) EscrowMilestone(id uint64, index int) (*escrow.Milestone, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).Milestone(id, index)
}

// EscrowMilestoneCount returns the fixed milestone count for the escrow.
func (n *Node) EscrowMilestoneCount(id uint64) (int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).MilestoneCount(id)
}

// EscrowLocked returns the vault balance still held for the escrow.
func (n *Node) EscrowLocked(id uint64) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).LockedAmount(id)
}

// EscrowsByClient lists escrow ids funded by the address.
func (n *Node) EscrowsByClient(addr [20]byte) ([]uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).EscrowsByClient(addr)
}

// EscrowsByFreelancer lists escrow ids accepted by the address.
func (n *Node) EscrowsByFreelancer(addr [20]byte) ([]uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).EscrowsByFreelancer(addr)
}

// OpenEscrows lists escrow ids awaiting acceptance.
func (n *Node) OpenEscrows() ([]uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nhstate.NewManager(n.db)).OpenEscrows()
}

// Balance returns the spendable balance of the account.
func (n *Node) Balance(addr []byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	account, err := nhstate.NewManager(n.db).GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Mint credits new funds to an account. Exposed for development networks and
// tests; production deployments gate the RPC method behind the auth token.
func (n *Node) Mint(addr []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	return n.instrument("mint", func() error {
		n.stateMu.Lock()
		defer n.stateMu.Unlock()
		manager := nhstate.NewManager(n.db)
		account, err := manager.GetAccount(addr)
		if err != nil {
			return err
		}
		account.Balance = escrow.AddAmount(account.Balance, amount)
		return manager.PutAccount(addr, account)
	})
}
