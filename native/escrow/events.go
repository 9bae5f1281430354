package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowchain/core/types"
)

const (
	EventTypeEscrowCreated       = "escrow.created"
	EventTypeEscrowAccepted      = "escrow.accepted"
	EventTypeEscrowMilestonePaid = "escrow.milestone_paid"
	EventTypeEscrowCompleted     = "escrow.completed"
	EventTypeEscrowCancelled     = "escrow.cancelled"
	EventTypeEscrowDisputed      = "escrow.disputed"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewAcceptedEvent returns the canonical event payload emitted when a
// freelancer accepts an escrow.
func NewAcceptedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowAccepted, e) }

// NewMilestonePaidEvent returns the canonical event payload for a milestone
// payout to the freelancer.
func NewMilestonePaidEvent(e *Escrow, index int, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowMilestonePaid, e)
	evt.Attributes["milestoneIndex"] = strconv.Itoa(index)
	if amount != nil {
		evt.Attributes["milestoneAmount"] = amount.String()
	}
	return evt
}

// NewCompletedEvent returns the canonical event payload emitted when every
// milestone has been paid.
func NewCompletedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCompleted, e) }

// NewCancelledEvent returns the canonical event payload for a client
// cancellation and refund.
func NewCancelledEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowCancelled, e)
	if e != nil && e.CancelReason != "" {
		evt.Attributes["reason"] = e.CancelReason
	}
	return evt
}

// NewDisputedEvent returns the canonical event payload emitted when a party
// disputes an escrow.
func NewDisputedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDisputed, e)
	if e != nil && e.DisputeReason != "" {
		evt.Attributes["reason"] = e.DisputeReason
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["client"] = hex.EncodeToString(sanitized.Client[:])
	attrs["totalAmount"] = sanitized.TotalAmount.String()
	attrs["status"] = strconv.FormatUint(uint64(sanitized.Status), 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.HasFreelancer() {
		attrs["freelancer"] = hex.EncodeToString(sanitized.Freelancer[:])
	}
	if sanitized.CompletedAt != 0 {
		attrs["completedAt"] = strconv.FormatInt(sanitized.CompletedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
