package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"escrowchain/crypto"
	"escrowchain/native/escrow"
)

// EscrowResult is the JSON view of an escrow agreement. Status codes follow
// the fixed wire mapping {0 Open, 1 InProgress, 2 Completed, 3 Cancelled,
// 4 Disputed}; the label is advisory.
type EscrowResult struct {
	ID             uint64 `json:"id"`
	Client         string `json:"client"`
	Freelancer     string `json:"freelancer,omitempty"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	TotalAmount    string `json:"totalAmount"`
	PaidAmount     string `json:"paidAmount"`
	LockedAmount   string `json:"lockedAmount"`
	Status         int    `json:"status"`
	StatusLabel    string `json:"statusLabel"`
	CreatedAt      int64  `json:"createdAt"`
	CompletedAt    int64  `json:"completedAt,omitempty"`
	CancelReason   string `json:"cancelReason,omitempty"`
	DisputeReason  string `json:"disputeReason,omitempty"`
	MilestoneCount int    `json:"milestoneCount"`
}

// MilestoneResult is the JSON view of a single milestone. Status codes follow
// the fixed wire mapping {0 Pending, 1 Completed, 2 Paid, 3 Disputed}.
type MilestoneResult struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline,omitempty"`
	Status      int    `json:"status"`
	StatusLabel string `json:"statusLabel"`
	PaidAt      int64  `json:"paidAt,omitempty"`
}

func formatPartyAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.MustNewAddress(crypto.EscrowPrefix, addr[:]).String()
}

func parsePartyAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	if decoded.Prefix() != crypto.EscrowPrefix {
		return out, fmt.Errorf("unsupported address prefix %q", decoded.Prefix())
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func formatEscrowResult(esc *escrow.Escrow, locked *big.Int) *EscrowResult {
	if esc == nil {
		return nil
	}
	if locked == nil {
		locked = big.NewInt(0)
	}
	return &EscrowResult{
		ID:             esc.ID,
		Client:         formatPartyAddress(esc.Client),
		Freelancer:     formatPartyAddress(esc.Freelancer),
		Title:          esc.Title,
		Description:    esc.Description,
		TotalAmount:    esc.TotalAmount.String(),
		PaidAmount:     esc.PaidAmount().String(),
		LockedAmount:   locked.String(),
		Status:         int(esc.Status),
		StatusLabel:    esc.Status.String(),
		CreatedAt:      esc.CreatedAt,
		CompletedAt:    esc.CompletedAt,
		CancelReason:   esc.CancelReason,
		DisputeReason:  esc.DisputeReason,
		MilestoneCount: len(esc.Milestones),
	}
}

func formatMilestoneResult(index int, ms *escrow.Milestone) *MilestoneResult {
	if ms == nil {
		return nil
	}
	return &MilestoneResult{
		Index:       index,
		Description: ms.Description,
		Amount:      ms.Amount.String(),
		Deadline:    ms.Deadline,
		Status:      int(ms.Status),
		StatusLabel: ms.Status.String(),
		PaidAt:      ms.PaidAt,
	}
}
