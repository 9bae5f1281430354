package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestStatusLabels(t *testing.T) {
	cases := []struct {
		status EscrowStatus
		label  string
	}{
		{EscrowOpen, "open"},
		{EscrowInProgress, "in_progress"},
		{EscrowCompleted, "completed"},
		{EscrowCancelled, "cancelled"},
		{EscrowDisputed, "disputed"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.label {
			t.Fatalf("status %d: expected %q, got %q", tc.status, tc.label, got)
		}
	}
	if EscrowStatus(42).Valid() {
		t.Fatal("unknown status must not be valid")
	}
}

func TestMilestoneValidate(t *testing.T) {
	ms := &Milestone{Description: "design", Amount: big.NewInt(100)}
	if err := ms.Validate(); err != nil {
		t.Fatalf("valid milestone rejected: %v", err)
	}

	cases := []*Milestone{
		nil,
		{Description: "", Amount: big.NewInt(100)},
		{Description: "x", Amount: nil},
		{Description: "x", Amount: big.NewInt(0)},
		{Description: "x", Amount: big.NewInt(-5)},
	}
	for i, bad := range cases {
		if err := bad.Validate(); !errors.Is(err, ErrInvalidMilestoneSet) {
			t.Fatalf("case %d: expected ErrInvalidMilestoneSet, got %v", i, err)
		}
	}
}

func TestMilestoneFinalized(t *testing.T) {
	if (&Milestone{Status: MilestonePending}).Finalized() {
		t.Fatal("pending must not be finalized")
	}
	if !(&Milestone{Status: MilestonePaid}).Finalized() {
		t.Fatal("paid must be finalized")
	}
	if !(&Milestone{Status: MilestoneDisputed}).Finalized() {
		t.Fatal("disputed must be finalized")
	}
}

func TestEscrowPaidAndUnpaidAmounts(t *testing.T) {
	esc := &Escrow{
		Milestones: []*Milestone{
			{Description: "a", Amount: big.NewInt(100), Status: MilestonePaid},
			{Description: "b", Amount: big.NewInt(250), Status: MilestonePending},
		},
		TotalAmount: big.NewInt(350),
	}
	if got := esc.PaidAmount(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("paid %s", got)
	}
	if got := esc.UnpaidAmount(); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unpaid %s", got)
	}
	if esc.AllMilestonesPaid() {
		t.Fatal("not all paid yet")
	}
	esc.Milestones[1].Status = MilestonePaid
	if !esc.AllMilestonesPaid() {
		t.Fatal("all milestones are paid")
	}
}

func TestSanitizeEscrowRejectsBadRecords(t *testing.T) {
	good := &Escrow{
		ID:     1,
		Client: [20]byte{0x01},
		Title:  "t",

		Description: "d",
		Milestones:  []*Milestone{{Description: "a", Amount: big.NewInt(100)}},
		TotalAmount: big.NewInt(100),
		Status:      EscrowOpen,
	}
	if _, err := SanitizeEscrow(good); err != nil {
		t.Fatalf("good escrow rejected: %v", err)
	}

	badTotal := good.Clone()
	badTotal.TotalAmount = big.NewInt(1)
	if _, err := SanitizeEscrow(badTotal); err == nil {
		t.Fatal("expected total mismatch rejection")
	}

	badStatus := good.Clone()
	badStatus.Status = EscrowStatus(42)
	if _, err := SanitizeEscrow(badStatus); err == nil {
		t.Fatal("expected invalid status rejection")
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"100":        "100",
		" 2500 ":     "2500",
		"1000000000": "1000000000",
	}
	for input, want := range cases {
		got, err := ParseAmount(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got.String() != want {
			t.Fatalf("parse %q: expected %s, got %s", input, want, got)
		}
	}

	for _, bad := range []string{"", "abc", "-5", "0", "1.5"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Fatalf("expected rejection for %q", bad)
		}
	}
}

func TestSubAmountUnderflow(t *testing.T) {
	if _, err := SubAmount(big.NewInt(10), big.NewInt(20)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	remaining, err := SubAmount(big.NewInt(20), big.NewInt(20))
	if err != nil || remaining.Sign() != 0 {
		t.Fatalf("exact subtraction: remaining=%s err=%v", remaining, err)
	}
}
