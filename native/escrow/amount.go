package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// AmountDecimals is the number of fractional decimal digits carried by the
// base asset. Amounts are exact integer counts of minor units; dividing by
// 10^AmountDecimals for display is an external-layer concern.
const AmountDecimals = 8

// AddAmount returns a+b without mutating either operand. Nil operands count
// as zero.
func AddAmount(a, b *big.Int) *big.Int {
	sum := big.NewInt(0)
	if a != nil {
		sum.Add(sum, a)
	}
	if b != nil {
		sum.Add(sum, b)
	}
	return sum
}

// SubAmount returns a-b, failing with ErrInsufficientFunds when the result
// would be negative. Nil operands count as zero.
func SubAmount(a, b *big.Int) (*big.Int, error) {
	minuend := big.NewInt(0)
	if a != nil {
		minuend.Set(a)
	}
	subtrahend := big.NewInt(0)
	if b != nil {
		subtrahend.Set(b)
	}
	if minuend.Cmp(subtrahend) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrInsufficientFunds, minuend, subtrahend)
	}
	return minuend.Sub(minuend, subtrahend), nil
}

// ParseAmount interprets a decimal string as a positive count of minor units.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return amount, nil
}
