package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// MaxAmountBits bounds every amount to the host currency's u128 range.
	MaxAmountBits = 128
	// TokenDecimals is the number of fractional digits of one whole currency unit.
	TokenDecimals = 12
)

var ErrAmountOutOfRange = errors.New("domain: amount exceeds 128 bits")

// ParseAmount parses a base-10 amount in smallest units. An empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	if !InRange(v) {
		return nil, ErrAmountOutOfRange
	}
	return v, nil
}

// InRange reports whether v fits in 128 bits.
func InRange(v *uint256.Int) bool {
	return v.BitLen() <= MaxAmountBits
}

// FormatUnits renders an amount in whole currency units, e.g. 50000000000 -> "0.05".
func FormatUnits(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -TokenDecimals).String()
}
