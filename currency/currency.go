// Package currency converts decimal USDC amounts to and from the integer
// micro-unit representation all settlement arithmetic is performed in.
// USDC carries six decimals on-chain, so one micro-unit is the smallest
// representable value and integer math in micro-units is exact.
package currency

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// MicroUnitsPerUSDC is the fixed-point scale: 10^6 micro-units per dollar.
const MicroUnitsPerUSDC = 1_000_000

// amountPattern admits unsigned decimals with at most six fractional
// digits. Signs, exponents and bare fractions are rejected at the boundary.
var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,6})?$`)

// ErrInvalidAmount is returned for amounts that are not unsigned decimals
// expressible in micro-units.
type ErrInvalidAmount struct {
	Amount string
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Amount, e.Reason)
}

// ToMicroUnits parses a decimal USDC string into micro-units.
func ToMicroUnits(amount string) (int64, error) {
	if amount == "" {
		return 0, &ErrInvalidAmount{Amount: amount, Reason: "amount is empty"}
	}
	if !amountPattern.MatchString(amount) {
		return 0, &ErrInvalidAmount{Amount: amount, Reason: "must be an unsigned decimal with at most 6 fractional digits"}
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, &ErrInvalidAmount{Amount: amount, Reason: err.Error()}
	}
	micro := d.Shift(6)
	if !micro.IsInteger() {
		return 0, &ErrInvalidAmount{Amount: amount, Reason: "more than 6 fractional digits"}
	}
	if !micro.BigInt().IsInt64() {
		return 0, &ErrInvalidAmount{Amount: amount, Reason: "amount out of range"}
	}
	return micro.IntPart(), nil
}

// FromMicroUnits renders micro-units as a canonical decimal string:
// trailing fractional zeros are stripped and whole amounts carry no
// decimal point, so 900000 renders as "0.9" and 1000000 as "1".
func FromMicroUnits(micro int64) string {
	return decimal.New(micro, -6).String()
}

// Split divides a total amount between an author and the protocol by basis
// points. The author share is floored and the protocol absorbs the
// remainder, so authorMicro+protocolMicro == totalMicro for every input;
// rounding never inflates the author's share. The two bps values need not
// sum to 10000.
func Split(total string, authorBps, protocolBps int) (author, protocol string, err error) {
	if authorBps < 0 || protocolBps < 0 {
		return "", "", fmt.Errorf("basis points must be non-negative")
	}
	totalMicro, err := ToMicroUnits(total)
	if err != nil {
		return "", "", err
	}
	authorMicro := splitMicro(totalMicro, authorBps)
	protocolMicro := totalMicro - authorMicro
	return FromMicroUnits(authorMicro), FromMicroUnits(protocolMicro), nil
}

// splitMicro computes floor(totalMicro * bps / 10000) without int64
// overflow on the intermediate product.
func splitMicro(totalMicro int64, bps int) int64 {
	product := new(big.Int).Mul(big.NewInt(totalMicro), big.NewInt(int64(bps)))
	return product.Div(product, big.NewInt(10_000)).Int64()
}
