package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// ErrInvalidAmount is returned for unparseable, negative or out-of-range amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// decimalText is plain base-10 notation; no sign, exponent, base prefix or fraction bar.
var decimalText = regexp.MustCompile(`^(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)$`)

// Amount is a non-negative quantity of ledger units with its decimal scale.
type Amount struct {
	Raw      *big.Int
	Decimals uint8
}

// Parse converts decimal text into an Amount at the given scale.
func Parse(text string, decimals uint8) (Amount, error) {
	raw, err := ToRawUnits(text, decimals)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Raw: raw, Decimals: decimals}, nil
}

// FromUint64 wraps a raw u64 balance.
func FromUint64(raw uint64, decimals uint8) Amount {
	return Amount{Raw: new(big.Int).SetUint64(raw), Decimals: decimals}
}

// String renders the amount as display text.
func (a Amount) String() string {
	return ToDisplayText(a.Raw, a.Decimals)
}

// IsZero reports whether the amount is nil or zero.
func (a Amount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}

// Uint64 returns the raw units when they fit the ledger's u64 field.
func (a Amount) Uint64() (uint64, error) {
	if a.Raw == nil {
		return 0, nil
	}
	if a.Raw.Sign() < 0 || !a.Raw.IsUint64() {
		return 0, fmt.Errorf("%w: %s exceeds u64", ErrInvalidAmount, a.Raw.String())
	}
	return a.Raw.Uint64(), nil
}

// ToRawUnits parses decimal text exactly and floors it to integer units of 10^-decimals.
func ToRawUnits(text string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, text)
	}
	if !decimalText.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	// non-negative, so truncation is floor
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// ToDisplayText renders raw units with the decimal point inserted decimals digits from
// the right. Zero decimals yields the plain integer. Negative values render as zero.
func ToDisplayText(raw *big.Int, decimals uint8) string {
	if raw == nil || raw.Sign() < 0 {
		raw = new(big.Int)
	}
	digits := raw.String()
	if decimals == 0 {
		return digits
	}
	width := int(decimals) + 1
	if len(digits) < width {
		digits = strings.Repeat("0", width-len(digits)) + digits
	}
	cut := len(digits) - int(decimals)
	return digits[:cut] + "." + digits[cut:]
}
