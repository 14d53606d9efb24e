package token

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals of the payment token.
const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// FormatAmount renders smallest units as a decimal string with up to four
// fractional digits.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		fracStr := strings.Repeat("0", Decimals-len(digits)) + digits
		fracStr = strings.TrimRight(fracStr[:4], "0")
		if fracStr != "" {
			out += "." + fracStr
		}
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseAmount parses a decimal token amount into smallest units.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) > 2 || parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}

	whole := new(big.Int)
	if parts[0] != "" {
		if _, ok := whole.SetString(parts[0], 10); !ok || whole.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount: %q", s)
		}
	}
	result := new(big.Int).Mul(whole, unit)

	if len(parts) == 2 && parts[1] != "" {
		fracStr := parts[1]
		if len(fracStr) > Decimals {
			return nil, fmt.Errorf("too many decimal places: %q", s)
		}
		fracStr += strings.Repeat("0", Decimals-len(fracStr))
		frac, ok := new(big.Int).SetString(fracStr, 10)
		if !ok || frac.Sign() < 0 {
			return nil, fmt.Errorf("invalid decimal: %q", s)
		}
		result.Add(result, frac)
	}
	return result, nil
}
