package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// ToSmallestUnit converts a human-readable decimal amount ("5.25") into an
// integer string in the token's smallest unit. Monetary values are stored in
// smallest units only; this conversion happens at the boundary.
func ToSmallestUnit(human string, decimals int) (string, error) {
	human = strings.TrimSpace(human)
	if human == "" {
		return "", fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(human, "-")
	if neg {
		return "", fmt.Errorf("negative amount %q", human)
	}

	whole, frac := human, ""
	if i := strings.IndexByte(human, '.'); i >= 0 {
		whole, frac = human[:i], human[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return "", fmt.Errorf("amount %q exceeds %d decimals", human, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", human)
	}
	return n.String(), nil
}

// FromSmallestUnit converts an integer smallest-unit string back to a
// human-readable decimal string, trimming trailing zeros.
func FromSmallestUnit(raw string, decimals int) (string, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return "", fmt.Errorf("invalid smallest-unit amount %q", raw)
	}
	s := n.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

// SmallestUnitDiff returns |a-b| for two smallest-unit integer strings.
func SmallestUnitDiff(a, b string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(strings.TrimSpace(a), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", a)
	}
	y, ok := new(big.Int).SetString(strings.TrimSpace(b), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", b)
	}
	d := new(big.Int).Sub(x, y)
	return d.Abs(d), nil
}
