// Package helpers provides small utility functions shared across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// SatoshiPerBitcoin is the number of satoshis in one bitcoin.
const SatoshiPerBitcoin = 100_000_000

// SatoshiToBTC formats a satoshi amount as a decimal BTC string suitable
// for Bitcoin Core RPC arguments (no exponent, no trailing zeros).
func SatoshiToBTC(sat uint64) string {
	whole := sat / SatoshiPerBitcoin
	frac := sat % SatoshiPerBitcoin
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fracStr := fmt.Sprintf("%08d", frac)
	fracStr = strings.TrimRight(fracStr, "0")
	return fmt.Sprintf("%d.%s", whole, fracStr)
}

// BTCToSatoshi parses a decimal BTC string into satoshis.
func BTCToSatoshi(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}

	wholeStr, fracStr := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		wholeStr, fracStr = s[:i], s[i+1:]
	}
	if len(fracStr) > 8 {
		return 0, fmt.Errorf("too many decimal places: %q", s)
	}

	whole, ok := new(big.Int).SetString(wholeStr, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %q", s)
	}
	whole.Mul(whole, big.NewInt(SatoshiPerBitcoin))

	if fracStr != "" {
		padded := fracStr + strings.Repeat("0", 8-len(fracStr))
		frac, ok := new(big.Int).SetString(padded, 10)
		if !ok {
			return 0, fmt.Errorf("invalid amount: %q", s)
		}
		whole.Add(whole, frac)
	}

	if !whole.IsUint64() {
		return 0, fmt.Errorf("amount out of range: %q", s)
	}
	return whole.Uint64(), nil
}
