package model

import (
	"fmt"
	"math/big"
	"strings"
)

// AccountKey identifies a multisig account. Keys are canonical: lower-case,
// 0x-prefixed and left-padded to 64 hex digits, so "0x1" and
// "0x0000...0001" address the same cache entry.
type AccountKey string

func (k AccountKey) String() string {
	return string(k)
}

// ParseAccountKey canonicalizes a hex address into an AccountKey.
func ParseAccountKey(raw string) (AccountKey, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return "", fmt.Errorf("empty account address")
	}
	if len(s) > 64 {
		return "", fmt.Errorf("account address %q longer than 32 bytes", raw)
	}
	if _, ok := new(big.Int).SetString(s, 16); !ok {
		return "", fmt.Errorf("account address %q is not hex", raw)
	}
	return AccountKey("0x" + strings.Repeat("0", 64-len(s)) + s), nil
}

// MustAccountKey is ParseAccountKey for constants and tests.
func MustAccountKey(raw string) AccountKey {
	k, err := ParseAccountKey(raw)
	if err != nil {
		panic(err)
	}
	return k
}
