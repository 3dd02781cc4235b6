// Package address renders Starknet addresses in checksum form.
//
// The checksum is the case pattern of the 64-digit hex address: digit i is
// upper-cased when the matching nibble of the address's Starknet keccak
// (keccak-256 truncated to 250 bits) is 8 or more.
package address

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"
)

var (
	// 2^251 + 17*2^192 + 1
	fieldPrime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
)

// Checksum parses a hex address and returns its checksum rendering.
func Checksum(addr string) (string, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(addr), "0x"), "0X")
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return "", fmt.Errorf("address %q is not hex", addr)
	}
	if v.Cmp(fieldPrime) >= 0 {
		return "", fmt.Errorf("address %q is outside the field", addr)
	}
	return FromBig(v), nil
}

// FromFelt returns the checksum rendering of f.
func FromFelt(f *felt.Felt) string {
	if f == nil {
		return FromBig(new(big.Int))
	}
	return FromBig(f.BigInt(new(big.Int)))
}

// FromBig returns the checksum rendering of v. Negative values render as zero.
func FromBig(v *big.Int) string {
	if v == nil || v.Sign() < 0 {
		v = new(big.Int)
	}
	chars := []byte(fmt.Sprintf("%064x", v))
	hashed := keccakOf(v)

	for i := 0; i+1 < len(chars); i += 2 {
		b := hashed[i>>1]
		if b>>4 >= 8 {
			chars[i] = upper(chars[i])
		}
		if b&0x0f >= 8 {
			chars[i+1] = upper(chars[i+1])
		}
	}
	return "0x" + string(chars)
}

// IsChecksum reports whether addr is already in checksum form.
func IsChecksum(addr string) bool {
	want, err := Checksum(addr)
	if err != nil {
		return false
	}
	return padded(addr) == want
}

func keccakOf(v *big.Int) [32]byte {
	raw := v.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}
	return crypto.StarknetKeccak(raw).Bytes()
}

func padded(addr string) string {
	s := strings.TrimPrefix(strings.TrimSpace(addr), "0x")
	if len(s) < 64 {
		s = strings.Repeat("0", 64-len(s)) + s
	}
	return "0x" + s
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}
