package abi

import "strings"

const (
	TypeContractAddress = "core::starknet::contract_address::ContractAddress"
	TypeEthAddress      = "core::starknet::eth_address::EthAddress"
	TypeClassHash       = "core::starknet::class_hash::ClassHash"
	TypeStorageAddress  = "core::starknet::storage_access::StorageAddress"
	TypeFelt252         = "core::felt252"
	TypeBool            = "core::bool"
	TypeBytes31         = "core::bytes_31::bytes31"
	TypeU256            = "core::integer::u256"
	TypeU512            = "core::integer::u512"
	TypeByteArray       = "core::byte_array::ByteArray"
	TypeUnit            = "()"
)

var (
	unsignedTypes = map[string]uint{
		"core::integer::u8":   8,
		"core::integer::u16":  16,
		"core::integer::u32":  32,
		"core::integer::u64":  64,
		"core::integer::u128": 128,
	}
	signedTypes = map[string]uint{
		"core::integer::i8":   8,
		"core::integer::i16":  16,
		"core::integer::i32":  32,
		"core::integer::i64":  64,
		"core::integer::i128": 128,
	}
	feltTypes = map[string]bool{
		TypeContractAddress: true,
		TypeEthAddress:      true,
		TypeClassHash:       true,
		TypeStorageAddress:  true,
		TypeFelt252:         true,
		TypeBytes31:         true,
	}
	arrayPrefixes = []string{"core::array::Array::<", "core::array::Span::<"}
)

// FixedWidth reports how many field elements a value of type t always
// occupies. Variable-width types (arrays, byte arrays, structs, enums)
// report false.
func FixedWidth(t string) (int, bool) {
	switch {
	case feltTypes[t], t == TypeBool:
		return 1, true
	case unsignedTypes[t] > 0, signedTypes[t] > 0:
		return 1, true
	case t == TypeU256:
		return 2, true
	case t == TypeU512:
		return 4, true
	}
	return 0, false
}

// ArrayElem returns the element type of Array<T> or Span<T>.
func ArrayElem(t string) (string, bool) {
	for _, p := range arrayPrefixes {
		if strings.HasPrefix(t, p) && strings.HasSuffix(t, ">") {
			return t[len(p) : len(t)-1], true
		}
	}
	return "", false
}

func IsArray(t string) bool {
	_, ok := ArrayElem(t)
	return ok
}

func IsTuple(t string) bool {
	return len(t) > 2 && strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")")
}

// TupleElems splits "(A, B<C, D>, (E, F))" into its top-level element types.
func TupleElems(t string) []string {
	if !IsTuple(t) {
		return nil
	}
	inner := t[1 : len(t)-1]
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(inner[start:]); last != "" {
		out = append(out, last)
	}
	return out
}

func IsAddress(t string) bool {
	return t == TypeContractAddress
}
