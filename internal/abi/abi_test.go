package abi

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testABI = `[
  {"type": "interface", "name": "treasury::ITreasury", "items": [
    {"type": "function", "name": "balance_of", "inputs": [], "outputs": [], "state_mutability": "view"}
  ]},
  {"type": "struct", "name": "treasury::Point", "members": [
    {"name": "x", "type": "core::integer::u32"},
    {"name": "y", "type": "core::integer::u32"}
  ]},
  {"type": "enum", "name": "treasury::Status", "variants": [
    {"name": "Pending", "type": "()"},
    {"name": "Executed", "type": "core::integer::u64"}
  ]},
  {"type": "event", "name": "treasury::Treasury::TokenTransfer", "kind": "struct", "members": [
    {"name": "token", "type": "core::starknet::contract_address::ContractAddress", "kind": "key"},
    {"name": "amount", "type": "core::integer::u256", "kind": "data"},
    {"name": "recipient", "type": "core::starknet::contract_address::ContractAddress", "kind": "key"}
  ]},
  {"type": "event", "name": "treasury::Treasury::Event", "kind": "enum", "variants": [
    {"name": "TokenTransfer", "type": "treasury::Treasury::TokenTransfer", "kind": "nested"}
  ]}
]`

func mustParse(t *testing.T, raw string) *ABI {
	t.Helper()
	a, err := Parse([]byte(raw))
	require.NoError(t, err)
	return a
}

func hexFelt(t *testing.T, s string) *felt.Felt {
	t.Helper()
	f, err := new(felt.Felt).SetString(s)
	require.NoError(t, err)
	return f
}

func TestParse_CollectsEntries(t *testing.T) {
	a := mustParse(t, testABI)

	require.Len(t, a.Events(), 2)
	_, ok := a.Struct("treasury::Point")
	assert.True(t, ok)
	en, ok := a.Enum("treasury::Status")
	require.True(t, ok)
	assert.Len(t, en.Variants, 2)

	ev, err := a.ResolveEvent("TokenTransfer")
	require.NoError(t, err)
	assert.Equal(t, "treasury::Treasury::TokenTransfer", ev.Name)
	assert.Equal(t, EventKindStruct, ev.Kind)
	assert.Len(t, ev.KeyMembers(), 2)
	assert.Len(t, ev.DataMembers(), 1)
	assert.Equal(t, "recipient", ev.KeyMembers()[1].Name, "declaration order is kept")
}

func TestParse_AcceptsStringEncodedABI(t *testing.T) {
	quoted, err := json.Marshal(testABI)
	require.NoError(t, err)

	a, err := Parse(quoted)
	require.NoError(t, err)
	assert.Len(t, a.Events(), 2)
}

func TestParse_RejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{"not": "an abi"}`))
	assert.Error(t, err)
}

func TestResolveEvent_Errors(t *testing.T) {
	a := mustParse(t, testABI)
	_, err := a.ResolveEvent("Missing")
	assert.True(t, errors.Is(err, ErrEventNotFound))

	dup := mustParse(t, `[
	  {"type": "event", "name": "a::Transfer", "kind": "struct", "members": []},
	  {"type": "event", "name": "b::Transfer", "kind": "struct", "members": []}
	]`)
	_, err = dup.ResolveEvent("Transfer")
	assert.True(t, errors.Is(err, ErrAmbiguousEvent))
}

func TestEvent_SelectorUsesShortName(t *testing.T) {
	a := mustParse(t, testABI)
	ev, err := a.ResolveEvent("TokenTransfer")
	require.NoError(t, err)
	assert.Equal(t, "TokenTransfer", ev.ShortName())
	assert.False(t, ev.Selector().IsZero())
}

func TestFixedWidth(t *testing.T) {
	tests := []struct {
		typ   string
		width int
		ok    bool
	}{
		{TypeContractAddress, 1, true},
		{TypeEthAddress, 1, true},
		{TypeClassHash, 1, true},
		{TypeStorageAddress, 1, true},
		{TypeBool, 1, true},
		{"core::integer::u8", 1, true},
		{"core::integer::u128", 1, true},
		{"core::integer::i64", 1, true},
		{TypeBytes31, 1, true},
		{TypeFelt252, 1, true},
		{TypeU256, 2, true},
		{TypeU512, 4, true},
		{TypeByteArray, 0, false},
		{"core::array::Array::<core::felt252>", 0, false},
		{"treasury::Point", 0, false},
	}
	for _, tt := range tests {
		w, ok := FixedWidth(tt.typ)
		assert.Equal(t, tt.ok, ok, tt.typ)
		assert.Equal(t, tt.width, w, tt.typ)
	}
}

func TestTypeHelpers(t *testing.T) {
	elem, ok := ArrayElem("core::array::Array::<core::starknet::contract_address::ContractAddress>")
	assert.True(t, ok)
	assert.Equal(t, TypeContractAddress, elem)

	elem, ok = ArrayElem("core::array::Span::<core::integer::u8>")
	assert.True(t, ok)
	assert.Equal(t, "core::integer::u8", elem)

	assert.False(t, IsArray(TypeFelt252))
	assert.False(t, IsTuple(TypeUnit))

	assert.Equal(t,
		[]string{TypeContractAddress, "core::array::Array::<(core::felt252, core::bool)>", "(core::integer::u8, core::integer::u16)"},
		TupleElems("(core::starknet::contract_address::ContractAddress, core::array::Array::<(core::felt252, core::bool)>, (core::integer::u8, core::integer::u16))"),
	)
}

func TestEncode_Scalars(t *testing.T) {
	a := mustParse(t, testABI)

	out, err := a.Encode("0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", TypeContractAddress)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", out[0].String())

	out, err = a.Encode(true, TypeBool)
	require.NoError(t, err)
	assert.Equal(t, "0x1", out[0].String())

	out, err = a.Encode(float64(255), "core::integer::u8")
	require.NoError(t, err)
	assert.Equal(t, "0xff", out[0].String())

	_, err = a.Encode(float64(256), "core::integer::u8")
	assert.ErrorIs(t, err, ErrInvalidValue)

	out, err = a.Encode("-1", "core::integer::i8")
	require.NoError(t, err)
	want := new(big.Int).Sub(fieldPrime, big.NewInt(1))
	assert.Zero(t, out[0].BigInt(new(big.Int)).Cmp(want), "negative ints wrap around the field")

	out, err = a.Encode("hello", TypeFelt252)
	require.NoError(t, err)
	assert.Equal(t, "0x68656c6c6f", out[0].String(), "short strings pack into one felt")

	_, err = a.Encode(1.5, TypeFelt252)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestEncode_WideIntegers(t *testing.T) {
	a := mustParse(t, testABI)

	v := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(7), 128), big.NewInt(5))
	out, err := a.Encode(v.String(), TypeU256)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "0x5", out[0].String(), "low limb first")
	assert.Equal(t, "0x7", out[1].String())

	out, err = a.Encode(map[string]any{"low": "1", "high": "2"}, TypeU256)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x2"}, feltStrings(out))

	out, err = a.Encode("1", TypeU512)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x0", "0x0", "0x0"}, feltStrings(out))
}

func TestEncode_CompoundTypes(t *testing.T) {
	a := mustParse(t, testABI)

	out, err := a.Encode([]any{"0x1", "0x2"}, "core::array::Array::<core::felt252>")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x2", "0x1", "0x2"}, feltStrings(out), "arrays are length-prefixed")

	out, err = a.Encode([]any{"0x1", float64(3)}, "(core::starknet::contract_address::ContractAddress, core::integer::u8)")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x3"}, feltStrings(out))

	out, err = a.Encode(map[string]any{"x": float64(1), "y": float64(2)}, "treasury::Point")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x2"}, feltStrings(out))

	out, err = a.Encode(map[string]any{"Executed": "9"}, "treasury::Status")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x9"}, feltStrings(out))

	out, err = a.Encode("Pending", "treasury::Status")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x0"}, feltStrings(out))

	_, err = a.Encode(map[string]any{"x": float64(1)}, "treasury::Point")
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = a.Encode("0x1", "treasury::Unknown")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEncodeByteArray(t *testing.T) {
	out := EncodeByteArray("hello")
	assert.Equal(t, []string{"0x0", "0x68656c6c6f", "0x5"}, feltStrings(out))

	long := "abcdefghijklmnopqrstuvwxyz01234XY"
	out = EncodeByteArray(long)
	require.Len(t, out, 4)
	assert.Equal(t, "0x1", out[0].String())
	assert.Equal(t, "0x2", out[3].String())

	out = EncodeByteArray("")
	assert.Equal(t, []string{"0x0", "0x0", "0x0"}, feltStrings(out))
}

func TestDecode_RoundTripsEncodings(t *testing.T) {
	a := mustParse(t, testABI)
	tests := []struct {
		typ  string
		in   any
		want any
	}{
		{TypeBool, true, true},
		{"core::integer::u64", "42", big.NewInt(42)},
		{"core::integer::i32", "-7", big.NewInt(-7)},
		{TypeU256, "340282366920938463463374607431768211457", mustBig("340282366920938463463374607431768211457")},
		{TypeByteArray, "a string longer than thirty one bytes", "a string longer than thirty one bytes"},
		{"treasury::Point", map[string]any{"x": "1", "y": "2"}, map[string]any{"x": big.NewInt(1), "y": big.NewInt(2)}},
		{"treasury::Status", "Pending", map[string]any{"Pending": nil}},
		{"core::array::Array::<core::integer::u8>", []any{"1", "2"}, []any{big.NewInt(1), big.NewInt(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			enc, err := a.Encode(tt.in, tt.typ)
			require.NoError(t, err)
			got, used, err := a.Decode(enc, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, len(enc), used)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_ShortPayload(t *testing.T) {
	a := mustParse(t, testABI)
	_, _, err := a.Decode([]*felt.Felt{hexFelt(t, "0x1")}, TypeU256)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, _, err = a.Decode([]*felt.Felt{hexFelt(t, "0x5")}, "core::array::Array::<core::felt252>")
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, _, err = a.Decode([]*felt.Felt{hexFelt(t, "0x9")}, "treasury::Status")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func feltStrings(fs []*felt.Felt) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return n
}
