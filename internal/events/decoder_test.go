package events

import (
	"math/big"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/treasury-sync/internal/abi"
	"github.com/emperorhan/treasury-sync/internal/address"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

const transferABI = `[
  {"type": "event", "name": "treasury::Treasury::TokenTransfer", "kind": "struct", "members": [
    {"name": "token", "type": "core::starknet::contract_address::ContractAddress", "kind": "key"},
    {"name": "amount", "type": "core::integer::u256", "kind": "data"},
    {"name": "signers", "type": "core::array::Array::<core::starknet::contract_address::ContractAddress>", "kind": "data"},
    {"name": "pair", "type": "(core::starknet::contract_address::ContractAddress, core::integer::u8)", "kind": "data"}
  ]}
]`

func mustFelt(t *testing.T, s string) *felt.Felt {
	t.Helper()
	f, err := new(felt.Felt).SetString(s)
	require.NoError(t, err)
	return f
}

func transferLog(t *testing.T, ev abi.Event, block uint64, amount uint64) model.RawLog {
	t.Helper()
	return model.RawLog{
		FromAddress: mustFelt(t, "0x1234"),
		Keys:        []*felt.Felt{ev.Selector(), mustFelt(t, tokenAddr)},
		Data: []*felt.Felt{
			new(felt.Felt).SetUint64(amount), new(felt.Felt).SetUint64(0),
			new(felt.Felt).SetUint64(1), mustFelt(t, recipientAddr),
			mustFelt(t, recipientAddr), new(felt.Felt).SetUint64(7),
		},
		BlockHash:       new(felt.Felt).SetUint64(block + 1000),
		BlockNumber:     block,
		TransactionHash: new(felt.Felt).SetUint64(block + 2000),
	}
}

func transferEvent(t *testing.T) (*abi.ABI, abi.Event) {
	t.Helper()
	a, err := abi.Parse([]byte(transferABI))
	require.NoError(t, err)
	ev, err := a.ResolveEvent("TokenTransfer")
	require.NoError(t, err)
	return a, ev
}

func TestDecoder_DecodesAndFormats(t *testing.T) {
	a, ev := transferEvent(t)
	d := NewDecoder(a)

	rec, err := d.Decode(transferLog(t, ev, 10, 42), ev, true)
	require.NoError(t, err)

	assert.Equal(t, ev.Name, rec.Event)
	assert.Equal(t, ev.Members, rec.Type)
	assert.Equal(t, big.NewInt(42), rec.Args["amount"])
	assert.IsType(t, &big.Int{}, rec.Args["token"], "raw args keep integers")

	wantToken := address.FromBig(mustFelt(t, tokenAddr).BigInt(new(big.Int)))
	wantRecipient := address.FromBig(mustFelt(t, recipientAddr).BigInt(new(big.Int)))

	assert.Equal(t, wantToken, rec.ParsedArgs["token"])
	assert.Equal(t, []string{wantRecipient}, rec.ParsedArgs["signers"])
	assert.Equal(t, big.NewInt(42), rec.ParsedArgs["amount"])

	pair, ok := rec.ParsedArgs["pair"].([]any)
	require.True(t, ok)
	assert.Equal(t, wantRecipient, pair[0], "address slot converted")
	assert.Equal(t, big.NewInt(7), pair[1], "other slot untouched")
}

func TestDecoder_WithoutFormat(t *testing.T) {
	a, ev := transferEvent(t)
	rec, err := NewDecoder(a).Decode(transferLog(t, ev, 10, 1), ev, false)
	require.NoError(t, err)
	assert.Nil(t, rec.ParsedArgs)
	assert.NotEmpty(t, rec.Args)
}

func TestDecoder_SelectorMismatch(t *testing.T) {
	a, ev := transferEvent(t)
	log := transferLog(t, ev, 10, 1)
	log.Keys[0] = mustFelt(t, "0xdead")

	rec, err := NewDecoder(a).Decode(log, ev, true)
	assert.Error(t, err)
	assert.Empty(t, rec.Args)
	assert.Empty(t, rec.ParsedArgs)
	assert.Equal(t, log, rec.Log)
}

func TestDecoder_TruncatedData(t *testing.T) {
	a, ev := transferEvent(t)
	log := transferLog(t, ev, 10, 1)
	log.Data = log.Data[:1]

	_, err := NewDecoder(a).Decode(log, ev, true)
	assert.ErrorIs(t, err, abi.ErrInvalidValue)
}

func TestFormatArgs_PassesUnknownMembers(t *testing.T) {
	members := []model.EventMember{{Name: "token", Type: abi.TypeContractAddress, Kind: model.MemberKindKey}}
	out := FormatArgs(map[string]any{"token": big.NewInt(1), "extra": "x"}, members)
	assert.Equal(t, "x", out["extra"])
	assert.Equal(t, address.FromBig(big.NewInt(1)), out["token"])
}
