package starknet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/NethermindEth/starknet.go/utils"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/treasury-sync/internal/chain"
	"github.com/emperorhan/treasury-sync/internal/chain/ratelimit"
	"github.com/emperorhan/treasury-sync/internal/circuitbreaker"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

func TestToFunctionCall(t *testing.T) {
	fc, err := toFunctionCall(chain.FunctionCall{
		ContractAddress: model.StarknetSTRKAddress,
		Function:        "balance_of",
		Calldata:        []string{"0x1234"},
	})
	require.NoError(t, err)

	assert.Equal(t, utils.GetSelectorFromNameFelt("balance_of").String(), fc.EntryPointSelector.String())
	require.Len(t, fc.Calldata, 1)
	assert.Equal(t, "0x1234", fc.Calldata[0].String())

	want, err := utils.HexToFelt(model.StarknetSTRKAddress)
	require.NoError(t, err)
	assert.True(t, want.Equal(fc.ContractAddress))
}

func TestToFunctionCall_BadInput(t *testing.T) {
	_, err := toFunctionCall(chain.FunctionCall{ContractAddress: "nothex", Function: "balance_of"})
	assert.Error(t, err)

	_, err = toFunctionCall(chain.FunctionCall{ContractAddress: "0x1", Function: "balance_of", Calldata: []string{"0xzz"}})
	assert.Error(t, err)
}

func TestToEventsInput(t *testing.T) {
	input, err := toEventsInput(chain.EventsRequest{
		Address:           "0xabc",
		Keys:              [][]string{{"0x1"}, {}, {"0x2", "0x3"}},
		FromBlock:         10,
		ToBlock:           20,
		ContinuationToken: "tok",
	})
	require.NoError(t, err)

	assert.Equal(t, "0xabc", input.Address.String())
	require.Len(t, input.Keys, 3)
	assert.Len(t, input.Keys[0], 1)
	assert.Empty(t, input.Keys[1], "empty row is a wildcard")
	assert.Len(t, input.Keys[2], 2)
	assert.Equal(t, 100, input.ChunkSize, "default chunk size")
	assert.Equal(t, "tok", input.ContinuationToken)
	assert.Equal(t, rpc.WithBlockNumber(10), input.FromBlock)
	assert.Equal(t, rpc.WithBlockNumber(20), input.ToBlock)
}

func TestToEventsInput_NoAddress(t *testing.T) {
	input, err := toEventsInput(chain.EventsRequest{ChunkSize: 5})
	require.NoError(t, err)
	assert.Nil(t, input.Address)
	assert.Equal(t, 5, input.ChunkSize)
}

func TestToEventsInput_BadKey(t *testing.T) {
	_, err := toEventsInput(chain.EventsRequest{Keys: [][]string{{"0x1"}, {"bogus"}}})
	assert.ErrorContains(t, err, "key row 1")
}

func TestToRawLog(t *testing.T) {
	from := new(felt.Felt).SetUint64(1)
	key := new(felt.Felt).SetUint64(2)
	data := new(felt.Felt).SetUint64(3)
	bh := new(felt.Felt).SetUint64(4)
	th := new(felt.Felt).SetUint64(5)

	var ev rpc.EmittedEvent
	ev.FromAddress = from
	ev.Keys = []*felt.Felt{key}
	ev.Data = []*felt.Felt{data}
	ev.BlockHash = bh
	ev.BlockNumber = 77
	ev.TransactionHash = th

	log := toRawLog(ev)
	assert.Same(t, from, log.FromAddress)
	assert.Equal(t, []*felt.Felt{key}, log.Keys)
	assert.Equal(t, []*felt.Felt{data}, log.Data)
	assert.Same(t, bh, log.BlockHash)
	assert.Equal(t, uint64(77), log.BlockNumber)
	assert.Same(t, th, log.TransactionHash)
}

func TestAdapterDo_BreakerOpenSkipsCall(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Clock: clock.NewMock()})
	a := &Adapter{
		network: model.NetworkSepolia,
		limiter: ratelimit.NewLimiter(0, 1, "sepolia"),
		breaker: breaker,
	}

	boom := errors.New("503 service unavailable")
	err := a.do(context.Background(), "starknet_call", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	called := false
	err = a.do(context.Background(), "starknet_call", func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, called)
}

func TestAdapterDo_OpenBreakerDoesNotWaitForLimiter(t *testing.T) {
	a := &Adapter{
		network: model.NetworkSepolia,
		limiter: ratelimit.NewLimiter(0.001, 1, "sepolia"),
		breaker: circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Clock: clock.NewMock()}),
	}
	boom := errors.New("503 service unavailable")
	require.ErrorIs(t, a.do(context.Background(), "starknet_call", func(context.Context) error { return boom }), boom)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.do(ctx, "starknet_call", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen, "rejected before the empty bucket is waited on")
}
