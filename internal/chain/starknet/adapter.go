package starknet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/NethermindEth/starknet.go/utils"

	"github.com/emperorhan/treasury-sync/internal/chain"
	"github.com/emperorhan/treasury-sync/internal/chain/ratelimit"
	"github.com/emperorhan/treasury-sync/internal/circuitbreaker"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

// Adapter reads from a Starknet JSON-RPC node. Every call passes through the
// rate limiter and the circuit breaker when they are configured.
type Adapter struct {
	provider *rpc.Provider
	network  model.Network
	limiter  *ratelimit.Limiter
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
}

var (
	_ chain.ContractReader = (*Adapter)(nil)
	_ chain.Provider       = (*Adapter)(nil)
)

type AdapterOption func(*Adapter)

// WithRateLimiter throttles outgoing RPC calls.
func WithRateLimiter(l *ratelimit.Limiter) AdapterOption {
	return func(a *Adapter) { a.limiter = l }
}

// WithCircuitBreaker short-circuits calls while the node is failing.
func WithCircuitBreaker(b *circuitbreaker.Breaker) AdapterOption {
	return func(a *Adapter) { a.breaker = b }
}

// NewAdapter dials rpcURL. An RPC version mismatch reported by the provider
// is logged and tolerated; the provider is still usable.
func NewAdapter(ctx context.Context, rpcURL string, network model.Network, logger *slog.Logger, opts ...AdapterOption) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "starknet_adapter", "network", network.String())

	provider, err := rpc.NewProvider(ctx, rpcURL)
	if err != nil {
		if provider == nil {
			return nil, fmt.Errorf("create starknet provider: %w", err)
		}
		logger.Warn("starknet provider warning", "error", err)
	}

	a := &Adapter{
		provider: provider,
		network:  network,
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// do applies rate limiting, the breaker and RPC metrics around fn. An open
// breaker fails the call before it takes a rate-limit token.
func (a *Adapter) do(ctx context.Context, method string, fn func(context.Context) error) error {
	if a.breaker != nil {
		if err := a.breaker.Allow(); err != nil {
			ratelimit.RecordRPCCall(a.network.String(), method, err)
			return err
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	var err error
	if a.breaker != nil {
		err = a.breaker.Do(ctx, fn)
	} else {
		err = fn(ctx)
	}
	ratelimit.RecordRPCCall(a.network.String(), method, err)
	return err
}

// Call invokes a view function at the latest block and returns the raw
// result felts.
func (a *Adapter) Call(ctx context.Context, call chain.FunctionCall) (any, error) {
	fc, err := toFunctionCall(call)
	if err != nil {
		return nil, err
	}

	var out []*felt.Felt
	err = a.do(ctx, "starknet_call", func(ctx context.Context) error {
		var callErr error
		out, callErr = a.provider.Call(ctx, fc, rpc.WithBlockTag("latest"))
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", call.Function, call.ContractAddress, err)
	}
	return out, nil
}

func (a *Adapter) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := a.do(ctx, "starknet_blockNumber", func(ctx context.Context) error {
		var callErr error
		n, callErr = a.provider.BlockNumber(ctx)
		return callErr
	})
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return n, nil
}

func (a *Adapter) GetEvents(ctx context.Context, req chain.EventsRequest) (chain.EventsPage, error) {
	input, err := toEventsInput(req)
	if err != nil {
		return chain.EventsPage{}, err
	}

	var chunk *rpc.EventChunk
	err = a.do(ctx, "starknet_getEvents", func(ctx context.Context) error {
		var callErr error
		chunk, callErr = a.provider.Events(ctx, input)
		return callErr
	})
	if err != nil {
		return chain.EventsPage{}, fmt.Errorf("get events %d..%d: %w", req.FromBlock, req.ToBlock, err)
	}
	if chunk == nil {
		return chain.EventsPage{}, nil
	}

	page := chain.EventsPage{
		Events:            make([]model.RawLog, 0, len(chunk.Events)),
		ContinuationToken: chunk.ContinuationToken,
	}
	for _, ev := range chunk.Events {
		page.Events = append(page.Events, toRawLog(ev))
	}
	return page, nil
}

func (a *Adapter) BlockWithTxHashes(ctx context.Context, blockHash *felt.Felt) (any, error) {
	var out any
	err := a.do(ctx, "starknet_getBlockWithTxHashes", func(ctx context.Context) error {
		var callErr error
		out, callErr = a.provider.BlockWithTxHashes(ctx, rpc.WithBlockHash(blockHash))
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", blockHash, err)
	}
	return out, nil
}

func (a *Adapter) TransactionByHash(ctx context.Context, txHash *felt.Felt) (any, error) {
	var out any
	err := a.do(ctx, "starknet_getTransactionByHash", func(ctx context.Context) error {
		tx, callErr := a.provider.TransactionByHash(ctx, txHash)
		out = tx
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txHash, err)
	}
	return out, nil
}

func (a *Adapter) TransactionReceipt(ctx context.Context, txHash *felt.Felt) (any, error) {
	var out any
	err := a.do(ctx, "starknet_getTransactionReceipt", func(ctx context.Context) error {
		receipt, callErr := a.provider.TransactionReceipt(ctx, txHash)
		out = receipt
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", txHash, err)
	}
	return out, nil
}

func toFunctionCall(call chain.FunctionCall) (rpc.FunctionCall, error) {
	addr, err := utils.HexToFelt(call.ContractAddress)
	if err != nil {
		return rpc.FunctionCall{}, fmt.Errorf("parse contract address %q: %w", call.ContractAddress, err)
	}
	calldata, err := hexesToFelts(call.Calldata)
	if err != nil {
		return rpc.FunctionCall{}, fmt.Errorf("parse calldata: %w", err)
	}
	return rpc.FunctionCall{
		ContractAddress:    addr,
		EntryPointSelector: utils.GetSelectorFromNameFelt(call.Function),
		Calldata:           calldata,
	}, nil
}

func toEventsInput(req chain.EventsRequest) (rpc.EventsInput, error) {
	filter := rpc.EventFilter{
		FromBlock: rpc.WithBlockNumber(req.FromBlock),
		ToBlock:   rpc.WithBlockNumber(req.ToBlock),
	}
	if req.Address != "" {
		addr, err := utils.HexToFelt(req.Address)
		if err != nil {
			return rpc.EventsInput{}, fmt.Errorf("parse event address %q: %w", req.Address, err)
		}
		filter.Address = addr
	}

	keys := make([][]*felt.Felt, 0, len(req.Keys))
	for i, row := range req.Keys {
		felts, err := hexesToFelts(row)
		if err != nil {
			return rpc.EventsInput{}, fmt.Errorf("parse key row %d: %w", i, err)
		}
		keys = append(keys, felts)
	}
	filter.Keys = keys

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return rpc.EventsInput{
		EventFilter: filter,
		ResultPageRequest: rpc.ResultPageRequest{
			ContinuationToken: req.ContinuationToken,
			ChunkSize:         chunkSize,
		},
	}, nil
}

func hexesToFelts(in []string) ([]*felt.Felt, error) {
	out := make([]*felt.Felt, 0, len(in))
	for _, s := range in {
		f, err := utils.HexToFelt(s)
		if err != nil {
			return nil, fmt.Errorf("felt %q: %w", s, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func toRawLog(ev rpc.EmittedEvent) model.RawLog {
	return model.RawLog{
		FromAddress:     ev.FromAddress,
		Keys:            ev.Keys,
		Data:            ev.Data,
		BlockHash:       ev.BlockHash,
		BlockNumber:     ev.BlockNumber,
		TransactionHash: ev.TransactionHash,
	}
}
