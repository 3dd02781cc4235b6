package chain

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks . ContractReader,Provider

import (
	"context"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

// FunctionCall is a read-only contract invocation.
type FunctionCall struct {
	ContractAddress string
	Function        string
	Calldata        []string
}

// ContractReader executes view functions. The raw result is handed to
// normalize.Classify by callers; adapters return whatever their transport
// produces ([]*felt.Felt for Starknet RPC).
type ContractReader interface {
	Call(ctx context.Context, call FunctionCall) (any, error)
}

// EventsRequest selects one page of emitted events in [FromBlock, ToBlock].
type EventsRequest struct {
	Address           string
	Keys              [][]string
	FromBlock         uint64
	ToBlock           uint64
	ChunkSize         int
	ContinuationToken string
}

// EventsPage is one page of events. An empty ContinuationToken marks the last page.
type EventsPage struct {
	Events            []model.RawLog
	ContinuationToken string
}

// Provider abstracts the chain node the event history fetcher reads from.
type Provider interface {
	// LatestBlockNumber returns the latest accepted block.
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// GetEvents returns one page of events matching req.
	GetEvents(ctx context.Context, req EventsRequest) (EventsPage, error)

	// BlockWithTxHashes, TransactionByHash and TransactionReceipt return the
	// provider's decoded JSON payloads; they are attached to records verbatim.
	BlockWithTxHashes(ctx context.Context, blockHash *felt.Felt) (any, error)
	TransactionByHash(ctx context.Context, txHash *felt.Felt) (any, error)
	TransactionReceipt(ctx context.Context, txHash *felt.Felt) (any, error)
}
