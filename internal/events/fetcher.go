package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emperorhan/treasury-sync/internal/abi"
	"github.com/emperorhan/treasury-sync/internal/chain"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
	"github.com/emperorhan/treasury-sync/internal/metrics"
	"github.com/emperorhan/treasury-sync/internal/tracing"
)

const (
	DefaultChunkSize     = 100
	DefaultWatchInterval = 30 * time.Second
	FastFinalityInterval = 4 * time.Second
	definitionCacheSize  = 128
	DefaultStateCapacity = 1024
	maxPagesPerBatch     = 10_000
)

var ErrInvalidQuery = errors.New("invalid event query")

// Result is the state of one query after an invocation. Err carries a
// batch failure; Data then still holds the records of earlier batches.
type Result struct {
	Data      []model.DecodedEventRecord
	IsLoading bool
	Err       error
}

type definition struct {
	contract *abi.ABI
	event    abi.Event
	decoder  *Decoder
}

type queryState struct {
	run sync.Mutex

	mu         sync.Mutex
	fromBlock  uint64
	generation uint64 // bumped on every reset
	cursor     Cursor
	records    []model.DecodedEventRecord
	loading    bool
	err        error
}

func (s *queryState) snapshot(format bool) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]model.DecodedEventRecord, len(s.records))
	copy(data, s.records)
	if !format {
		for i := range data {
			data[i].ParsedArgs = nil
		}
	}
	return Result{Data: data, IsLoading: s.loading, Err: s.err}
}

// HistoryFetcher runs event history queries. Queries with the same identity
// (network, contract, event, filters and enrichment flags) share a cursor
// and an accumulated record list.
type HistoryFetcher struct {
	provider      chain.Provider
	clock         clock.Clock
	chunkSize     int
	watchInterval time.Duration
	logger        *slog.Logger

	defs *lru.Cache[string, *definition]

	stateCapacity int
	mu            sync.Mutex
	states        *lru.Cache[string, *queryState]
}

type Option func(*HistoryFetcher)

func WithClock(c clock.Clock) Option {
	return func(f *HistoryFetcher) { f.clock = c }
}

func WithChunkSize(n int) Option {
	return func(f *HistoryFetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithStateCapacity bounds how many query identities keep a cursor and
// records. The least recently queried identity is dropped first; querying it
// again starts over from its FromBlock.
func WithStateCapacity(n int) Option {
	return func(f *HistoryFetcher) {
		if n > 0 {
			f.stateCapacity = n
		}
	}
}

// WithWatchInterval overrides the network-derived watch interval.
func WithWatchInterval(d time.Duration) Option {
	return func(f *HistoryFetcher) {
		if d > 0 {
			f.watchInterval = d
		}
	}
}

func NewHistoryFetcher(provider chain.Provider, logger *slog.Logger, opts ...Option) *HistoryFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	defs, _ := lru.New[string, *definition](definitionCacheSize)
	f := &HistoryFetcher{
		provider:      provider,
		clock:         clock.New(),
		chunkSize:     DefaultChunkSize,
		stateCapacity: DefaultStateCapacity,
		logger:        logger.With("component", "event_history"),
		defs:          defs,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.states, _ = lru.New[string, *queryState](f.stateCapacity)
	return f
}

// WatchInterval is the tick used by Watch for queries on network n.
func (f *HistoryFetcher) WatchInterval(n model.Network) time.Duration {
	if f.watchInterval > 0 {
		return f.watchInterval
	}
	if n.IsFastFinality() {
		return FastFinalityInterval
	}
	return DefaultWatchInterval
}

// Query runs one invocation of q. The returned error is reserved for fatal
// configuration problems (unknown or ambiguous event, unusable ABI or
// filters), reported before any provider call. Node failures land in
// Result.Err.
func (f *HistoryFetcher) Query(ctx context.Context, q model.EventQuery) (Result, error) {
	def, keys, err := f.prepare(q)
	if err != nil {
		return Result{}, err
	}
	state := f.stateFor(q)
	if q.Disabled {
		res := state.snapshot(!q.DisableFormat)
		res.IsLoading = false
		return res, nil
	}
	f.runBatch(ctx, q, def, keys, state)
	return state.snapshot(!q.DisableFormat), nil
}

// Watch runs q immediately and then on every tick until ctx is done,
// handing each result to fn. Fatal configuration errors are returned before
// the first run.
func (f *HistoryFetcher) Watch(ctx context.Context, q model.EventQuery, fn func(Result)) error {
	if _, _, err := f.prepare(q); err != nil {
		return err
	}

	interval := f.WatchInterval(q.Network)
	ticker := f.clock.Ticker(interval)
	defer ticker.Stop()

	f.logger.Info("watching events", "contract", q.ContractAddress, "event", q.EventName, "interval", interval)
	for {
		res, err := f.Query(ctx, q)
		if err != nil {
			return err
		}
		fn(res)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *HistoryFetcher) prepare(q model.EventQuery) (*definition, [][]string, error) {
	if strings.TrimSpace(q.ContractAddress) == "" {
		return nil, nil, fmt.Errorf("%w: contract address is required", ErrInvalidQuery)
	}
	if q.EventName == "" {
		return nil, nil, fmt.Errorf("%w: event name is required", ErrInvalidQuery)
	}
	def, err := f.definition(q)
	if err != nil {
		return nil, nil, err
	}
	keys, err := ComposeKeys(q.Filters, def.event, def.contract)
	if err != nil {
		return nil, nil, err
	}
	return def, keys, nil
}

func (f *HistoryFetcher) definition(q model.EventQuery) (*definition, error) {
	sum := sha256.Sum256(q.ContractABI)
	cacheKey := hex.EncodeToString(sum[:]) + "|" + q.EventName
	if def, ok := f.defs.Get(cacheKey); ok {
		return def, nil
	}

	contract, err := abi.Parse(q.ContractABI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	ev, err := contract.ResolveEvent(q.EventName)
	if err != nil {
		return nil, err
	}
	def := &definition{contract: contract, event: ev, decoder: NewDecoder(contract)}
	f.defs.Add(cacheKey, def)
	return def, nil
}

// stateFor returns the state of q's identity. A changed FromBlock resets
// the cursor and discards accumulated records.
func (f *HistoryFetcher) stateFor(q model.EventQuery) *queryState {
	id := identity(q)

	f.mu.Lock()
	s, ok := f.states.Get(id)
	if !ok {
		s = &queryState{fromBlock: q.FromBlock, cursor: Cursor(q.FromBlock)}
		f.states.Add(id, s)
	}
	f.mu.Unlock()

	s.mu.Lock()
	if s.fromBlock != q.FromBlock {
		s.fromBlock = q.FromBlock
		s.generation++
		s.cursor = Cursor(q.FromBlock)
		s.records = nil
		s.err = nil
	}
	s.mu.Unlock()
	return s
}

func identity(q model.EventQuery) string {
	filters, _ := json.Marshal(q.Filters)
	return strings.Join([]string{
		q.Network.String(),
		strings.ToLower(strings.TrimSpace(q.ContractAddress)),
		q.EventName,
		string(filters),
		fmt.Sprintf("%t|%t|%t", q.BlockData, q.TransactionData, q.ReceiptData),
	}, "|")
}

// runBatch scans [cursor, head] once. Records and cursor change only after
// the whole batch is fetched, enriched and decoded.
func (f *HistoryFetcher) runBatch(ctx context.Context, q model.EventQuery, def *definition, keys [][]string, s *queryState) {
	s.run.Lock()
	defer s.run.Unlock()

	network := q.Network.String()
	ctx, span := tracing.Start(ctx, "events.query",
		attribute.String("contract", q.ContractAddress),
		attribute.String("event", def.event.ShortName()),
	)
	var batchErr error
	defer func() { tracing.End(span, batchErr) }()

	s.mu.Lock()
	s.loading = true
	cursor := s.cursor
	generation := s.generation
	s.mu.Unlock()

	start := f.clock.Now()
	records, head, fetched, err := f.scan(ctx, q, def, keys, cursor)
	metrics.EventBatchLatency.WithLabelValues(network).Observe(f.clock.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		batchErr = err
		s.err = err
		metrics.EventBatchesTotal.WithLabelValues(network, "error").Inc()
		f.logger.Warn("event batch failed, keeping previous records",
			"event", def.event.ShortName(),
			"from_block", uint64(cursor),
			"error", err,
		)
		return
	}
	if !fetched {
		metrics.EventBatchesTotal.WithLabelValues(network, "skipped").Inc()
		return
	}
	if s.generation != generation {
		return
	}
	s.err = nil

	s.records = append(records, s.records...)
	s.cursor = cursor.Advance(head)
	metrics.EventBatchesTotal.WithLabelValues(network, "ok").Inc()
	metrics.EventRecordsDecoded.WithLabelValues(network, def.event.ShortName()).Add(float64(len(records)))
	metrics.EventCursorBlock.WithLabelValues(network, def.event.ShortName()).Set(float64(s.cursor))
	f.logger.Debug("event batch committed",
		"event", def.event.ShortName(),
		"from_block", uint64(cursor),
		"to_block", head,
		"records", len(records),
	)
}

// scan returns the decoded records of [cursor, head], newest first. fetched
// is false when the chain has not reached the cursor yet.
func (f *HistoryFetcher) scan(ctx context.Context, q model.EventQuery, def *definition, keys [][]string, cursor Cursor) ([]model.DecodedEventRecord, uint64, bool, error) {
	head, err := f.provider.LatestBlockNumber(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("latest block: %w", err)
	}
	if !cursor.ShouldFetch(head) {
		return nil, head, false, nil
	}

	logs, err := f.collect(ctx, q, keys, uint64(cursor), head)
	if err != nil {
		return nil, head, false, err
	}

	records := make([]model.DecodedEventRecord, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		rec, err := def.decoder.Decode(logs[i], def.event, true)
		if err != nil {
			f.logger.Warn("event log did not decode", "event", def.event.ShortName(), "block", logs[i].BlockNumber, "error", err)
		}
		if err := f.enrich(ctx, q, &rec); err != nil {
			return nil, head, false, err
		}
		records = append(records, rec)
	}
	return records, head, true, nil
}

// collect follows continuation tokens until the range is exhausted.
func (f *HistoryFetcher) collect(ctx context.Context, q model.EventQuery, keys [][]string, from, to uint64) ([]model.RawLog, error) {
	req := chain.EventsRequest{
		Address:   q.ContractAddress,
		Keys:      keys,
		FromBlock: from,
		ToBlock:   to,
		ChunkSize: f.chunkSize,
	}
	var logs []model.RawLog
	for page := 0; page < maxPagesPerBatch; page++ {
		res, err := f.provider.GetEvents(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("get events [%d, %d]: %w", from, to, err)
		}
		logs = append(logs, res.Events...)
		if res.ContinuationToken == "" {
			return logs, nil
		}
		req.ContinuationToken = res.ContinuationToken
	}
	return nil, fmt.Errorf("get events [%d, %d]: more than %d pages", from, to, maxPagesPerBatch)
}

func (f *HistoryFetcher) enrich(ctx context.Context, q model.EventQuery, rec *model.DecodedEventRecord) error {
	var err error
	if q.BlockData && rec.Log.BlockHash != nil {
		if rec.Block, err = f.provider.BlockWithTxHashes(ctx, rec.Log.BlockHash); err != nil {
			return fmt.Errorf("block %s: %w", rec.Log.BlockHash, err)
		}
	}
	if q.TransactionData && rec.Log.TransactionHash != nil {
		if rec.Transaction, err = f.provider.TransactionByHash(ctx, rec.Log.TransactionHash); err != nil {
			return fmt.Errorf("transaction %s: %w", rec.Log.TransactionHash, err)
		}
	}
	if q.ReceiptData && rec.Log.TransactionHash != nil {
		if rec.Receipt, err = f.provider.TransactionReceipt(ctx, rec.Log.TransactionHash); err != nil {
			return fmt.Errorf("receipt %s: %w", rec.Log.TransactionHash, err)
		}
	}
	return nil
}
