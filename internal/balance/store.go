package balance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
	"github.com/emperorhan/treasury-sync/internal/metrics"
)

// Listener receives the full entry after every update of its account.
type Listener func(model.AccountCacheEntry)

// Sink receives committed entries after listeners have been notified.
type Sink interface {
	Name() string
	Publish(ctx context.Context, key model.AccountKey, entry model.AccountCacheEntry) error
}

// Patch names the fields an Update replaces. Nil fields are left alone.
type Patch struct {
	TokensDisplay    *[]model.BalanceSnapshot
	TotalValue       *float64
	LastUpdated      *time.Time
	LoadingTokenData *bool
}

// Loading sets only the loading flag.
func Loading(v bool) Patch {
	return Patch{LoadingTokenData: &v}
}

// Replace swaps in every field of e.
func Replace(e model.AccountCacheEntry) Patch {
	tokens := e.TokensDisplay
	total := e.TotalValue
	loading := e.LoadingTokenData
	return Patch{
		TokensDisplay:    &tokens,
		TotalValue:       &total,
		LastUpdated:      e.LastUpdated,
		LoadingTokenData: &loading,
	}
}

func (p Patch) apply(e model.AccountCacheEntry) model.AccountCacheEntry {
	if p.TokensDisplay != nil {
		e.TokensDisplay = append([]model.BalanceSnapshot(nil), (*p.TokensDisplay)...)
	}
	if p.TotalValue != nil {
		e.TotalValue = *p.TotalValue
	}
	if p.LastUpdated != nil {
		ts := *p.LastUpdated
		e.LastUpdated = &ts
	}
	if p.LoadingTokenData != nil {
		e.LoadingTokenData = *p.LoadingTokenData
	}
	return e
}

type registration struct {
	id int64
	fn Listener
}

// Store holds the last known entry per account. Writes are serialized;
// listeners run synchronously after the write, outside the lock, in
// registration order.
type Store struct {
	mu        sync.Mutex
	entries   map[model.AccountKey]model.AccountCacheEntry
	listeners map[model.AccountKey][]registration
	nextID    int64
	sinks     []Sink
	logger    *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:   make(map[model.AccountKey]model.AccountCacheEntry),
		listeners: make(map[model.AccountKey][]registration),
		logger:    logger.With("component", "balance_store"),
	}
}

// AddSink registers sink for every committed update.
func (s *Store) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Get returns a copy of the entry for key, or the empty entry.
func (s *Store) Get(key model.AccountKey) model.AccountCacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].Clone()
}

// Update merges p into the entry for key and notifies its listeners with
// the resulting entry.
func (s *Store) Update(ctx context.Context, key model.AccountKey, p Patch) model.AccountCacheEntry {
	s.mu.Lock()
	next := p.apply(s.entries[key].Clone())
	s.entries[key] = next
	regs := append([]registration(nil), s.listeners[key]...)
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, r := range regs {
		r.fn(next.Clone())
	}
	for _, sink := range sinks {
		if err := sink.Publish(ctx, key, next.Clone()); err != nil {
			metrics.SinkPublishErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.Warn("balance sink publish failed", "sink", sink.Name(), "account", key, "error", err)
		}
	}
	return next.Clone()
}

// Subscribe registers fn for key. The returned function removes it and is
// safe to call more than once.
func (s *Store) Subscribe(key model.AccountKey, fn Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[key] = append(s.listeners[key], registration{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(key, id) })
	}
}

func (s *Store) unsubscribe(key model.AccountKey, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.listeners[key]
	for i, r := range regs {
		if r.id == id {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(s.listeners, key)
		return
	}
	s.listeners[key] = regs
}

// ListenerCount returns the number of live listeners for key.
func (s *Store) ListenerCount(key model.AccountKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[key])
}
