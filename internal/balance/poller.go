package balance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
	"github.com/emperorhan/treasury-sync/internal/metrics"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultStaleAfter   = 30 * time.Second
)

// Poller schedules fetches for every account that has at least one
// subscriber, and guarantees at most one fetch in flight per account.
type Poller struct {
	store      *Store
	fetcher    AccountFetcher
	clock      clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	network    model.Network
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watched  map[model.AccountKey]*watch
	inFlight map[model.AccountKey]bool
	pending  map[model.AccountKey]bool
	closed   bool
}

type watch struct {
	subscribers int
	ticker      *clock.Ticker
	stop        chan struct{}
}

type PollerOption func(*Poller)

func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithStaleAfter(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

func WithPollerNetwork(n model.Network) PollerOption {
	return func(p *Poller) { p.network = n }
}

func NewPoller(store *Store, fetcher AccountFetcher, logger *slog.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		store:      store,
		fetcher:    fetcher,
		clock:      clock.New(),
		interval:   DefaultPollInterval,
		staleAfter: DefaultStaleAfter,
		network:    model.NetworkSepolia,
		logger:     logger.With("component", "balance_poller"),
		watched:    make(map[model.AccountKey]*watch),
		inFlight:   make(map[model.AccountKey]bool),
		pending:    make(map[model.AccountKey]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Subscribe registers fn for key and starts polling when fn is the first
// subscriber. An empty or stale entry triggers one fetch right away; existing
// data stays visible while it refreshes. The returned function unsubscribes
// and is idempotent.
func (p *Poller) Subscribe(key model.AccountKey, fn Listener) func() {
	unsubscribe := p.store.Subscribe(key, fn)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return unsubscribe
	}
	w, ok := p.watched[key]
	if !ok {
		w = &watch{
			ticker: p.clock.Ticker(p.interval),
			stop:   make(chan struct{}),
		}
		p.watched[key] = w
		p.wg.Add(1)
		go p.tick(key, w)
		metrics.PollerActive.WithLabelValues(p.network.String()).Inc()
		p.logger.Info("polling started", "account", key, "interval", p.interval)
	}
	w.subscribers++
	p.mu.Unlock()

	entry := p.store.Get(key)
	if !entry.HasData() || p.clock.Since(*entry.LastUpdated) > p.staleAfter {
		p.runFetch(key, false, false)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			p.release(key)
		})
	}
}

func (p *Poller) release(key model.AccountKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.watched[key]
	if !ok {
		return
	}
	w.subscribers--
	if w.subscribers > 0 {
		return
	}
	p.stopWatch(key, w)
	p.logger.Info("polling stopped", "account", key)
}

// stopWatch must be called with p.mu held.
func (p *Poller) stopWatch(key model.AccountKey, w *watch) {
	w.ticker.Stop()
	close(w.stop)
	delete(p.watched, key)
	metrics.PollerActive.WithLabelValues(p.network.String()).Dec()
}

func (p *Poller) tick(key model.AccountKey, w *watch) {
	defer p.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-p.ctx.Done():
			return
		case <-w.ticker.C:
			p.runFetch(key, false, false)
		}
	}
}

// ForceRefresh fetches key now, ignoring the timer. A request that arrives
// while a fetch is in flight is coalesced into a single follow-up fetch.
func (p *Poller) ForceRefresh(key model.AccountKey) {
	p.runFetch(key, true, true)
}

// Get returns the cached entry of key without scheduling anything.
func (p *Poller) Get(key model.AccountKey) model.AccountCacheEntry {
	return p.store.Get(key)
}

// Watching reports whether key currently has a polling timer.
func (p *Poller) Watching(key model.AccountKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watched[key]
	return ok
}

// Subscribers returns the live subscriber count of key.
func (p *Poller) Subscribers(key model.AccountKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.watched[key]; ok {
		return w.subscribers
	}
	return 0
}

func (p *Poller) runFetch(key model.AccountKey, force, showLoading bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.inFlight[key] {
		if force {
			p.pending[key] = true
			metrics.PollerRefreshesCoalesced.WithLabelValues(p.network.String()).Inc()
		} else {
			metrics.PollerFetchesSkipped.WithLabelValues(p.network.String()).Inc()
		}
		return
	}
	p.inFlight[key] = true
	p.wg.Add(1)
	go p.fetchLoop(key, showLoading)
}

// fetchLoop runs one fetch plus any refresh coalesced while it ran. The
// in-flight marker stays set across the follow-up so no second fetch can
// start in between.
func (p *Poller) fetchLoop(key model.AccountKey, showLoading bool) {
	defer p.wg.Done()
	for {
		p.fetchOnce(key, showLoading)

		p.mu.Lock()
		if p.pending[key] && !p.closed {
			delete(p.pending, key)
			p.mu.Unlock()
			showLoading = true
			continue
		}
		delete(p.pending, key)
		delete(p.inFlight, key)
		p.mu.Unlock()
		return
	}
}

func (p *Poller) fetchOnce(key model.AccountKey, showLoading bool) {
	ctx := p.ctx
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("balance fetch panicked", "account", key, "panic", fmt.Sprint(r))
			p.store.Update(ctx, key, Loading(false))
		}
	}()

	if showLoading || !p.store.Get(key).HasData() {
		p.store.Update(ctx, key, Loading(true))
	}

	entry, err := p.fetcher.Fetch(ctx, key)
	if ctx.Err() != nil {
		// Reads cut short by Close come back as zero balances.
		p.logger.Debug("balance fetch interrupted by shutdown, keeping previous snapshot", "account", key)
		p.store.Update(context.WithoutCancel(ctx), key, Loading(false))
		return
	}
	if err != nil {
		p.logger.Warn("balance fetch failed, keeping previous snapshot", "account", key, "error", err)
		p.store.Update(ctx, key, Loading(false))
		return
	}
	entry.LoadingTokenData = false
	p.store.Update(ctx, key, Replace(entry))
}

// Close stops every timer, cancels in-flight reads and waits for their
// fetches to return. A fetch interrupted this way commits nothing.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for key, w := range p.watched {
		p.stopWatch(key, w)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
