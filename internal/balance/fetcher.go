// Package balance keeps a shared, polled cache of per-account token
// balances. Fetcher computes one snapshot, Store holds and broadcasts the
// latest snapshot per account, and Poller schedules fetches while an
// account has subscribers.
package balance

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emperorhan/treasury-sync/internal/chain"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
	"github.com/emperorhan/treasury-sync/internal/metrics"
	"github.com/emperorhan/treasury-sync/internal/normalize"
	"github.com/emperorhan/treasury-sync/internal/price"
	"github.com/emperorhan/treasury-sync/internal/tracing"
)

const balanceOfFunction = "balance_of"

var snapshotNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/emperorhan/treasury-sync/balance"))

var hundred = decimal.NewFromInt(100)

var errNonFinitePrice = errors.New("non-finite price")

// AccountFetcher produces a complete entry for one account.
type AccountFetcher interface {
	Fetch(ctx context.Context, key model.AccountKey) (model.AccountCacheEntry, error)
}

// Fetcher reads every configured token balance for an account and prices
// it. Token and price failures degrade to zero for that token only.
type Fetcher struct {
	reader  chain.ContractReader
	prices  price.Source
	tokens  []model.TokenDescriptor
	network model.Network
	clock   clock.Clock
	logger  *slog.Logger
}

var _ AccountFetcher = (*Fetcher)(nil)

type FetcherOption func(*Fetcher)

func WithFetcherClock(c clock.Clock) FetcherOption {
	return func(f *Fetcher) { f.clock = c }
}

func WithNetwork(n model.Network) FetcherOption {
	return func(f *Fetcher) { f.network = n }
}

func NewFetcher(reader chain.ContractReader, prices price.Source, tokens []model.TokenDescriptor, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		reader:  reader,
		prices:  prices,
		tokens:  append([]model.TokenDescriptor(nil), tokens...),
		network: model.NetworkSepolia,
		clock:   clock.New(),
		logger:  logger.With("component", "balance_fetcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

type pricedToken struct {
	token   model.TokenDescriptor
	price   decimal.Decimal
	balance decimal.Decimal
	value   decimal.Decimal
}

// Fetch never returns an error; the signature matches AccountFetcher.
// Tokens are read sequentially, in list order.
func (f *Fetcher) Fetch(ctx context.Context, key model.AccountKey) (model.AccountCacheEntry, error) {
	ctx, span := tracing.Start(ctx, "balance.fetch",
		attribute.String("account", key.String()),
		attribute.Int("tokens", len(f.tokens)),
	)
	defer tracing.End(span, nil)

	start := f.clock.Now()
	rows := make([]pricedToken, 0, len(f.tokens))
	total := decimal.Zero
	degraded := false

	for _, token := range f.tokens {
		bal, ok := f.readBalance(ctx, key, token)
		p := decimal.Zero
		if ok {
			p, ok = f.readPrice(ctx, token)
		}
		if !ok {
			degraded = true
		}
		value := p.Mul(bal)
		total = total.Add(value)
		rows = append(rows, pricedToken{token: token, price: p, balance: bal, value: value})
	}

	snapshots := make([]model.BalanceSnapshot, 0, len(rows))
	for _, r := range rows {
		snapshots = append(snapshots, snapshotOf(key, r, total))
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	metrics.BalanceFetchesTotal.WithLabelValues(f.network.String(), status).Inc()
	metrics.BalanceFetchLatency.WithLabelValues(f.network.String()).Observe(f.clock.Since(start).Seconds())

	now := f.clock.Now()
	return model.AccountCacheEntry{
		TokensDisplay:    snapshots,
		TotalValue:       total.InexactFloat64(),
		LastUpdated:      &now,
		LoadingTokenData: false,
	}, nil
}

// readBalance returns the display balance raw / 10^decimals, or zero when
// the read fails or the result does not fit a float64.
func (f *Fetcher) readBalance(ctx context.Context, key model.AccountKey, token model.TokenDescriptor) (decimal.Decimal, bool) {
	raw, err := f.reader.Call(ctx, chain.FunctionCall{
		ContractAddress: token.Address,
		Function:        balanceOfFunction,
		Calldata:        []string{key.String()},
	})
	if err != nil {
		metrics.BalanceTokenReadFailures.WithLabelValues(f.network.String(), token.Symbol).Inc()
		f.logger.Debug("token balance read failed", "account", key, "token", token.Symbol, "error", err)
		return decimal.Zero, false
	}

	amount := decimal.NewFromBigInt(normalize.Parse(raw), -int32(token.Decimals))
	if fl := amount.InexactFloat64(); math.IsInf(fl, 0) || math.IsNaN(fl) {
		f.logger.Warn("non-finite token balance, using zero", "account", key, "token", token.Symbol)
		return decimal.Zero, false
	}
	return amount, true
}

func (f *Fetcher) readPrice(ctx context.Context, token model.TokenDescriptor) (decimal.Decimal, bool) {
	if f.prices == nil {
		return decimal.Zero, false
	}
	p, err := f.prices.PriceOf(ctx, token.Symbol)
	if err == nil && (math.IsNaN(p) || math.IsInf(p, 0) || p < 0) {
		err = errNonFinitePrice
	}
	if err != nil {
		metrics.BalancePriceFailures.WithLabelValues(token.Symbol).Inc()
		f.logger.Warn("token price unavailable, using zero", "token", token.Symbol, "error", err)
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(p), true
}

func snapshotOf(key model.AccountKey, r pricedToken, total decimal.Decimal) model.BalanceSnapshot {
	share := decimal.Zero
	size := "0%"
	if total.IsPositive() {
		share = r.value.Div(total).Mul(hundred)
		size = share.StringFixed(2) + "%"
	}
	return model.BalanceSnapshot{
		ID:              SnapshotID(key, r.token.Address),
		Coin:            r.token.Symbol,
		Price:           "$" + r.price.StringFixed(2),
		Balance:         r.balance.StringFixed(4),
		Value:           "$" + r.value.StringFixed(2),
		Size:            size,
		ContractAddress: r.token.Address,
		PriceUSD:        r.price.InexactFloat64(),
		BalanceAmount:   r.balance.InexactFloat64(),
		ValueUSD:        r.value.InexactFloat64(),
		Share:           share.InexactFloat64(),
	}
}

// SnapshotID is stable for an (account, token) pair across fetches.
func SnapshotID(key model.AccountKey, tokenAddress string) uuid.UUID {
	return uuid.NewSHA1(snapshotNamespace, []byte(key.String()+"|"+tokenAddress))
}

