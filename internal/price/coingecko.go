package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
	"github.com/emperorhan/treasury-sync/internal/metrics"
)

const coinGeckoSource = "coingecko"

// CoinGecko reads spot USD prices from the /simple/price endpoint.
type CoinGecko struct {
	httpClient *http.Client
	baseURL    string
	ids        map[string]string // symbol -> coin id
	logger     *slog.Logger
}

type CoinGeckoOption func(*CoinGecko)

func WithHTTPClient(c *http.Client) CoinGeckoOption {
	return func(g *CoinGecko) { g.httpClient = c }
}

// NewCoinGecko builds a source for the given tokens. Tokens without a
// price id are not priced.
func NewCoinGecko(baseURL string, tokens []model.TokenDescriptor, logger *slog.Logger, opts ...CoinGeckoOption) *CoinGecko {
	if logger == nil {
		logger = slog.Default()
	}
	ids := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.PriceID != "" {
			ids[strings.ToUpper(t.Symbol)] = t.PriceID
		}
	}
	g := &CoinGecko{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		ids:        ids,
		logger:     logger.With("component", "coingecko"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *CoinGecko) PriceOf(ctx context.Context, symbol string) (float64, error) {
	id, ok := g.ids[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	p, err := g.fetch(ctx, id)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.PriceRequestsTotal.WithLabelValues(coinGeckoSource, status).Inc()
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", symbol, err)
	}
	return p, nil
}

func (g *CoinGecko) fetch(ctx context.Context, id string) (float64, error) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	endpoint := g.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	var out map[string]map[string]float64
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}
	usd, ok := out[id]["usd"]
	if !ok {
		return 0, fmt.Errorf("no usd price for %s", id)
	}
	return usd, nil
}
