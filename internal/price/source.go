// Package price resolves USD prices for token symbols. Every source is
// independently failable; callers degrade a failed lookup to zero.
package price

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSymbol is returned when a source has no mapping for a symbol.
var ErrUnknownSymbol = errors.New("unknown price symbol")

// Source is a per-symbol price capability.
type Source interface {
	PriceOf(ctx context.Context, symbol string) (float64, error)
}

// Static serves fixed prices. Useful for devnet and tests.
type Static map[string]float64

func (s Static) PriceOf(_ context.Context, symbol string) (float64, error) {
	p, ok := s[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return p, nil
}
