package model

import (
	"time"

	"github.com/google/uuid"
)

// BalanceSnapshot is the display row of one token for one account. Snapshots
// are recomputed wholesale on every fetch and never patched.
type BalanceSnapshot struct {
	ID              uuid.UUID `json:"id"`
	Coin            string    `json:"coin"`
	Price           string    `json:"price"`
	Balance         string    `json:"balance"`
	Value           string    `json:"value"`
	Size            string    `json:"size"`
	ContractAddress string    `json:"contractAddress"`

	PriceUSD      float64 `json:"-"`
	BalanceAmount float64 `json:"-"`
	ValueUSD      float64 `json:"-"`
	Share         float64 `json:"-"`
}

// AccountCacheEntry is the last known state of one account.
type AccountCacheEntry struct {
	TokensDisplay    []BalanceSnapshot `json:"tokensDisplay"`
	TotalValue       float64           `json:"totalValue"`
	LastUpdated      *time.Time        `json:"lastUpdated"`
	LoadingTokenData bool              `json:"loadingTokenData"`
}

// HasData reports whether the entry carries a completed snapshot.
func (e AccountCacheEntry) HasData() bool {
	return e.LastUpdated != nil && len(e.TokensDisplay) > 0
}

// Clone returns a copy that shares no slice or pointer with e.
func (e AccountCacheEntry) Clone() AccountCacheEntry {
	out := e
	if e.TokensDisplay != nil {
		out.TokensDisplay = append([]BalanceSnapshot(nil), e.TokensDisplay...)
	}
	if e.LastUpdated != nil {
		ts := *e.LastUpdated
		out.LastUpdated = &ts
	}
	return out
}
