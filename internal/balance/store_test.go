package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

func sampleEntry(ts time.Time) model.AccountCacheEntry {
	return model.AccountCacheEntry{
		TokensDisplay: []model.BalanceSnapshot{
			{Coin: "STRK", Balance: "1.0000", Price: "$1.00", Value: "$1.00", Size: "100.00%"},
		},
		TotalValue:  1,
		LastUpdated: &ts,
	}
}

func TestStore_GetDefault(t *testing.T) {
	s := NewStore(nil)
	e := s.Get(testAccount)
	assert.Empty(t, e.TokensDisplay)
	assert.Nil(t, e.LastUpdated)
	assert.False(t, e.LoadingTokenData)
	assert.False(t, e.HasData())
}

func TestStore_UpdateMergesNamedFields(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	s.Update(ctx, testAccount, Replace(sampleEntry(time.Unix(100, 0))))
	s.Update(ctx, testAccount, Loading(true))

	e := s.Get(testAccount)
	assert.True(t, e.LoadingTokenData)
	require.Len(t, e.TokensDisplay, 1, "loading patch leaves tokens alone")
	assert.Equal(t, 1.0, e.TotalValue)
	assert.True(t, e.LastUpdated.Equal(time.Unix(100, 0)))
}

func TestStore_ListenersSeeCommittedEntryInOrder(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	var order []string
	s.Subscribe(testAccount, func(e model.AccountCacheEntry) {
		order = append(order, "first")
		assert.True(t, s.Get(testAccount).LoadingTokenData, "store is written before notify")
		assert.True(t, e.LoadingTokenData)
	})
	s.Subscribe(testAccount, func(model.AccountCacheEntry) { order = append(order, "second") })
	other := model.MustAccountKey("0x99")
	s.Subscribe(other, func(model.AccountCacheEntry) { order = append(order, "other") })

	s.Update(ctx, testAccount, Loading(true))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStore_UnsubscribeIdempotent(t *testing.T) {
	s := NewStore(nil)
	calls := 0
	unsub := s.Subscribe(testAccount, func(model.AccountCacheEntry) { calls++ })
	keep := s.Subscribe(testAccount, func(model.AccountCacheEntry) {})
	defer keep()

	unsub()
	unsub()
	assert.Equal(t, 1, s.ListenerCount(testAccount))

	s.Update(context.Background(), testAccount, Loading(true))
	assert.Zero(t, calls)
}

func TestStore_ListenerMutationDoesNotLeak(t *testing.T) {
	s := NewStore(nil)
	s.Subscribe(testAccount, func(e model.AccountCacheEntry) {
		e.TokensDisplay[0].Coin = "MUTATED"
	})

	patched := sampleEntry(time.Unix(1, 0))
	s.Update(context.Background(), testAccount, Replace(patched))

	assert.Equal(t, "STRK", s.Get(testAccount).TokensDisplay[0].Coin)
	assert.Equal(t, "STRK", patched.TokensDisplay[0].Coin)
}

type recordingSink struct {
	name    string
	err     error
	entries []model.AccountCacheEntry
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, _ model.AccountKey, e model.AccountCacheEntry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestStore_SinksReceiveCommittedEntries(t *testing.T) {
	s := NewStore(nil)
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("down")}
	s.AddSink(bad)
	s.AddSink(good)

	var listenerSaw bool
	s.Subscribe(testAccount, func(model.AccountCacheEntry) {
		listenerSaw = true
		assert.Empty(t, good.entries, "listeners run before sinks")
	})

	out := s.Update(context.Background(), testAccount, Replace(sampleEntry(time.Unix(5, 0))))
	assert.True(t, listenerSaw)
	require.Len(t, good.entries, 1)
	require.Len(t, bad.entries, 1, "a failing sink does not stop the others")
	assert.Equal(t, out.TotalValue, good.entries[0].TotalValue)
}
