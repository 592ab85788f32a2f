package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ChainGuard/internal/ledger"
)

type fakeKV struct {
	mu      sync.Mutex
	data    map[string]string
	gets    int
	failGet bool
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet {
		return goredis.NewStringResult("", errors.New("connection refused"))
	}
	value, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(value, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

type countingRepo struct {
	*ledger.MemoryStore
	walletCalls int
}

func (c *countingRepo) Wallet(ctx context.Context, address string) (ledger.Wallet, error) {
	c.walletCalls++
	return c.MemoryStore.Wallet(ctx, address)
}

func TestLedgerCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{MemoryStore: ledger.NewMemoryStore()}
	_ = inner.PutWallet(ctx, ledger.Wallet{
		Address:   "0xA",
		RiskScore: 0.75,
		Balances:  map[string]decimal.Decimal{"ETH": decimal.RequireFromString("0.5")},
	})

	kv := newFakeKV()
	cache := newLedgerCache(inner, kv, Config{})

	for i := 0; i < 3; i++ {
		wallet, err := cache.Wallet(ctx, "0xa")
		if err != nil {
			t.Fatalf("wallet: %v", err)
		}
		if wallet.RiskScore != 0.75 || !wallet.Balances["ETH"].Equal(decimal.RequireFromString("0.5")) {
			t.Fatalf("unexpected wallet %+v", wallet)
		}
	}
	if inner.walletCalls != 1 {
		t.Fatalf("expected a single backend call, got %d", inner.walletCalls)
	}
	if _, ok := kv.data["chainguard:ledger:wallet:0xa"]; !ok {
		t.Fatalf("expected wallet to be cached under normalized key")
	}
}

func TestLedgerCacheDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cache := newLedgerCache(ledger.NewMemoryStore(), kv, Config{KeyPrefix: "t:"})

	if _, err := cache.Transaction(ctx, "0xmissing"); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(kv.data) != 0 {
		t.Fatalf("misses must not be cached: %v", kv.data)
	}
}

func TestLedgerCacheEvictsOnWrite(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cache := newLedgerCache(ledger.NewMemoryStore(), kv, Config{})

	tx := ledger.Transaction{Hash: "0x1", From: "0xa", To: "0xb", Timestamp: "2025-05-10T14:32:15Z"}
	if err := cache.PutTransaction(ctx, tx); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := cache.TransactionsByAddress(ctx, "0xa")
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %v err=%v", list, err)
	}

	second := ledger.Transaction{Hash: "0x2", From: "0xb", To: "0xa", Timestamp: "2025-05-10T14:33:15Z"}
	if err := cache.PutTransaction(ctx, second); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err = cache.TransactionsByAddress(ctx, "0xa")
	if err != nil || len(list) != 2 {
		t.Fatalf("stale cached list %v err=%v", list, err)
	}
}

func TestLedgerCacheFallsBackWhenRedisFails(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	_ = store.PutScamEntry(ctx, ledger.ScamEntry{Address: "0xbad", ScamType: "mixer", RiskScore: 0.85})

	kv := newFakeKV()
	kv.failGet = true
	cache := newLedgerCache(store, kv, Config{})

	entry, err := cache.ScamEntry(ctx, "0xbad")
	if err != nil || entry.ScamType != "mixer" {
		t.Fatalf("expected fallback to backend, got %+v err=%v", entry, err)
	}
}
