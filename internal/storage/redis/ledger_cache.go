package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ChainGuard/internal/ledger"
	"ChainGuard/pkg/logger"
)

// Config 描述缓存所用的 Redis 连接参数。
type Config struct {
	Address   string        `json:"address"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	KeyPrefix string        `json:"key_prefix"`
	TTL       time.Duration `json:"ttl"`
}

// kv 是缓存用到的 go-redis 命令子集，*goredis.Client 满足该接口。
type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// LedgerCache 为账本查询提供读穿缓存。只缓存命中结果，未命中总是回源。
type LedgerCache struct {
	inner  ledger.Repository
	client kv
	closer func() error
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewLedgerCache 连接 Redis 并包装 inner。
func NewLedgerCache(ctx context.Context, inner ledger.Repository, cfg Config) (*LedgerCache, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	cache := newLedgerCache(inner, client, cfg)
	cache.closer = client.Close
	return cache, nil
}

func newLedgerCache(inner ledger.Repository, client kv, cfg Config) *LedgerCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "chainguard:ledger:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LedgerCache{
		inner:  inner,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.Named("ledger-cache"),
	}
}

// ScamEntry 实现 ledger.Repository。
func (c *LedgerCache) ScamEntry(ctx context.Context, address string) (ledger.ScamEntry, error) {
	return readThrough(ctx, c, c.key("scam", address), func() (ledger.ScamEntry, error) {
		return c.inner.ScamEntry(ctx, address)
	})
}

// Wallet 实现 ledger.Repository。
func (c *LedgerCache) Wallet(ctx context.Context, address string) (ledger.Wallet, error) {
	return readThrough(ctx, c, c.key("wallet", address), func() (ledger.Wallet, error) {
		return c.inner.Wallet(ctx, address)
	})
}

// Transaction 实现 ledger.Repository。
func (c *LedgerCache) Transaction(ctx context.Context, hash string) (ledger.Transaction, error) {
	return readThrough(ctx, c, c.key("tx", hash), func() (ledger.Transaction, error) {
		return c.inner.Transaction(ctx, hash)
	})
}

// TransactionsByAddress 实现 ledger.Repository。
func (c *LedgerCache) TransactionsByAddress(ctx context.Context, address string) ([]ledger.Transaction, error) {
	return readThrough(ctx, c, c.key("txs", address), func() ([]ledger.Transaction, error) {
		return c.inner.TransactionsByAddress(ctx, address)
	})
}

// PutScamEntry 写入底层账本并淘汰缓存。
func (c *LedgerCache) PutScamEntry(ctx context.Context, entry ledger.ScamEntry) error {
	w, err := c.writer()
	if err != nil {
		return err
	}
	if err := w.PutScamEntry(ctx, entry); err != nil {
		return err
	}
	c.evict(ctx, c.key("scam", entry.Address))
	return nil
}

// PutWallet 写入底层账本并淘汰缓存。
func (c *LedgerCache) PutWallet(ctx context.Context, wallet ledger.Wallet) error {
	w, err := c.writer()
	if err != nil {
		return err
	}
	if err := w.PutWallet(ctx, wallet); err != nil {
		return err
	}
	c.evict(ctx, c.key("wallet", wallet.Address))
	return nil
}

// PutTransaction 写入底层账本，并淘汰交易本身与双方地址的列表缓存。
func (c *LedgerCache) PutTransaction(ctx context.Context, tx ledger.Transaction) error {
	w, err := c.writer()
	if err != nil {
		return err
	}
	if err := w.PutTransaction(ctx, tx); err != nil {
		return err
	}
	c.evict(ctx, c.key("tx", tx.Hash), c.key("txs", tx.From), c.key("txs", tx.To))
	return nil
}

// Close 关闭 Redis 连接。
func (c *LedgerCache) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *LedgerCache) writer() (ledger.Writer, error) {
	w, ok := c.inner.(ledger.Writer)
	if !ok {
		return nil, errors.New("底层账本不支持写入")
	}
	return w, nil
}

func (c *LedgerCache) key(kind, id string) string {
	return c.prefix + kind + ":" + ledger.Normalize(id)
}

func (c *LedgerCache) evict(ctx context.Context, keys ...string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("淘汰账本缓存失败", slog.Any("keys", keys), slog.Any("error", err))
	}
}

func readThrough[T any](ctx context.Context, c *LedgerCache, key string, load func() (T, error)) (T, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached T
		if decodeErr := json.Unmarshal(raw, &cached); decodeErr == nil {
			return cached, nil
		}
		c.log.Warn("账本缓存内容损坏", slog.String("key", key))
	case !errors.Is(err, goredis.Nil):
		c.log.Warn("读取账本缓存失败", slog.String("key", key), slog.Any("error", err))
	}

	value, err := load()
	if err != nil {
		return value, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return value, nil
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.log.Warn("写入账本缓存失败", slog.String("key", key), slog.Any("error", err))
	}
	return value, nil
}

var _ ledger.Store = (*LedgerCache)(nil)
