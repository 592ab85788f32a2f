package ledger

import (
	"context"
	"sync"
)

// MemoryStore 以内存方式保存账本，适合测试与演示种子数据。
type MemoryStore struct {
	mu      sync.RWMutex
	scams   map[string]ScamEntry
	wallets map[string]Wallet
	txs     map[string]Transaction
	// byAddress 按写入顺序记录地址相关的交易哈希，保证查询结果稳定。
	byAddress map[string][]string
}

// NewMemoryStore 创建空的内存账本。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scams:     make(map[string]ScamEntry),
		wallets:   make(map[string]Wallet),
		txs:       make(map[string]Transaction),
		byAddress: make(map[string][]string),
	}
}

// ScamEntry 实现 Repository 接口。
func (m *MemoryStore) ScamEntry(_ context.Context, address string) (ScamEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.scams[Normalize(address)]
	if !ok {
		return ScamEntry{}, ErrScamEntryNotFound
	}
	return cloneScamEntry(entry), nil
}

// Wallet 实现 Repository 接口。
func (m *MemoryStore) Wallet(_ context.Context, address string) (Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wallet, ok := m.wallets[Normalize(address)]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return cloneWallet(wallet), nil
}

// Transaction 实现 Repository 接口。
func (m *MemoryStore) Transaction(_ context.Context, hash string) (Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[Normalize(hash)]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

// TransactionsByAddress 按写入顺序返回与地址相关的交易。
func (m *MemoryStore) TransactionsByAddress(_ context.Context, address string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hashes := m.byAddress[Normalize(address)]
	results := make([]Transaction, 0, len(hashes))
	for _, hash := range hashes {
		results = append(results, m.txs[hash])
	}
	return results, nil
}

// PutScamEntry 实现 Writer 接口。
func (m *MemoryStore) PutScamEntry(_ context.Context, entry ScamEntry) error {
	if err := ValidateScamEntry(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := cloneScamEntry(entry)
	stored.Address = Normalize(entry.Address)
	m.scams[stored.Address] = stored
	return nil
}

// PutWallet 实现 Writer 接口。
func (m *MemoryStore) PutWallet(_ context.Context, wallet Wallet) error {
	if err := ValidateWallet(wallet); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := cloneWallet(wallet)
	stored.Address = Normalize(wallet.Address)
	m.wallets[stored.Address] = stored
	return nil
}

// PutTransaction 实现 Writer 接口。重复写入同一哈希会覆盖旧记录。
func (m *MemoryStore) PutTransaction(_ context.Context, tx Transaction) error {
	if err := ValidateTransaction(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// 与 MySQL 存储保持一致，标识统一按规范形式保存。
	tx.Hash, tx.From, tx.To = Normalize(tx.Hash), Normalize(tx.From), Normalize(tx.To)
	key := tx.Hash
	if previous, ok := m.txs[key]; ok {
		m.unindex(key, previous)
	}
	m.txs[key] = tx
	for _, party := range parties(tx) {
		m.byAddress[party] = append(m.byAddress[party], key)
	}
	return nil
}

func (m *MemoryStore) unindex(key string, tx Transaction) {
	for _, party := range parties(tx) {
		hashes := m.byAddress[party]
		kept := hashes[:0]
		for _, h := range hashes {
			if h != key {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(m.byAddress, party)
			continue
		}
		m.byAddress[party] = kept
	}
}

// parties 返回去重后的收发方地址。
func parties(tx Transaction) []string {
	from, to := Normalize(tx.From), Normalize(tx.To)
	switch {
	case from == "":
		return []string{to}
	case to == "" || to == from:
		return []string{from}
	default:
		return []string{from, to}
	}
}

var _ Store = (*MemoryStore)(nil)
