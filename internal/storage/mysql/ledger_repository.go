package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ChainGuard/internal/ledger"
)

// LedgerRepository 将账本保存在 MySQL 中。地址与哈希以规范化形式入库。
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository 基于已打开的连接池创建账本仓库。
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const (
	selectScamEntrySQL = `SELECT address, scam_type, risk_score, reported_by, first_reported, description
        FROM scam_entries WHERE address = ?`
	upsertScamEntrySQL = `INSERT INTO scam_entries (address, scam_type, risk_score, reported_by, first_reported, description)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE scam_type = VALUES(scam_type), risk_score = VALUES(risk_score), reported_by = VALUES(reported_by),
        first_reported = VALUES(first_reported), description = VALUES(description)`
	selectWalletSQL = `SELECT address, creation_date, total_transactions, balances, risk_score, connected_addresses, behavior_tags
        FROM wallets WHERE address = ?`
	upsertWalletSQL = `INSERT INTO wallets (address, creation_date, total_transactions, balances, risk_score, connected_addresses, behavior_tags)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE creation_date = VALUES(creation_date), total_transactions = VALUES(total_transactions),
        balances = VALUES(balances), risk_score = VALUES(risk_score), connected_addresses = VALUES(connected_addresses),
        behavior_tags = VALUES(behavior_tags)`
	selectTransactionColumns = `SELECT hash, from_address, to_address, value_amount, value_currency, occurred_at, gas_used, status
        FROM ledger_transactions`
	upsertTransactionSQL = `INSERT INTO ledger_transactions (hash, from_address, to_address, value_amount, value_currency, occurred_at, gas_used, status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE from_address = VALUES(from_address), to_address = VALUES(to_address), value_amount = VALUES(value_amount),
        value_currency = VALUES(value_currency), occurred_at = VALUES(occurred_at), gas_used = VALUES(gas_used), status = VALUES(status)`
)

// ScamEntry 实现 ledger.Repository。
func (r *LedgerRepository) ScamEntry(ctx context.Context, address string) (ledger.ScamEntry, error) {
	row := r.db.QueryRowContext(ctx, selectScamEntrySQL, ledger.Normalize(address))

	var entry ledger.ScamEntry
	var reportedBy, firstReported, description sql.NullString
	if err := row.Scan(&entry.Address, &entry.ScamType, &entry.RiskScore, &reportedBy, &firstReported, &description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ScamEntry{}, ledger.ErrScamEntryNotFound
		}
		return ledger.ScamEntry{}, fmt.Errorf("查询诈骗登记失败: %w", err)
	}
	if err := decodeJSON(reportedBy, &entry.ReportedBy); err != nil {
		return ledger.ScamEntry{}, fmt.Errorf("解析 reported_by 失败: %w", err)
	}
	entry.FirstReported = firstReported.String
	entry.Description = description.String
	return entry, nil
}

// Wallet 实现 ledger.Repository。
func (r *LedgerRepository) Wallet(ctx context.Context, address string) (ledger.Wallet, error) {
	row := r.db.QueryRowContext(ctx, selectWalletSQL, ledger.Normalize(address))

	var wallet ledger.Wallet
	var creationDate, balances, connected, tags sql.NullString
	if err := row.Scan(&wallet.Address, &creationDate, &wallet.TotalTransactions, &balances, &wallet.RiskScore, &connected, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Wallet{}, ledger.ErrWalletNotFound
		}
		return ledger.Wallet{}, fmt.Errorf("查询钱包画像失败: %w", err)
	}
	wallet.CreationDate = creationDate.String

	var raw map[string]string
	if err := decodeJSON(balances, &raw); err != nil {
		return ledger.Wallet{}, fmt.Errorf("解析 balances 失败: %w", err)
	}
	if len(raw) > 0 {
		wallet.Balances = make(map[string]decimal.Decimal, len(raw))
		for currency, value := range raw {
			amount, err := decimal.NewFromString(value)
			if err != nil {
				return ledger.Wallet{}, fmt.Errorf("解析 %s 余额失败: %w", currency, err)
			}
			wallet.Balances[currency] = amount
		}
	}
	if err := decodeJSON(connected, &wallet.ConnectedAddresses); err != nil {
		return ledger.Wallet{}, fmt.Errorf("解析 connected_addresses 失败: %w", err)
	}
	if err := decodeJSON(tags, &wallet.BehaviorTags); err != nil {
		return ledger.Wallet{}, fmt.Errorf("解析 behavior_tags 失败: %w", err)
	}
	return wallet, nil
}

// Transaction 实现 ledger.Repository。
func (r *LedgerRepository) Transaction(ctx context.Context, hash string) (ledger.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectTransactionColumns+` WHERE hash = ?`, ledger.Normalize(hash))
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Transaction{}, ledger.ErrTransactionNotFound
		}
		return ledger.Transaction{}, fmt.Errorf("查询交易失败: %w", err)
	}
	return tx, nil
}

// TransactionsByAddress 实现 ledger.Repository，按发生时间升序返回。
func (r *LedgerRepository) TransactionsByAddress(ctx context.Context, address string) ([]ledger.Transaction, error) {
	address = ledger.Normalize(address)
	rows, err := r.db.QueryContext(ctx, selectTransactionColumns+` WHERE from_address = ? OR to_address = ? ORDER BY occurred_at ASC, hash ASC`, address, address)
	if err != nil {
		return nil, fmt.Errorf("查询地址交易失败: %w", err)
	}
	defer rows.Close()

	txs := make([]ledger.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("解析交易记录失败: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历交易记录失败: %w", err)
	}
	return txs, nil
}

// PutScamEntry 实现 ledger.Writer。
func (r *LedgerRepository) PutScamEntry(ctx context.Context, entry ledger.ScamEntry) error {
	if err := ledger.ValidateScamEntry(entry); err != nil {
		return err
	}
	reportedBy, err := encodeJSON(entry.ReportedBy)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, upsertScamEntrySQL,
		ledger.Normalize(entry.Address),
		entry.ScamType,
		entry.RiskScore,
		reportedBy,
		entry.FirstReported,
		entry.Description,
	); err != nil {
		return fmt.Errorf("写入诈骗登记失败: %w", err)
	}
	return nil
}

// PutWallet 实现 ledger.Writer。
func (r *LedgerRepository) PutWallet(ctx context.Context, wallet ledger.Wallet) error {
	if err := ledger.ValidateWallet(wallet); err != nil {
		return err
	}
	var balances map[string]string
	if len(wallet.Balances) > 0 {
		balances = make(map[string]string, len(wallet.Balances))
		for currency, amount := range wallet.Balances {
			balances[currency] = amount.String()
		}
	}
	encodedBalances, err := encodeJSON(balances)
	if err != nil {
		return err
	}
	connected, err := encodeJSON(wallet.ConnectedAddresses)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(wallet.BehaviorTags)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, upsertWalletSQL,
		ledger.Normalize(wallet.Address),
		wallet.CreationDate,
		wallet.TotalTransactions,
		encodedBalances,
		wallet.RiskScore,
		connected,
		tags,
	); err != nil {
		return fmt.Errorf("写入钱包画像失败: %w", err)
	}
	return nil
}

// PutTransaction 实现 ledger.Writer。
func (r *LedgerRepository) PutTransaction(ctx context.Context, tx ledger.Transaction) error {
	if err := ledger.ValidateTransaction(tx); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, upsertTransactionSQL,
		ledger.Normalize(tx.Hash),
		ledger.Normalize(tx.From),
		ledger.Normalize(tx.To),
		tx.Value.Value,
		tx.Value.Currency,
		strings.TrimSpace(tx.Timestamp),
		int64(tx.GasUsed),
		tx.Status,
	); err != nil {
		return fmt.Errorf("写入交易失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接池。
func (r *LedgerRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var tx ledger.Transaction
	var gasUsed int64
	if err := row.Scan(&tx.Hash, &tx.From, &tx.To, &tx.Value.Value, &tx.Value.Currency, &tx.Timestamp, &gasUsed, &tx.Status); err != nil {
		return ledger.Transaction{}, err
	}
	if gasUsed > 0 {
		tx.GasUsed = uint64(gasUsed)
	}
	return tx, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch typed := v.(type) {
	case []string:
		if len(typed) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]string:
		if len(typed) == 0 {
			return sql.NullString{}, nil
		}
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("序列化字段失败: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeJSON(raw sql.NullString, dest any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

var _ ledger.Store = (*LedgerRepository)(nil)
