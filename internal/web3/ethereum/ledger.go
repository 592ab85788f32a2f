package ethereum

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"ChainGuard/internal/ledger"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// weiExponent converts wei to the chain's native unit.
const weiExponent = -18

// Ledger resolves transaction hashes against an EVM node. Registry, wallet
// and address-index lookups go to the fallback repository because a node
// keeps no such index.
type Ledger struct {
	client   *Client
	fallback ledger.Repository
	now      func() time.Time
}

// NewLedger wraps the client as a ledger repository.
func NewLedger(client *Client, fallback ledger.Repository) *Ledger {
	return &Ledger{client: client, fallback: fallback, now: time.Now}
}

// ScamEntry implements ledger.Repository.
func (l *Ledger) ScamEntry(ctx context.Context, address string) (ledger.ScamEntry, error) {
	return l.fallback.ScamEntry(ctx, address)
}

// Wallet implements ledger.Repository.
func (l *Ledger) Wallet(ctx context.Context, address string) (ledger.Wallet, error) {
	return l.fallback.Wallet(ctx, address)
}

// TransactionsByAddress implements ledger.Repository.
func (l *Ledger) TransactionsByAddress(ctx context.Context, address string) ([]ledger.Transaction, error) {
	return l.fallback.TransactionsByAddress(ctx, address)
}

// Transaction looks the hash up in the fallback first, then on chain.
func (l *Ledger) Transaction(ctx context.Context, hash string) (ledger.Transaction, error) {
	tx, err := l.fallback.Transaction(ctx, hash)
	if err == nil || !errors.Is(err, ledger.ErrTransactionNotFound) {
		return tx, err
	}
	if !txHashPattern.MatchString(strings.TrimSpace(hash)) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return l.fetch(ctx, common.HexToHash(strings.TrimSpace(hash)))
}

func (l *Ledger) fetch(ctx context.Context, hash common.Hash) (ledger.Transaction, error) {
	reader := l.client.reader
	tx, pending, err := reader.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return ledger.Transaction{}, ledger.ErrTransactionNotFound
		}
		return ledger.Transaction{}, fmt.Errorf("查询链上交易失败: %w", err)
	}

	chainID, err := l.client.chainIDCached(ctx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	from, err := coretypes.Sender(coretypes.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("恢复交易发送方失败: %w", err)
	}

	result := ledger.Transaction{
		Hash:  ledger.Normalize(hash.Hex()),
		From:  ledger.Normalize(from.Hex()),
		Value: ledger.Amount{Value: decimal.NewFromBigInt(tx.Value(), weiExponent), Currency: l.client.currency},
	}
	if to := tx.To(); to != nil {
		result.To = ledger.Normalize(to.Hex())
	}

	if pending {
		result.Status = "pending"
		result.Timestamp = l.now().UTC().Format(time.RFC3339)
		return result, nil
	}

	receipt, err := reader.TransactionReceipt(ctx, hash)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("查询交易回执失败: %w", err)
	}
	result.GasUsed = receipt.GasUsed
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		result.Status = "success"
	} else {
		result.Status = "failed"
	}

	header, err := reader.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("查询区块头失败: %w", err)
	}
	result.Timestamp = time.Unix(int64(header.Time), 0).UTC().Format(time.RFC3339)
	return result, nil
}

var _ ledger.Repository = (*Ledger)(nil)
