package risk

import (
	"context"
	stdErrors "errors"
	"strings"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
)

// TransactionLookup 是按哈希查询交易的结果。未命中时 Error 字段为 "Transaction not found"。
type TransactionLookup struct {
	Hash        string              `json:"hash"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Found 判断是否查到交易。
func (l TransactionLookup) Found() bool { return l.Transaction != nil }

// LookupTransaction 查询交易。未命中不是错误，只有存储故障才返回 error。
func (e *Engine) LookupTransaction(ctx context.Context, hash string) (TransactionLookup, error) {
	hash = strings.TrimSpace(hash)
	result := TransactionLookup{Hash: hash}
	if hash == "" {
		return result, xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	tx, err := e.repo.Transaction(ctx, hash)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrTransactionNotFound) {
			result.Error = ledger.ErrTransactionNotFound.Message()
			return result, nil
		}
		return result, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易失败")
	}
	result.Transaction = &tx
	return result, nil
}

// TransactionsByAddress 返回地址相关的全部交易。
func (e *Engine) TransactionsByAddress(ctx context.Context, address string) ([]ledger.Transaction, error) {
	txs, err := e.repo.TransactionsByAddress(ctx, address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询地址交易失败")
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return txs, nil
}

// CheckScamStatus 委托给分类器。
func (e *Engine) CheckScamStatus(ctx context.Context, address string) (ScamStatus, error) {
	return e.classifier.CheckScamStatus(ctx, strings.TrimSpace(address))
}

// AddressDetails 委托给分类器。
func (e *Engine) AddressDetails(ctx context.Context, address string) (*AddressDetails, error) {
	return e.classifier.AddressDetails(ctx, strings.TrimSpace(address))
}

// ScanAddress 委托给扫描器。
func (e *Engine) ScanAddress(ctx context.Context, address string) (*ScanReport, error) {
	return e.scanner.ScanAddress(ctx, strings.TrimSpace(address))
}
