package ledger

import (
	"context"

	xerrors "ChainGuard/internal/errors"
)

const (
	CodeAddressNotFound     xerrors.Code = "ADDRESS_NOT_FOUND"
	CodeTransactionNotFound xerrors.Code = "TRANSACTION_NOT_FOUND"
	CodeScamEntryNotFound   xerrors.Code = "SCAM_ENTRY_NOT_FOUND"
	CodeInvalidRecord       xerrors.Code = "INVALID_LEDGER_RECORD"
)

var (
	// ErrWalletNotFound 表示账本中没有该钱包的画像。
	ErrWalletNotFound = xerrors.New(CodeAddressNotFound, "wallet not found")
	// ErrScamEntryNotFound 表示地址不在诈骗登记库中。
	ErrScamEntryNotFound = xerrors.New(CodeScamEntryNotFound, "scam entry not found")
	// ErrTransactionNotFound 表示交易哈希不存在。
	ErrTransactionNotFound = xerrors.New(CodeTransactionNotFound, "Transaction not found")
)

func init() {
	notFound := xerrors.AttributesOf(xerrors.CodeNotFound)
	xerrors.Register(CodeAddressNotFound, xerrors.Attributes{Message: "address not found", Severity: xerrors.SeverityInfo, HTTPStatus: notFound.HTTPStatus})
	xerrors.Register(CodeScamEntryNotFound, xerrors.Attributes{Message: "scam entry not found", Severity: xerrors.SeverityInfo, HTTPStatus: notFound.HTTPStatus})
	xerrors.Register(CodeTransactionNotFound, xerrors.Attributes{Message: "Transaction not found", Severity: xerrors.SeverityInfo, HTTPStatus: notFound.HTTPStatus})
	xerrors.Register(CodeInvalidRecord, xerrors.Attributes{
		Message:    "invalid ledger record",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: xerrors.AttributesOf(xerrors.CodeInvalidArgument).HTTPStatus,
	})
}

// Repository 是风险引擎读取账本数据的唯一入口。
// 未命中时返回对应的 ErrXxxNotFound。
type Repository interface {
	ScamEntry(ctx context.Context, address string) (ScamEntry, error)
	Wallet(ctx context.Context, address string) (Wallet, error)
	Transaction(ctx context.Context, hash string) (Transaction, error)
	TransactionsByAddress(ctx context.Context, address string) ([]Transaction, error)
}

// Writer 负责写入账本记录，供种子导入与后台维护使用。
type Writer interface {
	PutScamEntry(ctx context.Context, entry ScamEntry) error
	PutWallet(ctx context.Context, wallet Wallet) error
	PutTransaction(ctx context.Context, tx Transaction) error
}

// Store 同时具备读写能力。
type Store interface {
	Repository
	Writer
}

// ValidateScamEntry 检查登记记录是否合法。
func ValidateScamEntry(entry ScamEntry) error {
	if Normalize(entry.Address) == "" {
		return xerrors.New(CodeInvalidRecord, "诈骗登记缺少地址")
	}
	if entry.RiskScore < 0 || entry.RiskScore > 1 {
		return xerrors.New(CodeInvalidRecord, "风险分必须位于 [0,1]", xerrors.WithMetadata("address", entry.Address))
	}
	return nil
}

// ValidateWallet 检查钱包画像是否合法。
func ValidateWallet(wallet Wallet) error {
	if Normalize(wallet.Address) == "" {
		return xerrors.New(CodeInvalidRecord, "钱包缺少地址")
	}
	if wallet.RiskScore < 0 || wallet.RiskScore > 1 {
		return xerrors.New(CodeInvalidRecord, "风险分必须位于 [0,1]", xerrors.WithMetadata("address", wallet.Address))
	}
	return nil
}

// ValidateTransaction 检查交易记录是否合法。时间戳格式留给扫描阶段校验。
func ValidateTransaction(tx Transaction) error {
	if Normalize(tx.Hash) == "" {
		return xerrors.New(CodeInvalidRecord, "交易缺少哈希")
	}
	if Normalize(tx.From) == "" && Normalize(tx.To) == "" {
		return xerrors.New(CodeInvalidRecord, "交易缺少收发方", xerrors.WithMetadata("hash", tx.Hash))
	}
	return nil
}
