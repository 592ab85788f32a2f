package risk

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
)

// BehaviorReport 是钱包行为模式分析的结果。
type BehaviorReport struct {
	Address          string            `json:"address"`
	TransactionCount int               `json:"transaction_count"`
	DetectedPatterns []DetectedPattern `json:"detected_patterns"`
	RiskAssessment   bool              `json:"risk_assessment"`
}

// AnalyzeBehavior 根据钱包记录上的行为标签解析出钱包层面的模式。
// 目录中不存在或不是钱包类型的标签会被忽略。
func (e *Engine) AnalyzeBehavior(ctx context.Context, address string) (*BehaviorReport, error) {
	address = strings.TrimSpace(address)
	txs, err := e.repo.TransactionsByAddress(ctx, address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询地址交易失败")
	}
	report := &BehaviorReport{
		Address:          address,
		TransactionCount: len(txs),
		DetectedPatterns: []DetectedPattern{},
	}

	wallet, err := e.repo.Wallet(ctx, address)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrWalletNotFound) {
			return report, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包画像失败")
	}

	seen := make(map[string]struct{}, len(wallet.BehaviorTags))
	for _, tag := range wallet.BehaviorTags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		p, ok := e.catalog.Lookup(tag)
		if !ok || p.Kind != PatternKindWallet {
			e.log.Debug("忽略未知的行为标签", slog.String("address", address), slog.String("tag", tag))
			continue
		}
		report.DetectedPatterns = append(report.DetectedPatterns, DetectedPattern{Pattern: p})
	}
	report.RiskAssessment = len(report.DetectedPatterns) > 0
	return report, nil
}
