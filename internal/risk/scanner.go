package risk

import (
	"context"
	"sort"
	"time"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
)

// CodeInvalidTimestamp 表示交易时间戳无法解析。
const CodeInvalidTimestamp xerrors.Code = "INVALID_TIMESTAMP"

// DefaultRapidWindow 是判定快速转账的相邻交易间隔上限（不含）。
const DefaultRapidWindow = 60 * time.Second

func init() {
	xerrors.Register(CodeInvalidTimestamp, xerrors.Attributes{
		Message:    "malformed transaction timestamp",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: xerrors.AttributesOf(xerrors.CodeInvalidArgument).HTTPStatus,
	})
}

// ScamInteraction 记录一笔与登记诈骗地址发生的交互。
type ScamInteraction struct {
	TxHash      string `json:"tx_hash"`
	ScamAddress string `json:"scam_address"`
	ScamType    string `json:"scam_type"`
}

// DetectedPattern 是在某个地址上命中的模式。
type DetectedPattern struct {
	Pattern
	Details []ScamInteraction `json:"details,omitempty"`
}

// ScanReport 是模式扫描的输出。
type ScanReport struct {
	Address          string            `json:"address"`
	TransactionCount int               `json:"transaction_count"`
	DetectedPatterns []DetectedPattern `json:"detected_patterns"`
	RiskAssessment   bool              `json:"risk_assessment"`
}

// Scanner 检查地址的交易序列。
type Scanner struct {
	repo    ledger.Repository
	catalog *Catalog
	window  time.Duration
}

// NewScanner 创建扫描器，window 非正时使用 DefaultRapidWindow。
func NewScanner(repo ledger.Repository, catalog *Catalog, window time.Duration) *Scanner {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if window <= 0 {
		window = DefaultRapidWindow
	}
	return &Scanner{repo: repo, catalog: catalog, window: window}
}

// ScanAddress 读取地址的全部交易后执行扫描。
func (s *Scanner) ScanAddress(ctx context.Context, address string) (*ScanReport, error) {
	txs, err := s.repo.TransactionsByAddress(ctx, address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询地址交易失败")
	}
	return s.Scan(ctx, address, txs)
}

// Scan 在给定交易上检测快速转账与诈骗交互。任一时间戳非法时返回 INVALID_TIMESTAMP。
func (s *Scanner) Scan(ctx context.Context, address string, txs []ledger.Transaction) (*ScanReport, error) {
	report := &ScanReport{
		Address:          address,
		TransactionCount: len(txs),
		DetectedPatterns: []DetectedPattern{},
	}

	rapid, err := s.rapidTransfers(txs)
	if err != nil {
		return nil, err
	}
	if rapid {
		report.DetectedPatterns = append(report.DetectedPatterns, s.detected(PatternRapidTransfers, nil))
	}

	interactions, err := s.scamInteractions(ctx, txs)
	if err != nil {
		return nil, err
	}
	if len(interactions) > 0 {
		report.DetectedPatterns = append(report.DetectedPatterns, s.detected(PatternScamInteraction, interactions))
	}

	report.RiskAssessment = len(report.DetectedPatterns) > 0
	return report, nil
}

func (s *Scanner) rapidTransfers(txs []ledger.Transaction) (bool, error) {
	stamps := make([]time.Time, 0, len(txs))
	for _, tx := range txs {
		ts, err := tx.Time()
		if err != nil {
			return false, xerrors.Wrap(CodeInvalidTimestamp, err, "交易时间戳格式错误", xerrors.WithMetadata("hash", tx.Hash))
		}
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		if stamps[i].Sub(stamps[i-1]) < s.window {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scanner) scamInteractions(ctx context.Context, txs []ledger.Transaction) ([]ScamInteraction, error) {
	cache := make(map[string]*ledger.ScamEntry)
	lookup := func(address string) (*ledger.ScamEntry, error) {
		key := ledger.Normalize(address)
		if entry, ok := cache[key]; ok {
			return entry, nil
		}
		entry, found, err := findScamEntry(ctx, s.repo, address)
		if err != nil {
			return nil, err
		}
		var hit *ledger.ScamEntry
		if found {
			hit = &entry
		}
		cache[key] = hit
		return hit, nil
	}

	var interactions []ScamInteraction
	for _, tx := range txs {
		counterparties := []string{tx.From}
		if ledger.Normalize(tx.To) != ledger.Normalize(tx.From) {
			counterparties = append(counterparties, tx.To)
		}
		for _, party := range counterparties {
			if ledger.Normalize(party) == "" {
				continue
			}
			entry, err := lookup(party)
			if err != nil {
				return nil, err
			}
			if entry == nil {
				continue
			}
			interactions = append(interactions, ScamInteraction{
				TxHash:      tx.Hash,
				ScamAddress: party,
				ScamType:    entry.ScamType,
			})
		}
	}
	return interactions, nil
}

func (s *Scanner) detected(name string, details []ScamInteraction) DetectedPattern {
	p, ok := s.catalog.Lookup(name)
	if !ok {
		// 自定义目录可能缺少内置项，退回内置定义。
		p, _ = DefaultCatalog().Lookup(name)
	}
	return DetectedPattern{Pattern: p, Details: details}
}
