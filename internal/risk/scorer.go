package risk

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
	"ChainGuard/pkg/logger"
)

// Level 是由分数映射出的风险等级。
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// DefaultNeighborScore 是一跳关联诈骗地址的固定分数。
const DefaultNeighborScore = 0.7

// Thresholds 定义等级分界，分数大于等于 High 为高风险，大于等于 Medium 为中风险。
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// DefaultThresholds 返回 0.8 / 0.5 的默认分界。
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Medium: 0.5}
}

// Level 将分数映射为风险等级。
func (t Thresholds) Level(score float64) Level {
	switch {
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (t Thresholds) valid() bool {
	return t.Medium > 0 && t.High > t.Medium && t.High <= 1
}

// Assessment 是单个地址的评分结果。
type Assessment struct {
	Address       string      `json:"address"`
	Score         float64     `json:"risk_score"`
	Level         Level       `json:"risk_level"`
	Justification string      `json:"justification"`
	Findings      []Finding   `json:"risk_factors"`
	Report        *ScanReport `json:"transaction_analysis,omitempty"`
}

// Engine 组合分类器、扫描器与评分规则。
type Engine struct {
	repo          ledger.Repository
	catalog       *Catalog
	classifier    *Classifier
	scanner       *Scanner
	thresholds    Thresholds
	window        time.Duration
	neighborScore float64
	rules         []rule
	log           *slog.Logger
}

// Option 定义可选的 Engine 配置。
type Option func(*Engine)

// WithThresholds 覆盖等级分界。非法的分界会被忽略。
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		if t.valid() {
			e.thresholds = t
		}
	}
}

// WithRapidWindow 设置快速转账的判定窗口。
func WithRapidWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.window = window
		}
	}
}

// WithCatalog 替换模式目录。
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithNeighborScore 覆盖一跳关联的固定分数。
func WithNeighborScore(score float64) Option {
	return func(e *Engine) {
		if score > 0 && score <= 1 {
			e.neighborScore = score
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine 创建风险引擎。
func NewEngine(repo ledger.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:          repo,
		catalog:       DefaultCatalog(),
		thresholds:    DefaultThresholds(),
		window:        DefaultRapidWindow,
		neighborScore: DefaultNeighborScore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = logger.Named("risk")
	}
	e.classifier = NewClassifier(repo)
	e.scanner = NewScanner(repo, e.catalog, e.window)
	e.rules = []rule{
		{name: "known_scam", apply: e.knownScamRule},
		{name: "scam_neighbor", apply: e.neighborRule},
		{name: "transaction_patterns", apply: e.patternRule},
		{name: "historical_behavior", apply: e.historicalRule},
	}
	return e
}

// Catalog 返回引擎使用的模式目录。
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Thresholds 返回当前的等级分界。
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Classifier 返回地址分类器。
func (e *Engine) Classifier() *Classifier { return e.classifier }

// Scanner 返回交易模式扫描器。
func (e *Engine) Scanner() *Scanner { return e.scanner }

// evaluation 保存一次评分中各规则共享的中间结果。
type evaluation struct {
	address string
	status  ScamStatus
	report  *ScanReport
}

type rule struct {
	name  string
	apply func(ctx context.Context, ev *evaluation) ([]Finding, error)
}

// Assess 按顺序执行全部规则并汇总结论。
// 第一个决定性结论提供总分，否则取所有结论中的最大分。
func (e *Engine) Assess(ctx context.Context, address string) (*Assessment, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "地址不能为空")
	}

	status, err := e.classifier.CheckScamStatus(ctx, address)
	if err != nil {
		return nil, err
	}
	ev := &evaluation{address: address, status: status}

	findings := make([]Finding, 0, 4)
	for _, r := range e.rules {
		out, err := r.apply(ctx, ev)
		if err != nil {
			e.log.Warn("评分规则执行失败", slog.String("rule", r.name), slog.String("address", address), slog.Any("error", err))
			return nil, err
		}
		findings = append(findings, out...)
	}

	var (
		score    float64
		level    Level
		headline *Finding
	)
	for i := range findings {
		if findings[i].Decisive {
			headline = &findings[i]
			break
		}
	}
	if headline != nil {
		score, level = headline.Score, LevelHigh
	} else {
		for _, f := range findings {
			if f.Score > score {
				score = f.Score
			}
		}
		level = e.thresholds.Level(score)
	}

	result := &Assessment{
		Address:       address,
		Score:         score,
		Level:         level,
		Justification: justify(headline, findings),
		Findings:      findings,
		Report:        ev.report,
	}
	e.log.Debug("地址风险评估完成", slog.String("address", address), slog.Float64("score", score), slog.String("level", string(level)), slog.Int("findings", len(findings)))
	return result, nil
}

// Level 使用引擎的分界映射分数。
func (e *Engine) Level(score float64) Level {
	return e.thresholds.Level(score)
}

func (e *Engine) knownScamRule(_ context.Context, ev *evaluation) ([]Finding, error) {
	if !ev.status.IsScam || ev.status.Details == nil {
		return nil, nil
	}
	return []Finding{knownScamFinding(*ev.status.Details)}, nil
}

func (e *Engine) neighborRule(_ context.Context, ev *evaluation) ([]Finding, error) {
	if ev.status.IsScam || !ev.status.IsConnectedToScam || ev.status.ScamDetails == nil {
		return nil, nil
	}
	return []Finding{neighborFinding(ev.status.ConnectedScamAddress, *ev.status.ScamDetails, e.neighborScore)}, nil
}

func (e *Engine) patternRule(ctx context.Context, ev *evaluation) ([]Finding, error) {
	report, err := e.scanner.ScanAddress(ctx, ev.address)
	if err != nil {
		return nil, err
	}
	ev.report = report
	out := make([]Finding, 0, len(report.DetectedPatterns))
	for _, p := range report.DetectedPatterns {
		out = append(out, patternFinding(p))
	}
	return out, nil
}

func (e *Engine) historicalRule(ctx context.Context, ev *evaluation) ([]Finding, error) {
	wallet, err := e.repo.Wallet(ctx, ev.address)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrWalletNotFound) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包画像失败")
	}
	// 钱包历史分只有高于所有交易模式分时才计入。
	var patternMax float64
	if ev.report != nil {
		for _, p := range ev.report.DetectedPatterns {
			if p.Score > patternMax {
				patternMax = p.Score
			}
		}
	}
	if wallet.RiskScore <= patternMax {
		return nil, nil
	}
	return []Finding{historicalFinding(wallet.RiskScore)}, nil
}

func justify(headline *Finding, findings []Finding) string {
	if headline != nil && headline.Scam != nil {
		switch headline.Kind {
		case FindingKnownScam:
			return fmt.Sprintf("Known %s scam address reported by %s", headline.Scam.ScamType, strings.Join(headline.Scam.ReportedBy, ", "))
		case FindingScamNeighbor:
			return fmt.Sprintf("Connected to known %s scam address", headline.Scam.ScamType)
		}
	}
	if len(findings) == 0 {
		return "No significant risk factors detected"
	}
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		parts = append(parts, fmt.Sprintf("%s (score: %s)", f.Description, formatScore(f.Score)))
	}
	return "Risk factors detected: " + strings.Join(parts, "; ")
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
