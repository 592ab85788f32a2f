package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ChainGuard/internal/ledger"
	"ChainGuard/internal/risk"
)

// 工具名称。
const (
	ToolCheckAddress        = "check_address"
	ToolClassifyRisk        = "classify_risk"
	ToolAnalyzeTransactions = "analyze_transactions"
)

// Tool 是可被智能体调用的确定性函数。
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, input string) (Output, error)
}

// Output 是工具返回的结构化结果。
type Output interface {
	Summary() string
}

// CheckAddressResult 是 check_address 的输出。
type CheckAddressResult struct {
	Address             string               `json:"address"`
	ScamStatus          risk.ScamStatus      `json:"scam_status"`
	TransactionAnalysis *risk.ScanReport     `json:"transaction_analysis"`
	RelatedTransactions []ledger.Transaction `json:"related_transactions"`
}

// Summary 实现 Output。
func (r *CheckAddressResult) Summary() string {
	var status string
	switch {
	case r.ScamStatus.IsScam && r.ScamStatus.Details != nil:
		status = fmt.Sprintf("%s is a known %s scam address", r.Address, r.ScamStatus.Details.ScamType)
	case r.ScamStatus.IsConnectedToScam:
		status = fmt.Sprintf("%s is connected to scam address %s", r.Address, r.ScamStatus.ConnectedScamAddress)
	default:
		status = fmt.Sprintf("%s is not associated with known scams", r.Address)
	}
	if names := patternNames(r.TransactionAnalysis); names != "" {
		status += "; suspicious patterns: " + names
	}
	return status
}

// ClassifyRiskResult 是 classify_risk 的输出。
type ClassifyRiskResult struct {
	Address          string               `json:"address"`
	RiskAssessment   *risk.Assessment     `json:"risk_assessment"`
	BehaviorAnalysis *risk.BehaviorReport `json:"behavior_analysis"`
}

// Summary 实现 Output。
func (r *ClassifyRiskResult) Summary() string {
	a := r.RiskAssessment
	return fmt.Sprintf("%s risk (%s): %s", a.Level, strconv.FormatFloat(a.Score, 'f', -1, 64), a.Justification)
}

// AnalysisType 区分交易分析的两种输入。
type AnalysisType string

const (
	AnalysisSingleTransaction   AnalysisType = "single_transaction"
	AnalysisAddressTransactions AnalysisType = "address_transactions"
)

// AnalyzeTransactionsResult 是 analyze_transactions 的输出，字段按分析类型填充。
type AnalyzeTransactionsResult struct {
	AnalysisType        AnalysisType            `json:"analysis_type"`
	TransactionHash     string                  `json:"transaction_hash,omitempty"`
	TransactionDetails  *risk.TransactionLookup `json:"transaction_details,omitempty"`
	Address             string                  `json:"address,omitempty"`
	TransactionPatterns *risk.ScanReport        `json:"transaction_patterns,omitempty"`
	Transactions        []ledger.Transaction    `json:"transactions,omitempty"`
}

// Summary 实现 Output。
func (r *AnalyzeTransactionsResult) Summary() string {
	if r.AnalysisType == AnalysisSingleTransaction {
		if !r.TransactionDetails.Found() {
			return fmt.Sprintf("%s: %s", r.TransactionHash, r.TransactionDetails.Error)
		}
		tx := r.TransactionDetails.Transaction
		return fmt.Sprintf("%s: %s from %s to %s at %s (%s)", tx.Hash, tx.Value, tx.From, tx.To, tx.Timestamp, tx.Status)
	}
	summary := fmt.Sprintf("%s: %d transactions analysed", r.Address, len(r.Transactions))
	if names := patternNames(r.TransactionPatterns); names != "" {
		summary += "; suspicious patterns: " + names
	} else {
		summary += "; no suspicious patterns"
	}
	return summary
}

// IsTransactionHash 判断输入是否按交易哈希处理：0x 前缀且长度不少于 64。
func IsTransactionHash(input string) bool {
	input = strings.TrimSpace(input)
	return strings.HasPrefix(input, "0x") && len(input) >= 64
}

// Toolbox 以风险引擎为后端构建全部内置工具。
func Toolbox(engine *risk.Engine) map[string]Tool {
	tools := []Tool{
		{
			Name:        ToolCheckAddress,
			Description: "Check if an address is associated with scams",
			Run: func(ctx context.Context, address string) (Output, error) {
				details, err := engine.AddressDetails(ctx, address)
				if err != nil {
					return nil, err
				}
				report, err := engine.ScanAddress(ctx, address)
				if err != nil {
					return nil, err
				}
				return &CheckAddressResult{
					Address:             details.Address,
					ScamStatus:          details.ScamStatus,
					TransactionAnalysis: report,
					RelatedTransactions: details.RelatedTransactions,
				}, nil
			},
		},
		{
			Name:        ToolClassifyRisk,
			Description: "Classify the risk level of a blockchain address",
			Run: func(ctx context.Context, address string) (Output, error) {
				assessment, err := engine.Assess(ctx, address)
				if err != nil {
					return nil, err
				}
				behavior, err := engine.AnalyzeBehavior(ctx, address)
				if err != nil {
					return nil, err
				}
				return &ClassifyRiskResult{
					Address:          assessment.Address,
					RiskAssessment:   assessment,
					BehaviorAnalysis: behavior,
				}, nil
			},
		},
		{
			Name:        ToolAnalyzeTransactions,
			Description: "Analyze blockchain transactions for suspicious patterns",
			Run: func(ctx context.Context, input string) (Output, error) {
				if IsTransactionHash(input) {
					lookup, err := engine.LookupTransaction(ctx, input)
					if err != nil {
						return nil, err
					}
					return &AnalyzeTransactionsResult{
						AnalysisType:       AnalysisSingleTransaction,
						TransactionHash:    strings.TrimSpace(input),
						TransactionDetails: &lookup,
					}, nil
				}
				report, err := engine.ScanAddress(ctx, input)
				if err != nil {
					return nil, err
				}
				txs, err := engine.TransactionsByAddress(ctx, input)
				if err != nil {
					return nil, err
				}
				return &AnalyzeTransactionsResult{
					AnalysisType:        AnalysisAddressTransactions,
					Address:             report.Address,
					TransactionPatterns: report,
					Transactions:        txs,
				}, nil
			},
		},
	}

	out := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		out[tool.Name] = tool
	}
	return out
}

func patternNames(report *risk.ScanReport) string {
	if report == nil || len(report.DetectedPatterns) == 0 {
		return ""
	}
	names := make([]string, 0, len(report.DetectedPatterns))
	for _, p := range report.DetectedPatterns {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}
