package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScamEntry 描述诈骗登记库中的一条记录。
type ScamEntry struct {
	Address       string   `json:"address" yaml:"address"`
	ScamType      string   `json:"scam_type" yaml:"scam_type"`
	RiskScore     float64  `json:"risk_score" yaml:"risk_score"`
	ReportedBy    []string `json:"reported_by" yaml:"reported_by"`
	FirstReported string   `json:"first_reported,omitempty" yaml:"first_reported"`
	Description   string   `json:"description,omitempty" yaml:"description"`
}

// Wallet 是钱包的静态画像，包含历史风险分与一跳关联地址。
type Wallet struct {
	Address            string                     `json:"address" yaml:"address"`
	CreationDate       string                     `json:"creation_date,omitempty" yaml:"creation_date"`
	TotalTransactions  int                        `json:"total_transactions" yaml:"total_transactions"`
	Balances           map[string]decimal.Decimal `json:"current_balance,omitempty" yaml:"current_balance"`
	RiskScore          float64                    `json:"risk_score" yaml:"risk_score"`
	ConnectedAddresses []string                   `json:"connected_addresses,omitempty" yaml:"connected_addresses"`
	BehaviorTags       []string                   `json:"behavior_tags,omitempty" yaml:"behavior_tags"`
}

// Transaction 是一笔链上转账，按哈希索引。
type Transaction struct {
	Hash      string `json:"hash" yaml:"hash"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Value     Amount `json:"value" yaml:"value"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	GasUsed   uint64 `json:"gas_used" yaml:"gas_used"`
	Status    string `json:"status" yaml:"status"`
}

// Time 解析 RFC 3339 格式的时间戳。
func (t Transaction) Time() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(t.Timestamp))
	if err != nil {
		return time.Time{}, fmt.Errorf("交易 %s 的时间戳 %q 无法解析: %w", t.Hash, t.Timestamp, err)
	}
	return ts, nil
}

// Involves 判断地址是否为交易的发送方或接收方。
func (t Transaction) Involves(address string) bool {
	address = Normalize(address)
	return Normalize(t.From) == address || Normalize(t.To) == address
}

// Amount 是带币种的金额，例如 "5.2 ETH"。
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// ParseAmount 解析 "<数值> <币种>" 形式的字符串，币种可以省略。
func ParseAmount(raw string) (Amount, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 || len(fields) > 2 {
		return Amount{}, fmt.Errorf("金额格式错误: %q", raw)
	}
	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Amount{}, fmt.Errorf("金额数值错误: %q: %w", raw, err)
	}
	amount := Amount{Value: value}
	if len(fields) == 2 {
		amount.Currency = strings.ToUpper(fields[1])
	}
	return amount, nil
}

// String 输出 "<数值> <币种>"。
func (a Amount) String() string {
	if a.Currency == "" {
		return a.Value.String()
	}
	return a.Value.String() + " " + a.Currency
}

// MarshalText 实现 encoding.TextMarshaler。
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (a *Amount) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Normalize 统一地址与哈希的比较形式。地址被视为不透明字符串，不做十六进制校验。
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func cloneWallet(w Wallet) Wallet {
	clone := w
	if w.Balances != nil {
		clone.Balances = make(map[string]decimal.Decimal, len(w.Balances))
		for k, v := range w.Balances {
			clone.Balances[k] = v
		}
	}
	clone.ConnectedAddresses = append([]string(nil), w.ConnectedAddresses...)
	clone.BehaviorTags = append([]string(nil), w.BehaviorTags...)
	return clone
}

func cloneScamEntry(e ScamEntry) ScamEntry {
	clone := e
	clone.ReportedBy = append([]string(nil), e.ReportedBy...)
	return clone
}
