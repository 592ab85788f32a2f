package risk

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternKind 区分交易层面与钱包行为层面的模式。
type PatternKind string

const (
	PatternKindTransaction PatternKind = "transaction"
	PatternKindWallet      PatternKind = "wallet"
)

// 内置模式名称。
const (
	PatternRapidTransfers   = "rapid_transfers"
	PatternTokenHoneypot    = "token_honeypot"
	PatternChainHopping     = "chain_hopping"
	PatternScamInteraction  = "scam_interaction"
	PatternExcessiveMinting = "excessive_minting"
	PatternDumpCycle        = "dump_cycle"
	PatternWashTrading      = "wash_trading"
)

// Pattern 是带有固定严重度的命名启发式规则。
type Pattern struct {
	Name        string      `json:"pattern" yaml:"name"`
	Kind        PatternKind `json:"kind" yaml:"kind"`
	Description string      `json:"description" yaml:"description"`
	Score       float64     `json:"risk_score" yaml:"risk_score"`
	Indicators  []string    `json:"indicators,omitempty" yaml:"indicators"`
}

var builtinPatterns = []Pattern{
	{
		Name:        PatternRapidTransfers,
		Kind:        PatternKindTransaction,
		Description: "Multiple high-value transfers in short time period",
		Score:       0.75,
		Indicators:  []string{"Multiple transactions within minutes", "High ETH/token values", "Destination is exchange or mixer"},
	},
	{
		Name:        PatternTokenHoneypot,
		Kind:        PatternKindTransaction,
		Description: "Token contract prevents selling by normal users",
		Score:       0.85,
		Indicators:  []string{"Custom token contract", "Only creator can sell", "Liquidity locked or removed after launch"},
	},
	{
		Name:        PatternChainHopping,
		Kind:        PatternKindTransaction,
		Description: "Funds moved across multiple blockchains quickly",
		Score:       0.70,
		Indicators:  []string{"Use of cross-chain bridges", "Immediate withdrawal on destination chain", "Final destination is typically exchange"},
	},
	{
		Name:        PatternScamInteraction,
		Kind:        PatternKindTransaction,
		Description: "Interaction with known scam addresses",
		Score:       0.80,
	},
	{
		Name:        PatternExcessiveMinting,
		Kind:        PatternKindWallet,
		Description: "Wallet creates excessive amounts of new tokens",
		Score:       0.65,
		Indicators:  []string{"Multiple token creation transactions", "Similar token contracts", "Low liquidity provision"},
	},
	{
		Name:        PatternDumpCycle,
		Kind:        PatternKindWallet,
		Description: "Pattern of accumulating tokens then selling quickly",
		Score:       0.80,
		Indicators:  []string{"Accumulation phase", "Rapid selling phase", "Repeated pattern across multiple tokens"},
	},
	{
		Name:        PatternWashTrading,
		Kind:        PatternKindWallet,
		Description: "Self-trading to create fake volume",
		Score:       0.75,
		Indicators:  []string{"Trading between related wallets", "Circular transaction patterns", "Artificially inflated volumes"},
	},
}

// Catalog 按名称索引模式定义，并保持注册顺序。
type Catalog struct {
	byName map[string]Pattern
	order  []string
}

// NewCatalog 创建模式目录。同名模式后者覆盖前者，但保留首次出现的位置。
func NewCatalog(patterns ...Pattern) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Pattern, len(patterns))}
	for _, p := range patterns {
		if err := c.add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultCatalog 返回内置的七个模式。
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(builtinPatterns...)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog 读取 YAML 模式文件并叠加在内置目录之上。
func LoadCatalog(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模式文件失败: %w", err)
	}
	var doc struct {
		Patterns []Pattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("解析模式文件失败: %w", err)
	}
	return NewCatalog(append(append([]Pattern(nil), builtinPatterns...), doc.Patterns...)...)
}

func (c *Catalog) add(p Pattern) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("模式名称不能为空")
	}
	if p.Score < 0 || p.Score > 1 {
		return fmt.Errorf("模式 %s 的风险分 %v 超出 [0,1]", p.Name, p.Score)
	}
	switch p.Kind {
	case PatternKindTransaction, PatternKindWallet:
	case "":
		p.Kind = PatternKindTransaction
	default:
		return fmt.Errorf("模式 %s 的类型 %q 未知", p.Name, p.Kind)
	}
	if _, exists := c.byName[p.Name]; !exists {
		c.order = append(c.order, p.Name)
	}
	p.Indicators = append([]string(nil), p.Indicators...)
	c.byName[p.Name] = p
	return nil
}

// Lookup 按名称查找模式。
func (c *Catalog) Lookup(name string) (Pattern, bool) {
	if c == nil {
		return Pattern{}, false
	}
	p, ok := c.byName[strings.TrimSpace(name)]
	return p, ok
}

// Patterns 返回指定类型的模式，kind 为空时返回全部。
func (c *Catalog) Patterns(kind PatternKind) []Pattern {
	if c == nil {
		return nil
	}
	out := make([]Pattern, 0, len(c.order))
	for _, name := range c.order {
		p := c.byName[name]
		if kind != "" && p.Kind != kind {
			continue
		}
		out = append(out, p)
	}
	return out
}
