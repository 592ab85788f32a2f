package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ChainGuard/internal/risk"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(agent, observation string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 在固定条目中做关键词匹配。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目，并追加 extra 中的条目。
func LoadStaticProvider(path string, maxResults int, extra ...Snippet) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(append(entries, extra...), maxResults), nil
}

// FromCatalog 把风险模式目录转换为知识条目，关键词为模式名。
func FromCatalog(catalog *risk.Catalog) []Snippet {
	if catalog == nil {
		return nil
	}
	var snippets []Snippet
	for _, kind := range []risk.PatternKind{risk.PatternKindTransaction, risk.PatternKindWallet} {
		for _, p := range catalog.Patterns(kind) {
			content := p.Description
			if len(p.Indicators) > 0 {
				content += " Indicators: " + strings.Join(p.Indicators, "; ")
			}
			snippets = append(snippets, Snippet{
				Title:    p.Name,
				Content:  content,
				Keywords: []string{p.Name},
			})
		}
	}
	return snippets
}

// Query 在智能体名称与观察文本中匹配关键词。
func (p *StaticProvider) Query(agent, observation string) []Snippet {
	if p == nil {
		return nil
	}

	agent = strings.ToLower(strings.TrimSpace(agent))
	observation = strings.ToLower(strings.TrimSpace(observation))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, agent, observation) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, agent, observation string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(observation, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized != "" && strings.Contains(agent, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
