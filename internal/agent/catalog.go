package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed bundles.yaml
var builtinBundles []byte

// Bundle 是一个智能体的声明式定义：指令、模型引用与可调用的工具。
type Bundle struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Instruction string   `json:"instruction" yaml:"instruction"`
	Model       string   `json:"model,omitempty" yaml:"model"`
	Tools       []string `json:"tools" yaml:"tools"`
}

// Catalog 按注册顺序保存智能体定义。
type Catalog struct {
	order   []string
	bundles map[string]Bundle
}

type catalogFile struct {
	Agents []Bundle `yaml:"agents"`
}

// DefaultCatalog 返回内置的协调者与三个子智能体。
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(builtinBundles)
	if err != nil {
		panic(fmt.Sprintf("内置智能体定义无效: %v", err))
	}
	return c
}

// ParseCatalog 解析 YAML 格式的智能体定义。
func ParseCatalog(content []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析智能体定义失败: %w", err)
	}
	c := &Catalog{bundles: make(map[string]Bundle, len(file.Agents))}
	for _, b := range file.Agents {
		if err := c.add(b); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadCatalog 读取智能体定义文件，同名条目覆盖内置定义。
func LoadCatalog(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取智能体定义失败: %w", err)
	}
	overlay, err := ParseCatalog(content)
	if err != nil {
		return nil, err
	}
	c := DefaultCatalog()
	for _, name := range overlay.order {
		if err := c.add(overlay.bundles[name]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(b Bundle) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return fmt.Errorf("智能体缺少名称")
	}
	if len(b.Tools) == 0 {
		return fmt.Errorf("智能体 %s 未声明任何工具", b.Name)
	}
	b.Instruction = strings.TrimSpace(b.Instruction)
	if _, exists := c.bundles[b.Name]; !exists {
		c.order = append(c.order, b.Name)
	}
	c.bundles[b.Name] = b
	return nil
}

// Lookup 按名称查找智能体。
func (c *Catalog) Lookup(name string) (Bundle, bool) {
	b, ok := c.bundles[strings.TrimSpace(name)]
	return b, ok
}

// List 返回全部智能体定义。
func (c *Catalog) List() []Bundle {
	out := make([]Bundle, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.bundles[name])
	}
	return out
}
