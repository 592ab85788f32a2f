package ledger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset 是一份可导入账本的静态数据。
type Dataset struct {
	ScamEntries  []ScamEntry   `yaml:"scam_entries"`
	Wallets      []Wallet      `yaml:"wallets"`
	Transactions []Transaction `yaml:"transactions"`
}

// ParseDataset 解析 YAML 格式的种子数据。
func ParseDataset(content []byte) (Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(content, &ds); err != nil {
		return Dataset{}, fmt.Errorf("解析账本种子失败: %w", err)
	}
	return ds, nil
}

// LoadDataset 从文件读取种子数据。
func LoadDataset(path string) (Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return Dataset{}, fmt.Errorf("账本种子路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("读取账本种子失败: %w", err)
	}
	return ParseDataset(content)
}

// Apply 将数据写入账本，遇到第一条非法记录即停止。
func (d Dataset) Apply(ctx context.Context, w Writer) error {
	for _, entry := range d.ScamEntries {
		if err := w.PutScamEntry(ctx, entry); err != nil {
			return fmt.Errorf("导入诈骗登记 %s 失败: %w", entry.Address, err)
		}
	}
	for _, wallet := range d.Wallets {
		if err := w.PutWallet(ctx, wallet); err != nil {
			return fmt.Errorf("导入钱包 %s 失败: %w", wallet.Address, err)
		}
	}
	for _, tx := range d.Transactions {
		if err := w.PutTransaction(ctx, tx); err != nil {
			return fmt.Errorf("导入交易 %s 失败: %w", tx.Hash, err)
		}
	}
	return nil
}

// Size 返回数据集中的记录总数。
func (d Dataset) Size() int {
	return len(d.ScamEntries) + len(d.Wallets) + len(d.Transactions)
}
