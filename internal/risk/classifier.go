package risk

import (
	"context"
	stdErrors "errors"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
)

// ScamStatus 描述地址在诈骗登记库及其一跳关联中的命中情况。
type ScamStatus struct {
	IsScam               bool              `json:"is_scam"`
	IsConnectedToScam    bool              `json:"is_connected_to_scam"`
	Details              *ledger.ScamEntry `json:"details,omitempty"`
	ConnectedScamAddress string            `json:"connected_scam_address,omitempty"`
	ScamDetails          *ledger.ScamEntry `json:"scam_details,omitempty"`
}

// AddressDetails 汇总地址的钱包画像、诈骗状态与相关交易。
type AddressDetails struct {
	Address             string               `json:"address"`
	Wallet              *ledger.Wallet       `json:"wallet_data,omitempty"`
	ScamStatus          ScamStatus           `json:"scam_status"`
	RelatedTransactions []ledger.Transaction `json:"related_transactions"`
}

// Classifier 根据诈骗登记库与连接图对地址分类。
type Classifier struct {
	repo ledger.Repository
}

// NewClassifier 创建分类器。
func NewClassifier(repo ledger.Repository) *Classifier {
	return &Classifier{repo: repo}
}

// CheckScamStatus 先查登记库，未命中时按顺序检查钱包的一跳关联地址，返回第一个命中项。
func (c *Classifier) CheckScamStatus(ctx context.Context, address string) (ScamStatus, error) {
	entry, found, err := c.scamEntry(ctx, address)
	if err != nil {
		return ScamStatus{}, err
	}
	if found {
		return ScamStatus{IsScam: true, Details: &entry}, nil
	}

	connected, err := c.ConnectedAddresses(ctx, address)
	if err != nil {
		return ScamStatus{}, err
	}
	for _, neighbor := range connected {
		entry, found, err := c.scamEntry(ctx, neighbor)
		if err != nil {
			return ScamStatus{}, err
		}
		if found {
			return ScamStatus{
				IsConnectedToScam:    true,
				ConnectedScamAddress: neighbor,
				ScamDetails:          &entry,
			}, nil
		}
	}
	return ScamStatus{}, nil
}

// AddressDetails 返回地址的完整画像。未知地址不是错误，钱包字段为空。
func (c *Classifier) AddressDetails(ctx context.Context, address string) (*AddressDetails, error) {
	details := &AddressDetails{Address: address}

	wallet, err := c.repo.Wallet(ctx, address)
	switch {
	case err == nil:
		details.Wallet = &wallet
	case !stdErrors.Is(err, ledger.ErrWalletNotFound):
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包画像失败")
	}

	status, err := c.CheckScamStatus(ctx, address)
	if err != nil {
		return nil, err
	}
	details.ScamStatus = status

	txs, err := c.repo.TransactionsByAddress(ctx, address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询地址交易失败")
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	details.RelatedTransactions = txs
	return details, nil
}

// ConnectedAddresses 返回钱包记录中的一跳关联地址，未知钱包返回空列表。
func (c *Classifier) ConnectedAddresses(ctx context.Context, address string) ([]string, error) {
	wallet, err := c.repo.Wallet(ctx, address)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrWalletNotFound) {
			return []string{}, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包画像失败")
	}
	if wallet.ConnectedAddresses == nil {
		return []string{}, nil
	}
	return wallet.ConnectedAddresses, nil
}

func (c *Classifier) scamEntry(ctx context.Context, address string) (ledger.ScamEntry, bool, error) {
	return findScamEntry(ctx, c.repo, address)
}

// findScamEntry 将 ErrScamEntryNotFound 转换为 found=false。
func findScamEntry(ctx context.Context, repo ledger.Repository, address string) (ledger.ScamEntry, bool, error) {
	entry, err := repo.ScamEntry(ctx, address)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrScamEntryNotFound) {
			return ledger.ScamEntry{}, false, nil
		}
		return ledger.ScamEntry{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询诈骗登记失败")
	}
	return entry, true, nil
}
