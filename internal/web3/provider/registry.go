package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ChainGuard/internal/ledger"
	"ChainGuard/internal/web3"
	"ChainGuard/internal/web3/ethereum"
)

// Options 描述如何构建链客户端注册表。
type Options struct {
	// ChainFile 指向 YAML 链配置，可为空。
	ChainFile string
	// RPCURL 在未配置链文件时作为单链回退。
	RPCURL       string
	DefaultChain string
	Currency     string
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]*ethereum.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(opts.ChainFile)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]*ethereum.Client)
	fail := func(err error) (*Registry, error) {
		for _, c := range clients {
			c.Close()
		}
		return nil, err
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			return fail(fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type))
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:     name,
			RPCURL:   chain.RPCURL,
			Currency: chain.Currency,
			Notes:    chain.Description,
		})
		if err != nil {
			return fail(fmt.Errorf("初始化链 %s 失败: %w", name, err))
		}
		clients[name] = client
	}

	defaultChain := strings.TrimSpace(opts.DefaultChain)
	if len(clients) == 0 && strings.TrimSpace(opts.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: "default", RPCURL: opts.RPCURL, Currency: opts.Currency})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = sortedNames(clients)[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return fail(fmt.Errorf("默认链 %s 未在配置中找到", defaultChain))
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (*ethereum.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Ledger 以默认链为交易来源包装账本，其余查询交给 fallback。
func (r *Registry) Ledger(fallback ledger.Repository) (*ethereum.Ledger, error) {
	client, err := r.DefaultClient()
	if err != nil {
		return nil, err
	}
	return ethereum.NewLedger(client, fallback), nil
}

// Snapshots 汇总每条链的元数据，单链失败不会中断其余链。
func (r *Registry) Snapshots(ctx context.Context) ([]web3.ChainSnapshot, error) {
	if r == nil {
		return nil, nil
	}
	var (
		snapshots []web3.ChainSnapshot
		errs      []error
	)
	for _, name := range sortedNames(r.clients) {
		snapshot, err := r.clients[name].FetchChainSnapshot(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("链 %s: %w", name, err))
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, errors.Join(errs...)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.clients)
}

func sortedNames(clients map[string]*ethereum.Client) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
