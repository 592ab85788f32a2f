package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistry(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without any rpc endpoint")
	}
}

func TestNewRegistryRejectsUnknownChainType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := []byte("chains:\n  solana:\n    type: svm\n    rpc_url: http://127.0.0.1:8899\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	if _, err := NewRegistry(context.Background(), Options{ChainFile: path}); err == nil {
		t.Fatalf("expected unsupported chain type error")
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	if r.Chains() != nil {
		t.Fatalf("expected no chains")
	}
	if _, ok := r.Client("main"); ok {
		t.Fatalf("expected no client")
	}
	if _, err := r.DefaultClient(); err == nil {
		t.Fatalf("expected error from nil registry")
	}
	r.Close()
}
