package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "chainguard.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"ledger": {"seed_file": "seed/demo.yaml"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Ledger.Driver != "memory" || cfg.Tasks.Store != "memory" || cfg.Tasks.Queue.Driver != "memory" {
		t.Fatalf("unexpected drivers %+v", cfg)
	}
	if cfg.Ledger.SeedFile != filepath.Join(dir, "seed", "demo.yaml") {
		t.Fatalf("seed file not resolved: %q", cfg.Ledger.SeedFile)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Runtime.DataDir)
	}
	if cfg.Risk.HighThreshold != 0.8 || cfg.Risk.MediumThreshold != 0.5 || cfg.Risk.RapidWindow() != time.Minute {
		t.Fatalf("unexpected risk defaults %+v", cfg.Risk)
	}
	if cfg.Tasks.MaxRetries != 3 || cfg.Tasks.DefaultAgent != "blockchain_security_coordinator" {
		t.Fatalf("unexpected task defaults %+v", cfg.Tasks)
	}
	if cfg.Verdict.Sink != "log" || cfg.LLM.OpenAI.Timeout() != 30*time.Second {
		t.Fatalf("unexpected defaults verdict=%+v llm=%+v", cfg.Verdict, cfg.LLM)
	}
	if cfg.Ledger.EVM.Enabled() || cfg.UsesMySQL() {
		t.Fatalf("optional backends should be disabled by default")
	}
}

func TestLoadKeepsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "runtime")
	path := writeConfig(t, dir, `{"runtime": {"data_dir": "`+filepath.ToSlash(abs)+`"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if filepath.Clean(cfg.Runtime.DataDir) != filepath.Clean(abs) {
		t.Fatalf("absolute data dir rewritten: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"mysql": {"dsn": "file-dsn"},
		"ledger": {"driver": "mysql"},
		"verdict": {"sink": "kafka", "brokers": ["old:9092"]},
		"llm": {"provider": "OpenAI"}
	}`)

	t.Setenv("CHAINGUARD_MYSQL_DSN", "user:pass@tcp(db:3306)/chainguard")
	t.Setenv("CHAINGUARD_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CHAINGUARD_ALERT_WEBHOOK", "http://hooks.local/alert")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MySQL.DSN != "user:pass@tcp(db:3306)/chainguard" {
		t.Fatalf("dsn not overridden: %q", cfg.MySQL.DSN)
	}
	if len(cfg.Verdict.Brokers) != 2 || cfg.Verdict.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Verdict.Brokers)
	}
	if cfg.Alerting.WebhookURL != "http://hooks.local/alert" {
		t.Fatalf("webhook not overridden: %q", cfg.Alerting.WebhookURL)
	}
	if cfg.LLM.Provider != "openai" || cfg.OpenAIKey() != "sk-test" {
		t.Fatalf("unexpected llm config provider=%q key=%q", cfg.LLM.Provider, cfg.OpenAIKey())
	}
	if !cfg.UsesMySQL() {
		t.Fatalf("mysql ledger should require a pool")
	}
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CHAINGUARD_LISTEN=:9191\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// godotenv 直接写进程环境，测试结束后还原。
	t.Setenv("CHAINGUARD_LISTEN", "")
	os.Unsetenv("CHAINGUARD_LISTEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9191" {
		t.Fatalf("dotenv not applied: %q", cfg.Server.Address)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"unknown queue":     {`{"tasks": {"queue": {"driver": "sqs"}}}`, "tasks.queue.driver"},
		"mysql without dsn": {`{"tasks": {"store": "mysql"}}`, "mysql.dsn"},
		"inverted bands":    {`{"risk": {"high_threshold": 0.4, "medium_threshold": 0.6}}`, "风险阈值"},
		"kafka no brokers":  {`{"verdict": {"sink": "kafka"}}`, "verdict.brokers"},
		"redis no address":  {`{"tasks": {"queue": {"driver": "redis"}}}`, "tasks.queue.redis.address"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tc.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
