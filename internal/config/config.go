package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ChainGuard/pkg/logger"
)

// Config 描述了 ChainGuard 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   logger.Config   `json:"logging"`
	MySQL     MySQLConfig     `json:"mysql"`
	Ledger    LedgerConfig    `json:"ledger"`
	Risk      RiskConfig      `json:"risk"`
	LLM       LLMConfig       `json:"llm"`
	Agent     AgentConfig     `json:"agent"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Tasks     TaskConfig      `json:"tasks"`
	Verdict   VerdictConfig   `json:"verdict"`
	Alerting  AlertingConfig  `json:"alerting"`
	Metrics   MetricsConfig   `json:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与限流。
type ServerConfig struct {
	Address   string          `json:"address"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// RateLimitConfig 按客户端限流，RPS 为 0 表示不限流。
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// MySQLConfig 是账本、执行历史与任务状态共用的连接池配置。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (c MySQLConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最长空闲时间。
func (c MySQLConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// LedgerConfig 决定账本数据从哪里读取。
type LedgerConfig struct {
	// Driver 取值 memory 或 mysql。
	Driver   string      `json:"driver"`
	SeedFile string      `json:"seed_file"`
	Cache    CacheConfig `json:"cache"`
	EVM      EVMConfig   `json:"evm"`
}

// CacheConfig 配置账本前置的 Redis 缓存，Address 为空时不启用。
type CacheConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回缓存有效期。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// EVMConfig 描述链上交易查询所需的 RPC 信息，未配置时只使用本地账本。
type EVMConfig struct {
	ChainFile    string `json:"chain_file"`
	RPCURL       string `json:"rpc_url"`
	DefaultChain string `json:"default_chain"`
	Currency     string `json:"currency"`
}

// Enabled 报告是否配置了任何链。
func (c EVMConfig) Enabled() bool {
	return strings.TrimSpace(c.ChainFile) != "" || strings.TrimSpace(c.RPCURL) != ""
}

// RiskConfig 调整评分阈值与行为分析参数。
type RiskConfig struct {
	HighThreshold      float64 `json:"high_threshold"`
	MediumThreshold    float64 `json:"medium_threshold"`
	NeighborScore      float64 `json:"neighbor_score"`
	RapidWindowSeconds int     `json:"rapid_window_seconds"`
	PatternFile        string  `json:"pattern_file"`
}

// RapidWindow 返回快速转账判定窗口。
func (c RiskConfig) RapidWindow() time.Duration {
	return time.Duration(c.RapidWindowSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式，Provider 为空时智能体只运行工具。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次推理的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig 配置智能体目录与执行历史。
type AgentConfig struct {
	CatalogFile string `json:"catalog_file"`
	MemoryDepth int    `json:"memory_depth"`
	// HistoryDriver 取值 memory 或 mysql。
	HistoryDriver string `json:"history_driver"`
}

// KnowledgeConfig 指定静态知识库文件。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// TaskConfig 描述异步任务的存储、队列与处理器。
type TaskConfig struct {
	// Store 取值 memory 或 mysql。
	Store        string      `json:"store"`
	MaxRetries   int         `json:"max_retries"`
	Workers      int         `json:"workers"`
	DefaultAgent string      `json:"default_agent"`
	Recovery     bool        `json:"recovery"`
	Queue        QueueConfig `json:"queue"`
}

// QueueConfig 选择任务队列实现。
type QueueConfig struct {
	// Driver 取值 memory、redis 或 rabbitmq。
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。
type RedisQueue struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// BlockWait 返回 BRPOP 的阻塞时长。
func (c RedisQueue) BlockWait() time.Duration {
	return time.Duration(c.BlockWaitSeconds) * time.Second
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// VerdictConfig 决定风险判定写往何处。
type VerdictConfig struct {
	// Sink 取值 log 或 kafka。
	Sink     string   `json:"sink"`
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`
	ClientID string   `json:"client_id"`
}

// AlertingConfig 配置告警通道，日志通道总是启用。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// MetricsConfig 可为 Prometheus 单独开一个监听端口。
type MetricsConfig struct {
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加 .env 与环境变量中的敏感信息。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 依次加载工作目录与配置目录下的 .env，已存在的环境变量不会被覆盖。
func loadDotEnv(baseDir string) error {
	seen := make(map[string]struct{}, 2)
	for _, candidate := range []string{".env", filepath.Join(baseDir, ".env")} {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			abs = candidate
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if err := godotenv.Load(candidate); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", candidate, err)
		}
	}
	return nil
}

// applyEnv 用环境变量覆盖连接串与密钥。
func (c *Config) applyEnv() {
	override := func(target *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
		}
	}

	override(&c.Server.Address, "CHAINGUARD_LISTEN")
	override(&c.MySQL.DSN, "CHAINGUARD_MYSQL_DSN")
	override(&c.Ledger.Cache.Address, "CHAINGUARD_REDIS_ADDR")
	override(&c.Ledger.Cache.Password, "CHAINGUARD_REDIS_PASSWORD")
	override(&c.Ledger.EVM.RPCURL, "CHAINGUARD_RPC_URL")
	override(&c.Tasks.Queue.Redis.Address, "CHAINGUARD_QUEUE_REDIS_ADDR")
	override(&c.Tasks.Queue.Redis.Password, "CHAINGUARD_QUEUE_REDIS_PASSWORD")
	override(&c.Tasks.Queue.RabbitMQ.URL, "CHAINGUARD_RABBITMQ_URL")
	override(&c.Alerting.WebhookURL, "CHAINGUARD_ALERT_WEBHOOK")
	override(&c.Logging.Level, "CHAINGUARD_LOG_LEVEL")

	if v := strings.TrimSpace(os.Getenv("CHAINGUARD_KAFKA_BROKERS")); v != "" {
		c.Verdict.Brokers = splitList(v)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	c.Ledger.SeedFile = resolvePath(baseDir, c.Ledger.SeedFile)
	c.Ledger.EVM.ChainFile = resolvePath(baseDir, c.Ledger.EVM.ChainFile)
	if c.Ledger.Cache.TTLSeconds <= 0 {
		c.Ledger.Cache.TTLSeconds = 300
	}

	if c.Risk.HighThreshold == 0 {
		c.Risk.HighThreshold = 0.8
	}
	if c.Risk.MediumThreshold == 0 {
		c.Risk.MediumThreshold = 0.5
	}
	if c.Risk.NeighborScore == 0 {
		c.Risk.NeighborScore = 0.7
	}
	if c.Risk.RapidWindowSeconds <= 0 {
		c.Risk.RapidWindowSeconds = 60
	}
	c.Risk.PatternFile = resolvePath(baseDir, c.Risk.PatternFile)

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}

	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}
	if c.Agent.HistoryDriver == "" {
		c.Agent.HistoryDriver = "memory"
	}
	c.Agent.CatalogFile = resolvePath(baseDir, c.Agent.CatalogFile)

	c.Knowledge.Source = resolvePath(baseDir, c.Knowledge.Source)
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Tasks.Store == "" {
		c.Tasks.Store = "memory"
	}
	if c.Tasks.MaxRetries <= 0 {
		c.Tasks.MaxRetries = 3
	}
	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 4
	}
	if c.Tasks.DefaultAgent == "" {
		c.Tasks.DefaultAgent = "blockchain_security_coordinator"
	}
	if c.Tasks.Queue.Driver == "" {
		c.Tasks.Queue.Driver = "memory"
	}
	if c.Tasks.Queue.Size <= 0 {
		c.Tasks.Queue.Size = 1024
	}
	if c.Tasks.Queue.Redis.BlockWaitSeconds <= 0 {
		c.Tasks.Queue.Redis.BlockWaitSeconds = 5
	}

	if c.Verdict.Sink == "" {
		c.Verdict.Sink = "log"
	}
	if c.Verdict.Topic == "" {
		c.Verdict.Topic = "chainguard.verdicts"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查驱动名称与阈值是否合法。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持 %q，可选值: %s", field, value, strings.Join(allowed, ", ")))
	}

	check("ledger.driver", c.Ledger.Driver, "memory", "mysql")
	check("agent.history_driver", c.Agent.HistoryDriver, "memory", "mysql")
	check("tasks.store", c.Tasks.Store, "memory", "mysql")
	check("tasks.queue.driver", c.Tasks.Queue.Driver, "memory", "redis", "rabbitmq")
	check("verdict.sink", c.Verdict.Sink, "log", "kafka")
	check("llm.provider", c.LLM.Provider, "", "openai")

	if c.Risk.MediumThreshold <= 0 || c.Risk.HighThreshold > 1 || c.Risk.MediumThreshold >= c.Risk.HighThreshold {
		errs = append(errs, fmt.Errorf("风险阈值需满足 0 < medium < high <= 1，当前 medium=%.2f high=%.2f",
			c.Risk.MediumThreshold, c.Risk.HighThreshold))
	}
	if c.UsesMySQL() && strings.TrimSpace(c.MySQL.DSN) == "" {
		errs = append(errs, errors.New("使用 mysql 驱动时必须配置 mysql.dsn"))
	}
	if c.Tasks.Queue.Driver == "redis" && strings.TrimSpace(c.Tasks.Queue.Redis.Address) == "" {
		errs = append(errs, errors.New("redis 队列需要配置 tasks.queue.redis.address"))
	}
	if c.Tasks.Queue.Driver == "rabbitmq" && strings.TrimSpace(c.Tasks.Queue.RabbitMQ.URL) == "" {
		errs = append(errs, errors.New("rabbitmq 队列需要配置 tasks.queue.rabbitmq.url"))
	}
	if c.Verdict.Sink == "kafka" && len(c.Verdict.Brokers) == 0 {
		errs = append(errs, errors.New("kafka 判定输出需要配置 verdict.brokers"))
	}
	return errors.Join(errs...)
}

// UsesMySQL 报告是否有组件需要 MySQL 连接池。
func (c *Config) UsesMySQL() bool {
	return c.Ledger.Driver == "mysql" || c.Agent.HistoryDriver == "mysql" || c.Tasks.Store == "mysql"
}

// OpenAIKey 返回显式配置或环境变量中的 API Key。
func (c *Config) OpenAIKey() string {
	if key := strings.TrimSpace(c.LLM.OpenAI.APIKey); key != "" {
		return key
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv))
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
