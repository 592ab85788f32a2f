package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ChainGuard/deploy/seed"
	"ChainGuard/internal/agent"
	"ChainGuard/internal/api"
	"ChainGuard/internal/config"
	"ChainGuard/internal/knowledge"
	"ChainGuard/internal/ledger"
	"ChainGuard/internal/llm"
	"ChainGuard/internal/llm/openai"
	"ChainGuard/internal/observability/alerting"
	"ChainGuard/internal/observability/metrics"
	"ChainGuard/internal/risk"
	"ChainGuard/internal/storage/mysql"
	rediscache "ChainGuard/internal/storage/redis"
	"ChainGuard/internal/task"
	"ChainGuard/internal/verdict"
	"ChainGuard/internal/web3/provider"
	"ChainGuard/pkg/logger"
)

// main 是 ChainGuard 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("chainguardd 运行失败: %v", err)
	}
}

// closers 按注册的逆序关闭资源。
type closers []io.Closer

func (c *closers) add(closer io.Closer) { *c = append(*c, closer) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.L().Warn("关闭资源失败", slog.Any("error", err))
		}
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINGUARD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainguard.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var resources closers
	defer resources.closeAll()

	var db *sql.DB
	if cfg.UsesMySQL() {
		db, err = mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime(),
		})
		if err != nil {
			return err
		}
		resources.add(db)
	}

	repo, chains, err := buildLedger(ctx, cfg, db, &resources)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg, repo)
	if err != nil {
		return err
	}

	ag, fallback, err := buildAgents(cfg, engine, db)
	if err != nil {
		return err
	}

	dispatcher := buildAlerting(cfg)

	var sink verdict.Sink
	switch cfg.Verdict.Sink {
	case "kafka":
		sink, err = verdict.NewKafkaSink(verdict.KafkaConfig{
			Brokers:  cfg.Verdict.Brokers,
			Topic:    cfg.Verdict.Topic,
			ClientID: cfg.Verdict.ClientID,
		})
		if err != nil {
			return err
		}
	default:
		sink = verdict.NewLogSink()
	}
	resources.add(sink)
	emitter := verdict.NewEmitter(sink, dispatcher)

	store, queue, err := buildTaskBackend(ctx, cfg, db)
	if err != nil {
		return err
	}
	resources.add(queue)

	service := task.NewService(store, queue, cfg.Tasks.MaxRetries,
		task.WithDefaultAgent(cfg.Tasks.DefaultAgent),
		task.WithAgentCheck(func(name string) bool {
			_, ok := ag.Catalog().Lookup(name)
			return ok
		}),
	)

	procOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Tasks.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlertDispatcher(dispatcher),
		task.WithVerdictEmitter(emitter),
	}
	if cfg.Tasks.Recovery {
		procOpts = append(procOpts, task.WithRecoveryHandler(task.ExecutorRecovery{Fallback: fallback}))
	}
	processor := task.NewProcessor(ag, store, queue, queue, procOpts...)

	serverOpts := []api.Option{
		api.WithAgent(ag),
		api.WithTaskService(service),
		api.WithVerdictEmitter(emitter),
		api.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
	}
	if chains != nil {
		serverOpts = append(serverOpts, api.WithChains(chains))
	}
	server := api.NewServer(cfg.Server.Address, engine, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address) })
	}

	logger.L().Info("ChainGuard 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("queue", cfg.Tasks.Queue.Driver),
		slog.String("verdict_sink", cfg.Verdict.Sink),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("ChainGuard 已退出")
	return nil
}

// buildLedger 组装账本：基础存储、可选 Redis 缓存、可选链上查询。
func buildLedger(ctx context.Context, cfg *config.Config, db *sql.DB, resources *closers) (ledger.Repository, *provider.Registry, error) {
	var store ledger.Store
	switch cfg.Ledger.Driver {
	case "mysql":
		store = mysql.NewLedgerRepository(db)
	default:
		store = ledger.NewMemoryStore()
	}

	if cfg.Ledger.Cache.Address != "" {
		cache, err := rediscache.NewLedgerCache(ctx, store, rediscache.Config{
			Address:   cfg.Ledger.Cache.Address,
			Password:  cfg.Ledger.Cache.Password,
			DB:        cfg.Ledger.Cache.DB,
			KeyPrefix: cfg.Ledger.Cache.KeyPrefix,
			TTL:       cfg.Ledger.Cache.TTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		resources.add(cache)
		store = cache
	}

	dataset, err := loadDataset(cfg)
	if err != nil {
		return nil, nil, err
	}
	if dataset != nil {
		if err := dataset.Apply(ctx, store); err != nil {
			return nil, nil, err
		}
		logger.L().Info("账本种子已导入", slog.Int("records", dataset.Size()))
	}

	if !cfg.Ledger.EVM.Enabled() {
		return store, nil, nil
	}
	registry, err := provider.NewRegistry(ctx, provider.Options{
		ChainFile:    cfg.Ledger.EVM.ChainFile,
		RPCURL:       cfg.Ledger.EVM.RPCURL,
		DefaultChain: cfg.Ledger.EVM.DefaultChain,
		Currency:     cfg.Ledger.EVM.Currency,
	})
	if err != nil {
		return nil, nil, err
	}
	resources.add(closerFunc(func() error {
		registry.Close()
		return nil
	}))
	evm, err := registry.Ledger(store)
	if err != nil {
		return nil, nil, err
	}
	return evm, registry, nil
}

// loadDataset 读取配置的种子文件，内存账本未配置时使用内置演示数据。
func loadDataset(cfg *config.Config) (*ledger.Dataset, error) {
	if cfg.Ledger.SeedFile != "" {
		ds, err := ledger.LoadDataset(cfg.Ledger.SeedFile)
		if err != nil {
			return nil, err
		}
		return &ds, nil
	}
	if cfg.Ledger.Driver != "memory" {
		return nil, nil
	}
	ds, err := ledger.ParseDataset(seed.Demo)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func buildEngine(cfg *config.Config, repo ledger.Repository) (*risk.Engine, error) {
	opts := []risk.Option{
		risk.WithThresholds(risk.Thresholds{High: cfg.Risk.HighThreshold, Medium: cfg.Risk.MediumThreshold}),
		risk.WithRapidWindow(cfg.Risk.RapidWindow()),
		risk.WithNeighborScore(cfg.Risk.NeighborScore),
		risk.WithLogger(logger.Named("risk")),
	}
	if cfg.Risk.PatternFile != "" {
		catalog, err := risk.LoadCatalog(cfg.Risk.PatternFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, risk.WithCatalog(catalog))
	}
	return risk.NewEngine(repo, opts...), nil
}

// buildAgents 返回主智能体与不带大模型的兜底智能体。
func buildAgents(cfg *config.Config, engine *risk.Engine, db *sql.DB) (*agent.Agent, *agent.Agent, error) {
	catalog := agent.DefaultCatalog()
	if cfg.Agent.CatalogFile != "" {
		loaded, err := agent.LoadCatalog(cfg.Agent.CatalogFile)
		if err != nil {
			return nil, nil, err
		}
		catalog = loaded
	}

	snippets := knowledge.FromCatalog(engine.Catalog())
	var kp knowledge.Provider
	if cfg.Knowledge.Source != "" {
		loaded, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults, snippets...)
		if err != nil {
			return nil, nil, err
		}
		kp = loaded
	} else {
		kp = knowledge.NewStaticProvider(snippets, cfg.Knowledge.MaxResults)
	}

	var runs mysql.RunRepository
	switch cfg.Agent.HistoryDriver {
	case "mysql":
		runs = mysql.NewSQLRunRepository(db)
	default:
		repo, err := mysql.NewMemoryRunRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, nil, err
		}
		runs = repo
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	base := []agent.Option{
		agent.WithCatalog(catalog),
		agent.WithKnowledgeProvider(kp),
		agent.WithRunRepository(runs),
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithLogger(logger.Named("agent")),
	}
	primary := append([]agent.Option{}, base...)
	if llmClient != nil {
		primary = append(primary, agent.WithLLM(llmClient), agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()))
	}
	return agent.New(engine, primary...), agent.New(engine, base...), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "":
		return nil, nil
	case "openai":
		apiKey := cfg.OpenAIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func buildAlerting(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

func buildTaskBackend(ctx context.Context, cfg *config.Config, db *sql.DB) (task.Store, task.Queue, error) {
	var store task.Store
	switch cfg.Tasks.Store {
	case "mysql":
		store = task.NewMySQLStore(db)
	default:
		store = task.NewMemoryStore()
	}

	var queue task.Queue
	switch cfg.Tasks.Queue.Driver {
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Tasks.Queue.Redis.Address,
			Password:  cfg.Tasks.Queue.Redis.Password,
			DB:        cfg.Tasks.Queue.Redis.DB,
			Queue:     cfg.Tasks.Queue.Redis.Queue,
			BlockWait: cfg.Tasks.Queue.Redis.BlockWait(),
		})
		if err != nil {
			return nil, nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.Tasks.Queue.RabbitMQ.URL,
			Queue:      cfg.Tasks.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Tasks.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Tasks.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Tasks.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, nil, err
		}
		queue = q
	default:
		queue = task.NewMemoryQueue(cfg.Tasks.Queue.Size)
	}
	return store, queue, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
