package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ChainGuard/internal/agent"
	"ChainGuard/internal/observability/metrics"
	"ChainGuard/internal/risk"
	"ChainGuard/internal/task"
	"ChainGuard/internal/verdict"
	"ChainGuard/internal/web3"
	"ChainGuard/pkg/logger"
)

// SnapshotSource 提供链的元数据，用于健康检查。
type SnapshotSource interface {
	Snapshots(ctx context.Context) ([]web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	engine   *risk.Engine
	agent    *agent.Agent
	tasks    *task.Service
	verdicts *verdict.Emitter
	chains   SnapshotSource
	limiter  *clientLimiter
	log      *slog.Logger
}

// Option 定义 Server 的可选依赖。
type Option func(*Server)

// WithAgent 启用智能体相关端点。
func WithAgent(ag *agent.Agent) Option {
	return func(s *Server) { s.agent = ag }
}

// WithTaskService 启用异步任务端点。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithVerdictEmitter 配置风险判定发布器。
func WithVerdictEmitter(emitter *verdict.Emitter) Option {
	return func(s *Server) { s.verdicts = emitter }
}

// WithChains 配置健康检查使用的链元数据来源。
func WithChains(source SnapshotSource) Option {
	return func(s *Server) { s.chains = source }
}

// WithRateLimit 为每个客户端设置每秒请求数与突发上限，rps <= 0 时不限流。
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newClientLimiter(rps, burst, 10*time.Minute)
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, engine *risk.Engine, opts ...Option) *Server {
	s := &Server{addr: addr, engine: engine, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由与中间件的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/risk/{address}", s.handleRisk)
	mux.HandleFunc("GET /api/v1/addresses/{address}", s.handleAddressDetails)
	mux.HandleFunc("GET /api/v1/addresses/{address}/scam-status", s.handleScamStatus)
	mux.HandleFunc("GET /api/v1/addresses/{address}/behavior", s.handleBehavior)
	mux.HandleFunc("GET /api/v1/addresses/{address}/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/v1/addresses/{address}/connected", s.handleConnected)
	mux.HandleFunc("GET /api/v1/addresses/{address}/transactions", s.handleAddressTransactions)
	mux.HandleFunc("GET /api/v1/transactions/{hash}", s.handleTransaction)

	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/v1/agents/history", s.handleAgentHistory)
	mux.HandleFunc("POST /api/v1/agents/{name}/run", s.handleRunAgent)

	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/stats", s.handleTaskStats)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleTaskDetail)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.instrument(s.rateLimit(mux))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
