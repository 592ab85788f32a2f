package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/knowledge"
	"ChainGuard/internal/llm"
	"ChainGuard/internal/risk"
	"ChainGuard/internal/storage/mysql"
	"ChainGuard/pkg/logger"
)

// CodeAgentNotFound 表示请求的智能体未定义。
const CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:    "agent not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: xerrors.AttributesOf(xerrors.CodeNotFound).HTTPStatus,
	})
}

// RunRequest 描述一次智能体调用。
type RunRequest struct {
	Agent    string         `json:"agent"`
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Step 记录一次工具调用。
type Step struct {
	Agent  string `json:"agent"`
	Tool   string `json:"tool"`
	Output Output `json:"output"`
}

// RunResult 汇总工具输出与大模型的叙述。
type RunResult struct {
	Agent string `json:"agent"`
	Input string `json:"input"`
	Steps []Step `json:"steps"`
	// Assessment 仅在执行过 classify_risk 时存在。
	Assessment *risk.Assessment `json:"assessment,omitempty"`
	Summary    string           `json:"summary"`
	Thought    string           `json:"thought,omitempty"`
	Reply      string           `json:"reply"`
	CreatedAt  int64            `json:"created_at"`
}

// HistoryEntry 是一条已记录的执行。
type HistoryEntry struct {
	ID         int64  `json:"id"`
	Agent      string `json:"agent"`
	Input      string `json:"input"`
	ToolOutput string `json:"tool_output"`
	Thought    string `json:"thought,omitempty"`
	Reply      string `json:"reply"`
	CreatedAt  int64  `json:"created_at"`
}

// Agent 按定义调用确定性工具，并在配置了大模型时生成叙述。
type Agent struct {
	catalog     *Catalog
	tools       map[string]Tool
	llmClient   llm.Client
	runs        mysql.RunRepository
	memoryDepth int
	knowledge   knowledge.Provider
	llmTimeout  time.Duration
	log         *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// defaultMemoryDepth 是大模型调用时可参考的历史执行数量的默认值。
const defaultMemoryDepth = 5

// maxNesting 限制智能体互相调用的深度。
const maxNesting = 3

// WithCatalog 替换内置的智能体定义。
func WithCatalog(c *Catalog) Option {
	return func(a *Agent) {
		if c != nil {
			a.catalog = c
		}
	}
}

// WithLLM 配置用于生成叙述的大模型客户端。
func WithLLM(client llm.Client) Option {
	return func(a *Agent) {
		a.llmClient = client
	}
}

// WithRunRepository 配置执行历史仓库。
func WithRunRepository(repo mysql.RunRepository) Option {
	return func(a *Agent) {
		a.runs = repo
	}
}

// WithMemoryDepth 设置大模型调用时可参考的历史执行数量。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithKnowledgeProvider 配置知识库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New 创建一个 Agent，工具以 engine 为后端。
func New(engine *risk.Engine, opts ...Option) *Agent {
	ag := &Agent{
		catalog:     DefaultCatalog(),
		tools:       Toolbox(engine),
		memoryDepth: defaultMemoryDepth,
		log:         logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	return ag
}

// Catalog 返回当前的智能体定义。
func (a *Agent) Catalog() *Catalog { return a.catalog }

// Execute 运行指定智能体的工具，并在配置了大模型时请求叙述。
func (a *Agent) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	bundle, ok := a.catalog.Lookup(req.Agent)
	if !ok {
		return nil, xerrors.New(CodeAgentNotFound, fmt.Sprintf("未定义的智能体: %s", req.Agent), xerrors.WithMetadata("agent", req.Agent))
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "输入不能为空")
	}

	steps, err := a.runTools(ctx, bundle, input, 0)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Agent:     bundle.Name,
		Input:     input,
		Steps:     steps,
		CreatedAt: time.Now().Unix(),
	}
	summaries := make([]string, 0, len(steps))
	for _, step := range steps {
		summaries = append(summaries, step.Output.Summary())
		if classified, ok := step.Output.(*ClassifyRiskResult); ok && result.Assessment == nil {
			result.Assessment = classified.RiskAssessment
		}
	}
	result.Summary = strings.Join(summaries, "\n")
	result.Reply = result.Summary

	toolOutput, err := encodeSteps(steps)
	if err != nil {
		return nil, err
	}

	if a.llmClient != nil {
		if err := a.narrate(ctx, bundle, result, toolOutput); err != nil {
			return nil, err
		}
	}

	if a.runs != nil {
		record := &mysql.RunRecord{
			Agent:      result.Agent,
			Input:      result.Input,
			ToolOutput: toolOutput,
			Thought:    result.Thought,
			Reply:      result.Reply,
			CreatedAt:  result.CreatedAt,
		}
		if err := a.runs.Create(ctx, record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存执行记录失败")
		}
	}

	a.log.Info("智能体执行完成", slog.String("agent", result.Agent), slog.Int("steps", len(steps)))
	return result, nil
}

// runTools 依次调用智能体声明的工具，子智能体按其自身的工具展开。
func (a *Agent) runTools(ctx context.Context, bundle Bundle, input string, depth int) ([]Step, error) {
	if depth >= maxNesting {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("智能体 %s 嵌套过深", bundle.Name))
	}
	var steps []Step
	for _, name := range bundle.Tools {
		if tool, ok := a.tools[name]; ok {
			output, err := tool.Run(ctx, input)
			if err != nil {
				a.log.Warn("工具执行失败", slog.String("agent", bundle.Name), slog.String("tool", name), slog.Any("error", err))
				return nil, err
			}
			steps = append(steps, Step{Agent: bundle.Name, Tool: name, Output: output})
			continue
		}
		sub, ok := a.catalog.Lookup(name)
		if !ok {
			return nil, xerrors.New(CodeAgentNotFound, fmt.Sprintf("智能体 %s 引用了未知工具 %s", bundle.Name, name))
		}
		subSteps, err := a.runTools(ctx, sub, input, depth+1)
		if err != nil {
			return nil, err
		}
		steps = append(steps, subSteps...)
	}
	return steps, nil
}

func (a *Agent) narrate(ctx context.Context, bundle Bundle, result *RunResult, toolOutput string) error {
	history := a.loadHistory(ctx, bundle.Name)
	var cards []llm.KnowledgeCard
	if a.knowledge != nil {
		for _, snippet := range a.knowledge.Query(bundle.Name, toolOutput) {
			cards = append(cards, llm.KnowledgeCard{Title: snippet.Title, Content: snippet.Content})
		}
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llmClient.Generate(llmCtx, llm.Request{
		Agent:       bundle.Name,
		Model:       bundle.Model,
		Instruction: bundle.Instruction,
		Input:       result.Input,
		ToolOutput:  toolOutput,
		History:     history,
		Knowledge:   cards,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "大模型推理失败")
	}
	result.Thought = resp.Thought
	if reply := strings.TrimSpace(resp.Reply); reply != "" {
		result.Reply = reply
	}
	return nil
}

// ListHistory 获取最近的执行记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if a.runs == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行历史仓库")
	}
	records, err := a.runs.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, HistoryEntry{
			ID:         record.ID,
			Agent:      record.Agent,
			Input:      record.Input,
			ToolOutput: record.ToolOutput,
			Thought:    record.Thought,
			Reply:      record.Reply,
			CreatedAt:  record.CreatedAt,
		})
	}
	return entries, nil
}

// loadHistory 读取同一智能体最近的执行。读取失败只记录日志。
func (a *Agent) loadHistory(ctx context.Context, agentName string) []llm.HistoryEntry {
	if a.runs == nil || a.memoryDepth <= 0 {
		return nil
	}
	records, err := a.runs.ListLatest(ctx, a.memoryDepth*4)
	if err != nil {
		a.log.Warn("加载历史执行失败", slog.Any("error", err))
		return nil
	}
	history := make([]llm.HistoryEntry, 0, a.memoryDepth)
	for _, record := range records {
		if record.Agent != agentName {
			continue
		}
		history = append(history, llm.HistoryEntry{
			Input:      record.Input,
			Reply:      record.Reply,
			ToolOutput: record.ToolOutput,
			CreatedAt:  record.CreatedAt,
		})
		if len(history) >= a.memoryDepth {
			break
		}
	}
	return history
}

// encodeSteps 单步时直接输出工具结果，多步时按 "智能体.工具" 组织。
func encodeSteps(steps []Step) (string, error) {
	var payload any
	if len(steps) == 1 {
		payload = steps[0].Output
	} else {
		combined := make(map[string]Output, len(steps))
		for _, step := range steps {
			combined[step.Agent+"."+step.Tool] = step.Output
		}
		payload = combined
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化工具输出失败")
	}
	return string(encoded), nil
}
