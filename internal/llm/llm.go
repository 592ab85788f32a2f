package llm

import "context"

// Request 描述一次智能体推理的上下文：指令、用户输入与工具的确定性输出。
type Request struct {
	Agent string
	// Model 非空时覆盖客户端的默认模型。
	Model       string
	Instruction string
	Input       string
	ToolOutput  string
	History     []HistoryEntry
	Knowledge   []KnowledgeCard
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// KnowledgeCard 表示提供给大模型的知识切片，例如风险模式说明。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HistoryEntry 描述同一智能体最近的一次执行，用于提供上下文记忆。
type HistoryEntry struct {
	Input      string
	Reply      string
	ToolOutput string
	CreatedAt  int64
}
