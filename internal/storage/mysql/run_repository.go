package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RunRecord 表示一次智能体执行的落库结构。
type RunRecord struct {
	ID         int64  `json:"id"`
	Agent      string `json:"agent"`
	Input      string `json:"input"`
	ToolOutput string `json:"tool_output"`
	Thought    string `json:"thought"`
	Reply      string `json:"reply"`
	CreatedAt  int64  `json:"created_at"`
}

// RunRepository 抽象智能体执行历史的持久化接口。
type RunRepository interface {
	Create(ctx context.Context, record *RunRecord) error
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
}

const memoryRunLimit = 512

// MemoryRunRepository 将执行记录追加写入本地 JSON Lines 文件，重启后可恢复最近的记录。
type MemoryRunRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []RunRecord
	nextID   int64
}

// NewMemoryRunRepository 在 dataDir 下创建 runs.log。
func NewMemoryRunRepository(dataDir string) (*MemoryRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRunRepository{dataFile: filepath.Join(dataDir, "runs.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Create 追加一条执行记录并分配 ID。
func (m *MemoryRunRepository) Create(_ context.Context, record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("执行记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开执行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化执行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入执行日志失败: %w", err)
	}

	m.records = append([]RunRecord{*record}, m.records...)
	if len(m.records) > memoryRunLimit {
		m.records = m.records[:memoryRunLimit]
	}
	return nil
}

// ListLatest 按时间倒序返回最近的执行记录。
func (m *MemoryRunRepository) ListLatest(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]RunRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取执行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []RunRecord
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]RunRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析执行日志失败: %w", err)
	}
	if len(restored) > memoryRunLimit {
		restored = restored[:memoryRunLimit]
	}
	m.records = restored
	return nil
}

// SQLRunRepository 使用 MySQL 的 agent_runs 表保存执行历史。
type SQLRunRepository struct {
	db *sql.DB
}

// NewSQLRunRepository 基于已打开的连接池创建仓库。
func NewSQLRunRepository(db *sql.DB) *SQLRunRepository {
	return &SQLRunRepository{db: db}
}

const insertRunSQL = `INSERT INTO agent_runs (agent, input, tool_output, thought, reply, created_at)
    VALUES (?, ?, ?, ?, ?, ?)`

// Create 写入执行记录并回填自增 ID。
func (s *SQLRunRepository) Create(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("执行记录不能为空")
	}
	res, err := s.db.ExecContext(ctx, insertRunSQL,
		record.Agent,
		record.Input,
		record.ToolOutput,
		record.Thought,
		record.Reply,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入执行记录失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取执行记录 ID 失败: %w", err)
	}
	record.ID = id
	return nil
}

// ListLatest 查询最近的若干条执行记录。
func (s *SQLRunRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, agent, input, tool_output, thought, reply, created_at
    FROM agent_runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var toolOutput, thought, reply sql.NullString
		if err := rows.Scan(&record.ID, &record.Agent, &record.Input, &toolOutput, &thought, &reply, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析执行记录失败: %w", err)
		}
		record.ToolOutput = toolOutput.String
		record.Thought = thought.String
		record.Reply = reply.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历执行记录失败: %w", err)
	}
	return records, nil
}

var (
	_ RunRepository = (*MemoryRunRepository)(nil)
	_ RunRepository = (*SQLRunRepository)(nil)
)
