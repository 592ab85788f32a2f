package verdict

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ChainGuard/internal/risk"
)

// 判定来源。
const (
	SourceAPI  = "api"
	SourceTask = "task"
)

// Verdict 是对外发布的一次风险判定。
type Verdict struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	TaskID        string     `json:"task_id,omitempty"`
	Agent         string     `json:"agent,omitempty"`
	Address       string     `json:"address"`
	Score         float64    `json:"risk_score"`
	Level         risk.Level `json:"risk_level"`
	Justification string     `json:"justification"`
	Factors       []string   `json:"risk_factors,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
}

// FromAssessment 从评估结果构造判定。
func FromAssessment(source string, a *risk.Assessment) Verdict {
	factors := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		factors = append(factors, f.Factor)
	}
	return Verdict{
		ID:            uuid.NewString(),
		Source:        source,
		Address:       a.Address,
		Score:         a.Score,
		Level:         a.Level,
		Justification: a.Justification,
		Factors:       factors,
		IssuedAt:      time.Now().UTC(),
	}
}

// Sink 是判定的下游。
type Sink interface {
	Publish(ctx context.Context, v Verdict) error
	Close() error
}
