package risk

import "ChainGuard/internal/ledger"

// FindingKind 标识评分规则产出的结论类型。
type FindingKind string

const (
	FindingKnownScam          FindingKind = "known_scam"
	FindingScamNeighbor       FindingKind = "scam_neighbor"
	FindingTransactionPattern FindingKind = "transaction_pattern"
	FindingHistoricalBehavior FindingKind = "historical_behavior"
)

// Finding 是一条评分依据。Decisive 为真时其分数直接作为总分，风险等级固定为 High。
type Finding struct {
	Kind        FindingKind `json:"kind"`
	Factor      string      `json:"factor"`
	Description string      `json:"description"`
	Score       float64     `json:"risk_score"`
	Decisive    bool        `json:"decisive,omitempty"`

	// 仅 known_scam / scam_neighbor 使用。
	Scam             *ledger.ScamEntry `json:"scam_details,omitempty"`
	ConnectedAddress string            `json:"connected_scam_address,omitempty"`

	// 仅 scam_interaction 模式使用。
	Interactions []ScamInteraction `json:"details,omitempty"`
}

func knownScamFinding(entry ledger.ScamEntry) Finding {
	return Finding{
		Kind:        FindingKnownScam,
		Factor:      string(FindingKnownScam),
		Description: "Address is listed in the scam registry",
		Score:       entry.RiskScore,
		Decisive:    true,
		Scam:        &entry,
	}
}

func neighborFinding(connected string, entry ledger.ScamEntry, score float64) Finding {
	return Finding{
		Kind:             FindingScamNeighbor,
		Factor:           string(FindingScamNeighbor),
		Description:      "Address is one hop from a known scam address",
		Score:            score,
		Decisive:         true,
		Scam:             &entry,
		ConnectedAddress: connected,
	}
}

func patternFinding(p DetectedPattern) Finding {
	return Finding{
		Kind:         FindingTransactionPattern,
		Factor:       p.Name,
		Description:  p.Description,
		Score:        p.Score,
		Interactions: p.Details,
	}
}

func historicalFinding(score float64) Finding {
	return Finding{
		Kind:        FindingHistoricalBehavior,
		Factor:      string(FindingHistoricalBehavior),
		Description: "Historical wallet behavior indicates risk",
		Score:       score,
	}
}
