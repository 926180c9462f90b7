package domain

import (
	"time"
)

// RiskLevel is the discrete band a user risk score maps to.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
)

// LevelForScore maps a 0-100 score to its risk level.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskVeryHigh
	case score >= 60:
		return RiskHigh
	case score >= 35:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskSignal is one independent heuristic contribution to a user's score.
type RiskSignal struct {
	Key         string `json:"key"`
	Weight      int    `json:"weight"`
	Description string `json:"description"`
}

// UserRiskScore is the single per-user risk row. It is upserted, not
// appended: every recomputation overwrites the previous value.
type UserRiskScore struct {
	UserID    string    `json:"userId"`
	Score     int       `json:"score"`
	Level     RiskLevel `json:"level"`
	Reasons   []string  `json:"reasons,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
