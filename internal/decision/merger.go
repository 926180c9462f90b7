// Package decision merges rule hits into one final screening action.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

// Merge reduces hit actions to the most severe one. No hits means ALLOW.
func Merge(actions []domain.Action) domain.Action {
	final := domain.ActionAllow
	for _, a := range actions {
		if a.Rank() > final.Rank() {
			final = a
		}
	}
	return final
}

// Merger finalizes a screening decision: it merges the rule hits and applies
// the escalation policy, which may inject synthetic REVIEW hits on top of a
// lenient base decision.
type Merger struct {
	repo domain.Repository
}

// NewMerger creates a new decision merger.
func NewMerger(repo domain.Repository) *Merger {
	return &Merger{repo: repo}
}

// Finalize merges the hits into the final action. When the merged action is
// weaker than REVIEW, two escalation checks run independently: historical
// negative compliance hits, and a HIGH or VERY_HIGH event risk level. Each
// check that trips appends a synthetic REVIEW hit attributed to the system
// pseudo-rule; the merge then reruns over the extended hit set.
func (m *Merger) Finalize(ctx context.Context, ev *domain.Event, hits []*domain.FraudHit) (domain.Action, []*domain.FraudHit, error) {
	actions := make([]domain.Action, 0, len(hits))
	for _, h := range hits {
		actions = append(actions, h.Action)
	}
	base := Merge(actions)

	var synthetic []*domain.FraudHit

	if base.Rank() < domain.ActionReview.Rank() {
		negative, err := m.repo.CountNegativeCompliance(ctx, ev.UserID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to count negative compliance hits for %s: %w", ev.UserID, err)
		}
		if negative >= 1 {
			synthetic = append(synthetic, systemHit(ev, "historical negative compliance hits"))
		}

		if ev.RiskLevel == domain.RiskHigh || ev.RiskLevel == domain.RiskVeryHigh {
			synthetic = append(synthetic, systemHit(ev, fmt.Sprintf("user risk level is %s", ev.RiskLevel)))
		}
	}

	if len(synthetic) == 0 {
		return base, nil, nil
	}

	merged := append(actions, domain.ActionReview)
	return Merge(merged), synthetic, nil
}

func systemHit(ev *domain.Event, reason string) *domain.FraudHit {
	return &domain.FraudHit{
		ID:        uuid.New().String(),
		EventID:   ev.ID,
		RuleCode:  domain.SystemRuleCode,
		Action:    domain.ActionReview,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}
