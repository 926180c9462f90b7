// Package cases manages the fraud case workflow and its append-only timeline.
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	// ErrCaseResolved is returned for any transition attempted on a resolved case.
	ErrCaseResolved = errors.New("case is resolved")
	// ErrInvalidStatus is returned for unknown or disallowed status targets.
	ErrInvalidStatus = errors.New("invalid case status")
)

// Manager owns fraud case lifecycle: OPEN and UNDER_REVIEW alternate freely,
// RESOLVED is reachable only through Resolve and is terminal.
type Manager struct {
	repo domain.Repository
}

// NewManager creates a new case manager.
func NewManager(repo domain.Repository) *Manager {
	return &Manager{repo: repo}
}

// Open creates a case for a screened event, snapshotting the event payload
// and the hit rules that triggered it. The case, its hit-rule snapshots and
// the initial log entry are written in a single transaction.
func (m *Manager) Open(ctx context.Context, ev *domain.Event, action domain.Action, hits []*domain.FraudHit, ruleNames map[string]string) (*domain.FraudCase, error) {
	now := time.Now().UTC()
	c := &domain.FraudCase{
		ID:            uuid.New().String(),
		EventID:       ev.ID,
		TransactionID: ev.TransactionID,
		UserID:        ev.UserID,
		Status:        domain.CaseOpen,
		Action:        action,
		Payload:       ev,
		OpenedAt:      now,
		UpdatedAt:     now,
	}

	hitRules := make([]*domain.CaseHitRule, 0, len(hits))
	for _, h := range hits {
		name := ruleNames[h.RuleID]
		if h.Synthetic() {
			name = domain.SystemRuleName
		}
		hitRules = append(hitRules, &domain.CaseHitRule{
			ID:        uuid.New().String(),
			CaseID:    c.ID,
			RuleID:    h.RuleID,
			RuleCode:  h.RuleCode,
			RuleName:  name,
			Action:    h.Action,
			Reason:    h.Reason,
			CreatedAt: now,
		})
	}

	initial := &domain.ActionLogEntry{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		Action:    "CASE_OPENED",
		Note:      fmt.Sprintf("opened with action %s from %d hit rule(s)", action, len(hitRules)),
		Actor:     "system",
		CreatedAt: now,
	}

	if err := m.repo.CreateCase(ctx, c, hitRules, initial); err != nil {
		return nil, fmt.Errorf("failed to create case for transaction %s: %w", ev.TransactionID, err)
	}

	slog.Info("fraud case opened",
		"case_id", c.ID,
		"transaction_id", ev.TransactionID,
		"user_id", ev.UserID,
		"action", action,
	)

	return c, nil
}

// Get returns a case with its full timeline and hit-rule snapshots.
func (m *Manager) Get(ctx context.Context, caseID string) (*domain.CaseDetail, error) {
	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	logs, err := m.repo.ListActionLogs(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs for case %s: %w", caseID, err)
	}

	hits, err := m.repo.ListCaseHitRules(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hit rules for case %s: %w", caseID, err)
	}

	return &domain.CaseDetail{Case: c, Logs: logs, HitRules: hits}, nil
}

// AddActionLog appends a note to the case timeline without changing status.
// Resolved cases still accept log entries; the timeline is append-only.
func (m *Manager) AddActionLog(ctx context.Context, caseID, action, note, actor string) (*domain.ActionLogEntry, error) {
	if _, err := m.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}

	entry := &domain.ActionLogEntry{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Action:    action,
		Note:      note,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendActionLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append action log to case %s: %w", caseID, err)
	}

	return entry, nil
}

// SetStatus moves a case between OPEN and UNDER_REVIEW. RESOLVED is not a
// valid target here; use Resolve.
func (m *Manager) SetStatus(ctx context.Context, caseID string, status domain.CaseStatus) (*domain.FraudCase, error) {
	if status != domain.CaseOpen && status != domain.CaseUnderReview {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CaseResolved {
		return nil, ErrCaseResolved
	}

	c.Status = status
	c.UpdatedAt = time.Now().UTC()

	if err := m.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update case %s: %w", caseID, err)
	}

	return c, nil
}

// Resolve closes a case with a resolution action and reason, stamps the
// close time and appends a final log entry. Resolution is terminal; a second
// Resolve fails with ErrCaseResolved.
func (m *Manager) Resolve(ctx context.Context, caseID string, action domain.Action, reason, actor string) (*domain.FraudCase, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: resolution action %q", ErrInvalidStatus, action)
	}

	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CaseResolved {
		return nil, ErrCaseResolved
	}

	now := time.Now().UTC()
	c.Status = domain.CaseResolved
	c.ResolutionAction = action
	c.ResolutionReason = reason
	c.UpdatedAt = now
	c.ClosedAt = &now

	if err := m.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to resolve case %s: %w", caseID, err)
	}

	entry := &domain.ActionLogEntry{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Action:    "CASE_RESOLVED",
		Note:      reason,
		Actor:     actor,
		CreatedAt: now,
	}
	if err := m.repo.AppendActionLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append resolution log to case %s: %w", caseID, err)
	}

	slog.Info("fraud case resolved",
		"case_id", caseID,
		"resolution_action", action,
		"actor", actor,
	)

	return c, nil
}
