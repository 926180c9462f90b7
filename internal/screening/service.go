// Package screening orchestrates the fraud screening pipeline for one
// transaction: event building, risk scoring, rule evaluation, decision
// merging and case creation.
package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/shrike/internal/cases"
	"github.com/opensource-finance/shrike/internal/decision"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/event"
	"github.com/opensource-finance/shrike/internal/risk"
	"github.com/opensource-finance/shrike/internal/rules"
)

// ErrAlreadyScreened is returned when a transaction already has a fraud case.
var ErrAlreadyScreened = errors.New("transaction already screened")

// RuleEvaluation records one rule's outcome inside a screening result.
type RuleEvaluation struct {
	RuleID   string        `json:"ruleId"`
	RuleCode string        `json:"ruleCode"`
	Version  int           `json:"version"`
	Matched  bool          `json:"matched"`
	Action   domain.Action `json:"action,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Result is the outcome of screening one transaction.
type Result struct {
	TransactionID string           `json:"transactionId"`
	EventID       string           `json:"eventId"`
	Action        domain.Action    `json:"action"`
	RiskScore     int              `json:"riskScore"`
	RiskLevel     domain.RiskLevel `json:"riskLevel"`
	Evaluations   []RuleEvaluation `json:"evaluations"`
	CaseID        string           `json:"caseId,omitempty"`
}

// Service runs the screening pipeline.
type Service struct {
	repo      domain.Repository
	bus       domain.EventBus
	builder   *event.Builder
	scorer    *risk.Scorer
	store     *rules.Store
	evaluator *rules.Evaluator
	merger    *decision.Merger
	cases     *cases.Manager
	tracer    trace.Tracer
}

// NewService wires the pipeline stages together.
func NewService(
	repo domain.Repository,
	bus domain.EventBus,
	builder *event.Builder,
	scorer *risk.Scorer,
	store *rules.Store,
	evaluator *rules.Evaluator,
	merger *decision.Merger,
	caseManager *cases.Manager,
) *Service {
	return &Service{
		repo:      repo,
		bus:       bus,
		builder:   builder,
		scorer:    scorer,
		store:     store,
		evaluator: evaluator,
		merger:    merger,
		cases:     caseManager,
		tracer:    otel.Tracer("shrike/screening"),
	}
}

// OnTransaction screens one stored transaction end to end. The pipeline is
// build event, score risk, evaluate enabled rules, merge the decision, then
// write back compliance status and open a case when the final action is not
// ALLOW. A transaction that already has a case fails with ErrAlreadyScreened.
func (s *Service) OnTransaction(ctx context.Context, txID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "screening.OnTransaction",
		trace.WithAttributes(attribute.String("transaction.id", txID)))
	defer span.End()

	if existing, err := s.repo.GetCaseByTransaction(ctx, txID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: case %s", ErrAlreadyScreened, existing.ID)
	}

	ev, err := s.builder.Build(ctx, txID)
	if err != nil {
		return nil, err
	}

	score, err := s.scorer.Score(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	ev.RiskScore = score.Score
	ev.RiskLevel = score.Level

	if err := s.repo.SaveEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to save event: %w", err)
	}

	enabled, err := s.store.EnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled rules: %w", err)
	}

	evaluations := make([]RuleEvaluation, 0, len(enabled))
	hits := make([]*domain.FraudHit, 0)
	ruleNames := make(map[string]string, len(enabled))
	executed := make([]domain.RuleSnapshot, 0, len(enabled))
	hitSnapshots := make([]domain.RuleSnapshot, 0)

	for _, r := range enabled {
		matched, err := s.evaluator.Evaluate(ctx, r.Definition, ev)
		if err != nil {
			return nil, fmt.Errorf("rule %s evaluation failed: %w", r.Code, err)
		}

		snapshot := domain.RuleSnapshot{
			RuleID:  r.ID,
			Code:    r.Code,
			Name:    r.Name,
			Version: r.Version,
			Action:  r.Definition.Then.Action,
			Reason:  r.Definition.Then.Reason,
		}
		executed = append(executed, snapshot)
		ruleNames[r.ID] = r.Name

		eval := RuleEvaluation{
			RuleID:   r.ID,
			RuleCode: r.Code,
			Version:  r.Version,
			Matched:  matched,
		}
		if matched {
			eval.Action = r.Definition.Then.Action
			eval.Reason = r.Definition.Then.Reason
			hitSnapshots = append(hitSnapshots, snapshot)

			hit := &domain.FraudHit{
				ID:        uuid.New().String(),
				EventID:   ev.ID,
				RuleID:    r.ID,
				RuleCode:  r.Code,
				Action:    r.Definition.Then.Action,
				Reason:    r.Definition.Then.Reason,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.repo.SaveHit(ctx, hit); err != nil {
				return nil, fmt.Errorf("failed to save hit for rule %s: %w", r.Code, err)
			}
			hits = append(hits, hit)
		}
		evaluations = append(evaluations, eval)
	}

	final, synthetic, err := s.merger.Finalize(ctx, ev, hits)
	if err != nil {
		return nil, err
	}
	for _, hit := range synthetic {
		if err := s.repo.SaveHit(ctx, hit); err != nil {
			return nil, fmt.Errorf("failed to save escalation hit: %w", err)
		}
		hits = append(hits, hit)
		hitSnapshots = append(hitSnapshots, domain.RuleSnapshot{
			Code:   domain.SystemRuleCode,
			Name:   domain.SystemRuleName,
			Action: hit.Action,
			Reason: hit.Reason,
		})
	}

	if err := s.repo.UpdateTransactionCompliance(ctx, txID, string(final), domain.ComplianceSubStatusScreening, executed, hitSnapshots); err != nil {
		return nil, fmt.Errorf("failed to update transaction compliance: %w", err)
	}

	result := &Result{
		TransactionID: txID,
		EventID:       ev.ID,
		Action:        final,
		RiskScore:     score.Score,
		RiskLevel:     score.Level,
		Evaluations:   evaluations,
	}

	if final != domain.ActionAllow {
		c, err := s.cases.Open(ctx, ev, final, hits, ruleNames)
		if err != nil {
			return nil, err
		}
		result.CaseID = c.ID
		s.publish(ctx, domain.TopicCaseOpened, map[string]any{
			"caseId":        c.ID,
			"transactionId": txID,
			"userId":        ev.UserID,
			"action":        final,
		})
	}

	s.publish(ctx, domain.TopicDecision, map[string]any{
		"transactionId": txID,
		"eventId":       ev.ID,
		"action":        final,
		"riskLevel":     score.Level,
		"riskScore":     score.Score,
		"caseId":        result.CaseID,
	})

	span.SetAttributes(attribute.String("screening.action", string(final)))
	slog.Info("transaction screened",
		"transaction_id", txID,
		"action", final,
		"risk_level", score.Level,
		"hits", len(hits),
		"case_id", result.CaseID,
	)

	return result, nil
}

// publish emits a pipeline event; bus failures are logged, not fatal, since
// the decision is already durable in the repository.
func (s *Service) publish(ctx context.Context, topic string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
