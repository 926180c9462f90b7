package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

// ErrInvalidDefinition marks a rule definition that fails validation.
var ErrInvalidDefinition = errors.New("invalid rule definition")

// Store manages versioned, immutable-by-replacement rule definitions.
// Every mutation writes through the repository and invalidates the cached
// enabled rule set; version snapshots are appended, never rewritten.
type Store struct {
	repo      domain.Repository
	cache     domain.Cache
	evaluator *Evaluator
	cacheTTL  time.Duration
}

// NewStore creates a rule store. The evaluator is used to validate
// expression conditions at write time; cache may be nil.
func NewStore(repo domain.Repository, cache domain.Cache, evaluator *Evaluator, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Store{
		repo:      repo,
		cache:     cache,
		evaluator: evaluator,
		cacheTTL:  cacheTTL,
	}
}

// CreateInput holds the fields for a new rule.
type CreateInput struct {
	Code        string            `json:"code"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Definition  domain.Definition `json:"definition"`
	Tags        []string          `json:"tags,omitempty"`
}

// UpdateInput holds the fields for a rule update. A nil Definition keeps the
// previous definition but still bumps the version.
type UpdateInput struct {
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Definition  *domain.Definition `json:"definition,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
}

// Create validates and stores a new rule at version 1 (or the version the
// definition specifies), together with its first version snapshot.
func (s *Store) Create(ctx context.Context, in CreateInput) (*domain.Rule, error) {
	if in.Code == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrInvalidDefinition)
	}
	if err := s.ValidateDefinition(in.Definition); err != nil {
		return nil, err
	}

	version := in.Definition.Version
	if version <= 0 {
		version = 1
	}

	now := time.Now().UTC()
	rule := &domain.Rule{
		ID:          uuid.New().String(),
		Code:        in.Code,
		Name:        in.Name,
		Description: in.Description,
		Enabled:     true,
		Version:     version,
		Definition:  in.Definition,
		Tags:        in.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rule.Definition.Version = version

	if err := s.repo.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}
	if err := s.snapshot(ctx, rule); err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	slog.Info("rule created", "rule_id", rule.ID, "code", rule.Code, "version", rule.Version)

	return rule, nil
}

// Update bumps the rule version and appends a new snapshot. Omitting the
// definition keeps the previous one but still increments the version.
func (s *Store) Update(ctx context.Context, idOrCode string, in UpdateInput) (*domain.Rule, error) {
	rule, err := s.Get(ctx, idOrCode)
	if err != nil {
		return nil, err
	}

	if in.Definition != nil {
		if err := s.ValidateDefinition(*in.Definition); err != nil {
			return nil, err
		}
		rule.Definition = *in.Definition
	}
	if in.Name != "" {
		rule.Name = in.Name
	}
	if in.Description != "" {
		rule.Description = in.Description
	}
	if in.Tags != nil {
		rule.Tags = in.Tags
	}

	rule.Version++
	rule.Definition.Version = rule.Version
	rule.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	if err := s.snapshot(ctx, rule); err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	slog.Info("rule updated", "rule_id", rule.ID, "code", rule.Code, "version", rule.Version)

	return rule, nil
}

// Enable re-enables a rule.
func (s *Store) Enable(ctx context.Context, idOrCode string) (*domain.Rule, error) {
	return s.setEnabled(ctx, idOrCode, true)
}

// Disable disables a rule without archiving it.
func (s *Store) Disable(ctx context.Context, idOrCode string) (*domain.Rule, error) {
	return s.setEnabled(ctx, idOrCode, false)
}

func (s *Store) setEnabled(ctx context.Context, idOrCode string, enabled bool) (*domain.Rule, error) {
	rule, err := s.Get(ctx, idOrCode)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.invalidate(ctx)
	slog.Info("rule toggled", "rule_id", rule.ID, "code", rule.Code, "enabled", enabled)

	return rule, nil
}

// Archive disables and archives a rule. Archival is terminal through this
// interface; rules are never hard-deleted.
func (s *Store) Archive(ctx context.Context, idOrCode string) (*domain.Rule, error) {
	rule, err := s.Get(ctx, idOrCode)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule.Enabled = false
	rule.Archived = true
	rule.ArchivedAt = &now
	rule.UpdatedAt = now

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to archive rule: %w", err)
	}

	s.invalidate(ctx)
	slog.Info("rule archived", "rule_id", rule.ID, "code", rule.Code)

	return rule, nil
}

// Get resolves a rule by internal id first, then by human code.
func (s *Store) Get(ctx context.Context, idOrCode string) (*domain.Rule, error) {
	rule, err := s.repo.GetRuleByID(ctx, idOrCode)
	if err == nil {
		return rule, nil
	}
	return s.repo.GetRuleByCode(ctx, idOrCode)
}

// List returns non-archived rules sorted by code ascending.
func (s *Store) List(ctx context.Context, enabledOnly bool) ([]*domain.Rule, error) {
	return s.repo.ListRules(ctx, enabledOnly)
}

// Versions returns a rule's immutable version history, oldest first.
func (s *Store) Versions(ctx context.Context, idOrCode string) ([]*domain.RuleVersion, error) {
	rule, err := s.Get(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRuleVersions(ctx, rule.ID)
}

// EnabledRules returns the enabled rule set, served from cache when fresh.
func (s *Store) EnabledRules(ctx context.Context) ([]*domain.Rule, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, domain.CacheKeyEnabledRules); err == nil && data != nil {
			var rules []*domain.Rule
			if err := json.Unmarshal(data, &rules); err == nil {
				return rules, nil
			}
		}
	}

	rules, err := s.repo.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(rules); err == nil {
			_ = s.cache.Set(ctx, domain.CacheKeyEnabledRules, data, s.cacheTTL)
		}
	}

	return rules, nil
}

// ValidateDefinition rejects definitions that could not evaluate: unknown
// operators or metrics, malformed windows, non-compiling expressions.
// Validating at write time keeps evaluation-time failures to data access.
func (s *Store) ValidateDefinition(def domain.Definition) error {
	if !def.Then.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDefinition, def.Then.Action)
	}

	for _, cond := range append(append([]domain.Condition{}, def.When.All...), def.When.Any...) {
		if err := s.validateCondition(cond); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) validateCondition(cond domain.Condition) error {
	switch {
	case cond.IsExpr():
		if s.evaluator != nil {
			if _, err := compileExpr(s.evaluator.env, cond.Expr); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
			}
		}
	case cond.IsAggregate():
		switch cond.Agg {
		case domain.AggCountTx, domain.AggTotalAmount, domain.AggAvgAmount, domain.AggUniqueCounterparties:
		default:
			return fmt.Errorf("%w: unknown aggregate metric %q", ErrInvalidDefinition, cond.Agg)
		}
		if _, err := ParseWindow(cond.Window); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		switch cond.GroupBy {
		case domain.GroupByUser, domain.GroupByCounterparty:
		default:
			return fmt.Errorf("%w: unknown group key %q", ErrInvalidDefinition, cond.GroupBy)
		}
		if _, ok := toNumber(cond.Value); !ok {
			return fmt.Errorf("%w: aggregate threshold %v is not numeric", ErrInvalidDefinition, cond.Value)
		}
	case cond.Field != "":
		switch cond.Op {
		case domain.OpEQ, domain.OpNE, domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE,
			domain.OpIn, domain.OpNotIn, domain.OpBetween, domain.OpContains:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidDefinition, cond.Op)
		}
	default:
		return fmt.Errorf("%w: condition has no field, aggregate or expression", ErrInvalidDefinition)
	}

	return nil
}

func (s *Store) snapshot(ctx context.Context, rule *domain.Rule) error {
	v := &domain.RuleVersion{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		Version:    rule.Version,
		Definition: rule.Definition,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.SaveRuleVersion(ctx, v); err != nil {
		return fmt.Errorf("failed to save rule version snapshot: %w", err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, domain.CacheKeyEnabledRules)
	}
}
