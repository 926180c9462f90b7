package domain

import (
	"time"
)

// Field condition operators.
const (
	OpEQ       = "EQ"
	OpNE       = "NE"
	OpGT       = ">"
	OpGTE      = ">="
	OpLT       = "<"
	OpLTE      = "<="
	OpIn       = "IN"
	OpNotIn    = "NOT_IN"
	OpBetween  = "BETWEEN"
	OpContains = "CONTAINS"
)

// Aggregate metrics.
const (
	AggCountTx              = "COUNT_TX"
	AggTotalAmount          = "TOTAL_AMOUNT"
	AggAvgAmount            = "AVG_AMOUNT"
	AggUniqueCounterparties = "UNIQUE_COUNTERPARTIES"
)

// Aggregate group keys, resolved against the event.
const (
	GroupByUser         = "userId"
	GroupByCounterparty = "counterpartyId"
)

// Rule is a declarative fraud rule. Rules are immutable by replacement:
// every update bumps the version and appends a RuleVersion snapshot.
// Rules are never hard-deleted; archiving is the terminal state.
type Rule struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	Archived    bool       `json:"archived"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
	Version     int        `json:"version"`
	Definition  Definition `json:"definition"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RuleVersion is an immutable snapshot of a rule definition at one version.
type RuleVersion struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"ruleId"`
	Version    int        `json:"version"`
	Definition Definition `json:"definition"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Definition is the declarative body of a rule.
// If both when.all and when.any are present, all wins; a definition with
// neither never matches.
type Definition struct {
	Version int  `json:"version,omitempty"`
	When    When `json:"when"`
	Then    Then `json:"then"`
}

// When combines conditions. All is a short-circuit AND, Any a short-circuit OR.
type When struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// Then names the action and reason a matching rule produces.
type Then struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Condition is a leaf predicate. Exactly one of the three variants applies:
// a field condition (Field set), an aggregate condition (Agg set), or an
// expression condition (Expr set).
type Condition struct {
	// Field condition: compare an event attribute against a literal.
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	// Aggregate condition: compare a windowed historical metric against Value.
	Agg     string        `json:"agg,omitempty"`
	Window  string        `json:"window,omitempty"`
	GroupBy string        `json:"group_by,omitempty"`
	Where   *WhereClause  `json:"where,omitempty"`

	// Expression condition: a CEL expression over the event variables.
	Expr string `json:"expr,omitempty"`
}

// WhereClause narrows the transaction set an aggregate condition runs over.
type WhereClause struct {
	TxType string `json:"tx_type,omitempty"`
}

// IsAggregate reports whether the condition is the aggregate variant.
func (c Condition) IsAggregate() bool { return c.Agg != "" }

// IsExpr reports whether the condition is the expression variant.
func (c Condition) IsExpr() bool { return c.Expr != "" }

// FraudHit records one rule firing against one event. Hits are written at
// evaluation time and never mutated.
type FraudHit struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	RuleID    string    `json:"ruleId,omitempty"`
	RuleCode  string    `json:"ruleCode"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Synthetic reports whether the hit was injected by the escalation policy
// rather than produced by a stored rule.
func (h *FraudHit) Synthetic() bool {
	return h.RuleCode == SystemRuleCode
}
