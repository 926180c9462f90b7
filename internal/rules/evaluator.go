// Package rules provides the declarative rule store and condition evaluator.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/shrike/internal/domain"
)

// AggregateFunc resolves one windowed aggregate metric for the evaluator.
type AggregateFunc func(ctx context.Context, q domain.AggregateQuery) (float64, error)

// Evaluator evaluates rule definitions against events. Field and aggregate
// conditions are interpreted directly; expression conditions compile to CEL
// programs which are cached per expression.
type Evaluator struct {
	mu        sync.RWMutex
	env       *cel.Env
	programs  map[string]cel.Program
	aggregate AggregateFunc
}

// NewEvaluator creates an evaluator backed by the given aggregate resolver.
func NewEvaluator(aggregate AggregateFunc) (*Evaluator, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		env:       env,
		programs:  make(map[string]cel.Program),
		aggregate: aggregate,
	}, nil
}

func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("transaction_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("counterparty_id", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("risk_score", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Evaluate runs a rule definition against one event.
// when.all is a short-circuit AND and wins when both branches are present;
// when.any is a short-circuit OR; a definition with neither never matches.
// Aggregate or expression errors abort the evaluation and propagate.
func (e *Evaluator) Evaluate(ctx context.Context, def domain.Definition, ev *domain.Event) (bool, error) {
	switch {
	case len(def.When.All) > 0:
		for _, cond := range def.When.All {
			ok, err := e.condition(ctx, cond, ev)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case len(def.When.Any) > 0:
		for _, cond := range def.When.Any {
			ok, err := e.condition(ctx, cond, ev)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, nil
	}
}

func (e *Evaluator) condition(ctx context.Context, cond domain.Condition, ev *domain.Event) (bool, error) {
	switch {
	case cond.IsExpr():
		return e.exprCondition(cond, ev)
	case cond.IsAggregate():
		return e.aggregateCondition(ctx, cond, ev)
	case cond.Field != "":
		return fieldCondition(cond, ev), nil
	default:
		return false, nil
	}
}

// fieldCondition compares one event attribute against the condition literal.
// Unknown fields and unrecognized operators evaluate to false, not errors.
func fieldCondition(cond domain.Condition, ev *domain.Event) bool {
	value, ok := ev.Field(cond.Field)
	if !ok {
		return false
	}

	switch cond.Op {
	case domain.OpEQ:
		return looseEqual(value, cond.Value)
	case domain.OpNE:
		return !looseEqual(value, cond.Value)
	case domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE:
		left, lok := toNumber(value)
		right, rok := toNumber(cond.Value)
		if !lok || !rok {
			return false
		}
		return compareNumbers(left, cond.Op, right)
	case domain.OpIn:
		items, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		return contains(items, value)
	case domain.OpNotIn:
		items, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		return !contains(items, value)
	case domain.OpBetween:
		bounds, ok := cond.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		v, vok := toNumber(value)
		low, lok := toNumber(bounds[0])
		high, hok := toNumber(bounds[1])
		if !vok || !lok || !hok {
			return false
		}
		return v >= low && v <= high
	case domain.OpContains:
		// The event field must be an array; checks membership of the literal.
		// This is how tag-based rules work, since tags is an array field.
		switch arr := value.(type) {
		case []string:
			for _, item := range arr {
				if looseEqual(item, cond.Value) {
					return true
				}
			}
		case []any:
			return contains(arr, cond.Value)
		}
		return false
	default:
		return false
	}
}

// aggregateCondition resolves the window and group key, runs the metric
// through the aggregate resolver and compares it to the threshold.
// A malformed window fails the evaluation rather than widening to all time.
func (e *Evaluator) aggregateCondition(ctx context.Context, cond domain.Condition, ev *domain.Event) (bool, error) {
	window, err := ParseWindow(cond.Window)
	if err != nil {
		return false, fmt.Errorf("aggregate condition: %w", err)
	}

	var groupValue string
	switch cond.GroupBy {
	case domain.GroupByUser:
		groupValue = ev.UserID
	case domain.GroupByCounterparty:
		groupValue = ev.CounterpartyID
	default:
		return false, fmt.Errorf("aggregate condition: unsupported group key %q", cond.GroupBy)
	}

	q := domain.AggregateQuery{
		Metric:     cond.Agg,
		GroupBy:    cond.GroupBy,
		GroupValue: groupValue,
		Since:      time.Now().UTC().Add(-window),
	}
	if cond.Where != nil {
		q.TxType = cond.Where.TxType
	}

	metric, err := e.aggregate(ctx, q)
	if err != nil {
		return false, fmt.Errorf("aggregate lookup failed: %w", err)
	}

	threshold, ok := toNumber(cond.Value)
	if !ok {
		return false, fmt.Errorf("aggregate condition: threshold %v is not numeric", cond.Value)
	}

	switch cond.Op {
	case domain.OpEQ:
		return metric == threshold, nil
	case domain.OpNE:
		return metric != threshold, nil
	case domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE:
		return compareNumbers(metric, cond.Op, threshold), nil
	default:
		return false, nil
	}
}

// exprCondition evaluates a CEL expression against the event variables.
func (e *Evaluator) exprCondition(cond domain.Condition, ev *domain.Event) (bool, error) {
	program, err := e.program(cond.Expr)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(ev.Variables())
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	if b, ok := out.(types.Bool); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("expression %q did not return bool", cond.Expr)
}

// program returns a compiled CEL program for the expression, compiling and
// caching it on first use.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.programs[expr]; ok {
		return program, nil
	}

	program, err := compileExpr(e.env, expr)
	if err != nil {
		return nil, err
	}

	e.programs[expr] = program
	return program, nil
}

func compileExpr(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expr, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}

	return program, nil
}

// ParseWindow parses a trailing-window token of the form <integer><unit>,
// unit one of m (minute), h (hour), d (day), w (week). Malformed tokens are
// rejected; there is no all-time fallback.
func ParseWindow(token string) (time.Duration, error) {
	if len(token) < 2 {
		return 0, fmt.Errorf("malformed window %q", token)
	}

	unit := token[len(token)-1]
	n, err := strconv.Atoi(token[:len(token)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("malformed window %q", token)
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("malformed window %q: unknown unit %q", token, string(unit))
	}
}

// toNumber coerces the supported literal types to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareNumbers(left float64, op string, right float64) bool {
	switch op {
	case domain.OpGT:
		return left > right
	case domain.OpGTE:
		return left >= right
	case domain.OpLT:
		return left < right
	case domain.OpLTE:
		return left <= right
	default:
		return false
	}
}

// looseEqual compares two values numerically when both sides coerce to
// numbers, and as strings otherwise.
func looseEqual(a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func contains(items []any, v any) bool {
	for _, item := range items {
		if looseEqual(item, v) {
			return true
		}
	}
	return false
}
