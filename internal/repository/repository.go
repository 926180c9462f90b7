// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction record.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.UserID == "" {
		return fmt.Errorf("%w: transaction id and user id are required", ErrInvalidInput)
	}

	executed, _ := json.Marshal(tx.ExecutedRules)
	hits, _ := json.Marshal(tx.HitRules)

	query := `
		INSERT INTO transactions (
			id, type, amount, currency, final_currency, user_id,
			counterparty_user_id, payment_method, ip, status,
			compliance_status, compliance_sub_status, executed_rules, hit_rules,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Type, tx.Amount, tx.Currency, tx.FinalCurrency,
		tx.UserID, tx.CounterpartyUserID, tx.PaymentMethod, tx.IP, tx.Status,
		tx.ComplianceStatus, tx.ComplianceSubStatus, string(executed), string(hits),
		tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, type, amount, currency, final_currency, user_id,
		       counterparty_user_id, payment_method, ip, status,
		       compliance_status, compliance_sub_status, executed_rules, hit_rules,
		       created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var finalCurrency, counterparty, method, ip sql.NullString
	var compStatus, compSubStatus, executed, hits sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.Type, &tx.Amount, &tx.Currency, &finalCurrency,
		&tx.UserID, &counterparty, &method, &ip, &tx.Status,
		&compStatus, &compSubStatus, &executed, &hits,
		&tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.FinalCurrency = finalCurrency.String
	tx.CounterpartyUserID = counterparty.String
	tx.PaymentMethod = method.String
	tx.IP = ip.String
	tx.ComplianceStatus = compStatus.String
	tx.ComplianceSubStatus = compSubStatus.String
	if executed.String != "" {
		json.Unmarshal([]byte(executed.String), &tx.ExecutedRules)
	}
	if hits.String != "" {
		json.Unmarshal([]byte(hits.String), &tx.HitRules)
	}

	return &tx, nil
}

// UpdateTransactionCompliance writes back the screening outcome.
func (r *SQLRepository) UpdateTransactionCompliance(ctx context.Context, txID string, status string, subStatus string, executed []domain.RuleSnapshot, hits []domain.RuleSnapshot) error {
	executedJSON, _ := json.Marshal(executed)
	hitsJSON, _ := json.Marshal(hits)

	query := `
		UPDATE transactions
		SET compliance_status = ?, compliance_sub_status = ?,
		    executed_rules = ?, hit_rules = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		status, subStatus, string(executedJSON), string(hitsJSON), txID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountOtherTransactions counts a user's transactions excluding the given one.
func (r *SQLRepository) CountOtherTransactions(ctx context.Context, userID string, excludeTxID string) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND id != ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, excludeTxID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountFailedTransactions counts a user's failed-outcome transactions since
// the given time.
func (r *SQLRepository) CountFailedTransactions(ctx context.Context, userID string, since time.Time) (int64, error) {
	placeholders := make([]string, len(domain.FailedTxStatuses))
	args := []any{userID, since}
	for i, s := range domain.FailedTxStatuses {
		placeholders[i] = "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND created_at >= ? AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountNegativeCompliance counts a user's transactions with a negative
// compliance status.
func (r *SQLRepository) CountNegativeCompliance(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND compliance_status IN (?, ?, ?)
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		userID, string(domain.ActionBlock), string(domain.ActionFlag), string(domain.ActionSuspend),
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AggregateTransactions computes a windowed aggregate metric for the
// rule evaluator.
func (r *SQLRepository) AggregateTransactions(ctx context.Context, q domain.AggregateQuery) (float64, error) {
	var groupCol string
	switch q.GroupBy {
	case domain.GroupByUser:
		groupCol = "user_id"
	case domain.GroupByCounterparty:
		groupCol = "counterparty_user_id"
	default:
		return 0, fmt.Errorf("%w: unsupported group key %q", ErrInvalidInput, q.GroupBy)
	}

	var selectExpr string
	switch q.Metric {
	case domain.AggCountTx:
		selectExpr = "COUNT(*)"
	case domain.AggTotalAmount:
		selectExpr = "COALESCE(SUM(amount), 0)"
	case domain.AggAvgAmount:
		selectExpr = "COALESCE(AVG(amount), 0)"
	case domain.AggUniqueCounterparties:
		selectExpr = "COUNT(DISTINCT counterparty_user_id)"
	default:
		return 0, fmt.Errorf("%w: unsupported aggregate metric %q", ErrInvalidInput, q.Metric)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE %s = ? AND created_at >= ?
	`, selectExpr, groupCol)
	args := []any{q.GroupValue, q.Since}

	if q.Metric == domain.AggUniqueCounterparties {
		query += ` AND counterparty_user_id IS NOT NULL AND counterparty_user_id != ''`
	}
	if q.TxType != "" {
		query += ` AND type = ?`
		args = append(args, q.TxType)
	}

	var value float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// SaveUser stores a user record, replacing the profile fields on conflict.
func (r *SQLRepository) SaveUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	business := 0
	if u.Business {
		business = 1
	}

	query := `
		INSERT INTO users (id, email, country, business, kyc_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			country = excluded.country,
			business = excluded.business,
			kyc_name = excluded.kyc_name
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		u.ID, u.Email, u.Country, business, u.KYCName, u.CreatedAt,
	)
	return err
}

// GetUser retrieves a user by ID. Returns (nil, nil) when the user does not
// exist; missing users are an expected condition for the risk scorer.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, email, country, business, kyc_name, created_at
		FROM users
		WHERE id = ?
	`

	var u domain.User
	var country, kycName sql.NullString
	var business int

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&u.ID, &u.Email, &country, &business, &kycName, &u.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.Country = country.String
	u.KYCName = kycName.String
	u.Business = business == 1

	return &u, nil
}

// SaveRule inserts a new rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	definition, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}
	tags, _ := json.Marshal(rule.Tags)

	query := `
		INSERT INTO fraud_rules (
			id, code, name, description, enabled, archived, archived_at,
			version, definition, tags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Code, rule.Name, rule.Description,
		boolToInt(rule.Enabled), boolToInt(rule.Archived), rule.ArchivedAt,
		rule.Version, string(definition), string(tags),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// UpdateRule replaces a rule row by id.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	definition, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}
	tags, _ := json.Marshal(rule.Tags)

	query := `
		UPDATE fraud_rules
		SET code = ?, name = ?, description = ?, enabled = ?, archived = ?,
		    archived_at = ?, version = ?, definition = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Code, rule.Name, rule.Description,
		boolToInt(rule.Enabled), boolToInt(rule.Archived), rule.ArchivedAt,
		rule.Version, string(definition), string(tags), rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

const ruleColumns = `id, code, name, description, enabled, archived, archived_at,
	       version, definition, tags, created_at, updated_at`

// GetRuleByID retrieves a rule by its internal id.
func (r *SQLRepository) GetRuleByID(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE id = ?`
	return r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
}

// GetRuleByCode retrieves a rule by its human code.
func (r *SQLRepository) GetRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE code = ?`
	return r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), code))
}

func (r *SQLRepository) scanRule(row *sql.Row) (*domain.Rule, error) {
	var rule domain.Rule
	var description, definition, tags sql.NullString
	var enabled, archived int
	var archivedAt sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.Code, &rule.Name, &description, &enabled, &archived,
		&archivedAt, &rule.Version, &definition, &tags,
		&rule.CreatedAt, &rule.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Enabled = enabled == 1
	rule.Archived = archived == 1
	if archivedAt.Valid {
		t := archivedAt.Time
		rule.ArchivedAt = &t
	}
	if err := json.Unmarshal([]byte(definition.String), &rule.Definition); err != nil {
		return nil, fmt.Errorf("failed to parse rule definition for %s: %w", rule.ID, err)
	}
	if tags.String != "" {
		json.Unmarshal([]byte(tags.String), &rule.Tags)
	}

	return &rule, nil
}

// ListRules retrieves rules sorted by code ascending. Archived rules are
// excluded; enabledOnly additionally filters to enabled rules.
func (r *SQLRepository) ListRules(ctx context.Context, enabledOnly bool) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE archived = 0`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY code ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var description, definition, tags sql.NullString
		var enabled, archived int
		var archivedAt sql.NullTime

		if err := rows.Scan(
			&rule.ID, &rule.Code, &rule.Name, &description, &enabled, &archived,
			&archivedAt, &rule.Version, &definition, &tags,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Enabled = enabled == 1
		rule.Archived = archived == 1
		if archivedAt.Valid {
			t := archivedAt.Time
			rule.ArchivedAt = &t
		}
		if err := json.Unmarshal([]byte(definition.String), &rule.Definition); err != nil {
			return nil, fmt.Errorf("failed to parse rule definition for %s: %w", rule.ID, err)
		}
		if tags.String != "" {
			json.Unmarshal([]byte(tags.String), &rule.Tags)
		}

		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveRuleVersion appends an immutable version snapshot.
func (r *SQLRepository) SaveRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	definition, err := json.Marshal(v.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal version definition: %w", err)
	}

	query := `
		INSERT INTO fraud_rule_versions (id, rule_id, version, definition, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		v.ID, v.RuleID, v.Version, string(definition), v.CreatedAt,
	)
	return err
}

// ListRuleVersions retrieves a rule's version history, oldest first.
func (r *SQLRepository) ListRuleVersions(ctx context.Context, ruleID string) ([]*domain.RuleVersion, error) {
	query := `
		SELECT id, rule_id, version, definition, created_at
		FROM fraud_rule_versions
		WHERE rule_id = ?
		ORDER BY version ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.RuleVersion
	for rows.Next() {
		var v domain.RuleVersion
		var definition string

		if err := rows.Scan(&v.ID, &v.RuleID, &v.Version, &definition, &v.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(definition), &v.Definition); err != nil {
			return nil, fmt.Errorf("failed to parse version definition for %s: %w", v.ID, err)
		}

		versions = append(versions, &v)
	}

	return versions, rows.Err()
}

// SaveEvent stores an evaluation event.
func (r *SQLRepository) SaveEvent(ctx context.Context, ev *domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
		INSERT INTO fraud_events (id, transaction_id, user_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.TransactionID, ev.UserID, string(payload), ev.CreatedAt,
	)
	return err
}

// GetEvent retrieves an evaluation event by ID.
func (r *SQLRepository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	query := `SELECT payload FROM fraud_events WHERE id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), eventID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var ev domain.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}

	return &ev, nil
}

// SaveHit stores a fraud hit record.
func (r *SQLRepository) SaveHit(ctx context.Context, hit *domain.FraudHit) error {
	query := `
		INSERT INTO fraud_hits (id, event_id, rule_id, rule_code, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		hit.ID, hit.EventID, hit.RuleID, hit.RuleCode,
		string(hit.Action), hit.Reason, hit.CreatedAt,
	)
	return err
}

// ListHitsByEvent retrieves all hits recorded for an event, oldest first.
func (r *SQLRepository) ListHitsByEvent(ctx context.Context, eventID string) ([]*domain.FraudHit, error) {
	query := `
		SELECT id, event_id, rule_id, rule_code, action, reason, created_at
		FROM fraud_hits
		WHERE event_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*domain.FraudHit
	for rows.Next() {
		var h domain.FraudHit
		var ruleID, reason sql.NullString
		var action string

		if err := rows.Scan(&h.ID, &h.EventID, &ruleID, &h.RuleCode, &action, &reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.RuleID = ruleID.String
		h.Action = domain.Action(action)
		h.Reason = reason.String

		hits = append(hits, &h)
	}

	return hits, rows.Err()
}

// UpsertRiskScore overwrites the per-user risk row.
func (r *SQLRepository) UpsertRiskScore(ctx context.Context, score *domain.UserRiskScore) error {
	reasons, _ := json.Marshal(score.Reasons)

	query := `
		INSERT INTO user_risk_scores (user_id, score, level, reasons, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			score = excluded.score,
			level = excluded.level,
			reasons = excluded.reasons,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.UserID, score.Score, string(score.Level), string(reasons), score.UpdatedAt,
	)
	return err
}

// GetRiskScore retrieves the per-user risk row.
func (r *SQLRepository) GetRiskScore(ctx context.Context, userID string) (*domain.UserRiskScore, error) {
	query := `
		SELECT user_id, score, level, reasons, updated_at
		FROM user_risk_scores
		WHERE user_id = ?
	`

	var s domain.UserRiskScore
	var level string
	var reasons sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&s.UserID, &s.Score, &level, &reasons, &s.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Level = domain.RiskLevel(level)
	if reasons.String != "" {
		json.Unmarshal([]byte(reasons.String), &s.Reasons)
	}

	return &s, nil
}

// CreateCase persists the case, its hit-rule snapshots and the initial
// action-log entry in one database transaction.
func (r *SQLRepository) CreateCase(ctx context.Context, c *domain.FraudCase, hits []*domain.CaseHitRule, initial *domain.ActionLogEntry) error {
	payload, _ := json.Marshal(c.Payload)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	caseQuery := `
		INSERT INTO fraud_cases (
			id, event_id, transaction_id, user_id, status, action,
			resolution_action, resolution_reason, payload,
			opened_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := dbTx.ExecContext(ctx, r.rebind(caseQuery),
		c.ID, c.EventID, c.TransactionID, c.UserID,
		string(c.Status), string(c.Action),
		string(c.ResolutionAction), c.ResolutionReason, string(payload),
		c.OpenedAt, c.UpdatedAt, c.ClosedAt,
	); err != nil {
		return err
	}

	hitQuery := `
		INSERT INTO case_hit_rules (id, case_id, rule_id, rule_code, rule_name, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, h := range hits {
		if _, err := dbTx.ExecContext(ctx, r.rebind(hitQuery),
			h.ID, h.CaseID, h.RuleID, h.RuleCode, h.RuleName,
			string(h.Action), h.Reason, h.CreatedAt,
		); err != nil {
			return err
		}
	}

	if initial != nil {
		logQuery := `
			INSERT INTO case_action_logs (id, case_id, action, note, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := dbTx.ExecContext(ctx, r.rebind(logQuery),
			initial.ID, initial.CaseID, initial.Action, initial.Note, initial.Actor, initial.CreatedAt,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

const caseColumns = `id, event_id, transaction_id, user_id, status, action,
	       resolution_action, resolution_reason, payload,
	       opened_at, updated_at, closed_at`

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.FraudCase, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases WHERE id = ?`
	return r.scanCase(r.db.QueryRowContext(ctx, r.rebind(query), caseID))
}

// GetCaseByTransaction retrieves the case opened for a transaction, if any.
func (r *SQLRepository) GetCaseByTransaction(ctx context.Context, txID string) (*domain.FraudCase, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases WHERE transaction_id = ? ORDER BY opened_at ASC LIMIT 1`
	return r.scanCase(r.db.QueryRowContext(ctx, r.rebind(query), txID))
}

func (r *SQLRepository) scanCase(row *sql.Row) (*domain.FraudCase, error) {
	var c domain.FraudCase
	var status, action string
	var resolutionAction, resolutionReason, payload sql.NullString
	var closedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.EventID, &c.TransactionID, &c.UserID, &status, &action,
		&resolutionAction, &resolutionReason, &payload,
		&c.OpenedAt, &c.UpdatedAt, &closedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = domain.CaseStatus(status)
	c.Action = domain.Action(action)
	c.ResolutionAction = domain.Action(resolutionAction.String)
	c.ResolutionReason = resolutionReason.String
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	if payload.String != "" && payload.String != "null" {
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload.String), &ev); err == nil {
			c.Payload = &ev
		}
	}

	return &c, nil
}

// UpdateCase replaces the mutable case fields.
func (r *SQLRepository) UpdateCase(ctx context.Context, c *domain.FraudCase) error {
	query := `
		UPDATE fraud_cases
		SET status = ?, action = ?, resolution_action = ?, resolution_reason = ?,
		    updated_at = ?, closed_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(c.Status), string(c.Action),
		string(c.ResolutionAction), c.ResolutionReason,
		c.UpdatedAt, c.ClosedAt,
		c.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// AppendActionLog appends one timeline entry. Prior entries are never edited.
func (r *SQLRepository) AppendActionLog(ctx context.Context, entry *domain.ActionLogEntry) error {
	query := `
		INSERT INTO case_action_logs (id, case_id, action, note, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.CaseID, entry.Action, entry.Note, entry.Actor, entry.CreatedAt,
	)
	return err
}

// ListActionLogs retrieves a case's timeline ordered by creation.
func (r *SQLRepository) ListActionLogs(ctx context.Context, caseID string) ([]*domain.ActionLogEntry, error) {
	query := `
		SELECT id, case_id, action, note, actor, created_at
		FROM case_action_logs
		WHERE case_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ActionLogEntry
	for rows.Next() {
		var e domain.ActionLogEntry
		var note, actor sql.NullString

		if err := rows.Scan(&e.ID, &e.CaseID, &e.Action, &note, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Note = note.String
		e.Actor = actor.String

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// ListCaseHitRules retrieves a case's hit-rule snapshots ordered by creation.
func (r *SQLRepository) ListCaseHitRules(ctx context.Context, caseID string) ([]*domain.CaseHitRule, error) {
	query := `
		SELECT id, case_id, rule_id, rule_code, rule_name, action, reason, created_at
		FROM case_hit_rules
		WHERE case_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*domain.CaseHitRule
	for rows.Next() {
		var h domain.CaseHitRule
		var ruleID, ruleName, reason sql.NullString
		var action string

		if err := rows.Scan(&h.ID, &h.CaseID, &ruleID, &h.RuleCode, &ruleName, &action, &reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.RuleID = ruleID.String
		h.RuleName = ruleName.String
		h.Action = domain.Action(action)
		h.Reason = reason.String

		hits = append(hits, &h)
	}

	return hits, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
