package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations. GetUser returns (nil, nil) when the user does
	// not exist; GetTransaction fails with the repository's not-found error.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	UpdateTransactionCompliance(ctx context.Context, txID string, status string, subStatus string, executed []RuleSnapshot, hits []RuleSnapshot) error
	CountOtherTransactions(ctx context.Context, userID string, excludeTxID string) (int64, error)
	CountFailedTransactions(ctx context.Context, userID string, since time.Time) (int64, error)
	CountNegativeCompliance(ctx context.Context, userID string) (int64, error)
	AggregateTransactions(ctx context.Context, q AggregateQuery) (float64, error)

	// User operations.
	SaveUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID string) (*User, error)

	// Rule operations.
	SaveRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	GetRuleByID(ctx context.Context, ruleID string) (*Rule, error)
	GetRuleByCode(ctx context.Context, code string) (*Rule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*Rule, error)
	SaveRuleVersion(ctx context.Context, v *RuleVersion) error
	ListRuleVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error)

	// Evaluation artifacts.
	SaveEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	SaveHit(ctx context.Context, hit *FraudHit) error
	ListHitsByEvent(ctx context.Context, eventID string) ([]*FraudHit, error)

	// Risk scores.
	UpsertRiskScore(ctx context.Context, score *UserRiskScore) error
	GetRiskScore(ctx context.Context, userID string) (*UserRiskScore, error)

	// Case operations. CreateCase persists the case, its hit-rule snapshots
	// and the initial action-log entry in one database transaction.
	CreateCase(ctx context.Context, c *FraudCase, hits []*CaseHitRule, initial *ActionLogEntry) error
	GetCase(ctx context.Context, caseID string) (*FraudCase, error)
	GetCaseByTransaction(ctx context.Context, txID string) (*FraudCase, error)
	UpdateCase(ctx context.Context, c *FraudCase) error
	AppendActionLog(ctx context.Context, entry *ActionLogEntry) error
	ListActionLogs(ctx context.Context, caseID string) ([]*ActionLogEntry, error)
	ListCaseHitRules(ctx context.Context, caseID string) ([]*CaseHitRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AggregateQuery describes one windowed aggregate lookup issued by the
// rule evaluator.
type AggregateQuery struct {
	// Metric is one of the Agg* constants.
	Metric string

	// GroupBy names the event key the group value was resolved from,
	// GroupValue carries the resolved value.
	GroupBy    string
	GroupValue string

	// Since is the inclusive lower time boundary.
	Since time.Time

	// TxType, when set, narrows the aggregate to one transaction type.
	TxType string
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
