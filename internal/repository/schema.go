package repository

// Schema definitions for the Shrike database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    final_currency TEXT,
    user_id TEXT NOT NULL,
    counterparty_user_id TEXT,
    payment_method TEXT,
    ip TEXT,
    status TEXT NOT NULL,
    compliance_status TEXT,
    compliance_sub_status TEXT,
    executed_rules TEXT,
    hit_rules TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_counterparty ON transactions(counterparty_user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(user_id, status);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    country TEXT,
    business INTEGER NOT NULL DEFAULT 0,
    kyc_name TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    archived INTEGER NOT NULL DEFAULT 0,
    archived_at TIMESTAMP,
    version INTEGER NOT NULL DEFAULT 1,
    definition TEXT NOT NULL,
    tags TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_code ON fraud_rules(code);
CREATE INDEX IF NOT EXISTS idx_fraud_rules_enabled ON fraud_rules(enabled, archived);
`

const schemaRuleVersions = `
CREATE TABLE IF NOT EXISTS fraud_rule_versions (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    definition TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (rule_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_rule ON fraud_rule_versions(rule_id, version);
`

const schemaEvents = `
CREATE TABLE IF NOT EXISTS fraud_events (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_events_tx ON fraud_events(transaction_id);
`

const schemaHits = `
CREATE TABLE IF NOT EXISTS fraud_hits (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    rule_id TEXT,
    rule_code TEXT NOT NULL,
    action TEXT NOT NULL,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_hits_event ON fraud_hits(event_id);
`

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS user_risk_scores (
    user_id TEXT PRIMARY KEY,
    score INTEGER NOT NULL,
    level TEXT NOT NULL,
    reasons TEXT,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    action TEXT NOT NULL,
    resolution_action TEXT,
    resolution_reason TEXT,
    payload TEXT,
    opened_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_tx ON fraud_cases(transaction_id);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_user ON fraud_cases(user_id);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status);
`

const schemaActionLogs = `
CREATE TABLE IF NOT EXISTS case_action_logs (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    action TEXT NOT NULL,
    note TEXT,
    actor TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_action_logs_case ON case_action_logs(case_id, created_at);
`

const schemaCaseHitRules = `
CREATE TABLE IF NOT EXISTS case_hit_rules (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    rule_id TEXT,
    rule_code TEXT NOT NULL,
    rule_name TEXT,
    action TEXT NOT NULL,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_hit_rules_case ON case_hit_rules(case_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaUsers,
		schemaRules,
		schemaRuleVersions,
		schemaEvents,
		schemaHits,
		schemaRiskScores,
		schemaCases,
		schemaActionLogs,
		schemaCaseHitRules,
	}
}
