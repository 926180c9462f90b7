// Package domain defines the core interfaces and types for Shrike.
package domain

import (
	"time"
)

// Transaction statuses supplied by the payment collaborator.
const (
	TxStatusCompleted = "COMPLETED"
	TxStatusPending   = "PENDING"
	TxStatusFailed    = "FAILED"
	TxStatusRejected  = "REJECTED"
	TxStatusCancelled = "CANCELLED"
	TxStatusDeclined  = "DECLINED"
)

// FailedTxStatuses are the statuses counted as negative outcomes
// by the risk scorer.
var FailedTxStatuses = []string{
	TxStatusFailed,
	TxStatusRejected,
	TxStatusCancelled,
	TxStatusDeclined,
}

// ComplianceSubStatusScreening marks a compliance status as written
// by the fraud screening pipeline.
const ComplianceSubStatusScreening = "FRAUD_SCREENING"

// Transaction is a transaction record as supplied by the ledger collaborator.
// The screening engine reads it, and writes back the compliance fields once
// a decision has been made.
type Transaction struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type"`
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency"`
	FinalCurrency      string  `json:"finalCurrency,omitempty"`
	UserID             string  `json:"userId"`
	CounterpartyUserID string  `json:"counterpartyUserId,omitempty"`
	PaymentMethod      string  `json:"paymentMethod,omitempty"`
	IP                 string  `json:"ip,omitempty"`
	Status             string  `json:"status"`

	// Compliance fields written by the screening engine.
	ComplianceStatus    string         `json:"complianceStatus,omitempty"`
	ComplianceSubStatus string         `json:"complianceSubStatus,omitempty"`
	ExecutedRules       []RuleSnapshot `json:"executedRules,omitempty"`
	HitRules            []RuleSnapshot `json:"hitRules,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// RuleSnapshot is a compact copy of a rule taken at screening time.
// It is denormalized onto the transaction so the audit trail survives
// later rule mutations.
type RuleSnapshot struct {
	RuleID  string `json:"ruleId,omitempty"`
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version,omitempty"`
	Action  Action `json:"action,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// User is a user record as supplied by the identity collaborator.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Country   string    `json:"country,omitempty"`
	Business  bool      `json:"business"`
	KYCName   string    `json:"kycName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
