package domain

import (
	"time"
)

// CaseStatus is the workflow state of a fraud case.
// OPEN and UNDER_REVIEW may alternate; RESOLVED is terminal.
type CaseStatus string

const (
	CaseOpen        CaseStatus = "OPEN"
	CaseUnderReview CaseStatus = "UNDER_REVIEW"
	CaseResolved    CaseStatus = "RESOLVED"
)

// Valid reports whether the status is one of the known values.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseOpen, CaseUnderReview, CaseResolved:
		return true
	}
	return false
}

// FraudCase is the audit/workflow record opened when a transaction is not
// auto-allowed. The payload snapshot and hit-rule snapshots are copied at
// creation time and are independent of later rule mutations.
type FraudCase struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	TransactionID string     `json:"transactionId"`
	UserID        string     `json:"userId"`
	Status        CaseStatus `json:"status"`
	Action        Action     `json:"action"`

	// Resolution fields, set only by Resolve.
	ResolutionAction Action `json:"resolutionAction,omitempty"`
	ResolutionReason string `json:"resolutionReason,omitempty"`

	Payload *Event `json:"payload,omitempty"`

	OpenedAt  time.Time  `json:"openedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// ActionLogEntry is one line of a case's append-only timeline.
type ActionLogEntry struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"caseId"`
	Action    string    `json:"action"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CaseHitRule is the snapshot of one rule that contributed to opening a case.
type CaseHitRule struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"caseId"`
	RuleID    string    `json:"ruleId,omitempty"`
	RuleCode  string    `json:"ruleCode"`
	RuleName  string    `json:"ruleName,omitempty"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CaseDetail is a case plus its full timeline and hit-rule snapshot,
// each ordered by creation.
type CaseDetail struct {
	Case     *FraudCase        `json:"case"`
	Logs     []*ActionLogEntry `json:"logs"`
	HitRules []*CaseHitRule    `json:"hitRules"`
}
