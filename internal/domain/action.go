package domain

// Action is the outcome a rule (or the merged decision) demands for a
// transaction. Actions form a total order by severity.
type Action string

const (
	ActionAllow   Action = "ALLOW"
	ActionReview  Action = "REVIEW"
	ActionFlag    Action = "FLAG"
	ActionSuspend Action = "SUSPEND"
	ActionBlock   Action = "BLOCK"
)

// Rank returns the severity rank of the action. Higher wins when merging.
// Unknown actions rank below ALLOW so they can never escalate a decision.
func (a Action) Rank() int {
	switch a {
	case ActionBlock:
		return 5
	case ActionSuspend:
		return 4
	case ActionFlag:
		return 3
	case ActionReview:
		return 2
	case ActionAllow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	return a.Rank() > 0
}

// SystemRuleCode is the pseudo-rule that synthetic escalation hits are
// attributed to. It never exists in the rule store.
const SystemRuleCode = "SYS-ESCALATION"

// SystemRuleName is the display name used for synthetic hit snapshots.
const SystemRuleName = "System escalation"
