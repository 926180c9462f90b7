package domain

import (
	"time"
)

// Heuristic tags attached to an event by the event builder.
const (
	TagFirstTransaction   = "FIRST_TRANSACTION"
	TagTempEmailDomain    = "TEMP_EMAIL_DOMAIN"
	TagHasCounterparty    = "HAS_COUNTERPARTY_USER"
	TagOwnerAccount       = "OWNER_ACCOUNT"
	TagThirdParty         = "THIRD_PARTY"
	TagNaturalPerson      = "NATURAL_PERSON"
	TagCompany            = "COMPANY"
	TagCountryPrefix      = "COUNTRY_"
)

// Event is the flat evaluation payload built for one transaction.
// It is immutable once built and consumed only by the rule evaluator.
type Event struct {
	ID             string    `json:"id"`
	TransactionID  string    `json:"transactionId"`
	UserID         string    `json:"userId"`
	CounterpartyID string    `json:"counterpartyId,omitempty"`
	Type           string    `json:"type"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Country        string    `json:"country,omitempty"`
	PaymentMethod  string    `json:"paymentMethod,omitempty"`
	IP             string    `json:"ip,omitempty"`
	Tags           []string  `json:"tags"`
	RiskLevel      RiskLevel `json:"riskLevel,omitempty"`
	RiskScore      int       `json:"riskScore,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Field resolves an event attribute by its condition key. Field conditions
// go through this typed lookup rather than reflection; the second return
// reports whether the key is known.
func (e *Event) Field(key string) (any, bool) {
	switch key {
	case "transactionId":
		return e.TransactionID, true
	case "userId":
		return e.UserID, true
	case "counterpartyId":
		return e.CounterpartyID, true
	case "type":
		return e.Type, true
	case "amount":
		return e.Amount, true
	case "currency":
		return e.Currency, true
	case "country":
		return e.Country, true
	case "paymentMethod":
		return e.PaymentMethod, true
	case "ip":
		return e.IP, true
	case "tags":
		return e.Tags, true
	case "riskLevel":
		return string(e.RiskLevel), true
	case "riskScore":
		return float64(e.RiskScore), true
	default:
		return nil, false
	}
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Variables returns the activation map for expression conditions.
func (e *Event) Variables() map[string]any {
	return map[string]any{
		"transaction_id":  e.TransactionID,
		"user_id":         e.UserID,
		"counterparty_id": e.CounterpartyID,
		"tx_type":         e.Type,
		"amount":          e.Amount,
		"currency":        e.Currency,
		"country":         e.Country,
		"payment_method":  e.PaymentMethod,
		"tags":            e.Tags,
		"risk_level":      string(e.RiskLevel),
		"risk_score":      int64(e.RiskScore),
	}
}
