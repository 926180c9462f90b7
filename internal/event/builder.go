// Package event builds the flat evaluation payload for one transaction.
package event

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

// Builder converts a transaction and its owning user into an evaluation
// event with heuristic tags. The deny-lists come from configuration, not
// hardcoded constants, so they can be varied per environment.
type Builder struct {
	repo domain.Repository
	cfg  domain.ScreeningConfig
}

// NewBuilder creates a new event builder.
func NewBuilder(repo domain.Repository, cfg domain.ScreeningConfig) *Builder {
	return &Builder{
		repo: repo,
		cfg:  cfg,
	}
}

// Build resolves the transaction and derives the event. Fails with the
// repository's not-found error when the transaction id does not resolve;
// a missing user only suppresses the user-derived tags.
func (b *Builder) Build(ctx context.Context, txID string) (*domain.Event, error) {
	tx, err := b.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve transaction %s: %w", txID, err)
	}

	user, err := b.repo.GetUser(ctx, tx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", tx.UserID, err)
	}

	ev := &domain.Event{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		UserID:         tx.UserID,
		CounterpartyID: tx.CounterpartyUserID,
		Type:           tx.Type,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		PaymentMethod:  tx.PaymentMethod,
		IP:             tx.IP,
		CreatedAt:      time.Now().UTC(),
	}
	if user != nil {
		ev.Country = user.Country
	}

	tags, err := b.deriveTags(ctx, tx, user)
	if err != nil {
		return nil, err
	}
	ev.Tags = tags

	return ev, nil
}

// deriveTags evaluates each tag rule independently; a transaction may
// receive any subset.
func (b *Builder) deriveTags(ctx context.Context, tx *domain.Transaction, user *domain.User) ([]string, error) {
	tags := []string{}

	// A user's first transaction, counted against the rest of their history.
	// The threshold of one deliberately also catches the second transaction.
	others, err := b.repo.CountOtherTransactions(ctx, tx.UserID, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions for %s: %w", tx.UserID, err)
	}
	if others <= 1 {
		tags = append(tags, domain.TagFirstTransaction)
	}

	if user != nil && user.Country != "" {
		tags = append(tags, domain.TagCountryPrefix+strings.ToUpper(user.Country))
	}

	if user != nil && b.isTempEmailDomain(user.Email) {
		tags = append(tags, domain.TagTempEmailDomain)
	}

	if tx.CounterpartyUserID != "" {
		tags = append(tags, domain.TagHasCounterparty)
	}

	if isBankDeposit(tx.Type) {
		if tx.UserID == tx.CounterpartyUserID {
			tags = append(tags, domain.TagOwnerAccount)
		} else {
			tags = append(tags, domain.TagThirdParty)
		}
	}

	if user != nil {
		if user.Business {
			tags = append(tags, domain.TagCompany)
		} else {
			tags = append(tags, domain.TagNaturalPerson)
		}
	}

	return tags, nil
}

// isTempEmailDomain matches the email's domain part against the configured
// deny-list, case-insensitively.
func (b *Builder) isTempEmailDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	emailDomain := strings.ToLower(email[at+1:])

	for _, denied := range b.cfg.TempEmailDomains {
		if emailDomain == strings.ToLower(denied) {
			return true
		}
	}
	return false
}

func isBankDeposit(txType string) bool {
	return strings.Contains(txType, "BANK_DEPOSIT")
}
