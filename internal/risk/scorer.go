// Package risk computes per-user risk scores from heuristic signals.
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Signal weights. Each signal is independent; the score is the clamped sum.
const (
	weightTempEmail       = 20
	weightNameMismatch    = 10
	weightHighRiskCountry = 25
	weightFailedPerTx     = 5
	weightFailedCap       = 30
)

// Scorer collects risk signals for a user and upserts the per-user score row.
type Scorer struct {
	repo domain.Repository
	cfg  domain.ScreeningConfig
}

// NewScorer creates a new risk scorer.
func NewScorer(repo domain.Repository, cfg domain.ScreeningConfig) *Scorer {
	return &Scorer{
		repo: repo,
		cfg:  cfg,
	}
}

// Score computes and persists the user's risk score. A user that does not
// exist yields a LOW/0 result with no signals and no upsert; the caller is
// not expected to treat that as an error.
func (s *Scorer) Score(ctx context.Context, userID string) (*domain.UserRiskScore, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	if user == nil {
		return &domain.UserRiskScore{
			UserID:    userID,
			Score:     0,
			Level:     domain.RiskLow,
			UpdatedAt: time.Now().UTC(),
		}, nil
	}

	signals, err := s.collectSignals(ctx, user)
	if err != nil {
		return nil, err
	}

	total := 0
	reasons := make([]string, 0, len(signals))
	for _, sig := range signals {
		total += sig.Weight
		reasons = append(reasons, sig.Description)
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	score := &domain.UserRiskScore{
		UserID:    userID,
		Score:     total,
		Level:     domain.LevelForScore(total),
		Reasons:   reasons,
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.repo.UpsertRiskScore(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to upsert risk score for %s: %w", userID, err)
	}

	return score, nil
}

func (s *Scorer) collectSignals(ctx context.Context, user *domain.User) ([]domain.RiskSignal, error) {
	var signals []domain.RiskSignal

	if isTempEmailDomain(user.Email, s.cfg.TempEmailDomains) {
		signals = append(signals, domain.RiskSignal{
			Key:         "temp_email_domain",
			Weight:      weightTempEmail,
			Description: "email uses a disposable domain",
		})
	}

	if nameEmailMismatch(user.KYCName, user.Email) {
		signals = append(signals, domain.RiskSignal{
			Key:         "name_email_mismatch",
			Weight:      weightNameMismatch,
			Description: "KYC profile name does not match email local part",
		})
	}

	window := s.cfg.FailedTxWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	failed, err := s.repo.CountFailedTransactions(ctx, user.ID, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to count failed transactions for %s: %w", user.ID, err)
	}
	threshold := s.cfg.FailedTxThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if failed >= int64(threshold) {
		weight := int(failed) * weightFailedPerTx
		if weight > weightFailedCap {
			weight = weightFailedCap
		}
		signals = append(signals, domain.RiskSignal{
			Key:         "recent_failed_transactions",
			Weight:      weight,
			Description: fmt.Sprintf("%d failed transactions in the last 7 days", failed),
		})
	}

	for _, c := range s.cfg.HighRiskCountries {
		if strings.EqualFold(user.Country, c) {
			signals = append(signals, domain.RiskSignal{
				Key:         "high_risk_country",
				Weight:      weightHighRiskCountry,
				Description: "user country is on the high-risk list",
			})
			break
		}
	}

	return signals, nil
}

// nameEmailMismatch reports whether no token of the email local part appears
// in the KYC profile name. Tokens are normalized by stripping digits and
// separators; the comparison is case-insensitive.
func nameEmailMismatch(kycName, email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || kycName == "" {
		return false
	}

	local := strings.ToLower(email[:at])
	name := strings.ToLower(kycName)

	tokens := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	found := false
	for _, tok := range tokens {
		tok = stripDigits(tok)
		if tok == "" {
			continue
		}
		if strings.Contains(name, tok) {
			found = true
			break
		}
	}

	return !found
}

func stripDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < '0' || r > '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isTempEmailDomain(email string, denyList []string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	emailDomain := strings.ToLower(email[at+1:])

	for _, denied := range denyList {
		if emailDomain == strings.ToLower(denied) {
			return true
		}
	}
	return false
}
