package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "shrike-repo-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testTx(id, userID string) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		Type:      "CARD_PAYMENT",
		Amount:    100,
		Currency:  "EUR",
		UserID:    userID,
		Status:    domain.TxStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		tx := testTx("tx-001", "user-001")
		tx.CounterpartyUserID = "user-002"
		tx.PaymentMethod = "card"
		tx.IP = "10.0.0.1"
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.UserID != "user-001" || got.CounterpartyUserID != "user-002" || got.IP != "10.0.0.1" {
			t.Errorf("unexpected transaction: %+v", got)
		}
	})

	t.Run("MissingIsNotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RejectsEmptyIdentifiers", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, &domain.Transaction{ID: "tx-x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ComplianceWriteback", func(t *testing.T) {
		executed := []domain.RuleSnapshot{{RuleID: "rule-001", Code: "R-001"}}
		hits := []domain.RuleSnapshot{{RuleID: "rule-001", Code: "R-001"}}
		if err := repo.UpdateTransactionCompliance(ctx, "tx-001", string(domain.ActionFlag), domain.ComplianceSubStatusScreening, executed, hits); err != nil {
			t.Fatalf("UpdateTransactionCompliance failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.ComplianceStatus != string(domain.ActionFlag) {
			t.Errorf("expected FLAG compliance status, got %q", got.ComplianceStatus)
		}
		if len(got.ExecutedRules) != 1 || len(got.HitRules) != 1 {
			t.Errorf("expected rule snapshots to round-trip, got %+v", got)
		}

		if err := repo.UpdateTransactionCompliance(ctx, "nope", "FLAG", domain.ComplianceSubStatusScreening, nil, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing transaction, got %v", err)
		}
	})

	t.Run("Counts", func(t *testing.T) {
		repo := newTestRepo(t)
		for i := 0; i < 3; i++ {
			if err := repo.SaveTransaction(ctx, testTx(fmt.Sprintf("tx-%d", i), "user-001")); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}
		failed := testTx("tx-failed", "user-001")
		failed.Status = domain.TxStatusFailed
		if err := repo.SaveTransaction(ctx, failed); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		n, err := repo.CountOtherTransactions(ctx, "user-001", "tx-0")
		if err != nil {
			t.Fatalf("CountOtherTransactions failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 other transactions, got %d", n)
		}

		n, err = repo.CountFailedTransactions(ctx, "user-001", time.Now().UTC().Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountFailedTransactions failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 failed transaction, got %d", n)
		}

		if err := repo.UpdateTransactionCompliance(ctx, "tx-0", string(domain.ActionBlock), domain.ComplianceSubStatusScreening, nil, nil); err != nil {
			t.Fatalf("UpdateTransactionCompliance failed: %v", err)
		}
		n, err = repo.CountNegativeCompliance(ctx, "user-001")
		if err != nil {
			t.Fatalf("CountNegativeCompliance failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 negative compliance hit, got %d", n)
		}
	})
}

func TestAggregateTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	amounts := []float64{100, 200, 300}
	for i, amt := range amounts {
		tx := testTx(fmt.Sprintf("tx-%d", i), "user-001")
		tx.Amount = amt
		tx.CounterpartyUserID = fmt.Sprintf("cp-%d", i%2)
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}
	// Outside the window.
	old := testTx("tx-old", "user-001")
	old.Amount = 9999
	old.CreatedAt = now.Add(-48 * time.Hour)
	if err := repo.SaveTransaction(ctx, old); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	since := now.Add(-time.Hour)
	cases := []struct {
		name string
		q    domain.AggregateQuery
		want float64
	}{
		{"CountTx", domain.AggregateQuery{Metric: domain.AggCountTx, GroupBy: domain.GroupByUser, GroupValue: "user-001", Since: since}, 3},
		{"TotalAmount", domain.AggregateQuery{Metric: domain.AggTotalAmount, GroupBy: domain.GroupByUser, GroupValue: "user-001", Since: since}, 600},
		{"AvgAmount", domain.AggregateQuery{Metric: domain.AggAvgAmount, GroupBy: domain.GroupByUser, GroupValue: "user-001", Since: since}, 200},
		{"UniqueCounterparties", domain.AggregateQuery{Metric: domain.AggUniqueCounterparties, GroupBy: domain.GroupByUser, GroupValue: "user-001", Since: since}, 2},
		{"CounterpartyGroup", domain.AggregateQuery{Metric: domain.AggCountTx, GroupBy: domain.GroupByCounterparty, GroupValue: "cp-0", Since: since}, 2},
		{"TypeFilter", domain.AggregateQuery{Metric: domain.AggCountTx, GroupBy: domain.GroupByUser, GroupValue: "user-001", Since: since, TxType: "CRYPTO_WITHDRAWAL"}, 0},
		{"EmptyGroupIsZero", domain.AggregateQuery{Metric: domain.AggTotalAmount, GroupBy: domain.GroupByUser, GroupValue: "ghost", Since: since}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.AggregateTransactions(ctx, tc.q)
			if err != nil {
				t.Fatalf("AggregateTransactions failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	t.Run("UnknownGroupKeyRejected", func(t *testing.T) {
		_, err := repo.AggregateTransactions(ctx, domain.AggregateQuery{
			Metric: domain.AggCountTx, GroupBy: "merchantId", GroupValue: "x", Since: since,
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("MissingUserIsNilNil", func(t *testing.T) {
		u, err := repo.GetUser(ctx, "ghost")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u != nil {
			t.Errorf("expected nil user, got %+v", u)
		}
	})

	t.Run("SaveIsUpsert", func(t *testing.T) {
		u := &domain.User{ID: "user-001", Email: "anna@example.com", Country: "DE", KYCName: "Anna Schmidt", CreatedAt: time.Now().UTC()}
		if err := repo.SaveUser(ctx, u); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}

		u.Email = "anna.schmidt@example.com"
		u.Business = true
		if err := repo.SaveUser(ctx, u); err != nil {
			t.Fatalf("second SaveUser failed: %v", err)
		}

		got, err := repo.GetUser(ctx, "user-001")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.Email != "anna.schmidt@example.com" || !got.Business {
			t.Errorf("expected updated profile, got %+v", got)
		}
	})
}

func TestRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.Rule{
		ID:      "rule-001",
		Code:    "LARGE-AMOUNT",
		Name:    "Large amount",
		Enabled: true,
		Version: 1,
		Definition: domain.Definition{
			When: domain.When{All: []domain.Condition{{Field: "amount", Op: domain.OpGT, Value: 1000.0}}},
			Then: domain.Then{Action: domain.ActionFlag, Reason: "large amount"},
		},
		Tags:      []string{"amount"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	t.Run("RoundTrip", func(t *testing.T) {
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		byID, err := repo.GetRuleByID(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRuleByID failed: %v", err)
		}
		if byID.Definition.Then.Action != domain.ActionFlag {
			t.Errorf("expected definition to round-trip, got %+v", byID.Definition)
		}
		if len(byID.Tags) != 1 || byID.Tags[0] != "amount" {
			t.Errorf("expected tags to round-trip, got %v", byID.Tags)
		}

		byCode, err := repo.GetRuleByCode(ctx, "LARGE-AMOUNT")
		if err != nil {
			t.Fatalf("GetRuleByCode failed: %v", err)
		}
		if byCode.ID != "rule-001" {
			t.Errorf("expected same rule by code, got %+v", byCode)
		}
	})

	t.Run("ListFiltersDisabled", func(t *testing.T) {
		disabled := *rule
		disabled.ID = "rule-002"
		disabled.Code = "DISABLED"
		disabled.Enabled = false
		if err := repo.SaveRule(ctx, &disabled); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		all, err := repo.ListRules(ctx, false)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 rules, got %d", len(all))
		}

		enabled, err := repo.ListRules(ctx, true)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(enabled) != 1 || enabled[0].ID != "rule-001" {
			t.Errorf("expected only the enabled rule, got %d", len(enabled))
		}
	})

	t.Run("ArchivedExcludedFromListings", func(t *testing.T) {
		archivedAt := time.Now().UTC()
		archived := *rule
		archived.ID = "rule-003"
		archived.Code = "ARCHIVED"
		archived.Archived = true
		archived.ArchivedAt = &archivedAt
		if err := repo.SaveRule(ctx, &archived); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		all, err := repo.ListRules(ctx, false)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		for _, r := range all {
			if r.ID == "rule-003" {
				t.Error("expected archived rule to be excluded")
			}
		}
	})

	t.Run("VersionSnapshots", func(t *testing.T) {
		for v := 1; v <= 2; v++ {
			snap := &domain.RuleVersion{
				ID:         fmt.Sprintf("ver-%d", v),
				RuleID:     "rule-001",
				Version:    v,
				Definition: rule.Definition,
				CreatedAt:  time.Now().UTC(),
			}
			if err := repo.SaveRuleVersion(ctx, snap); err != nil {
				t.Fatalf("SaveRuleVersion failed: %v", err)
			}
		}

		versions, err := repo.ListRuleVersions(ctx, "rule-001")
		if err != nil {
			t.Fatalf("ListRuleVersions failed: %v", err)
		}
		if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
			t.Errorf("expected versions in ascending order, got %+v", versions)
		}
	})
}

func TestEventsAndHits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ev := &domain.Event{
		ID:            "ev-001",
		TransactionID: "tx-001",
		UserID:        "user-001",
		Type:          "CARD_PAYMENT",
		Amount:        100,
		Currency:      "EUR",
		Country:       "DE",
		Tags:          []string{domain.TagFirstTransaction},
		RiskScore:     20,
		RiskLevel:     domain.RiskLow,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}

	got, err := repo.GetEvent(ctx, "ev-001")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got.RiskScore != 20 || len(got.Tags) != 1 {
		t.Errorf("expected event to round-trip, got %+v", got)
	}

	for i := 0; i < 2; i++ {
		hit := &domain.FraudHit{
			ID:        fmt.Sprintf("hit-%d", i),
			EventID:   "ev-001",
			RuleID:    "rule-001",
			RuleCode:  "R-001",
			Action:    domain.ActionFlag,
			Reason:    "test",
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveHit(ctx, hit); err != nil {
			t.Fatalf("SaveHit failed: %v", err)
		}
	}

	hits, err := repo.ListHitsByEvent(ctx, "ev-001")
	if err != nil {
		t.Fatalf("ListHitsByEvent failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected 2 hits, got %d", len(hits))
	}
}

func TestRiskScores(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetRiskScore(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	score := &domain.UserRiskScore{
		UserID:    "user-001",
		Score:     45,
		Level:     domain.RiskMedium,
		Reasons:   []string{"temporary email domain"},
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.UpsertRiskScore(ctx, score); err != nil {
		t.Fatalf("UpsertRiskScore failed: %v", err)
	}

	score.Score = 70
	score.Level = domain.RiskHigh
	if err := repo.UpsertRiskScore(ctx, score); err != nil {
		t.Fatalf("second UpsertRiskScore failed: %v", err)
	}

	got, err := repo.GetRiskScore(ctx, "user-001")
	if err != nil {
		t.Fatalf("GetRiskScore failed: %v", err)
	}
	if got.Score != 70 || got.Level != domain.RiskHigh || len(got.Reasons) != 1 {
		t.Errorf("expected upserted score, got %+v", got)
	}
}

func TestCases(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := &domain.Event{ID: "ev-001", TransactionID: "tx-001", UserID: "user-001", Type: "CARD_PAYMENT", Amount: 100, Currency: "EUR", CreatedAt: now}
	c := &domain.FraudCase{
		ID: "case-001", EventID: ev.ID, TransactionID: "tx-001", UserID: "user-001",
		Status: domain.CaseOpen, Action: domain.ActionFlag, Payload: ev,
		OpenedAt: now, UpdatedAt: now,
	}
	hitRules := []*domain.CaseHitRule{{
		ID: "chr-001", CaseID: c.ID, RuleID: "rule-001", RuleCode: "R-001",
		RuleName: "Large amount", Action: domain.ActionFlag, Reason: "test", CreatedAt: now,
	}}
	initial := &domain.ActionLogEntry{
		ID: "log-001", CaseID: c.ID, Action: "CASE_OPENED", Note: "opened", Actor: "system", CreatedAt: now,
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		if err := repo.CreateCase(ctx, c, hitRules, initial); err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}

		got, err := repo.GetCase(ctx, "case-001")
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.Status != domain.CaseOpen || got.Payload == nil || got.Payload.ID != "ev-001" {
			t.Errorf("unexpected case: %+v", got)
		}

		byTx, err := repo.GetCaseByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetCaseByTransaction failed: %v", err)
		}
		if byTx.ID != "case-001" {
			t.Errorf("expected case-001, got %s", byTx.ID)
		}

		if _, err := repo.GetCaseByTransaction(ctx, "tx-unscreened"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("HitRulesAndLogs", func(t *testing.T) {
		rules, err := repo.ListCaseHitRules(ctx, "case-001")
		if err != nil {
			t.Fatalf("ListCaseHitRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].RuleName != "Large amount" {
			t.Errorf("unexpected hit rules: %+v", rules)
		}

		entry := &domain.ActionLogEntry{
			ID: "log-002", CaseID: "case-001", Action: "NOTE", Note: "checked", Actor: "analyst-1", CreatedAt: now.Add(time.Second),
		}
		if err := repo.AppendActionLog(ctx, entry); err != nil {
			t.Fatalf("AppendActionLog failed: %v", err)
		}

		logs, err := repo.ListActionLogs(ctx, "case-001")
		if err != nil {
			t.Fatalf("ListActionLogs failed: %v", err)
		}
		if len(logs) != 2 || logs[0].Action != "CASE_OPENED" {
			t.Errorf("expected chronological logs, got %+v", logs)
		}
	})

	t.Run("Update", func(t *testing.T) {
		closed := now.Add(time.Minute)
		c.Status = domain.CaseResolved
		c.ResolutionAction = domain.ActionAllow
		c.ResolutionReason = "false positive"
		c.ClosedAt = &closed
		if err := repo.UpdateCase(ctx, c); err != nil {
			t.Fatalf("UpdateCase failed: %v", err)
		}

		got, err := repo.GetCase(ctx, "case-001")
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.Status != domain.CaseResolved || got.ResolutionAction != domain.ActionAllow || got.ClosedAt == nil {
			t.Errorf("expected resolution fields to persist, got %+v", got)
		}
	})
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
