package screening

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/cases"
	"github.com/opensource-finance/shrike/internal/decision"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/event"
	"github.com/opensource-finance/shrike/internal/history"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/risk"
	"github.com/opensource-finance/shrike/internal/rules"
)

type testEnv struct {
	svc   *Service
	repo  domain.Repository
	store *rules.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "shrike-screening-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(64)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.DefaultScreeningConfig()
	historySvc := history.NewService(repo)
	evaluator, err := rules.NewEvaluator(historySvc.Aggregate)
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	store := rules.NewStore(repo, cache.NewLRUCache(100), evaluator, time.Minute)

	svc := NewService(
		repo,
		eventBus,
		event.NewBuilder(repo, cfg),
		risk.NewScorer(repo, cfg),
		store,
		evaluator,
		decision.NewMerger(repo),
		cases.NewManager(repo),
	)

	return &testEnv{svc: svc, repo: repo, store: store}
}

func (e *testEnv) saveUser(t *testing.T, u *domain.User) {
	t.Helper()
	u.CreatedAt = time.Now().UTC()
	if err := e.repo.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
}

func (e *testEnv) saveTx(t *testing.T, tx *domain.Transaction) {
	t.Helper()
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	tx.CreatedAt = time.Now().UTC()
	if err := e.repo.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
}

func (e *testEnv) createRule(t *testing.T, code string, def domain.Definition) {
	t.Helper()
	if _, err := e.store.Create(context.Background(), rules.CreateInput{
		Code:       code,
		Name:       code,
		Definition: def,
	}); err != nil {
		t.Fatalf("rule create failed: %v", err)
	}
}

func largeAmountRule(action domain.Action) domain.Definition {
	return domain.Definition{
		When: domain.When{All: []domain.Condition{
			{Field: "amount", Op: domain.OpGT, Value: 1000.0},
		}},
		Then: domain.Then{Action: action, Reason: "large amount"},
	}
}

func TestOnTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingTransaction", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.svc.OnTransaction(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CleanTransactionAllows", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveUser(t, &domain.User{ID: "user-001", Email: "anna.schmidt@example.com", KYCName: "Anna Schmidt", Country: "DE"})
		env.saveTx(t, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 50, Currency: "EUR", UserID: "user-001"})
		env.createRule(t, "LARGE-AMOUNT", largeAmountRule(domain.ActionFlag))

		result, err := env.svc.OnTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("OnTransaction failed: %v", err)
		}
		if result.Action != domain.ActionAllow {
			t.Errorf("expected ALLOW, got %s", result.Action)
		}
		if result.CaseID != "" {
			t.Error("did not expect a case for an ALLOW decision")
		}
		if len(result.Evaluations) != 1 || result.Evaluations[0].Matched {
			t.Errorf("expected one non-matching evaluation, got %+v", result.Evaluations)
		}

		tx, err := env.repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.ComplianceStatus != string(domain.ActionAllow) {
			t.Errorf("expected ALLOW compliance status, got %q", tx.ComplianceStatus)
		}
		if len(tx.ExecutedRules) != 1 || len(tx.HitRules) != 0 {
			t.Errorf("expected executed-only snapshots, got %+v", tx)
		}
	})

	t.Run("RuleHitOpensCase", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveUser(t, &domain.User{ID: "user-001", Email: "anna.schmidt@example.com", KYCName: "Anna Schmidt", Country: "DE"})
		env.saveTx(t, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 5000, Currency: "EUR", UserID: "user-001"})
		env.createRule(t, "LARGE-AMOUNT", largeAmountRule(domain.ActionFlag))

		result, err := env.svc.OnTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("OnTransaction failed: %v", err)
		}
		if result.Action != domain.ActionFlag {
			t.Errorf("expected FLAG, got %s", result.Action)
		}
		if result.CaseID == "" {
			t.Fatal("expected a case to be opened")
		}

		c, err := env.repo.GetCase(ctx, result.CaseID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if c.TransactionID != "tx-001" || c.Action != domain.ActionFlag {
			t.Errorf("unexpected case: %+v", c)
		}

		hits, err := env.repo.ListHitsByEvent(ctx, result.EventID)
		if err != nil {
			t.Fatalf("ListHitsByEvent failed: %v", err)
		}
		if len(hits) != 1 || hits[0].RuleCode != "LARGE-AMOUNT" {
			t.Errorf("expected one persisted hit, got %+v", hits)
		}

		tx, err := env.repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.ComplianceStatus != string(domain.ActionFlag) || len(tx.HitRules) != 1 {
			t.Errorf("expected FLAG writeback with one hit snapshot, got %+v", tx)
		}
	})

	t.Run("HighRiskEscalatesWithoutRuleHits", func(t *testing.T) {
		env := newTestEnv(t)
		// Temp email + high-risk country + mismatched name: 20+25+10 = 55... plus
		// nothing else; VERY_HIGH needs 80, so add failed transactions.
		env.saveUser(t, &domain.User{ID: "user-001", Email: "zz123@mailinator.com", KYCName: "Anna Schmidt", Country: "KP"})
		for i := 0; i < 10; i++ {
			env.saveTx(t, &domain.Transaction{
				ID: "failed-" + string(rune('a'+i)), Type: "CARD_PAYMENT", Amount: 10,
				Currency: "EUR", UserID: "user-001", Status: domain.TxStatusFailed,
			})
		}
		env.saveTx(t, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 50, Currency: "EUR", UserID: "user-001"})

		result, err := env.svc.OnTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("OnTransaction failed: %v", err)
		}
		if result.Action != domain.ActionReview {
			t.Errorf("expected REVIEW escalation, got %s", result.Action)
		}
		if result.RiskLevel != domain.RiskVeryHigh {
			t.Errorf("expected VERY_HIGH, got %s", result.RiskLevel)
		}
		if result.CaseID == "" {
			t.Fatal("expected a case to be opened")
		}

		hitRules, err := env.repo.ListCaseHitRules(ctx, result.CaseID)
		if err != nil {
			t.Fatalf("ListCaseHitRules failed: %v", err)
		}
		if len(hitRules) != 1 || hitRules[0].RuleCode != domain.SystemRuleCode {
			t.Errorf("expected one system hit rule, got %+v", hitRules)
		}
		if hitRules[0].RuleName != domain.SystemRuleName {
			t.Errorf("expected system rule name, got %q", hitRules[0].RuleName)
		}
	})

	t.Run("RescreeningRejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveUser(t, &domain.User{ID: "user-001", Email: "anna.schmidt@example.com", KYCName: "Anna Schmidt", Country: "DE"})
		env.saveTx(t, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 5000, Currency: "EUR", UserID: "user-001"})
		env.createRule(t, "LARGE-AMOUNT", largeAmountRule(domain.ActionBlock))

		if _, err := env.svc.OnTransaction(ctx, "tx-001"); err != nil {
			t.Fatalf("OnTransaction failed: %v", err)
		}
		if _, err := env.svc.OnTransaction(ctx, "tx-001"); !errors.Is(err, ErrAlreadyScreened) {
			t.Errorf("expected ErrAlreadyScreened, got %v", err)
		}
	})

	t.Run("AllowedTransactionCanBeRescreened", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveUser(t, &domain.User{ID: "user-001", Email: "anna.schmidt@example.com", KYCName: "Anna Schmidt", Country: "DE"})
		env.saveTx(t, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 50, Currency: "EUR", UserID: "user-001"})

		if _, err := env.svc.OnTransaction(ctx, "tx-001"); err != nil {
			t.Fatalf("first OnTransaction failed: %v", err)
		}
		// No case was opened, so the idempotency guard does not trip.
		if _, err := env.svc.OnTransaction(ctx, "tx-001"); err != nil {
			t.Errorf("expected rescreen of an allowed transaction to pass, got %v", err)
		}
	})

	t.Run("AggregateRuleSeesHistory", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveUser(t, &domain.User{ID: "user-001", Email: "anna.schmidt@example.com", KYCName: "Anna Schmidt", Country: "DE"})
		env.createRule(t, "VELOCITY", domain.Definition{
			When: domain.When{All: []domain.Condition{{
				Agg: domain.AggCountTx, Window: "1h", GroupBy: domain.GroupByUser,
				Op: domain.OpGTE, Value: 3,
			}}},
			Then: domain.Then{Action: domain.ActionReview, Reason: "velocity"},
		})

		for _, id := range []string{"tx-001", "tx-002", "tx-003"} {
			env.saveTx(t, &domain.Transaction{ID: id, Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "user-001"})
		}

		result, err := env.svc.OnTransaction(ctx, "tx-003")
		if err != nil {
			t.Fatalf("OnTransaction failed: %v", err)
		}
		if result.Action != domain.ActionReview {
			t.Errorf("expected REVIEW on velocity, got %s", result.Action)
		}
	})
}
