package event

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
)

func newTestBuilder(t *testing.T) (*Builder, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "shrike-event-test-*.db")
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

	return NewBuilder(repo, domain.DefaultScreeningConfig()), repo
}

func saveUser(t *testing.T, repo domain.Repository, u *domain.User) {
	t.Helper()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := repo.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
}

func saveTx(t *testing.T, repo domain.Repository, tx *domain.Transaction) {
	t.Helper()
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if err := repo.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingTransactionFails", func(t *testing.T) {
		b, _ := newTestBuilder(t)
		_, err := b.Build(ctx, "nope")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CopiesTransactionFields", func(t *testing.T) {
		b, repo := newTestBuilder(t)
		saveUser(t, repo, &domain.User{ID: "user-001", Email: "anna@example.com", Country: "DE"})
		saveTx(t, repo, &domain.Transaction{
			ID: "tx-001", Type: "CARD_PAYMENT", Amount: 99.5, Currency: "EUR",
			UserID: "user-001", PaymentMethod: "card", IP: "10.0.0.1",
		})

		ev, err := b.Build(ctx, "tx-001")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if ev.TransactionID != "tx-001" || ev.UserID != "user-001" {
			t.Errorf("unexpected identifiers: %+v", ev)
		}
		if ev.Amount != 99.5 || ev.Currency != "EUR" || ev.Country != "DE" {
			t.Errorf("unexpected payload fields: %+v", ev)
		}
	})

	t.Run("FirstTransactionTag", func(t *testing.T) {
		b, repo := newTestBuilder(t)
		saveUser(t, repo, &domain.User{ID: "user-001", Email: "anna@example.com", Country: "DE"})
		saveTx(t, repo, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "user-001"})

		ev, err := b.Build(ctx, "tx-001")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !ev.HasTag(domain.TagFirstTransaction) {
			t.Error("expected FIRST_TRANSACTION on a user's only transaction")
		}

		// The second transaction is still within the threshold.
		saveTx(t, repo, &domain.Transaction{ID: "tx-002", Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "user-001"})
		ev, err = b.Build(ctx, "tx-002")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !ev.HasTag(domain.TagFirstTransaction) {
			t.Error("expected FIRST_TRANSACTION on the second transaction")
		}

		// The third is not.
		saveTx(t, repo, &domain.Transaction{ID: "tx-003", Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "user-001"})
		ev, err = b.Build(ctx, "tx-003")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if ev.HasTag(domain.TagFirstTransaction) {
			t.Error("did not expect FIRST_TRANSACTION on the third transaction")
		}
	})

	t.Run("CountryAndEntityTags", func(t *testing.T) {
		b, repo := newTestBuilder(t)
		saveUser(t, repo, &domain.User{ID: "user-001", Email: "ops@corp.example", Country: "fr", Business: true})
		saveTx(t, repo, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "user-001"})

		ev, err := b.Build(ctx, "tx-001")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !ev.HasTag("COUNTRY_FR") {
			t.Errorf("expected uppercased country tag, got %v", ev.Tags)
		}
		if !ev.HasTag(domain.TagCompany) || ev.HasTag(domain.TagNaturalPerson) {
			t.Errorf("expected COMPANY for business user, got %v", ev.Tags)
		}
	})

	t.Run("TempEmailDomainTag", func(t *testing.T) {
		b, repo := newTestBuilder(t)
		saveUser(t, repo, &domain.User{ID: "user-001", Email: "fraudster@MAILINATOR.com", Country: "DE"})
		saveTx(t, repo, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "user-001"})

		ev, err := b.Build(ctx, "tx-001")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !ev.HasTag(domain.TagTempEmailDomain) {
			t.Errorf("expected TEMP_EMAIL_DOMAIN, got %v", ev.Tags)
		}
	})

	t.Run("BankDepositOwnership", func(t *testing.T) {
		b, repo := newTestBuilder(t)
		saveUser(t, repo, &domain.User{ID: "user-001", Email: "anna@example.com", Country: "DE"})

		saveTx(t, repo, &domain.Transaction{
			ID: "tx-own", Type: "SEPA_BANK_DEPOSIT", Amount: 10, Currency: "EUR",
			UserID: "user-001", CounterpartyUserID: "user-001",
		})
		ev, err := b.Build(ctx, "tx-own")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !ev.HasTag(domain.TagOwnerAccount) || ev.HasTag(domain.TagThirdParty) {
			t.Errorf("expected OWNER_ACCOUNT, got %v", ev.Tags)
		}

		saveTx(t, repo, &domain.Transaction{
			ID: "tx-third", Type: "SEPA_BANK_DEPOSIT", Amount: 10, Currency: "EUR",
			UserID: "user-001", CounterpartyUserID: "user-002",
		})
		ev, err = b.Build(ctx, "tx-third")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !ev.HasTag(domain.TagThirdParty) {
			t.Errorf("expected THIRD_PARTY, got %v", ev.Tags)
		}
		if !ev.HasTag(domain.TagHasCounterparty) {
			t.Errorf("expected HAS_COUNTERPARTY_USER, got %v", ev.Tags)
		}
	})

	t.Run("MissingUserSuppressesUserTags", func(t *testing.T) {
		b, repo := newTestBuilder(t)
		saveTx(t, repo, &domain.Transaction{ID: "tx-001", Type: "CARD_PAYMENT", Amount: 10, Currency: "EUR", UserID: "ghost"})

		ev, err := b.Build(ctx, "tx-001")
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		for _, tag := range ev.Tags {
			if tag == domain.TagNaturalPerson || tag == domain.TagCompany || tag == domain.TagTempEmailDomain {
				t.Errorf("did not expect user-derived tag %s without a user", tag)
			}
		}
		if ev.Country != "" {
			t.Errorf("expected empty country without a user, got %q", ev.Country)
		}
	})
}
