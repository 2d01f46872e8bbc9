//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/infra/security"
)

func TestMailboxCredentialRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	sealer, err := security.NewEphemeralSealer()
	if err != nil {
		t.Fatalf("NewEphemeralSealer failed: %v", err)
	}
	repo := NewMailboxCredentialRepo(testPool, sealer)
	ctx := context.Background()

	t.Run("should replace an owner's credential on save", func(t *testing.T) {
		cleanup(t)

		c := &model.MailboxCredential{OwnerID: 9, Address: "old@example.com", Secret: "one", UpdatedAt: time.Now()}
		if err := repo.Save(ctx, nil, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		c.Address, c.Secret = "new@example.com", "two"
		if err := repo.Save(ctx, nil, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := repo.FindByOwner(ctx, nil, 9)
		if err != nil {
			t.Fatalf("FindByOwner failed: %v", err)
		}
		if got.Address != "new@example.com" || got.Secret != "two" {
			t.Errorf("Unexpected credential %+v", got)
		}
	})

	t.Run("should report a deleted credential as missing", func(t *testing.T) {
		cleanup(t)

		c := &model.MailboxCredential{OwnerID: 9, Address: "x@example.com", Secret: "s", UpdatedAt: time.Now()}
		if err := repo.Save(ctx, nil, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := repo.Delete(ctx, nil, 9); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.FindByOwner(ctx, nil, 9); !errors.Is(err, domain.ErrNoMailboxCredential) {
			t.Fatalf("Expected ErrNoMailboxCredential, got %v", err)
		}
		if err := repo.Delete(ctx, nil, 9); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Expected not found on second delete, got %v", err)
		}
	})
}
