package accounts

import (
	"context"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestInMemoryUpsertPartialUpdate(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, Upsert{Email: "A@X.com", Password: strPtr("pw"), SecretKey: strPtr("seed")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Upsert(ctx, Upsert{Email: "a@x.com", Password: strPtr("pw2")}); err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}

	acc, err := s.Get(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if acc.Password != "pw2" {
		t.Fatalf("Password = %q, want updated pw2", acc.Password)
	}
	if acc.SecretKey != "seed" {
		t.Fatalf("SecretKey = %q, want untouched seed", acc.SecretKey)
	}
	if acc.Status != StatusPending {
		t.Fatalf("Status = %q, want default pending", acc.Status)
	}
}

func TestInMemoryWindowBinding(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.SaveWindowBinding(ctx, "a@x.com", "win-1", `{"id":"win-1"}`); err != nil {
		t.Fatalf("SaveWindowBinding() error = %v", err)
	}
	acc, _ := s.Get(ctx, "a@x.com")
	if acc.WindowID != "win-1" || acc.WindowConfig == "" {
		t.Fatalf("binding not saved: %+v", acc)
	}

	if err := s.ClearWindowBinding(ctx, "a@x.com"); err != nil {
		t.Fatalf("ClearWindowBinding() error = %v", err)
	}
	acc, _ = s.Get(ctx, "a@x.com")
	if acc.WindowID != "" {
		t.Fatalf("WindowID = %q, want cleared", acc.WindowID)
	}
	if acc.WindowConfig == "" {
		t.Fatalf("WindowConfig cleared with binding, want kept as restore cache")
	}
}

func TestInMemoryGetMissing(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Get(context.Background(), "nobody@x.com"); err != ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
