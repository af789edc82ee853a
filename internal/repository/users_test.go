package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

func TestMemoryUsersDecrementFloorsAtZero(t *testing.T) {
	repo := NewMemoryUsersRepository()
	ctx := context.Background()
	_ = repo.SaveUser(ctx, &domain.User{ID: "u1", Plan: domain.PlanBasic, ConversionsLeft: 5})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementConversions(ctx, "u1"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	user, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ConversionsLeft != 0 {
		t.Fatalf("expected conversions floored at 0, got %d", user.ConversionsLeft)
	}
}

func TestMemoryUsersUnknownUser(t *testing.T) {
	repo := NewMemoryUsersRepository()
	if _, err := repo.GetUser(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.DecrementConversions(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
