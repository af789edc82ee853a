package repository

import (
	"context"
	"sync"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

// UsersRepository is the account store the quota gate reads and charges.
type UsersRepository interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	DecrementConversions(ctx context.Context, userID string) (int, error)
}

// MemoryUsersRepository stores users in memory for local development.
type MemoryUsersRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func NewMemoryUsersRepository() *MemoryUsersRepository {
	return &MemoryUsersRepository{
		users: make(map[string]*domain.User),
	}
}

func (r *MemoryUsersRepository) SaveUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *user
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	r.users[user.ID] = &clone
	return nil
}

func (r *MemoryUsersRepository) GetUser(_ context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *MemoryUsersRepository) DecrementConversions(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if user.ConversionsLeft > 0 {
		user.ConversionsLeft--
	}
	user.UpdatedAt = time.Now().UTC()
	return user.ConversionsLeft, nil
}
