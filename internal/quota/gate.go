package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/repository"
)

// Decision is the outcome of an admitted request.
type Decision struct {
	UserID    string
	Plan      domain.Plan
	Remaining int
	Unlimited bool
}

// Gate decides whether a user may start a conversion and charges completed
// ones. Admission reserves a slot against the stored balance without
// consuming quota; the slot is returned by Settle or Release.
type Gate struct {
	users repository.UsersRepository

	mu       sync.Mutex
	inFlight map[string]int
}

func NewGate(users repository.UsersRepository) *Gate {
	return &Gate{users: users, inFlight: make(map[string]int)}
}

// Admit reads the user fresh on every call and reserves one slot. A denial
// is returned as a *domain.QuotaError and reserves nothing.
func (g *Gate) Admit(ctx context.Context, userID string) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	user, err := g.loadUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	available := user.ConversionsLeft - g.inFlight[user.ID]
	if available < 0 {
		available = 0
	}
	decision := Decision{
		UserID:    user.ID,
		Plan:      user.Plan,
		Remaining: available,
		Unlimited: user.Plan.Unlimited(),
	}
	if decision.Unlimited || available >= 1 {
		g.inFlight[user.ID]++
		return decision, nil
	}

	reason := domain.QuotaFreeExhausted
	if user.Plan.IsPaid() {
		reason = domain.QuotaPaidExhausted
	}
	return decision, &domain.QuotaError{
		Reason:    reason,
		Plan:      user.Plan,
		Remaining: available,
	}
}

// Release returns a reserved slot without charging, for jobs that failed or
// never ran.
func (g *Gate) Release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release(userID)
}

func (g *Gate) release(userID string) {
	if g.inFlight[userID] <= 1 {
		delete(g.inFlight, userID)
		return
	}
	g.inFlight[userID]--
}

// InFlight reports the reserved, unsettled slots of a user.
func (g *Gate) InFlight(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[userID]
}

// Settle charges exactly one conversion and frees the slot taken by Admit.
// Callers invoke it once per completed job.
func (g *Gate) Settle(ctx context.Context, userID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer g.release(userID)

	remaining, err := g.users.DecrementConversions(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, &domain.NotFoundError{Resource: "user", ID: userID}
		}
		return 0, fmt.Errorf("settle quota: %w", err)
	}
	return remaining, nil
}

// Account returns the user's current standing without any admission logic.
func (g *Gate) Account(ctx context.Context, userID string) (*domain.User, error) {
	return g.loadUser(ctx, userID)
}

func (g *Gate) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := g.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &domain.NotFoundError{Resource: "user", ID: userID}
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
