package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/repository"
)

// fakeUsers is an in-memory UserRepository. onCreate runs before every insert
// and may return an error in place of the insert.
type fakeUsers struct {
	mu       sync.Mutex
	byEmail  map[string]*models.DirectoryUser
	onCreate func(user *models.DirectoryUser) error
	lastErr  error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: map[string]*models.DirectoryUser{}}
}

func (f *fakeUsers) put(user *models.DirectoryUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == "" {
		user.ID = fmt.Sprintf("id-%d", len(f.byEmail)+1)
	}
	c := *user
	f.byEmail[identity.NormalizeEmail(user.Email)] = &c
}

func (f *fakeUsers) Create(_ context.Context, user *models.DirectoryUser) error {
	if f.onCreate != nil {
		if err := f.onCreate(user); err != nil {
			return err
		}
	}
	f.mu.Lock()
	_, exists := f.byEmail[user.Email]
	f.mu.Unlock()
	if exists {
		return fmt.Errorf("create user %s: %w", user.Email, repository.ErrDuplicate)
	}
	f.put(user)
	f.mu.Lock()
	user.ID = f.byEmail[user.Email].ID
	f.mu.Unlock()
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.DirectoryUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.DirectoryUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byEmail), nil
}

func (f *fakeUsers) Update(_ context.Context, user *models.DirectoryUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[user.Email]; !ok {
		return repository.ErrNotFound
	}
	c := *user
	f.byEmail[user.Email] = &c
	return nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastErr != nil {
		return f.lastErr
	}
	for _, u := range f.byEmail {
		if u.ID == id {
			u.LastLoginAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeUsers) List(context.Context) ([]models.DirectoryUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DirectoryUser, 0, len(f.byEmail))
	for _, u := range f.byEmail {
		out = append(out, *u)
	}
	return out, nil
}

// fakeActivity records entries; err makes every Append fail.
type fakeActivity struct {
	mu      sync.Mutex
	entries []models.ActivityLogEntry
	err     error
}

func (f *fakeActivity) Append(_ context.Context, entry *models.ActivityLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeActivity) ListByEmail(_ context.Context, email string, limit int) ([]models.ActivityLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ActivityLogEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].UserEmail == identity.NormalizeEmail(email) {
			out = append(out, f.entries[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeActivity) actions() []models.ActivityAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ActivityAction, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

var errBoom = errors.New("boom")
