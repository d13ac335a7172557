package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/identity/types"
)

// MemoryUserRepository keeps users in process memory. It offers the same
// uniqueness and projection rules as the Postgres repository and backs
// development runs and tests.
type MemoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[string]types.User
	byUsername map[string]string
	hasher     PasswordHasher
	now        func() time.Time
}

func NewMemoryUserRepository(hasher PasswordHasher) *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:       make(map[string]types.User),
		byUsername: make(map[string]string),
		hasher:     hasher,
		now:        time.Now,
	}
}

func (r *MemoryUserRepository) FindByID(ctx context.Context, id string, opts ...FindOption) (*types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return project(user, applyFindOptions(opts)), nil
}

func (r *MemoryUserRepository) FindByUsername(ctx context.Context, username string, opts ...FindOption) (*types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, nil
	}
	return project(r.byID[id], applyFindOptions(opts)), nil
}

func (r *MemoryUserRepository) FindByResetDigest(ctx context.Context, digest string) (*types.User, error) {
	if digest == "" {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.byID {
		if user.ResetChallenge != nil && user.ResetChallenge.Digest == digest {
			return project(user, findOptions{}), nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, nu types.NewUser) (types.User, error) {
	hashed, err := r.hasher.Hash(nu.Password)
	if err != nil {
		return types.User{}, types.Infrastructure(err, "hash password")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[nu.Username]; taken {
		return types.User{}, ErrDuplicateUsername
	}

	user := types.User{
		ID:           uuid.NewString(),
		CreatedAt:    r.now().UTC(),
		Username:     nu.Username,
		PasswordHash: hashed,
		FirstName:    nu.FirstName,
		MiddleName:   nu.MiddleName,
		LastName:     nu.LastName,
	}
	r.byID[user.ID] = user
	r.byUsername[user.Username] = user.ID
	return user, nil
}

func (r *MemoryUserRepository) UpdateFields(ctx context.Context, id string, u types.UserUpdate) error {
	var hashed string
	if u.Password != nil {
		var err error
		if hashed, err = r.hasher.Hash(*u.Password); err != nil {
			return types.Infrastructure(err, "hash password")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if u.IfResetDigest != "" && (user.ResetChallenge == nil || user.ResetChallenge.Digest != u.IfResetDigest) {
		return ErrNotFound
	}

	if u.FirstName != nil {
		user.FirstName = *u.FirstName
	}
	if u.MiddleName != nil {
		user.MiddleName = *u.MiddleName
	}
	if u.LastName != nil {
		user.LastName = *u.LastName
	}
	if u.Password != nil {
		user.PasswordHash = hashed
	}
	switch {
	case u.SetResetChallenge != nil:
		challenge := *u.SetResetChallenge
		user.ResetChallenge = &challenge
	case u.ClearResetChallenge:
		user.ResetChallenge = nil
	}

	r.byID[id] = user
	return nil
}

func project(user types.User, o findOptions) *types.User {
	if !o.withPasswordHash {
		user.PasswordHash = ""
	}
	if user.ResetChallenge != nil {
		challenge := *user.ResetChallenge
		user.ResetChallenge = &challenge
	}
	return &user
}
