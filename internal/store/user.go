package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/identity/types"
)

// PasswordHasher turns a plaintext password into its stored digest.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// FindOption adjusts the projection of a lookup.
type FindOption func(*findOptions)

type findOptions struct {
	withPasswordHash bool
}

// WithPasswordHash includes the password hash in the returned user. Lookups
// leave it out unless they are followed by a password check.
func WithPasswordHash() FindOption {
	return func(o *findOptions) { o.withPasswordHash = true }
}

func applyFindOptions(opts []FindOption) findOptions {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const (
	userColumns         = `id, created_at, username, first_name, middle_name, last_name, reset_token_digest, reset_token_expires_at`
	userColumnsWithHash = userColumns + `, password_hash`
)

// UserRepository handles persistence for users in Postgres.
type UserRepository struct {
	db     *sql.DB
	hasher PasswordHasher
	now    func() time.Time
}

func NewUserRepository(db *sql.DB, hasher PasswordHasher) *UserRepository {
	return &UserRepository{db: db, hasher: hasher, now: time.Now}
}

// FindByID returns the user with id, or nil when there is none.
func (r *UserRepository) FindByID(ctx context.Context, id string, opts ...FindOption) (*types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.findOne(ctx, "id", id, applyFindOptions(opts))
}

// FindByUsername returns the user with username, or nil when there is none.
func (r *UserRepository) FindByUsername(ctx context.Context, username string, opts ...FindOption) (*types.User, error) {
	return r.findOne(ctx, "username", username, applyFindOptions(opts))
}

// FindByResetDigest returns the user whose active reset challenge has
// digest, or nil when there is none.
func (r *UserRepository) FindByResetDigest(ctx context.Context, digest string) (*types.User, error) {
	if digest == "" {
		return nil, nil
	}
	return r.findOne(ctx, "reset_token_digest", digest, findOptions{})
}

func (r *UserRepository) findOne(ctx context.Context, column, value string, o findOptions) (*types.User, error) {
	columns := userColumns
	if o.withPasswordHash {
		columns = userColumnsWithHash
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE %s = $1`, columns, column)

	var (
		user       types.User
		middleName sql.NullString
		digest     sql.NullString
		expiresAt  sql.NullTime
	)
	dest := []any{
		&user.ID,
		&user.CreatedAt,
		&user.Username,
		&user.FirstName,
		&middleName,
		&user.LastName,
		&digest,
		&expiresAt,
	}
	if o.withPasswordHash {
		dest = append(dest, &user.PasswordHash)
	}

	if err := r.db.QueryRowContext(ctx, query, value).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, types.Infrastructure(err, "find user by "+column)
	}

	user.MiddleName = middleName.String
	if digest.Valid && expiresAt.Valid {
		user.ResetChallenge = &types.ResetChallenge{Digest: digest.String, ExpiresAt: expiresAt.Time}
	}
	return &user, nil
}

// Create inserts a user, hashing its password. It returns
// ErrDuplicateUsername when the username is taken.
func (r *UserRepository) Create(ctx context.Context, nu types.NewUser) (types.User, error) {
	hashed, err := r.hasher.Hash(nu.Password)
	if err != nil {
		return types.User{}, types.Infrastructure(err, "hash password")
	}

	now := r.now().UTC().Truncate(time.Microsecond)
	user := types.User{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		Username:     nu.Username,
		PasswordHash: hashed,
		FirstName:    nu.FirstName,
		MiddleName:   nu.MiddleName,
		LastName:     nu.LastName,
	}

	const query = `
		INSERT INTO users (id, username, password_hash, first_name, middle_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.FirstName,
		nullString(user.MiddleName),
		user.LastName,
		user.CreatedAt,
		user.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicateUsername
		}
		return types.User{}, types.Infrastructure(err, "create user")
	}
	return user, nil
}

// UpdateFields applies the non-nil fields of u to the user with id in a
// single statement. The password is re-hashed only when u carries one.
func (r *UserRepository) UpdateFields(ctx context.Context, id string, u types.UserUpdate) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.FirstName != nil {
		set("first_name", *u.FirstName)
	}
	if u.MiddleName != nil {
		set("middle_name", nullString(*u.MiddleName))
	}
	if u.LastName != nil {
		set("last_name", *u.LastName)
	}
	if u.Password != nil {
		hashed, err := r.hasher.Hash(*u.Password)
		if err != nil {
			return types.Infrastructure(err, "hash password")
		}
		set("password_hash", hashed)
	}
	switch {
	case u.SetResetChallenge != nil:
		set("reset_token_digest", u.SetResetChallenge.Digest)
		set("reset_token_expires_at", u.SetResetChallenge.ExpiresAt.UTC())
	case u.ClearResetChallenge:
		set("reset_token_digest", nil)
		set("reset_token_expires_at", nil)
	}
	set("updated_at", r.now().UTC())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if u.IfResetDigest != "" {
		args = append(args, u.IfResetDigest)
		query += fmt.Sprintf(` AND reset_token_digest = $%d`, len(args))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return types.Infrastructure(err, "update user")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Infrastructure(err, "update user")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
