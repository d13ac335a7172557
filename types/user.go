package types

import "time"

// User represents an account in the system.
// It contains identity, credentials, and password reset state.
type User struct {
	// ID is the opaque identifier assigned when the account is created.
	ID string `json:"id" db:"id"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the hashed representation of the user's password.
	// It is only populated when a lookup explicitly asks for it and is
	// never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	FirstName  string `json:"firstName" db:"first_name"`
	MiddleName string `json:"middleName,omitempty" db:"middle_name"`
	LastName   string `json:"lastName" db:"last_name"`

	// ResetChallenge is set only while a password reset is outstanding.
	ResetChallenge *ResetChallenge `json:"-"`
}

// ResetChallenge is the stored half of a password reset request: the digest
// of the raw token handed to the user and the moment it stops being valid.
// A user either has both or neither.
type ResetChallenge struct {
	Digest    string    `db:"reset_token_digest"`
	ExpiresAt time.Time `db:"reset_token_expires_at"`
}

// Profile is the public projection of a User.
type Profile struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Username   string    `json:"username"`
	FirstName  string    `json:"firstName"`
	MiddleName string    `json:"middleName,omitempty"`
	LastName   string    `json:"lastName"`
}

// Profile returns the public projection of u.
func (u User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		CreatedAt:  u.CreatedAt,
		Username:   u.Username,
		FirstName:  u.FirstName,
		MiddleName: u.MiddleName,
		LastName:   u.LastName,
	}
}

// NewUser carries the fields needed to create an account. Password is the
// plaintext; the store hashes it before persisting.
type NewUser struct {
	Username   string
	Password   string
	FirstName  string
	MiddleName string
	LastName   string
}

// UserUpdate is a partial update. Nil fields are left untouched.
type UserUpdate struct {
	FirstName  *string
	MiddleName *string
	LastName   *string

	// Password is a new plaintext password. When set, the store re-hashes it.
	Password *string

	// SetResetChallenge replaces the active reset challenge.
	SetResetChallenge *ResetChallenge
	// ClearResetChallenge removes the active reset challenge.
	ClearResetChallenge bool

	// IfResetDigest, when non-empty, makes the update conditional on the
	// stored reset digest still matching. A mismatch reports ErrNotFound.
	IfResetDigest string
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.FirstName == nil &&
		u.MiddleName == nil &&
		u.LastName == nil &&
		u.Password == nil &&
		u.SetResetChallenge == nil &&
		!u.ClearResetChallenge
}

// ProfileUpdate holds the optional name fields a user may change.
// Nil and empty values are ignored.
type ProfileUpdate struct {
	FirstName  *string `json:"firstName,omitempty"`
	MiddleName *string `json:"middleName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
}
