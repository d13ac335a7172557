package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/jjudge-oj/identity/internal/auth"
	"github.com/jjudge-oj/identity/internal/metrics"
	"github.com/jjudge-oj/identity/internal/notify"
	"github.com/jjudge-oj/identity/internal/store"
	"github.com/jjudge-oj/identity/types"
)

const (
	minUsernameLen = 6
	maxUsernameLen = 20
	minPasswordLen = 6
	// bcrypt only reads the first 72 bytes of a password.
	maxPasswordBytes = 72
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, id string, opts ...store.FindOption) (*types.User, error)
	FindByUsername(ctx context.Context, username string, opts ...store.FindOption) (*types.User, error)
	FindByResetDigest(ctx context.Context, digest string) (*types.User, error)
	Create(ctx context.Context, user types.NewUser) (types.User, error)
	UpdateFields(ctx context.Context, id string, update types.UserUpdate) error
}

// PasswordHasher hashes passwords and checks them against stored digests.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// SessionIssuer signs session tokens for a subject.
type SessionIssuer interface {
	Issue(subjectID string) (string, error)
}

// ResetTokens issues and validates password reset tokens.
type ResetTokens interface {
	Issue() (string, types.ResetChallenge, error)
	Validate(raw string, challenge types.ResetChallenge) error
}

// ResetNotifier delivers a freshly issued reset token out of band.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, event notify.PasswordResetRequested) error
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Username   string
	Password   string
	FirstName  string
	LastName   string
	MiddleName string
}

// AccountService encapsulates the account use-cases: registration, login,
// password reset and profile management.
type AccountService struct {
	users     UserRepository
	passwords PasswordHasher
	sessions  SessionIssuer
	resets    ResetTokens
	notifier  ResetNotifier
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// decoy is the digest Login verifies against for unknown usernames.
	decoyOnce sync.Once
	decoy     string
}

// Option configures optional AccountService collaborators.
type Option func(*AccountService)

// WithResetNotifier publishes every issued reset token through n.
func WithResetNotifier(n ResetNotifier) Option {
	return func(s *AccountService) { s.notifier = n }
}

// WithMetrics records operation outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AccountService) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *AccountService) { s.logger = l }
}

func NewAccountService(users UserRepository, passwords PasswordHasher, sessions SessionIssuer, resets ResetTokens, opts ...Option) *AccountService {
	s := &AccountService{
		users:     users,
		passwords: passwords,
		sessions:  sessions,
		resets:    resets,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and returns a session token for it.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (token string, err error) {
	defer s.record("register", &err)

	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.MiddleName = strings.TrimSpace(in.MiddleName)
	if err := validateUsername(in.Username); err != nil {
		return "", err
	}
	if err := validatePassword(in.Password); err != nil {
		return "", err
	}
	if in.FirstName == "" || in.LastName == "" {
		return "", invalidArgument("firstName and lastName are required")
	}

	existing, err := s.users.FindByUsername(ctx, in.Username)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", types.ErrDuplicateUsername
	}

	user, err := s.users.Create(ctx, types.NewUser{
		Username:   in.Username,
		Password:   in.Password,
		FirstName:  in.FirstName,
		MiddleName: in.MiddleName,
		LastName:   in.LastName,
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	return s.sessions.Issue(user.ID)
}

// Login verifies credentials and returns a session token. Unknown usernames
// and wrong passwords fail with the same ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, username, password string) (token string, err error) {
	defer s.record("login", &err)

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", types.ErrInvalidCredentials
	}

	user, err := s.users.FindByUsername(ctx, username, store.WithPasswordHash())
	if err != nil {
		return "", err
	}
	if user == nil {
		s.passwords.Verify(password, s.decoyDigest())
		return "", types.ErrInvalidCredentials
	}
	if !s.passwords.Verify(password, user.PasswordHash) {
		return "", types.ErrInvalidCredentials
	}

	return s.sessions.Issue(user.ID)
}

// ForgotPassword starts a reset for username and returns the raw reset token.
// Only its digest is stored.
func (s *AccountService) ForgotPassword(ctx context.Context, username string) (token string, err error) {
	defer s.record("forgot_password", &err)

	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", types.ErrNotFound
	}

	raw, challenge, err := s.resets.Issue()
	if err != nil {
		return "", err
	}
	if err := s.users.UpdateFields(ctx, user.ID, types.UserUpdate{SetResetChallenge: &challenge}); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID, "expires_at", challenge.ExpiresAt)

	if s.notifier != nil {
		event := notify.PasswordResetRequested{
			UserID:    user.ID,
			Username:  user.Username,
			Token:     raw,
			ExpiresAt: challenge.ExpiresAt,
		}
		if err := s.notifier.NotifyPasswordReset(ctx, event); err != nil {
			s.metrics.RecordResetNotification(metrics.StatusError)
			s.logger.WarnContext(ctx, "reset notification failed", "user_id", user.ID, "error", err)
		} else {
			s.metrics.RecordResetNotification(metrics.StatusSuccess)
		}
	}

	return raw, nil
}

// ResetPassword consumes rawToken and sets newPassword. A token works once.
func (s *AccountService) ResetPassword(ctx context.Context, rawToken, newPassword string) (err error) {
	defer s.record("reset_password", &err)

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return types.ErrInvalidToken
	}

	digest := auth.ResetDigest(rawToken)
	user, err := s.users.FindByResetDigest(ctx, digest)
	if err != nil {
		return err
	}
	if user == nil || user.ResetChallenge == nil {
		return types.ErrInvalidToken
	}
	if err := s.resets.Validate(rawToken, *user.ResetChallenge); err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	err = s.users.UpdateFields(ctx, user.ID, types.UserUpdate{
		Password:            &newPassword,
		ClearResetChallenge: true,
		IfResetDigest:       digest,
	})
	if errors.Is(err, types.ErrNotFound) {
		// consumed by a concurrent reset
		return types.ErrInvalidToken
	}
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID)
	return nil
}

// SetPassword replaces the password of username without a reset token and
// drops any pending reset. It backs the administrative passwd command.
func (s *AccountService) SetPassword(ctx context.Context, username, newPassword string) (err error) {
	defer s.record("set_password", &err)

	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	if user == nil {
		return types.ErrNotFound
	}

	err = s.users.UpdateFields(ctx, user.ID, types.UserUpdate{
		Password:            &newPassword,
		ClearResetChallenge: true,
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password set by administrator", "user_id", user.ID)
	return nil
}

// UpdateProfile changes the provided name fields of the authenticated user
// and returns a fresh session token.
func (s *AccountService) UpdateProfile(ctx context.Context, identity auth.Identity, in types.ProfileUpdate) (token string, err error) {
	defer s.record("update_profile", &err)

	subject, err := identity.RequireSubject()
	if err != nil {
		return "", err
	}

	user, err := s.users.FindByID(ctx, subject)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", types.ErrNotFound
	}

	update := types.UserUpdate{
		FirstName:  nonEmpty(in.FirstName),
		MiddleName: nonEmpty(in.MiddleName),
		LastName:   nonEmpty(in.LastName),
	}
	if !update.Empty() {
		if err := s.users.UpdateFields(ctx, user.ID, update); err != nil {
			return "", err
		}
	}

	return s.sessions.Issue(user.ID)
}

// GetProfile returns the authenticated user's profile.
func (s *AccountService) GetProfile(ctx context.Context, identity auth.Identity) (profile types.Profile, err error) {
	defer s.record("get_profile", &err)

	subject, err := identity.RequireSubject()
	if err != nil {
		return types.Profile{}, err
	}

	user, err := s.users.FindByID(ctx, subject)
	if err != nil {
		return types.Profile{}, err
	}
	if user == nil {
		return types.Profile{}, types.ErrNotFound
	}
	return user.Profile(), nil
}

func (s *AccountService) decoyDigest() string {
	s.decoyOnce.Do(func() {
		digest, err := s.passwords.Hash("decoy-password-never-matches")
		if err != nil {
			s.logger.Warn("decoy password hash failed", "error", err)
			return
		}
		s.decoy = digest
	})
	return s.decoy
}

func (s *AccountService) record(operation string, errp *error) {
	err := *errp
	switch {
	case err == nil:
		s.metrics.RecordOperation(operation, metrics.StatusSuccess)
	case isRejection(err):
		s.metrics.RecordOperation(operation, metrics.StatusRejected)
	default:
		s.metrics.RecordOperation(operation, metrics.StatusError)
		s.logger.Error("account operation failed", "operation", operation, "error", err)
	}
}

var rejections = []error{
	types.ErrDuplicateUsername,
	types.ErrInvalidCredentials,
	types.ErrNotFound,
	types.ErrInvalidToken,
	types.ErrTokenExpired,
	types.ErrTokenMalformed,
	types.ErrSignatureInvalid,
	types.ErrUnauthorized,
	types.ErrInvalidArgument,
}

func isRejection(err error) bool {
	if types.IsInfrastructure(err) {
		return false
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func validateUsername(username string) error {
	n := len([]rune(username))
	if n < minUsernameLen || n > maxUsernameLen {
		return invalidArgument("username must be between 6 and 20 characters")
	}
	return nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < minPasswordLen {
		return invalidArgument("password must be at least 6 characters")
	}
	if len(password) > maxPasswordBytes {
		return invalidArgument("password must be at most 72 bytes")
	}

	// Only ASCII letters and digits count as such; every other rune,
	// including non-ASCII letters and digits, is a symbol.
	var digit, lower, upper, other bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		default:
			other = true
		}
	}
	if !digit || !lower || !upper || !other {
		return invalidArgument("password must contain a digit, a lower-case letter, an upper-case letter and a symbol")
	}
	return nil
}

type argumentError struct {
	msg string
}

func (e *argumentError) Error() string { return e.msg }

func (e *argumentError) Unwrap() error { return types.ErrInvalidArgument }

func invalidArgument(msg string) error {
	return &argumentError{msg: msg}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
