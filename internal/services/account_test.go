package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/identity/internal/auth"
	"github.com/jjudge-oj/identity/internal/metrics"
	"github.com/jjudge-oj/identity/internal/notify"
	"github.com/jjudge-oj/identity/internal/store"
	"github.com/jjudge-oj/identity/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	goodPassword  = "Secret1!"
	otherPassword = "Other2?x"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc     *AccountService
	users   *store.MemoryUserRepository
	issuer  *auth.SessionTokenIssuer
	gate    *auth.Gate
	clock   *fakeClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	users := store.NewMemoryUserRepository(hasher)
	issuer := auth.NewSessionTokenIssuer("test-secret", time.Hour, clock.Now)
	m := metrics.New(prometheus.NewRegistry())

	opts = append([]Option{WithMetrics(m)}, opts...)
	svc := NewAccountService(users, hasher, issuer, auth.NewResetTokenManager(clock.Now), opts...)
	return &fixture{
		svc:     svc,
		users:   users,
		issuer:  issuer,
		gate:    auth.NewGate(issuer),
		clock:   clock,
		metrics: m,
	}
}

func (f *fixture) register(t *testing.T, username string) string {
	t.Helper()
	token, err := f.svc.Register(context.Background(), RegisterInput{
		Username:  username,
		Password:  goodPassword,
		FirstName: "Alice",
		LastName:  "Liddell",
	})
	require.NoError(t, err)
	return token
}

func (f *fixture) identity(t *testing.T, token string) auth.Identity {
	t.Helper()
	id := f.gate.Resolve("Bearer " + token)
	require.True(t, id.IsAuthenticated())
	return id
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	regToken := f.register(t, "alice01")
	regSubject, err := f.issuer.Verify(regToken)
	require.NoError(t, err)

	loginToken, err := f.svc.Login(ctx, "alice01", goodPassword)
	require.NoError(t, err)
	loginSubject, err := f.issuer.Verify(loginToken)
	require.NoError(t, err)

	user, err := f.users.FindByUsername(ctx, "alice01")
	require.NoError(t, err)
	assert.Equal(t, user.ID, regSubject)
	assert.Equal(t, user.ID, loginSubject)
}

func TestRegister_StoresHashNotPlaintext(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice01")

	user, err := f.users.FindByUsername(context.Background(), "alice01", store.WithPasswordHash())
	require.NoError(t, err)
	assert.NotEqual(t, goodPassword, user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(goodPassword)))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	_, err := f.svc.Register(ctx, RegisterInput{
		Username:  "alice01",
		Password:  otherPassword,
		FirstName: "Mallory",
		LastName:  "M",
	})
	assert.ErrorIs(t, err, types.ErrDuplicateUsername)

	// the original record is untouched
	_, err = f.svc.Login(ctx, "alice01", goodPassword)
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice01", otherPassword)
	assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("register", metrics.StatusRejected)))
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"short username", RegisterInput{Username: "abc", Password: goodPassword, FirstName: "A", LastName: "B"}},
		{"long username", RegisterInput{Username: "abcdefghijklmnopqrstu", Password: goodPassword, FirstName: "A", LastName: "B"}},
		{"short password", RegisterInput{Username: "alice01", Password: "Aa1!", FirstName: "A", LastName: "B"}},
		{"no digit", RegisterInput{Username: "alice01", Password: "Secret!!", FirstName: "A", LastName: "B"}},
		{"no upper", RegisterInput{Username: "alice01", Password: "secret1!", FirstName: "A", LastName: "B"}},
		{"no lower", RegisterInput{Username: "alice01", Password: "SECRET1!", FirstName: "A", LastName: "B"}},
		{"no symbol", RegisterInput{Username: "alice01", Password: "Secret12", FirstName: "A", LastName: "B"}},
		{"non-ascii digit only", RegisterInput{Username: "alice01", Password: "Abcdef١!", FirstName: "A", LastName: "B"}},
		{"missing first name", RegisterInput{Username: "alice01", Password: goodPassword, LastName: "B"}},
		{"missing last name", RegisterInput{Username: "alice01", Password: goodPassword, FirstName: "A"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in)
			assert.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}
}

func TestValidatePassword_CharacterClasses(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Abcdef1!", true},
		{"Abcdef1é", true},
		{"Abcdef1中", true},
		{"Abcdef1ß", true},
		{"Abcdef١!", false},
		{"Ébcdef1!", false},
	}
	for _, tc := range tests {
		err := validatePassword(tc.password)
		if tc.ok {
			assert.NoError(t, err, tc.password)
		} else {
			assert.ErrorIs(t, err, types.ErrInvalidArgument, tc.password)
		}
	}
}

func TestRegister_NonASCIILetterCountsAsSymbol(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username:  "alice01",
		Password:  "Abcdef1é",
		FirstName: "A",
		LastName:  "B",
	})
	assert.NoError(t, err)
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	_, wrongPassword := f.svc.Login(ctx, "alice01", otherPassword)
	_, unknownUser := f.svc.Login(ctx, "nobody99", goodPassword)

	require.ErrorIs(t, wrongPassword, types.ErrInvalidCredentials)
	require.ErrorIs(t, unknownUser, types.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestForgotPassword_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ForgotPassword(context.Background(), "nobody99")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestForgotPassword_StoresOnlyDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	user, err := f.users.FindByUsername(ctx, "alice01")
	require.NoError(t, err)
	require.NotNil(t, user.ResetChallenge)
	assert.NotEqual(t, raw, user.ResetChallenge.Digest)
	assert.Equal(t, auth.ResetDigest(raw), user.ResetChallenge.Digest)
	assert.Equal(t, f.clock.Now().Add(auth.ResetTokenTTL), user.ResetChallenge.ExpiresAt)
}

func TestResetPassword_OneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, raw, otherPassword))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, raw, "Third3#x"), types.ErrInvalidToken)

	_, err = f.svc.Login(ctx, "alice01", goodPassword)
	assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "alice01", otherPassword)
	assert.NoError(t, err)

	user, err := f.users.FindByUsername(ctx, "alice01")
	require.NoError(t, err)
	assert.Nil(t, user.ResetChallenge)
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)

	f.clock.Advance(auth.ResetTokenTTL)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, raw, otherPassword), types.ErrTokenExpired)

	_, err = f.svc.Login(ctx, "alice01", goodPassword)
	assert.NoError(t, err)
}

func TestResetPassword_UnknownToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice01")

	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "deadbeef", otherPassword), types.ErrInvalidToken)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "", otherPassword), types.ErrInvalidToken)
}

func TestResetPassword_NewTokenSupersedesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	first, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)
	second, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, first, otherPassword), types.ErrInvalidToken)
	assert.NoError(t, f.svc.ResetPassword(ctx, second, otherPassword))
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, raw, "weak"), types.ErrInvalidArgument)
	assert.NoError(t, f.svc.ResetPassword(ctx, raw, otherPassword))
}

func TestSetPassword_DropsPendingReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(ctx, "alice01")
	require.NoError(t, err)

	require.NoError(t, f.svc.SetPassword(ctx, "alice01", otherPassword))
	_, err = f.svc.Login(ctx, "alice01", otherPassword)
	assert.NoError(t, err)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, raw, "Third3#x"), types.ErrInvalidToken)

	assert.ErrorIs(t, f.svc.SetPassword(ctx, "nobody99", otherPassword), types.ErrNotFound)
	assert.ErrorIs(t, f.svc.SetPassword(ctx, "alice01", "weak"), types.ErrInvalidArgument)
}

func TestUpdateProfile_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateProfile(context.Background(), f.gate.Resolve(""), types.ProfileUpdate{})
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = f.svc.UpdateProfile(context.Background(), f.gate.Resolve("Bearer forged.token.value"), types.ProfileUpdate{})
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestUpdateProfile_OnlyProvidedFieldsChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.identity(t, f.register(t, "alice01"))

	middle := "Pleasance"
	empty := ""
	token, err := f.svc.UpdateProfile(ctx, id, types.ProfileUpdate{MiddleName: &middle, FirstName: &empty})
	require.NoError(t, err)

	subject, err := f.issuer.Verify(token)
	require.NoError(t, err)
	want, _ := id.Subject()
	assert.Equal(t, want, subject)

	profile, err := f.svc.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.FirstName)
	assert.Equal(t, "Pleasance", profile.MiddleName)
	assert.Equal(t, "Liddell", profile.LastName)
	assert.Equal(t, "alice01", profile.Username)

	// password untouched
	_, err = f.svc.Login(ctx, "alice01", goodPassword)
	assert.NoError(t, err)
}

func TestUpdateProfile_DeletedSubject(t *testing.T) {
	f := newFixture(t)

	ghost := auth.Authenticated("2b1f5d61-3f0a-4d8e-9b8c-7f6a5e4d3c2b")
	_, err := f.svc.UpdateProfile(context.Background(), ghost, types.ProfileUpdate{})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.GetProfile(context.Background(), ghost)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetProfile_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetProfile(context.Background(), auth.Anonymous)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

type recordingNotifier struct {
	events []notify.PasswordResetRequested
	err    error
}

func (n *recordingNotifier) NotifyPasswordReset(ctx context.Context, event notify.PasswordResetRequested) error {
	n.events = append(n.events, event)
	return n.err
}

func TestForgotPassword_NotifiesDelivery(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, WithResetNotifier(n))
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(context.Background(), "alice01")
	require.NoError(t, err)

	require.Len(t, n.events, 1)
	assert.Equal(t, raw, n.events[0].Token)
	assert.Equal(t, "alice01", n.events[0].Username)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ResetsDispatched.WithLabelValues(metrics.StatusSuccess)))
}

func TestForgotPassword_NotifierFailureDoesNotFail(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	f := newFixture(t, WithResetNotifier(n))
	f.register(t, "alice01")

	raw, err := f.svc.ForgotPassword(context.Background(), "alice01")
	require.NoError(t, err)
	assert.NoError(t, f.svc.ResetPassword(context.Background(), raw, otherPassword))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ResetsDispatched.WithLabelValues(metrics.StatusError)))
}

type countingHasher struct {
	*auth.PasswordHasher
	mu      sync.Mutex
	hashes  int
	digests []string
}

func (h *countingHasher) Hash(plaintext string) (string, error) {
	h.mu.Lock()
	h.hashes++
	h.mu.Unlock()
	return h.PasswordHasher.Hash(plaintext)
}

func (h *countingHasher) Verify(plaintext, digest string) bool {
	h.mu.Lock()
	h.digests = append(h.digests, digest)
	h.mu.Unlock()
	return h.PasswordHasher.Verify(plaintext, digest)
}

func TestLogin_UnknownUserStillRunsBcrypt(t *testing.T) {
	hasher := &countingHasher{PasswordHasher: auth.NewPasswordHasher(bcrypt.MinCost)}
	users := store.NewMemoryUserRepository(hasher)
	svc := NewAccountService(users, hasher, auth.NewSessionTokenIssuer("k", time.Hour, nil), auth.NewResetTokenManager(nil))

	for i := 0; i < 2; i++ {
		_, err := svc.Login(context.Background(), "nobody99", goodPassword)
		require.ErrorIs(t, err, types.ErrInvalidCredentials)
	}

	require.Len(t, hasher.digests, 2)
	for _, digest := range hasher.digests {
		_, err := bcrypt.Cost([]byte(digest))
		assert.NoError(t, err, "unknown usernames must be checked against a real bcrypt digest")
	}
	assert.Equal(t, 1, hasher.hashes)
}

type brokenRepo struct {
	UserRepository
}

func (brokenRepo) FindByUsername(context.Context, string, ...store.FindOption) (*types.User, error) {
	return nil, types.Infrastructure(errors.New("db down"), "find user")
}

func TestInfrastructureFaultsAreDistinct(t *testing.T) {
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	m := metrics.New(prometheus.NewRegistry())
	svc := NewAccountService(brokenRepo{}, hasher, auth.NewSessionTokenIssuer("k", time.Hour, nil), auth.NewResetTokenManager(nil), WithMetrics(m))

	_, err := svc.Login(context.Background(), "alice01", goodPassword)
	require.Error(t, err)
	assert.True(t, types.IsInfrastructure(err))
	assert.False(t, errors.Is(err, types.ErrInvalidCredentials))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("login", metrics.StatusError)))
}

func TestConcurrentRegisterSameUsername(t *testing.T) {
	f := newFixture(t)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterInput{
				Username:  "racer01",
				Password:  goodPassword,
				FirstName: "R",
				LastName:  "R",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, types.ErrDuplicateUsername)
	}
	assert.Equal(t, 1, ok)
}
