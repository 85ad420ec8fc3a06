package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository/memory"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type authFixture struct {
	store    *memory.Store
	hasher   *plainHasher
	attempts *memAttempts
	svc      *AuthService
	now      time.Time
	clockMu  sync.Mutex
}

func (f *authFixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func (f *authFixture) advance(d time.Duration) {
	f.clockMu.Lock()
	f.now = f.now.Add(d)
	f.clockMu.Unlock()
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		store:    memory.NewStore(),
		hasher:   &plainHasher{},
		attempts: &memAttempts{},
		now:      time.Now().UTC(),
	}
	f.svc = NewAuthService(f.store.Users(), f.hasher, newTestTokens(f.clock), f.attempts, nil, nil, AuthConfig{
		MaxFailedAttempts: 3,
		LockoutWindow:     time.Minute,
	})
	created, err := f.svc.BootstrapAdmin(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	require.True(t, created)
	return f
}

func (f *authFixture) admin(t *testing.T) *models.User {
	t.Helper()
	user, err := f.store.Users().FindByUsername(context.Background(), "admin")
	require.NoError(t, err)
	return user
}

func TestAuthServiceBootstrapAdminOnlyOnce(t *testing.T) {
	f := newAuthFixture(t)

	created, err := f.svc.BootstrapAdmin(context.Background(), "other", "secret1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, f.store.UserCount())
	assert.Equal(t, models.RoleAdmin, f.admin(t).Role)
}

func TestAuthServiceLoginAndResolve(t *testing.T) {
	f := newAuthFixture(t)

	resp, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeBearer, resp.TokenType)
	assert.InDelta(t, 1800, resp.ExpiresIn, 1)
	assert.LessOrEqual(t, resp.ExpiresIn, int64(1800))
	assert.Equal(t, "admin", resp.User.Username)

	user, err := f.svc.Resolve(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Username)
	assert.Equal(t, models.RoleAdmin, user.Role)
}

func TestAuthServiceLoginFailuresLookIdentical(t *testing.T) {
	f := newAuthFixture(t)

	_, wrongPassword := f.svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "nope"})
	_, unknownUser := f.svc.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "nope"})

	for _, err := range []error{wrongPassword, unknownUser} {
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
		assert.Equal(t, "incorrect username or password", appErr.Message)
		assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	}
	assert.Equal(t, 1, f.hasher.dummyCalls)
}

func TestAuthServiceAuthenticateDistinguishesCauses(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Authenticate(context.Background(), "ghost", "x")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Authenticate(context.Background(), "admin", "x")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestAuthServiceLoginThrottlesAfterFailures(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, models.LoginRequest{Username: "admin", Password: "bad"})
		require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, models.LoginRequest{Username: "admin", Password: "admin123"})
	assert.ErrorIs(t, err, appErrors.ErrTooManyRequests)

	require.NoError(t, f.attempts.Reset(ctx, "admin"))
	_, err = f.svc.Login(ctx, models.LoginRequest{Username: "admin", Password: "admin123"})
	assert.NoError(t, err)
}

func TestAuthServiceLoginValidatesPayload(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Username: "  ", Password: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceResolveRejectsBadTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, models.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	t.Run("malformed", func(t *testing.T) {
		_, err := f.svc.Resolve(ctx, "not-a-token")
		assert.ErrorIs(t, err, appErrors.ErrTokenMalformed)
	})

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(resp.AccessToken, ".")
		require.Len(t, parts, 3)
		parts[2] = flip(parts[2][:1]) + parts[2][1:]
		_, err := f.svc.Resolve(ctx, strings.Join(parts, "."))
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, appErrors.ErrTokenInvalidSignature.Code, appErr.Code)
		assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	})

	t.Run("principal removed", func(t *testing.T) {
		require.True(t, f.store.RemoveUser("admin"))
		_, err := f.svc.Resolve(ctx, resp.AccessToken)
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		f.advance(31 * time.Minute)
		_, err := f.svc.Resolve(ctx, resp.AccessToken)
		assert.ErrorIs(t, err, appErrors.ErrTokenExpired)
	})
}

func TestAuthServiceResolveReadsCurrentRole(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, f.admin(t), models.RegisterRequest{Username: "teach", Password: "secret1", Role: models.RoleTeacher})
	require.NoError(t, err)

	resp, err := f.svc.Login(ctx, models.LoginRequest{Username: "teach", Password: "secret1"})
	require.NoError(t, err)

	require.True(t, f.store.SetRole("teach", models.RoleAdmin))

	user, err := f.svc.Resolve(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
}

func TestAuthServiceRequireRole(t *testing.T) {
	svc := NewAuthService(nil, nil, nil, nil, nil, nil, AuthConfig{})

	assert.ErrorIs(t, svc.RequireRole(nil, models.RoleAdmin), appErrors.ErrUnauthorized)
	assert.ErrorIs(t, svc.RequireRole(&models.User{Role: models.RoleTeacher}, models.RoleAdmin), appErrors.ErrForbidden)
	assert.NoError(t, svc.RequireRole(&models.User{Role: models.RoleTeacher}, models.RoleAdmin, models.RoleTeacher))
}

func TestAuthServiceRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	admin := f.admin(t)

	info, err := f.svc.Register(ctx, admin, models.RegisterRequest{Username: "teach", Password: "secret1", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, info.Role)

	_, err = f.svc.Register(ctx, admin, models.RegisterRequest{Username: "teach", Password: "secret2", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateKey)

	_, err = f.svc.Register(ctx, admin, models.RegisterRequest{Username: "bad", Password: "secret1", Role: "owner"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	teacher, err := f.store.Users().FindByUsername(ctx, "teach")
	require.NoError(t, err)
	before := f.store.UserCount()
	_, err = f.svc.Register(ctx, teacher, models.RegisterRequest{Username: "sneaky", Password: "secret1", Role: models.RoleAdmin})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, before, f.store.UserCount())
}

func TestAuthServiceRejectsPasswordsOverBcryptLimit(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	admin := f.admin(t)

	// 40 runes, 80 bytes
	long := strings.Repeat("é", 40)
	_, err := f.svc.Register(ctx, admin, models.RegisterRequest{Username: "bob", Password: long, Role: models.RoleTeacher})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Equal(t, 1, f.store.UserCount())

	_, err = f.svc.Register(ctx, admin, models.RegisterRequest{Username: "bob", Password: strings.Repeat("é", 36), Role: models.RoleTeacher})
	require.NoError(t, err)

	fresh := NewAuthService(memory.NewStore().Users(), &plainHasher{}, newTestTokens(f.clock), nil, nil, nil, AuthConfig{})
	created, err := fresh.BootstrapAdmin(ctx, "admin", long)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.False(t, created)
}

func flip(s string) string {
	out := []byte(s)
	for i, b := range out {
		if b == 'A' {
			out[i] = 'B'
		} else {
			out[i] = 'A'
		}
	}
	return string(out)
}
