package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/password"
	"github.com/noah-isme/enrollment-api/pkg/token"
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	CreateIfNone(ctx context.Context, user *models.User) (bool, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
	VerifyDummy(password string)
}

type tokenManager interface {
	Issue(userID, username string, ttl time.Duration) (string, time.Time, error)
	Verify(raw string) (*token.Claims, error)
	TTL() time.Duration
}

type loginAttemptStore interface {
	Failures(ctx context.Context, username string) (int64, error)
	RecordFailure(ctx context.Context, username string, window time.Duration) (int64, error)
	Reset(ctx context.Context, username string) error
}

type loginRecorder interface {
	RecordLogin(outcome string)
}

// Login outcomes reported to metrics.
const (
	LoginOutcomeSuccess   = "success"
	LoginOutcomeFailure   = "failure"
	LoginOutcomeThrottled = "throttled"
)

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	MaxFailedAttempts int
	LockoutWindow     time.Duration
}

// AuthService authenticates principals, resolves bearer tokens and enforces roles.
type AuthService struct {
	repo      authUserRepository
	hasher    passwordHasher
	tokens    tokenManager
	attempts  loginAttemptStore
	metrics   loginRecorder
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance. attempts may be nil to disable throttling.
func NewAuthService(repo authUserRepository, hasher passwordHasher, tokens tokenManager, attempts loginAttemptStore, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		attempts:  attempts,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// SetMetrics attaches a recorder for login outcomes.
func (s *AuthService) SetMetrics(m loginRecorder) {
	s.metrics = m
}

// Authenticate returns the principal whose stored digest matches password.
// An unknown username fails with NotFound, a wrong password with InvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.hasher.VerifyDummy(password)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	return user, nil
}

// Login authenticates a user and issues an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	if s.throttled(ctx, req.Username) {
		s.recordLogin(LoginOutcomeThrottled)
		return nil, appErrors.Clone(appErrors.ErrTooManyRequests, "too many failed login attempts")
	}

	user, err := s.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, appErrors.ErrInvalidCredentials) {
			s.recordFailure(ctx, req.Username, req.IP)
			s.recordLogin(LoginOutcomeFailure)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, err
	}

	if s.attempts != nil {
		if err := s.attempts.Reset(ctx, user.Username); err != nil {
			s.logger.Warn("failed to reset login failures", zap.Error(err))
		}
	}

	accessToken, expiresAt, err := s.tokens.Issue(user.ID, user.Username, 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	s.recordLogin(LoginOutcomeSuccess)

	now := time.Now().UTC()
	return &models.LoginResponse{
		AccessToken: accessToken,
		TokenType:   models.TokenTypeBearer,
		ExpiresIn:   int64(expiresAt.Sub(now) / time.Second),
		User:        user.Info(),
		IssuedAt:    now,
	}, nil
}

// Resolve maps a bearer token to its current principal. The role is read from storage on each call.
func (s *AuthService) Resolve(ctx context.Context, raw string) (*models.User, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, tokenError(err)
	}

	user, err := s.repo.FindByUsername(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if claims.UserID != "" && claims.UserID != user.ID {
		// username was reused by a newer principal
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	return user, nil
}

// RequireRole fails with Unauthorized for a missing principal and Forbidden when the role is not allowed.
func (s *AuthService) RequireRole(user *models.User, allowed ...models.UserRole) error {
	if user == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	for _, role := range allowed {
		if user.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}

// Register creates a new principal. Only admins may register.
func (s *AuthService) Register(ctx context.Context, actor *models.User, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}
	if err := checkPasswordLength(req.Password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: digest,
		Role:         req.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateKey, "username already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)), zap.String("by", actor.ID))
	info := user.Info()
	return &info, nil
}

// BootstrapAdmin creates an admin principal when no user exists yet. It reports whether one was created.
func (s *AuthService) BootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "bootstrap admin credentials are required")
	}
	if err := checkPasswordLength(password); err != nil {
		return false, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	created, err := s.repo.CreateIfNone(ctx, &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: digest,
		Role:         models.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bootstrap admin")
	}
	if created {
		s.logger.Info("bootstrap admin created", zap.String("username", username))
	}
	return created, nil
}

func checkPasswordLength(pw string) error {
	if len(pw) > password.MaxBytes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("password must not exceed %d bytes", password.MaxBytes))
	}
	return nil
}

func (s *AuthService) throttled(ctx context.Context, username string) bool {
	if s.attempts == nil || s.config.MaxFailedAttempts <= 0 {
		return false
	}
	failures, err := s.attempts.Failures(ctx, username)
	if err != nil {
		s.logger.Warn("failed to read login failures", zap.Error(err))
		return false
	}
	return failures >= int64(s.config.MaxFailedAttempts)
}

func (s *AuthService) recordFailure(ctx context.Context, username, ip string) {
	s.logger.Info("login failed", zap.String("username", username), zap.String("ip", ip))
	if s.attempts == nil || s.config.MaxFailedAttempts <= 0 {
		return
	}
	if _, err := s.attempts.RecordFailure(ctx, username, s.config.LockoutWindow); err != nil {
		s.logger.Warn("failed to record login failure", zap.Error(err))
	}
}

func (s *AuthService) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(outcome)
	}
}

func tokenError(err error) *appErrors.Error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
	case errors.Is(err, token.ErrInvalidSignature):
		return appErrors.Wrap(err, appErrors.ErrTokenInvalidSignature.Code, appErrors.ErrTokenInvalidSignature.Status, appErrors.ErrTokenInvalidSignature.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrTokenMalformed.Code, appErrors.ErrTokenMalformed.Status, appErrors.ErrTokenMalformed.Message)
	}
}
