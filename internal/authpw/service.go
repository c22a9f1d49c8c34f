// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pagespace/internal/store"
	"pagespace/internal/util"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidToken       = errors.New("invalid or expired verification token")
)

const (
	minPasswordLen  = 8
	verificationTTL = 24 * time.Hour
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateTenantWithOwner(ctx context.Context, tenant store.Tenant, owner store.User) error
	VerifyUserEmail(ctx context.Context, token string) (store.User, error)
}

type Service struct {
	store         UserStore
	requireVerify bool
	cost          int
	now           func() time.Time
}

// NewService creates the auth service. When requireVerify is false new
// accounts are marked verified immediately (no mail transport configured).
func NewService(store UserStore, requireVerify bool) *Service {
	return &Service{
		store:         store,
		requireVerify: requireVerify,
		cost:          bcrypt.DefaultCost,
		now:           time.Now,
	}
}

type SignUpRequest struct {
	Email         string
	Password      string
	DisplayName   string
	WorkspaceName string
}

type SignUpResponse struct {
	User                store.User
	Tenant              store.Tenant
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a tenant with the new user as its owner.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return nil, fmt.Errorf("%w: email, password, and display name are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	workspace := strings.TrimSpace(req.WorkspaceName)
	if workspace == "" {
		workspace = name + "'s workspace"
	}
	tenant := store.Tenant{
		ID:   util.NewID("tnt"),
		Name: workspace,
	}
	tenant.Slug = util.Slugify(workspace) + "-" + tenant.ID[len(tenant.ID)-6:]

	user := store.User{
		ID:              util.NewID("usr"),
		TenantID:        tenant.ID,
		DisplayName:     name,
		Email:           email,
		PasswordHash:    string(hash),
		TenantRole:      "owner",
		IsEmailVerified: !s.requireVerify,
	}
	if s.requireVerify {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate verification token: %w", err)
		}
		expires := s.now().Add(verificationTTL)
		user.VerificationToken = token
		user.VerificationExpiresAt = &expires
	}

	if err := s.store.CreateTenantWithOwner(ctx, tenant, user); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	return &SignUpResponse{
		User:                user,
		Tenant:              tenant,
		VerificationToken:   user.VerificationToken,
		RequiresEmailVerify: s.requireVerify,
	}, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks the password. Unverified accounts get ErrEmailNotVerified
// only after the password matched, so the error does not leak existence.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return store.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if store.IsNotFound(err) {
			// Burn comparable time so unknown emails are not distinguishable.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if s.requireVerify && !user.IsEmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

// VerifyEmail verifies an email address using a token and returns the
// verified user.
func (s *Service) VerifyEmail(ctx context.Context, token string) (store.User, error) {
	if strings.TrimSpace(token) == "" {
		return store.User{}, fmt.Errorf("%w: verification token required", ErrInvalidInput)
	}
	user, err := s.store.VerifyUserEmail(ctx, token)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, ErrInvalidToken
		}
		return store.User{}, err
	}
	return user, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("pagespace-dummy-password"), bcrypt.MinCost)

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
