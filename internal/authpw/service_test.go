package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"pagespace/internal/store"
)

type mockUserStore struct {
	users   map[string]store.User // email -> user
	tenants map[string]store.Tenant
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: map[string]store.User{}, tenants: map[string]store.Tenant{}}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateTenantWithOwner(_ context.Context, tenant store.Tenant, owner store.User) error {
	m.tenants[tenant.ID] = tenant
	m.users[owner.Email] = owner
	return nil
}

func (m *mockUserStore) VerifyUserEmail(_ context.Context, token string) (store.User, error) {
	for email, u := range m.users {
		if u.VerificationToken == token {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			m.users[email] = u
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func newTestService(requireVerify bool) (*Service, *mockUserStore) {
	m := newMockUserStore()
	svc := NewService(m, requireVerify)
	svc.cost = bcrypt.MinCost
	return svc, m
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService(true)

	t.Run("successful sign up", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{Email: "Test@Example.com", Password: "password123", DisplayName: "Test User"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.User.ID == "" || resp.Tenant.ID == "" || resp.User.TenantID != resp.Tenant.ID {
			t.Fatalf("unexpected ids: %+v", resp)
		}
		if resp.User.TenantRole != "owner" || resp.User.Email != "test@example.com" {
			t.Errorf("unexpected user: %+v", resp.User)
		}
		if resp.VerificationToken == "" || !resp.RequiresEmailVerify {
			t.Error("expected a verification token")
		}
		if resp.Tenant.Name != "Test User's workspace" {
			t.Errorf("tenant name = %q", resp.Tenant.Name)
		}
		if len(m.tenants) != 1 {
			t.Errorf("expected one tenant, got %d", len(m.tenants))
		}
	})

	cases := []struct {
		name string
		req  SignUpRequest
		want error
	}{
		{"duplicate email", SignUpRequest{Email: "test@example.com", Password: "password123", DisplayName: "Other"}, ErrEmailTaken},
		{"short password", SignUpRequest{Email: "a@example.com", Password: "short", DisplayName: "A"}, ErrInvalidInput},
		{"bad email", SignUpRequest{Email: "not-an-email", Password: "password123", DisplayName: "A"}, ErrInvalidInput},
		{"missing fields", SignUpRequest{}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(true)

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123", DisplayName: "Test User"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "password123"}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("unverified sign in error = %v", err)
	}
	verified, err := svc.VerifyEmail(ctx, resp.VerificationToken)
	if err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	if !verified.IsEmailVerified || verified.Email != "test@example.com" {
		t.Fatalf("VerifyEmail() user = %+v", verified)
	}

	user, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Email != "test@example.com" {
		t.Errorf("expected email test@example.com, got %s", user.Email)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "wrongpassword"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v", err)
	}
}

func TestSignUpWithoutVerification(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(false)

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "password123", DisplayName: "A", WorkspaceName: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RequiresEmailVerify || resp.VerificationToken != "" || !resp.User.IsEmailVerified {
		t.Fatalf("expected verified account: %+v", resp)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@example.com", Password: "password123"}); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
}

func TestVerifyEmailInvalidToken(t *testing.T) {
	svc, _ := newTestService(true)
	if _, err := svc.VerifyEmail(context.Background(), "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.VerifyEmail(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}
