package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"pagespace/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func user(id string) store.User {
	return store.User{ID: id, TenantID: "tenant-1"}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "://nope"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", user("user-123"), time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	got, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != "user-123" || got.TenantID != "tenant-1" {
		t.Errorf("unexpected user %+v", got)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "expired", user("user-456"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := rs.LookupRefreshSession(ctx, "expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if _, err := rs.LookupRefreshSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	if err := rs.SaveRefreshSession(ctx, "token-1", user("user-1"), exp); err != nil {
		t.Fatal(err)
	}
	if err := rs.SaveRefreshSession(ctx, "token-2", user("user-2"), exp); err != nil {
		t.Fatal(err)
	}
	if err := rs.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("token-1 should be revoked, got %v", err)
	}
	if ok, _ := s.SIsMember("refresh:user:user-1", "token-1"); ok {
		t.Error("token-1 should be removed from the user index")
	}
	if got, err := rs.LookupRefreshSession(ctx, "token-2"); err != nil || got.ID != "user-2" {
		t.Errorf("token-2 should survive, got %+v %v", got, err)
	}
	if err := rs.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Errorf("revoking twice should be a no-op, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for _, h := range []string{"a", "b"} {
		if err := rs.SaveRefreshSession(ctx, h, user("user-1"), exp); err != nil {
			t.Fatal(err)
		}
	}
	if err := rs.SaveRefreshSession(ctx, "c", user("user-2"), exp); err != nil {
		t.Fatal(err)
	}

	n, err := rs.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked %d sessions, want 2", n)
	}
	if _, err := rs.LookupRefreshSession(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Error("session a should be gone")
	}
	if _, err := rs.LookupRefreshSession(ctx, "c"); err != nil {
		t.Errorf("other user's session should remain: %v", err)
	}
}
