package accounts

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	service, db, _, _ := newObservedTestService(t)
	return service, db
}

func newObservedTestService(t *testing.T) (*Service, *gorm.DB, *testClock, *observer.ObservedLogs) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "accounts.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	clock := &testClock{current: time.Unix(1, 0)}
	core, logs := observer.New(zapcore.DebugLevel)
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock.Now,
		Logger:   zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db, clock, logs
}

func countIdentities(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func TestResolveOwnerIDQualifiesProviderSubjects(t *testing.T) {
	service, db, clock, _ := newObservedTestService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserAvatarURL:   "https://example.com/avatar.png",
	}
	ownerID, err := service.ResolveOwnerID(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ownerID != "google:12345" {
		t.Fatalf("expected provider-qualified owner id, got %q", ownerID)
	}

	// second call refreshes the existing record instead of inserting another.
	clock.Advance(time.Minute)
	claims.UserDisplayName = "Renamed User"
	ownerID, err = service.ResolveOwnerID(context.Background(), claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if ownerID != "google:12345" {
		t.Fatalf("expected canonical owner id to remain stable, got %q", ownerID)
	}

	if count := countIdentities(t, db); count != 1 {
		t.Fatalf("expected a single identity, got %d", count)
	}
	identity, err := service.Lookup(context.Background(), "google:12345")
	if err != nil || identity == nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if identity.DisplayName != "Renamed User" {
		t.Fatalf("expected display name refresh, got %q", identity.DisplayName)
	}
}

func TestResolveOwnerIDKeepsProvidersApart(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	googleOwner, err := service.ResolveOwnerID(ctx, auth.SessionClaims{UserID: "google:123"})
	if err != nil {
		t.Fatalf("google resolve failed: %v", err)
	}
	githubOwner, err := service.ResolveOwnerID(ctx, auth.SessionClaims{UserID: "github:123"})
	if err != nil {
		t.Fatalf("github resolve failed: %v", err)
	}
	plainOwner, err := service.ResolveOwnerID(ctx, auth.SessionClaims{UserID: "123"})
	if err != nil {
		t.Fatalf("plain resolve failed: %v", err)
	}

	owners := map[string]bool{googleOwner: true, githubOwner: true, plainOwner: true}
	if len(owners) != 3 {
		t.Fatalf("expected three distinct owners, got %q %q %q", googleOwner, githubOwner, plainOwner)
	}
	if plainOwner != "123" {
		t.Fatalf("expected unqualified owner id for the default provider, got %q", plainOwner)
	}
	if count := countIdentities(t, db); count != 3 {
		t.Fatalf("expected three identities, got %d", count)
	}
}

func TestResolveOwnerIDSkipsStorageForRecentUnchangedSessions(t *testing.T) {
	service, db, clock, _ := newObservedTestService(t)
	ctx := context.Background()
	claims := auth.SessionClaims{UserID: "google:777", UserDisplayName: "Cached User"}

	if _, err := service.ResolveOwnerID(ctx, claims); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := db.Where("1 = 1").Delete(&Identity{}).Error; err != nil {
		t.Fatalf("failed to clear identities: %v", err)
	}

	clock.Advance(time.Minute)
	ownerID, err := service.ResolveOwnerID(ctx, claims)
	if err != nil || ownerID != "google:777" {
		t.Fatalf("expected cached owner id, got %q, %v", ownerID, err)
	}
	if count := countIdentities(t, db); count != 0 {
		t.Fatalf("expected no storage access within the refresh interval, got %d identities", count)
	}

	clock.Advance(identityRefreshInterval)
	if _, err := service.ResolveOwnerID(ctx, claims); err != nil {
		t.Fatalf("resolve after interval failed: %v", err)
	}
	if count := countIdentities(t, db); count != 1 {
		t.Fatalf("expected identity to be recorded again after the interval, got %d", count)
	}
}

func TestResolveOwnerIDLogsRefreshFailure(t *testing.T) {
	service, db, clock, logs := newObservedTestService(t)
	ctx := context.Background()
	claims := auth.SessionClaims{UserID: "google:888", UserDisplayName: "First Name"}

	if _, err := service.ResolveOwnerID(ctx, claims); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := db.Callback().Update().Before("gorm:update").Register("test:fail_updates", func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("disk full"))
	}); err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	clock.Advance(time.Minute)
	claims.UserDisplayName = "Second Name"
	ownerID, err := service.ResolveOwnerID(ctx, claims)
	if err != nil {
		t.Fatalf("expected refresh failure to be absorbed, got %v", err)
	}
	if ownerID != "google:888" {
		t.Fatalf("unexpected owner id %q", ownerID)
	}

	entries := logs.FilterMessage("identity refresh failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one refresh failure entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if reason, ok := entries[0].ContextMap()["reason"]; !ok || reason != "identity_update_failed" {
		t.Fatalf("unexpected reason field %v", entries[0].ContextMap())
	}
}

func TestResolveOwnerIDRejectsEmptyClaims(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ResolveOwnerID(context.Background(), auth.SessionClaims{}); err == nil {
		t.Fatalf("expected error for empty claims")
	}
}

func TestOwnerExists(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	exists, err := service.OwnerExists(ctx, "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatalf("expected unknown owner")
	}

	if _, err := service.ResolveOwnerID(ctx, auth.SessionClaims{UserID: "owner-1"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	exists, err = service.OwnerExists(ctx, "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatalf("expected known owner after first sign-in")
	}
	if identity, err := service.Lookup(ctx, "missing"); err != nil || identity != nil {
		t.Fatalf("expected nil identity for unknown owner, got %#v, %v", identity, err)
	}
}
