package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opResolveOwner = "accounts.resolve_owner"
	opOwnerExists  = "accounts.owner_exists"
	opLookup       = "accounts.lookup"

	defaultProvider = "default"
	// identityRefreshInterval bounds how often an unchanged session rewrites last_seen_at.
	identityRefreshInterval = 5 * time.Minute
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("accounts: invalid identity")

// ServiceConfig describes the dependencies required for owner identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical owner identifiers and provider-specific identities.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	logger     *zap.Logger
	owners     sync.Map
	identities sync.Map
}

type cachedIdentity struct {
	ownerID     string
	email       string
	displayName string
	avatarURL   string
	refreshedAt time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveOwnerID returns the canonical owner id for the provided session claims.
// It records a new identity when the provider+subject pair has not been seen before
// and refreshes the stored profile fields otherwise. Owner ids of named providers
// carry the provider prefix so equal subjects from different providers stay apart.
func (s *Service) ResolveOwnerID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", apperrors.New(apperrors.KindUnauthenticated, opResolveOwner, "invalid_identity", ErrInvalidIdentity)
	}
	email := normalize(claims.UserEmail)
	displayName := normalize(claims.UserDisplayName)
	avatarURL := normalize(claims.UserAvatarURL)

	cacheKey := provider + ":" + subject
	now := s.now()
	if cached, ok := s.identities.Load(cacheKey); ok {
		entry := cached.(cachedIdentity)
		if entry.email == email && entry.displayName == displayName && entry.avatarURL == avatarURL &&
			now.Sub(entry.refreshedAt) < identityRefreshInterval {
			return entry.ownerID, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			OwnerID:     canonicalOwnerID(provider, subject),
			Email:       email,
			DisplayName: displayName,
			AvatarURL:   avatarURL,
			LastSeenAt:  now,
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			s.logError(opResolveOwner, "identity_insert_failed", err, zap.String("provider", provider))
			return "", apperrors.New(apperrors.KindInternal, opResolveOwner, "identity_insert_failed", err)
		}
	case err != nil:
		s.logError(opResolveOwner, "identity_lookup_failed", err, zap.String("provider", provider))
		return "", apperrors.New(apperrors.KindInternal, opResolveOwner, "identity_lookup_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": now}
		if email != "" && email != identity.Email {
			updates["owner_email"] = email
		}
		if displayName != "" && displayName != identity.DisplayName {
			updates["owner_display_name"] = displayName
		}
		if avatarURL != "" && avatarURL != identity.AvatarURL {
			updates["owner_avatar_url"] = avatarURL
		}
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			// the session is still valid; the profile refresh is retried on the next request.
			s.logger.Warn("identity refresh failed",
				zap.String("operation", opResolveOwner),
				zap.String("reason", "identity_update_failed"),
				zap.String("owner_id", identity.OwnerID),
				zap.Error(err))
			s.owners.Store(identity.OwnerID, struct{}{})
			return identity.OwnerID, nil
		}
	}

	s.identities.Store(cacheKey, cachedIdentity{
		ownerID:     identity.OwnerID,
		email:       email,
		displayName: displayName,
		avatarURL:   avatarURL,
		refreshedAt: now,
	})
	s.owners.Store(identity.OwnerID, struct{}{})
	return identity.OwnerID, nil
}

// OwnerExists reports whether ownerID belongs to an account that has signed in at least once.
func (s *Service) OwnerExists(ctx context.Context, ownerID string) (bool, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return false, nil
	}
	if _, ok := s.owners.Load(ownerID); ok {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Identity{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return false, apperrors.New(apperrors.KindInternal, opOwnerExists, "query_failed", err)
	}
	if count == 0 {
		return false, nil
	}
	s.owners.Store(ownerID, struct{}{})
	return true, nil
}

// Lookup returns the most recently seen identity for ownerID, or nil when none exists.
func (s *Service) Lookup(ctx context.Context, ownerID string) (*Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", normalize(ownerID)).
		Order("last_seen_at DESC").
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindInternal, opLookup, "query_failed", err)
	}
	return &identity, nil
}

func canonicalOwnerID(provider, subject string) string {
	if provider == defaultProvider {
		return subject
	}
	return provider + ":" + subject
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("accounts service error", attrs...)
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
