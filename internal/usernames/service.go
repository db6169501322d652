package usernames

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew   = "usernames.service.new"
	opResolve      = "usernames.resolve"
	opSetUsername  = "usernames.set_username"
	opAvailability = "usernames.check_availability"
	opSlugFor      = "usernames.slug_for"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingDirectory = errors.New("owner directory is required")
	errMissingOwner     = errors.New("owner identifier is required")
	errProfileNotFound  = errors.New("profile not found")
	noOpLogger          = zap.NewNop()
)

// OwnerDirectory reports whether a raw owner identifier refers to a known account.
type OwnerDirectory interface {
	OwnerExists(ctx context.Context, ownerID string) (bool, error)
}

type ServiceConfig struct {
	Database *gorm.DB
	Owners   OwnerDirectory
	Cache    SlugCache
	Logger   *zap.Logger
}

// Service resolves public slugs and manages username claims.
type Service struct {
	db     *gorm.DB
	owners OwnerDirectory
	cache  SlugCache
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Owners == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_owner_directory", errMissingDirectory)
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewNoopCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		owners: cfg.Owners,
		cache:  cache,
		logger: logger,
	}, nil
}

// Resolve maps slug to an owner id. A claimed username wins; otherwise the
// slug must itself be the id of a known owner. Anything else is NotFound.
func (s *Service) Resolve(ctx context.Context, slug string) (string, error) {
	slug = normalize(slug)
	if slug == "" {
		return "", apperrors.New(apperrors.KindNotFound, opResolve, "profile_not_found", errProfileNotFound)
	}

	ownerID, err := s.cache.Get(ctx, slug)
	if err == nil && ownerID != "" {
		return ownerID, nil
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("slug cache read failed", zap.String("slug", slug), zap.Error(err))
	}

	var record Record
	err = s.db.WithContext(ctx).Where("username = ?", slug).Take(&record).Error
	switch {
	case err == nil:
		ownerID = record.OwnerID
	case errors.Is(err, gorm.ErrRecordNotFound):
		exists, lookupErr := s.owners.OwnerExists(ctx, slug)
		if lookupErr != nil {
			s.logError(opResolve, "owner_lookup_failed", lookupErr, zap.String("slug", slug))
			return "", lookupErr
		}
		if !exists {
			return "", apperrors.New(apperrors.KindNotFound, opResolve, "profile_not_found", errProfileNotFound)
		}
		ownerID = slug
	default:
		s.logError(opResolve, "query_failed", err, zap.String("slug", slug))
		return "", apperrors.New(apperrors.KindInternal, opResolve, "query_failed", err)
	}

	if err := s.cache.Set(ctx, slug, ownerID); err != nil {
		s.logger.Warn("slug cache write failed", zap.String("slug", slug), zap.Error(err))
	}
	return ownerID, nil
}

// SetUsername claims candidate for ownerID, replacing any earlier claim.
// Format violations and conflicts are reported through Result; only storage
// failures and a missing owner are returned as errors.
func (s *Service) SetUsername(ctx context.Context, ownerID, candidate string) (Result, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return Result{}, apperrors.New(apperrors.KindUnauthenticated, opSetUsername, "missing_owner", errMissingOwner)
	}
	candidate = normalize(candidate)
	if message := validateCandidate(candidate); message != "" {
		return Result{Success: false, Error: message}, nil
	}

	holder, err := s.holderOf(ctx, candidate)
	if err != nil {
		s.logError(opSetUsername, "holder_lookup_failed", err, zap.String("owner_id", ownerID))
		return Result{}, apperrors.New(apperrors.KindInternal, opSetUsername, "holder_lookup_failed", err)
	}
	if holder != "" && holder != ownerID {
		return Result{Success: false, Error: messageTaken}, nil
	}

	previous, err := s.usernameOf(ctx, ownerID)
	if err != nil {
		s.logError(opSetUsername, "current_lookup_failed", err, zap.String("owner_id", ownerID))
		return Result{}, apperrors.New(apperrors.KindInternal, opSetUsername, "current_lookup_failed", err)
	}

	record := Record{OwnerID: ownerID, Username: candidate}
	upsertErr := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"username": candidate, "updated_at": time.Now().UTC()}),
	}).Create(&record).Error
	if upsertErr != nil {
		// a concurrent claim may have won the unique index between the check and the write.
		holder, err := s.holderOf(ctx, candidate)
		if err == nil && holder != "" && holder != ownerID {
			return Result{Success: false, Error: messageTaken}, nil
		}
		s.logError(opSetUsername, "upsert_failed", upsertErr, zap.String("owner_id", ownerID))
		return Result{}, apperrors.New(apperrors.KindInternal, opSetUsername, "upsert_failed", upsertErr)
	}

	if previous != "" && previous != candidate {
		if err := s.cache.Delete(ctx, previous); err != nil {
			s.logger.Warn("slug cache invalidation failed", zap.String("slug", previous), zap.Error(err))
		}
	}
	if err := s.cache.Set(ctx, candidate, ownerID); err != nil {
		s.logger.Warn("slug cache write failed", zap.String("slug", candidate), zap.Error(err))
	}
	return Result{Success: true}, nil
}

// CheckAvailability reports whether ownerID could claim candidate right now.
// It never writes.
func (s *Service) CheckAvailability(ctx context.Context, ownerID, candidate string) (Result, error) {
	candidate = normalize(candidate)
	if message := validateCandidate(candidate); message != "" {
		return Result{Success: false, Error: message}, nil
	}
	holder, err := s.holderOf(ctx, candidate)
	if err != nil {
		s.logError(opAvailability, "holder_lookup_failed", err)
		return Result{}, apperrors.New(apperrors.KindInternal, opAvailability, "holder_lookup_failed", err)
	}
	if holder != "" && holder != normalize(ownerID) {
		return Result{Success: false, Error: messageTaken}, nil
	}
	return Result{Success: true}, nil
}

// UsernameOf returns the username claimed by ownerID, or an empty string.
func (s *Service) UsernameOf(ctx context.Context, ownerID string) (string, error) {
	username, err := s.usernameOf(ctx, normalize(ownerID))
	if err != nil {
		s.logError(opSlugFor, "query_failed", err, zap.String("owner_id", ownerID))
		return "", apperrors.New(apperrors.KindInternal, opSlugFor, "query_failed", err)
	}
	return username, nil
}

// SlugFor returns the public slug of ownerID: the claimed username, or the owner id itself.
func (s *Service) SlugFor(ctx context.Context, ownerID string) (string, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return "", apperrors.New(apperrors.KindUnauthenticated, opSlugFor, "missing_owner", errMissingOwner)
	}
	username, err := s.UsernameOf(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if username == "" {
		return ownerID, nil
	}
	return username, nil
}

func (s *Service) holderOf(ctx context.Context, username string) (string, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.OwnerID, nil
}

func (s *Service) usernameOf(ctx context.Context, ownerID string) (string, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.Username, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("usernames service error", attrs...)
}
