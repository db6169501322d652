package customizations

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "customizations.service.new"
	opGet        = "customizations.get"
	opUpsert     = "customizations.upsert"
	opRemove     = "customizations.remove_image"
	opUploadURL  = "customizations.create_upload_url"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingOwner    = errors.New("owner identifier is required")
	noOpLogger         = zap.NewNop()
)

// SlugResolver maps a public slug to the owner that holds the profile.
type SlugResolver interface {
	Resolve(ctx context.Context, slug string) (string, error)
}

type ServiceConfig struct {
	Database     *gorm.DB
	Store        ObjectStore
	SlugResolver SlugResolver
	KeyGenerator func() (string, error)
	Logger       *zap.Logger
}

// Service persists per-owner page customizations and their profile image objects.
type Service struct {
	db       *gorm.DB
	store    ObjectStore
	resolver SlugResolver
	newKey   func() (string, error)
	logger   *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	store := cfg.Store
	if store == nil {
		store = NewDisabledStore()
	}
	newKey := cfg.KeyGenerator
	if newKey == nil {
		newKey = func() (string, error) {
			value, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return value.String(), nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		store:    store,
		resolver: cfg.SlugResolver,
		newKey:   newKey,
		logger:   logger,
	}, nil
}

// Get returns the owner's customization, or nil when none was saved.
func (s *Service) Get(ctx context.Context, ownerID string) (*View, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.New(apperrors.KindUnauthenticated, opGet, "missing_owner", errMissingOwner)
	}
	record, found, err := s.load(ctx, s.db, ownerID)
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, apperrors.New(apperrors.KindInternal, opGet, "query_failed", err)
	}
	if !found {
		return nil, nil
	}
	view := s.view(ctx, record)
	return &view, nil
}

// GetBySlug resolves slug and returns that owner's customization.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*View, error) {
	if s.resolver == nil {
		return nil, apperrors.New(apperrors.KindInternal, opGet, "missing_slug_resolver", errors.New("slug resolver is required"))
	}
	ownerID, err := s.resolver.Resolve(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID)
}

// Upsert applies the present fields of patch. When the image key changes the
// previous object is deleted from storage.
func (s *Service) Upsert(ctx context.Context, ownerID string, patch Patch) (View, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return View{}, apperrors.New(apperrors.KindUnauthenticated, opUpsert, "missing_owner", errMissingOwner)
	}
	if err := patch.validate(opUpsert, ownerID); err != nil {
		return View{}, err
	}
	if patch.Empty() {
		current, err := s.Get(ctx, ownerID)
		if err != nil || current == nil {
			return View{OwnerID: ownerID}, err
		}
		return *current, nil
	}

	var saved Customization
	var replacedKey string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, found, err := s.load(ctx, tx, ownerID)
		if err != nil {
			s.logError(opUpsert, "select_failed", err, zap.String("owner_id", ownerID))
			return apperrors.New(apperrors.KindInternal, opUpsert, "select_failed", err)
		}
		if !found {
			current = Customization{OwnerID: ownerID}
		}
		saved = merge(current, patch)
		if current.ImageKey != nil && (saved.ImageKey == nil || *saved.ImageKey != *current.ImageKey) {
			replacedKey = *current.ImageKey
		}
		if err := tx.Save(&saved).Error; err != nil {
			s.logError(opUpsert, "save_failed", err, zap.String("owner_id", ownerID))
			return apperrors.New(apperrors.KindInternal, opUpsert, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return View{}, txErr
	}

	if replacedKey != "" {
		s.deleteObject(ctx, opUpsert, ownerID, replacedKey)
	}
	return s.view(ctx, saved), nil
}

// RemoveImage clears the profile image reference and deletes the stored object.
// Owners without an image are left untouched.
func (s *Service) RemoveImage(ctx context.Context, ownerID string) error {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return apperrors.New(apperrors.KindUnauthenticated, opRemove, "missing_owner", errMissingOwner)
	}
	record, found, err := s.load(ctx, s.db, ownerID)
	if err != nil {
		s.logError(opRemove, "select_failed", err, zap.String("owner_id", ownerID))
		return apperrors.New(apperrors.KindInternal, opRemove, "select_failed", err)
	}
	if !found || record.ImageKey == nil {
		return nil
	}
	_, err = s.Upsert(ctx, ownerID, Patch{ProfileImageKey: Clear()})
	return err
}

// CreateUploadURL reserves an owner-scoped object key and returns a presigned
// PUT URL for it. The key only takes effect once committed through Upsert.
func (s *Service) CreateUploadURL(ctx context.Context, ownerID, contentType string) (UploadTarget, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return UploadTarget{}, apperrors.New(apperrors.KindUnauthenticated, opUploadURL, "missing_owner", errMissingOwner)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(contentType, "image/") {
		return UploadTarget{}, apperrors.Validation(opUploadURL, "contentType", "only image uploads are accepted")
	}
	suffix, err := s.newKey()
	if err != nil {
		s.logError(opUploadURL, "key_generation_failed", err, zap.String("owner_id", ownerID))
		return UploadTarget{}, apperrors.New(apperrors.KindInternal, opUploadURL, "key_generation_failed", err)
	}
	key := ownerKeyPrefix(ownerID) + suffix
	uploadURL, expiresAt, err := s.store.PresignPut(ctx, key, contentType)
	if err != nil {
		if errors.Is(err, ErrStorageDisabled) {
			return UploadTarget{}, apperrors.New(apperrors.KindUpstreamUnavailable, opUploadURL, "storage_disabled", err)
		}
		s.logError(opUploadURL, "presign_failed", err, zap.String("owner_id", ownerID))
		return UploadTarget{}, apperrors.New(apperrors.KindUpstreamUnavailable, opUploadURL, "presign_failed", err)
	}
	return UploadTarget{Key: key, URL: uploadURL, ExpiresAt: expiresAt}, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, ownerID string) (Customization, bool, error) {
	var record Customization
	err := db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Customization{}, false, nil
	}
	if err != nil {
		return Customization{}, false, err
	}
	return record, true, nil
}

func (s *Service) view(ctx context.Context, record Customization) View {
	view := View{
		OwnerID:         record.OwnerID,
		ProfileImageKey: record.ImageKey,
		Description:     record.Description,
		AccentColor:     record.AccentColor,
		UpdatedAt:       record.UpdatedAt,
	}
	if record.ImageKey == nil {
		return view
	}
	imageURL, err := s.store.PresignGet(ctx, *record.ImageKey)
	if err != nil {
		if !errors.Is(err, ErrStorageDisabled) {
			s.logger.Warn("profile image url unavailable",
				zap.String("owner_id", record.OwnerID),
				zap.Error(err))
		}
		return view
	}
	view.ProfileImageURL = &imageURL
	return view
}

func (s *Service) deleteObject(ctx context.Context, operation, ownerID, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrStorageDisabled) {
		s.logger.Warn("profile image delete failed",
			zap.String("operation", operation),
			zap.String("owner_id", ownerID),
			zap.String("key", key),
			zap.Error(err))
	}
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
	s.logger.Error("customizations service error", attrs...)
}
