package links

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingResolver   = errors.New("slug resolver is required")
	errMissingOwner      = errors.New("owner identifier is required")
	errMissingLinkID     = errors.New("link identifier is required")
	errNotOwner          = errors.New("link belongs to another owner")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "links.service.new"
	opCreate     = "links.create"
	opList       = "links.list"
	opListBySlug = "links.list_by_slug"
	opUpdate     = "links.update"
	opDelete     = "links.delete"
	opReorder    = "links.reorder"
	opCount      = "links.count"
)

// SlugResolver maps a public slug to the owner that holds the profile.
type SlugResolver interface {
	Resolve(ctx context.Context, slug string) (string, error)
}

type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   IDProvider
	SlugResolver SlugResolver
	Logger       *zap.Logger
}

// Service persists the ordered link collection of every owner.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	resolver   SlugResolver
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.SlugResolver == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_slug_resolver", errMissingResolver)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		resolver:   cfg.SlugResolver,
		logger:     logger,
	}, nil
}

// Create stores a new link for ownerID. New links sort after existing ones
// because their order key is the creation time in milliseconds.
func (s *Service) Create(ctx context.Context, ownerID string, draft Draft) (Link, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Link{}, apperrors.New(apperrors.KindUnauthenticated, opCreate, "missing_owner", errMissingOwner)
	}
	normalized, err := draft.normalized(opCreate)
	if err != nil {
		return Link{}, err
	}
	linkID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner_id", ownerID))
		return Link{}, apperrors.New(apperrors.KindInternal, opCreate, "id_generation_failed", err)
	}

	link := Link{
		LinkID:    linkID,
		OwnerID:   ownerID,
		Title:     normalized.Title,
		URL:       normalized.URL,
		SortOrder: s.clock().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID))
		return Link{}, apperrors.New(apperrors.KindInternal, opCreate, "insert_failed", err)
	}
	return link, nil
}

// ListByOwner returns the owner's links in ascending order.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.New(apperrors.KindUnauthenticated, opList, "missing_owner", errMissingOwner)
	}
	var links []Link
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("sort_order ASC").
		Order("link_id ASC").
		Find(&links).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, apperrors.New(apperrors.KindInternal, opList, "query_failed", err)
	}
	return links, nil
}

// ListBySlug resolves slug to its owner and returns that owner's links.
func (s *Service) ListBySlug(ctx context.Context, slug string) (string, []Link, error) {
	ownerID, err := s.resolver.Resolve(ctx, slug)
	if err != nil {
		return "", nil, err
	}
	links, err := s.ListByOwner(ctx, ownerID)
	if err != nil {
		s.logError(opListBySlug, "list_failed", err, zap.String("slug", slug))
		return "", nil, err
	}
	return ownerID, links, nil
}

// Update replaces the title and url of a link owned by ownerID.
func (s *Service) Update(ctx context.Context, ownerID, linkID string, draft Draft) (Link, error) {
	normalized, err := draft.normalized(opUpdate)
	if err != nil {
		return Link{}, err
	}
	link, err := s.loadOwned(ctx, opUpdate, ownerID, linkID)
	if err != nil {
		return Link{}, err
	}
	link.Title = normalized.Title
	link.URL = normalized.URL
	if err := s.db.WithContext(ctx).Model(&Link{}).
		Where("link_id = ?", link.LinkID).
		Updates(map[string]interface{}{"title": link.Title, "url": link.URL}).Error; err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("link_id", link.LinkID))
		return Link{}, apperrors.New(apperrors.KindInternal, opUpdate, "update_failed", err)
	}
	return link, nil
}

// Delete removes a link owned by ownerID.
func (s *Service) Delete(ctx context.Context, ownerID, linkID string) error {
	link, err := s.loadOwned(ctx, opDelete, ownerID, linkID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("link_id = ?", link.LinkID).Delete(&Link{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("link_id", link.LinkID))
		return apperrors.New(apperrors.KindInternal, opDelete, "delete_failed", err)
	}
	return nil
}

// ReorderResult reports which requested ids received a new position.
type ReorderResult struct {
	Applied []string
	Ignored []string
}

// Reorder assigns positions 0..n-1 to the requested ids that ownerID owns, in
// request order. Unknown, foreign and repeated ids are ignored and left untouched.
func (s *Service) Reorder(ctx context.Context, ownerID string, orderedLinkIDs []string) (ReorderResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ReorderResult{}, apperrors.New(apperrors.KindUnauthenticated, opReorder, "missing_owner", errMissingOwner)
	}

	result := ReorderResult{Applied: []string{}, Ignored: []string{}}
	if len(orderedLinkIDs) == 0 {
		return result, nil
	}

	requested := make([]string, 0, len(orderedLinkIDs))
	for _, rawID := range orderedLinkIDs {
		requested = append(requested, strings.TrimSpace(rawID))
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ownedIDs []string
		if err := tx.Model(&Link{}).
			Where("owner_id = ? AND link_id IN ?", ownerID, requested).
			Pluck("link_id", &ownedIDs).Error; err != nil {
			s.logError(opReorder, "owned_select_failed", err, zap.String("owner_id", ownerID))
			return apperrors.New(apperrors.KindInternal, opReorder, "owned_select_failed", err)
		}
		owned := make(map[string]bool, len(ownedIDs))
		for _, id := range ownedIDs {
			owned[id] = true
		}

		seen := make(map[string]bool, len(requested))
		position := int64(0)
		for _, linkID := range requested {
			if !owned[linkID] || seen[linkID] {
				result.Ignored = append(result.Ignored, linkID)
				continue
			}
			seen[linkID] = true
			if err := tx.Model(&Link{}).
				Where("owner_id = ? AND link_id = ?", ownerID, linkID).
				Update("sort_order", position).Error; err != nil {
				s.logError(opReorder, "order_update_failed", err,
					zap.String("owner_id", ownerID),
					zap.String("link_id", linkID))
				return apperrors.New(apperrors.KindInternal, opReorder, "order_update_failed", err)
			}
			result.Applied = append(result.Applied, linkID)
			position++
		}
		return nil
	})
	if txErr != nil {
		return ReorderResult{}, txErr
	}
	if len(result.Ignored) > 0 {
		s.loggerOrDefault().Info("reorder ignored ids",
			zap.String("owner_id", ownerID),
			zap.Int("ignored", len(result.Ignored)))
	}
	return result, nil
}

// CountByOwner returns how many links ownerID holds.
func (s *Service) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return 0, apperrors.New(apperrors.KindUnauthenticated, opCount, "missing_owner", errMissingOwner)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Link{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		s.logError(opCount, "query_failed", err, zap.String("owner_id", ownerID))
		return 0, apperrors.New(apperrors.KindInternal, opCount, "query_failed", err)
	}
	return count, nil
}

func (s *Service) loadOwned(ctx context.Context, operation, ownerID, linkID string) (Link, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Link{}, apperrors.New(apperrors.KindUnauthenticated, operation, "missing_owner", errMissingOwner)
	}
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return Link{}, apperrors.New(apperrors.KindValidationFailed, operation, "missing_link_id", errMissingLinkID)
	}

	var link Link
	err := s.db.WithContext(ctx).Where("link_id = ?", linkID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Link{}, apperrors.New(apperrors.KindNotFound, operation, "link_not_found", apperrors.ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "link_select_failed", err, zap.String("link_id", linkID))
		return Link{}, apperrors.New(apperrors.KindInternal, operation, "link_select_failed", err)
	}
	if link.OwnerID != ownerID {
		return Link{}, apperrors.New(apperrors.KindUnauthorized, operation, "not_owner", errNotOwner)
	}
	return link, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
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
	s.loggerOrDefault().Error("links service error", attrs...)
}
