package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/customizations"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/links"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/usernames"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerIDContextKey = "linkhub_owner_id"

	defaultHeartbeat          = 25 * time.Second
	defaultClickRatePerSecond = 5
	defaultClickBurst         = 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingOwnerResolver    = errors.New("owner resolver dependency required")
	errMissingLinksService     = errors.New("links service dependency required")
	errMissingUsernameService  = errors.New("username service dependency required")
	errMissingCustomizations   = errors.New("customization service dependency required")
	errMissingTracker          = errors.New("click tracker dependency required")
	errMissingAnalyticsReader  = errors.New("analytics reader dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type OwnerResolver interface {
	ResolveOwnerID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// ProfileDirectory exposes the display profile of an owner for the public page.
type ProfileDirectory interface {
	Lookup(ctx context.Context, ownerID string) (*accounts.Identity, error)
}

// RateSettings bounds the public click endpoint per client address.
type RateSettings struct {
	PerSecond float64
	Burst     int
}

type Dependencies struct {
	SessionValidator SessionValidator
	OwnerResolver    OwnerResolver
	Profiles         ProfileDirectory
	Links            *links.Service
	Usernames        *usernames.Service
	Customizations   *customizations.Service
	Tracker          *analytics.Tracker
	Analytics        *analytics.Reader
	Realtime         *RealtimeDispatcher
	AllowedOrigins   []string
	ClickRate        RateSettings
	Heartbeat        time.Duration
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	case deps.OwnerResolver == nil:
		return nil, errMissingOwnerResolver
	case deps.Links == nil:
		return nil, errMissingLinksService
	case deps.Usernames == nil:
		return nil, errMissingUsernameService
	case deps.Customizations == nil:
		return nil, errMissingCustomizations
	case deps.Tracker == nil:
		return nil, errMissingTracker
	case deps.Analytics == nil:
		return nil, errMissingAnalyticsReader
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	clickRate := deps.ClickRate
	if clickRate.PerSecond <= 0 {
		clickRate.PerSecond = defaultClickRatePerSecond
	}
	if clickRate.Burst <= 0 {
		clickRate.Burst = defaultClickBurst
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		sessions:       deps.SessionValidator,
		owners:         deps.OwnerResolver,
		profiles:       deps.Profiles,
		links:          deps.Links,
		usernames:      deps.Usernames,
		customizations: deps.Customizations,
		tracker:        deps.Tracker,
		analytics:      deps.Analytics,
		realtime:       realtime,
		heartbeat:      heartbeat,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/u/:slug", handler.handlePublicProfile)
	router.POST("/api/track-click",
		rateLimitMiddleware(newClientRateLimiter(clickRate.PerSecond, clickRate.Burst), logger),
		handler.handleTrackClick)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/links", handler.handleListLinks)
	protected.POST("/links", handler.handleCreateLink)
	protected.GET("/links/count", handler.handleCountLinks)
	protected.POST("/links/reorder", handler.handleReorderLinks)
	protected.PUT("/links/:id", handler.handleUpdateLink)
	protected.DELETE("/links/:id", handler.handleDeleteLink)
	protected.GET("/username", handler.handleGetUsername)
	protected.PUT("/username", handler.handleSetUsername)
	protected.GET("/username/availability", handler.handleUsernameAvailability)
	protected.GET("/analytics/summary", handler.handleProfileSummary)
	protected.GET("/analytics/links/:id", handler.handleLinkAnalytics)
	protected.GET("/customization", handler.handleGetCustomization)
	protected.PATCH("/customization", handler.handlePatchCustomization)
	protected.DELETE("/customization/image", handler.handleRemoveImage)
	protected.POST("/customization/upload-url", handler.handleUploadURL)
	protected.GET("/stream", handler.handleStream)

	return router, nil
}

func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" && trimmed != "*" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

type httpHandler struct {
	sessions       SessionValidator
	owners         OwnerResolver
	profiles       ProfileDirectory
	links          *links.Service
	usernames      *usernames.Service
	customizations *customizations.Service
	tracker        *analytics.Tracker
	analytics      *analytics.Reader
	realtime       *RealtimeDispatcher
	heartbeat      time.Duration
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type linkPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Order int64  `json:"order"`
}

func toLinkPayloads(items []links.Link) []linkPayload {
	payloads := make([]linkPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, toLinkPayload(item))
	}
	return payloads
}

func toLinkPayload(item links.Link) linkPayload {
	return linkPayload{ID: item.LinkID, Title: item.Title, URL: item.URL, Order: item.SortOrder}
}

type linkDraftPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type reorderRequestPayload struct {
	LinkIDs []string `json:"linkIds"`
}

type reorderResponsePayload struct {
	Applied []string `json:"applied"`
	Ignored []string `json:"ignored"`
}

func (h *httpHandler) handleListLinks(c *gin.Context) {
	items, err := h.links.ListByOwner(c.Request.Context(), c.GetString(ownerIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": toLinkPayloads(items)})
}

func (h *httpHandler) handleCreateLink(c *gin.Context) {
	var request linkDraftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ownerID := c.GetString(ownerIDContextKey)
	link, err := h.links.Create(c.Request.Context(), ownerID, links.Draft{Title: request.Title, URL: request.URL})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(ownerID, RealtimeEventLinksChanged, []string{link.LinkID})
	c.JSON(http.StatusCreated, toLinkPayload(link))
}

func (h *httpHandler) handleCountLinks(c *gin.Context) {
	count, err := h.links.CountByOwner(c.Request.Context(), c.GetString(ownerIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleReorderLinks(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ownerID := c.GetString(ownerIDContextKey)
	result, err := h.links.Reorder(c.Request.Context(), ownerID, request.LinkIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(result.Applied) > 0 {
		h.publish(ownerID, RealtimeEventLinksChanged, result.Applied)
	}
	c.JSON(http.StatusOK, reorderResponsePayload{Applied: result.Applied, Ignored: result.Ignored})
}

func (h *httpHandler) handleUpdateLink(c *gin.Context) {
	var request linkDraftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ownerID := c.GetString(ownerIDContextKey)
	link, err := h.links.Update(c.Request.Context(), ownerID, c.Param("id"), links.Draft{Title: request.Title, URL: request.URL})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(ownerID, RealtimeEventLinksChanged, []string{link.LinkID})
	c.JSON(http.StatusOK, toLinkPayload(link))
}

func (h *httpHandler) handleDeleteLink(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	linkID := c.Param("id")
	if err := h.links.Delete(c.Request.Context(), ownerID, linkID); err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(ownerID, RealtimeEventLinksChanged, []string{linkID})
	c.Status(http.StatusNoContent)
}

type usernameRequestPayload struct {
	Username string `json:"username"`
}

func (h *httpHandler) handleGetUsername(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	username, err := h.usernames.UsernameOf(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	slug := username
	if slug == "" {
		slug = ownerID
	}
	var claimed *string
	if username != "" {
		claimed = &username
	}
	c.JSON(http.StatusOK, gin.H{"username": claimed, "slug": slug})
}

func (h *httpHandler) handleSetUsername(c *gin.Context) {
	var request usernameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.usernames.SetUsername(c.Request.Context(), c.GetString(ownerIDContextKey), request.Username)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleUsernameAvailability(c *gin.Context) {
	result, err := h.usernames.CheckAvailability(c.Request.Context(), c.GetString(ownerIDContextKey), c.Query("username"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": result.Success, "error": result.Error})
}

func (h *httpHandler) handleProfileSummary(c *gin.Context) {
	summary, err := h.analytics.ProfileSummary(c.Request.Context(), c.GetString(ownerIDContextKey), daysBackParam(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type linkAnalyticsResponsePayload struct {
	Analytics   *analytics.LinkDetail  `json:"analytics"`
	RecentDays  []analytics.DailyPoint `json:"recentDays"`
	HasMoreDays bool                   `json:"hasMoreDays"`
}

func (h *httpHandler) handleLinkAnalytics(c *gin.Context) {
	detail, err := h.analytics.LinkDetail(c.Request.Context(), c.GetString(ownerIDContextKey), c.Param("id"), daysBackParam(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := linkAnalyticsResponsePayload{Analytics: detail, RecentDays: []analytics.DailyPoint{}}
	if detail != nil {
		response.RecentDays, response.HasMoreDays = detail.RecentDays(analytics.RecentDayCount)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetCustomization(c *gin.Context) {
	view, err := h.customizations.Get(c.Request.Context(), c.GetString(ownerIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customization": view})
}

func (h *httpHandler) handlePatchCustomization(c *gin.Context) {
	var patch customizations.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ownerID := c.GetString(ownerIDContextKey)
	view, err := h.customizations.Upsert(c.Request.Context(), ownerID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(ownerID, RealtimeEventCustomizationChanged, nil)
	c.JSON(http.StatusOK, gin.H{"customization": view})
}

func (h *httpHandler) handleRemoveImage(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	if err := h.customizations.RemoveImage(c.Request.Context(), ownerID); err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(ownerID, RealtimeEventCustomizationChanged, nil)
	c.Status(http.StatusNoContent)
}

type uploadURLRequestPayload struct {
	ContentType string `json:"contentType"`
}

func (h *httpHandler) handleUploadURL(c *gin.Context) {
	var request uploadURLRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target, err := h.customizations.CreateUploadURL(c.Request.Context(), c.GetString(ownerIDContextKey), request.ContentType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

type publicProfilePayload struct {
	Slug          string               `json:"slug"`
	OwnerID       string               `json:"ownerId"`
	DisplayName   string               `json:"displayName,omitempty"`
	AvatarURL     string               `json:"avatarUrl,omitempty"`
	Links         []linkPayload        `json:"links"`
	Customization *customizations.View `json:"customization"`
}

func (h *httpHandler) handlePublicProfile(c *gin.Context) {
	ctx := c.Request.Context()
	requested := c.Param("slug")
	ownerID, items, err := h.links.ListBySlug(ctx, requested)
	if err != nil {
		h.respondError(c, err)
		return
	}
	slug, err := h.usernames.SlugFor(ctx, ownerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	view, err := h.customizations.GetBySlug(ctx, requested)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := publicProfilePayload{
		Slug:          slug,
		OwnerID:       ownerID,
		Links:         toLinkPayloads(items),
		Customization: view,
	}
	if h.profiles != nil {
		if identity, err := h.profiles.Lookup(ctx, ownerID); err != nil {
			h.logger.Warn("public profile lookup failed", zap.String("owner_id", ownerID), zap.Error(err))
		} else if identity != nil {
			payload.DisplayName = identity.DisplayName
			payload.AvatarURL = identity.AvatarURL
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleTrackClick(c *gin.Context) {
	var request analytics.ClickInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.Warn("click payload rejected", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to track click"})
		return
	}
	meta := analytics.RequestMeta{
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
		Location:  analytics.LocationFromHeaders(c.Request.Header),
	}
	if _, err := h.tracker.Track(c.Request.Context(), request, meta); err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		h.logger.Error("click tracking failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to track click"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ownerID, err := h.owners.ResolveOwnerID(c.Request.Context(), claims)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnauthenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("owner resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "owner_resolution_failed"})
		return
	}
	c.Set(ownerIDContextKey, ownerID)
	c.Next()
}

func (h *httpHandler) publish(ownerID, eventType string, linkIDs []string) {
	h.realtime.Publish(RealtimeMessage{
		OwnerID:   ownerID,
		EventType: eventType,
		LinkIDs:   linkIDs,
		Timestamp: time.Now().UTC(),
	})
}

func daysBackParam(c *gin.Context) int {
	raw := strings.TrimSpace(c.Query("days"))
	if raw == "" {
		return analytics.DefaultDaysBack
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return analytics.DefaultDaysBack
	}
	return days
}
