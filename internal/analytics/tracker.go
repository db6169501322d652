package analytics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"go.uber.org/zap"
)

const (
	opTrack          = "analytics.track"
	unknownUserAgent = "unknown"
	directReferrer   = "direct"
)

var noOpLogger = zap.NewNop()

// SlugResolver maps a public slug to the owner that holds the profile.
type SlugResolver interface {
	Resolve(ctx context.Context, slug string) (string, error)
}

type TrackerConfig struct {
	SlugResolver SlugResolver
	Sink         Sink
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Tracker relays visitor clicks to the sink.
type Tracker struct {
	resolver SlugResolver
	sink     Sink
	clock    func() time.Time
	logger   *zap.Logger
}

func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.SlugResolver == nil {
		return nil, apperrors.New(apperrors.KindInternal, opTrack, "missing_slug_resolver", errors.New("slug resolver is required"))
	}
	sink := cfg.Sink
	if sink == nil {
		sink = disabledSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{
		resolver: cfg.SlugResolver,
		sink:     sink,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Track resolves the profile, enriches the click and forwards it. Only a failed
// profile resolution is returned; forwarding problems are logged and absorbed.
func (t *Tracker) Track(ctx context.Context, input ClickInput, meta RequestMeta) (ClickEvent, error) {
	ownerID, err := t.resolver.Resolve(ctx, input.ProfileUsername)
	if err != nil {
		return ClickEvent{}, err
	}

	event := ClickEvent{
		Timestamp:       t.clock().UTC().Format(time.RFC3339Nano),
		ProfileUsername: input.ProfileUsername,
		ProfileUserID:   ownerID,
		LinkID:          input.LinkID,
		LinkTitle:       input.LinkTitle,
		LinkURL:         input.LinkURL,
		UserAgent:       firstNonEmpty(input.UserAgent, meta.UserAgent, unknownUserAgent),
		Referrer:        firstNonEmpty(input.Referrer, meta.Referer, directReferrer),
		Location:        meta.Location,
	}

	if !t.sink.Enabled() {
		t.logger.Debug("analytics sink disabled; click not forwarded",
			zap.String("profile_user_id", ownerID),
			zap.String("link_id", event.LinkID))
		return event, nil
	}

	// the visitor may navigate away before the sink answers.
	result, err := t.sink.Ingest(context.WithoutCancel(ctx), event)
	if err != nil {
		t.logger.Error("click forward failed",
			zap.String("operation", opTrack),
			zap.String("reason", "ingest_failed"),
			zap.String("profile_user_id", ownerID),
			zap.String("link_id", event.LinkID),
			zap.Error(err))
		return event, nil
	}
	if result.QuarantinedRows > 0 {
		t.logger.Warn("sink quarantined click rows",
			zap.String("profile_user_id", ownerID),
			zap.String("link_id", event.LinkID),
			zap.Int64("quarantined_rows", result.QuarantinedRows))
	}
	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
