package links

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
)

const (
	maxTitleLength = 100
	maxURLLength   = 2048
)

// Link is an outbound link shown on an owner's public page.
// SortOrder defines the display order; ties fall back to LinkID, which is time ordered.
type Link struct {
	LinkID    string    `gorm:"column:link_id;primaryKey;size:64;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index:idx_links_owner_order,priority:1"`
	Title     string    `gorm:"column:title;size:400;not null"`
	URL       string    `gorm:"column:url;size:2048;not null"`
	SortOrder int64     `gorm:"column:sort_order;not null;index:idx_links_owner_order,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Link) TableName() string {
	return "links"
}

// Draft carries the caller-editable fields of a link.
type Draft struct {
	Title string
	URL   string
}

func (d Draft) normalized(operation string) (Draft, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return Draft{}, apperrors.Validation(operation, "title", "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Draft{}, apperrors.Validation(operation, "title", "title must be at most 100 characters")
	}
	rawURL := strings.TrimSpace(d.URL)
	if !isLinkURL(rawURL) {
		return Draft{}, apperrors.Validation(operation, "url", "url must be an absolute http or https address")
	}
	return Draft{Title: title, URL: rawURL}, nil
}

func isLinkURL(raw string) bool {
	if raw == "" || len(raw) > maxURLLength {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}
