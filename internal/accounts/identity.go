package accounts

import (
	"strings"
	"time"
)

// Identity maps a provider login to the canonical owner id that holds links,
// a username and a customization record.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index"`
	Email       string    `gorm:"column:owner_email;size:320"`
	DisplayName string    `gorm:"column:owner_display_name;size:320"`
	AvatarURL   string    `gorm:"column:owner_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing owner identities.
func (Identity) TableName() string {
	return "owner_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
