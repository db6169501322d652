package usernames

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 30
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Record maps an owner to their claimed public username.
type Record struct {
	OwnerID   string    `gorm:"column:owner_id;primaryKey;size:190;not null"`
	Username  string    `gorm:"column:username;size:64;not null;uniqueIndex:idx_usernames_username"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "usernames"
}

// Result is the outcome of a claim or availability check. A rejected
// candidate is reported through Error rather than as a Go error so that
// callers can render it next to the input.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

const (
	messageTooShort = "Username must be at least 3 characters"
	messageTooLong  = "Username must be less than 30 characters"
	messageCharset  = "Username can only contain letters, numbers, hyphens, and underscores"
	messageTaken    = "Username is already taken"
)

// validateCandidate returns an empty string when candidate is well formed.
func validateCandidate(candidate string) string {
	length := utf8.RuneCountInString(candidate)
	switch {
	case length < minUsernameLength:
		return messageTooShort
	case length > maxUsernameLength:
		return messageTooLong
	case !usernamePattern.MatchString(candidate):
		return messageCharset
	}
	return ""
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
