package customizations

import "time"

// Customization holds the appearance settings of an owner's public page.
type Customization struct {
	OwnerID     string    `gorm:"column:owner_id;primaryKey;size:190;not null"`
	ImageKey    *string   `gorm:"column:image_key;size:400"`
	Description *string   `gorm:"column:description;size:800"`
	AccentColor *string   `gorm:"column:accent_color;size:16"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Customization) TableName() string {
	return "customizations"
}

// View is a customization with its image reference resolved to a fetchable URL.
type View struct {
	OwnerID         string    `json:"ownerId"`
	ProfileImageKey *string   `json:"profileImageKey,omitempty"`
	ProfileImageURL *string   `json:"profileImageUrl,omitempty"`
	Description     *string   `json:"description,omitempty"`
	AccentColor     *string   `json:"accentColor,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UploadTarget is a presigned location a client can PUT a profile image to.
type UploadTarget struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
