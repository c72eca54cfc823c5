package models

import (
	"time"

	"gorm.io/gorm"
)

// PlatformAccount holds the connected third-party account credentials for one
// (owner, platform) pair. The dispatcher only reads these; the token refresher
// is the single writer.
type PlatformAccount struct {
	ID           uint     `gorm:"primaryKey" json:"id"`
	OwnerID      string   `gorm:"not null;size:255;uniqueIndex:idx_owner_platform" json:"owner_id"`
	Platform     Platform `gorm:"not null;size:50;uniqueIndex:idx_owner_platform" json:"platform"`
	RemoteUserID string   `gorm:"size:255" json:"remote_user_id"`
	Username     string   `gorm:"size:255" json:"username"`

	AccessToken    string    `gorm:"type:text;not null" json:"-"`
	RefreshToken   string    `gorm:"type:text" json:"-"`
	TokenExpiresAt time.Time `gorm:"not null;index" json:"token_expires_at"`

	// Active flips to false when a refresh is definitively rejected; the user
	// must reconnect the account to clear it.
	Active        bool       `gorm:"default:true;index" json:"active"`
	LastRefreshAt *time.Time `json:"last_refresh_at"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}
