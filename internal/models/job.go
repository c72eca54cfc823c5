package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// StringArray represents a PostgreSQL text[] type
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		// Handle PostgreSQL array format: {value1,value2,value3}
		if v == "{}" || v == "" {
			*s = StringArray{}
			return nil
		}

		trimmed := strings.Trim(v, "{}")
		if trimmed == "" {
			*s = StringArray{}
			return nil
		}

		parts := strings.Split(trimmed, ",")
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.Trim(strings.TrimSpace(part), "\"")
		}
		*s = result
		return nil
	case []byte:
		// Try to parse as JSON first
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		escaped := strings.ReplaceAll(v, "\"", "\\\"")
		quoted[i] = fmt.Sprintf("\"%s\"", escaped)
	}

	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
)

func (p Platform) Valid() bool {
	return p == PlatformInstagram || p == PlatformYouTube
}

type JobStatus string

const (
	StatusDraft      JobStatus = "draft"
	StatusScheduled  JobStatus = "scheduled"
	StatusProcessing JobStatus = "processing"
	StatusPublished  JobStatus = "published"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no automatic transition leaves this status.
// failed is terminal absent an explicit user retry.
func (s JobStatus) Terminal() bool {
	return s == StatusPublished || s == StatusCancelled || s == StatusFailed
}

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// InstagramOptions are the Instagram-specific fields of a job payload.
type InstagramOptions struct {
	IsReel   bool        `gorm:"default:false" json:"is_reel"`
	Hashtags StringArray `gorm:"type:text[]" json:"hashtags"`
	Mentions StringArray `gorm:"type:text[]" json:"mentions"`
}

// YouTubeOptions are the YouTube-specific fields of a job payload.
type YouTubeOptions struct {
	Tags         StringArray `gorm:"type:text[]" json:"tags"`
	Title        string      `gorm:"size:500" json:"title"`
	Description  string      `gorm:"type:text" json:"description"`
	Privacy      string      `gorm:"size:50" json:"privacy"`
	IsShort      bool        `gorm:"default:false" json:"is_short"`
	ThumbnailURL string      `gorm:"size:1000" json:"thumbnail_url"`
}

// ContentJob is one scheduled publish intent for one platform. A multi-platform
// post fans out into one job per platform so each can fail and retry on its own.
type ContentJob struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	OwnerID  string   `gorm:"not null;index;size:255" json:"owner_id"`
	Platform Platform `gorm:"not null;size:50;index" json:"platform"`

	MediaURL  string    `gorm:"not null;size:1000" json:"media_url"`
	MediaType MediaType `gorm:"size:50" json:"media_type"`
	Caption   string    `gorm:"type:text" json:"caption"`

	Instagram InstagramOptions `gorm:"embedded;embeddedPrefix:ig_" json:"instagram"`
	YouTube   YouTubeOptions   `gorm:"embedded;embeddedPrefix:yt_" json:"youtube"`

	ScheduledAt time.Time `gorm:"not null;index" json:"scheduled_at"`
	Status      JobStatus `gorm:"size:50;default:'scheduled';index" json:"status"`

	// ClaimedAt is set when the dispatcher moves the job into processing; the
	// poller measures the processing timeout from it.
	ClaimedAt *time.Time `json:"claimed_at"`

	// ContainerID is the platform-issued intermediate handle (Instagram media
	// container id); populated once container creation succeeds.
	ContainerID string     `gorm:"size:255" json:"container_id"`
	RemoteID    string     `gorm:"size:255" json:"remote_id"`
	Permalink   string     `gorm:"size:1000" json:"permalink"`
	PublishedAt *time.Time `json:"published_at"`

	Error string `gorm:"type:text" json:"error"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}
