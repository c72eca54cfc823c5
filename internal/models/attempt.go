package models

import (
	"time"
)

// PublishAttempt records one publish lineage for a (job, platform) pair.
// Open is true while the attempt is live and NULL once it closes; the unique
// index over (job_id, platform, open) therefore allows any number of closed
// attempts but at most one open one, which is what blocks two workers from
// publishing the same job concurrently.
type PublishAttempt struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	JobID    string   `gorm:"not null;size:36;uniqueIndex:idx_open_attempt" json:"job_id"`
	Platform Platform `gorm:"not null;size:50;uniqueIndex:idx_open_attempt" json:"platform"`
	Open     *bool    `gorm:"uniqueIndex:idx_open_attempt" json:"open"`

	Attempts      int        `gorm:"default:0" json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`

	Success   bool   `gorm:"default:false" json:"success"`
	RemoteID  string `gorm:"size:255" json:"remote_id"`
	Error     string `gorm:"type:text" json:"error"`
	ErrorKind string `gorm:"size:50" json:"error_kind"`
	Retryable bool   `gorm:"default:false" json:"retryable"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
