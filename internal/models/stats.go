package models

import (
	"time"
)

// PublishStats is a per-day rollup of job outcomes, kept for the dashboard.
type PublishStats struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Date           time.Time `gorm:"uniqueIndex;not null" json:"date"`
	TotalJobs      int       `gorm:"default:0" json:"total_jobs"`
	ScheduledJobs  int       `gorm:"default:0" json:"scheduled_jobs"`
	ProcessingJobs int       `gorm:"default:0" json:"processing_jobs"`
	PublishedJobs  int       `gorm:"default:0" json:"published_jobs"`
	FailedJobs     int       `gorm:"default:0" json:"failed_jobs"`
	CancelledJobs  int       `gorm:"default:0" json:"cancelled_jobs"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
