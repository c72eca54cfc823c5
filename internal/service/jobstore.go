package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/castline/castline/internal/models"
)

// JobStore is the durable, authoritative record of publish intents. Every
// status change funnels through Transition, a conditional update that only
// succeeds when the job is still in an expected prior status; that single
// discipline is what keeps overlapping dispatch cycles from double-publishing.
type JobStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewJobStore(db *gorm.DB, logger *zap.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

// Create validates and persists a new job in scheduled state.
func (s *JobStore) Create(ctx context.Context, job *models.ContentJob) error {
	if job.OwnerID == "" {
		return invalidField("owner_id", "owner is required")
	}
	if !job.Platform.Valid() {
		return invalidField("platform", "unknown platform %q", job.Platform)
	}
	if job.MediaURL == "" {
		return invalidField("media_url", "media URL is required")
	}
	if !job.ScheduledAt.After(time.Now()) {
		return invalidField("scheduled_at", "must be in the future")
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.StatusScheduled

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// FindDueJobs returns scheduled jobs whose time has come, oldest first. The
// limit caps per-cycle work.
func (s *JobStore) FindDueJobs(ctx context.Context, asOf time.Time, limit int) ([]models.ContentJob, error) {
	var jobs []models.ContentJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.StatusScheduled, asOf).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan due jobs: %w", err)
	}
	return jobs, nil
}

// FindProcessingJobs returns claimed jobs for the poller, oldest claim first.
func (s *JobStore) FindProcessingJobs(ctx context.Context, limit int) ([]models.ContentJob, error) {
	var jobs []models.ContentJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusProcessing).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) Get(ctx context.Context, jobID, ownerID string) (*models.ContentJob, error) {
	var job models.ContentJob
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ContentJob, error) {
	var jobs []models.ContentJob
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("scheduled_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Transition performs the guarded status change: the update applies only if
// the job is still in one of the expected prior statuses. It reports false,
// without error, when another worker got there first.
func (s *JobStore) Transition(ctx context.Context, jobID string, from []models.JobStatus, to models.JobStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	tx := s.db.WithContext(ctx).
		Model(&models.ContentJob{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if tx.Error != nil {
		return false, fmt.Errorf("failed to transition job %s to %s: %w", jobID, to, tx.Error)
	}

	return tx.RowsAffected > 0, nil
}

// Cancel flips a scheduled job to cancelled. Jobs already claimed into
// processing must run to a terminal state first.
func (s *JobStore) Cancel(ctx context.Context, jobID, ownerID string) error {
	if _, err := s.Get(ctx, jobID, ownerID); err != nil {
		return err
	}

	ok, err := s.Transition(ctx, jobID, []models.JobStatus{models.StatusScheduled}, models.StatusCancelled, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}

	return nil
}

// Retry re-enters a failed or cancelled job into the queue with an immediate
// due time. Published jobs are final.
func (s *JobStore) Retry(ctx context.Context, jobID, ownerID string) error {
	if _, err := s.Get(ctx, jobID, ownerID); err != nil {
		return err
	}

	ok, err := s.Transition(ctx, jobID,
		[]models.JobStatus{models.StatusFailed, models.StatusCancelled},
		models.StatusScheduled,
		map[string]interface{}{
			"scheduled_at": time.Now(),
			"claimed_at":   nil,
			"container_id": "",
			"error":        "",
		})
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}

	return nil
}

// OpenAttempt finds or creates the live attempt record for the job and bumps
// its counter. The unique index over (job_id, platform, open) rejects a second
// concurrent open attempt.
func (s *JobStore) OpenAttempt(ctx context.Context, job *models.ContentJob) (*models.PublishAttempt, error) {
	open := true
	var attempt models.PublishAttempt

	err := s.db.WithContext(ctx).
		Where("job_id = ? AND platform = ? AND open = ?", job.ID, job.Platform, true).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		attempt = models.PublishAttempt{
			JobID:    job.ID,
			Platform: job.Platform,
			Open:     &open,
		}
		if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
			return nil, fmt.Errorf("failed to open attempt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	now := time.Now()
	attempt.Attempts++
	attempt.LastAttemptAt = &now
	if err := s.db.WithContext(ctx).Save(&attempt).Error; err != nil {
		return nil, fmt.Errorf("failed to update attempt: %w", err)
	}

	return &attempt, nil
}

// CloseAttempt records the terminal outcome and releases the uniqueness slot.
func (s *JobStore) CloseAttempt(ctx context.Context, attempt *models.PublishAttempt, success bool, remoteID, errMsg, errKind string, retryable bool) error {
	attempt.Open = nil
	attempt.Success = success
	attempt.RemoteID = remoteID
	attempt.Error = errMsg
	attempt.ErrorKind = errKind
	attempt.Retryable = retryable

	if err := s.db.WithContext(ctx).Save(attempt).Error; err != nil {
		return fmt.Errorf("failed to close attempt: %w", err)
	}
	return nil
}

// FindOpenAttempt loads the live attempt for a processing job, if any.
func (s *JobStore) FindOpenAttempt(ctx context.Context, jobID string, platform models.Platform) (*models.PublishAttempt, error) {
	var attempt models.PublishAttempt
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND platform = ? AND open = ?", jobID, platform, true).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	return &attempt, nil
}

// UpdateDailyStats refreshes the per-day rollup row for the given day.
func (s *JobStore) UpdateDailyStats(ctx context.Context, day time.Time) error {
	day = day.Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	var counts []struct {
		Status models.JobStatus
		Count  int
	}
	err := s.db.WithContext(ctx).
		Model(&models.ContentJob{}).
		Select("status, count(*) as count").
		Where("created_at >= ? AND created_at < ?", day, next).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}

	stats := models.PublishStats{Date: day}
	for _, c := range counts {
		stats.TotalJobs += c.Count
		switch c.Status {
		case models.StatusScheduled:
			stats.ScheduledJobs = c.Count
		case models.StatusProcessing:
			stats.ProcessingJobs = c.Count
		case models.StatusPublished:
			stats.PublishedJobs = c.Count
		case models.StatusFailed:
			stats.FailedJobs = c.Count
		case models.StatusCancelled:
			stats.CancelledJobs = c.Count
		}
	}

	var existing models.PublishStats
	err = s.db.WithContext(ctx).Where("date = ?", day).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&stats).Error
	}
	if err != nil {
		return fmt.Errorf("failed to load stats row: %w", err)
	}

	stats.ID = existing.ID
	stats.CreatedAt = existing.CreatedAt
	return s.db.WithContext(ctx).Save(&stats).Error
}

// GetRecentStats returns up to days of daily rollups, newest first.
func (s *JobStore) GetRecentStats(ctx context.Context, days int) ([]models.PublishStats, error) {
	var stats []models.PublishStats
	err := s.db.WithContext(ctx).
		Order("date DESC").
		Limit(days).
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}
