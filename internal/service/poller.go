package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// PollReport summarizes one poller pass.
type PollReport struct {
	FinalizedCount       int `json:"finalizedCount"`
	FailedCount          int `json:"failedCount"`
	StillProcessingCount int `json:"stillProcessingCount"`
}

// Poller resumes jobs stuck in processing: it re-polls platform container
// status across dispatch cycles and enforces the wall-clock processing
// timeout so no job sits in processing forever.
type Poller struct {
	dispatcher *Dispatcher
	store      *JobStore
	accounts   *AccountStore
	manager    *publisher.Manager
	logger     *zap.Logger
	timeout    time.Duration
}

func NewPoller(dispatcher *Dispatcher, store *JobStore, accounts *AccountStore, manager *publisher.Manager, timeout time.Duration, logger *zap.Logger) *Poller {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Poller{
		dispatcher: dispatcher,
		store:      store,
		accounts:   accounts,
		manager:    manager,
		logger:     logger,
		timeout:    timeout,
	}
}

// RunPass inspects every processing job once. Jobs still inside their timeout
// window whose platform reports in-progress are left untouched for the next
// pass.
func (p *Poller) RunPass(ctx context.Context, now time.Time, maxJobs int) (PollReport, error) {
	var report PollReport

	jobs, err := p.store.FindProcessingJobs(ctx, maxJobs)
	if err != nil {
		return report, err
	}

	for i := range jobs {
		job := &jobs[i]
		attempt, err := p.store.FindOpenAttempt(ctx, job.ID, job.Platform)
		if err != nil {
			p.logger.Error("Failed to load attempt", zap.String("job_id", job.ID), zap.Error(err))
		}

		timedOut := p.timedOut(job, now)

		// No container id means the dispatcher crashed or is still mid-call;
		// there is nothing to poll, only the timeout applies.
		if job.ContainerID == "" {
			if timedOut {
				p.failTimeout(ctx, job, attempt, now)
				report.FailedCount++
			} else {
				report.StillProcessingCount++
			}
			continue
		}

		poller := p.manager.GetPoller(job.Platform)
		if poller == nil {
			if timedOut {
				p.failTimeout(ctx, job, attempt, now)
				report.FailedCount++
			} else {
				report.StillProcessingCount++
			}
			continue
		}

		account, err := p.accounts.GetActiveAccount(ctx, job.OwnerID, job.Platform)
		if err != nil {
			if errors.Is(err, ErrNoActiveAccount) {
				p.dispatcher.markFailed(ctx, job, attempt, nil,
					publisher.CredentialExpired("no active %s account", job.Platform))
				report.FailedCount++
			} else {
				p.logger.Error("Failed to resolve account", zap.String("job_id", job.ID), zap.Error(err))
				report.StillProcessingCount++
			}
			continue
		}

		result, err := poller.PollStatus(ctx, job, account)
		if err != nil {
			p.logger.Error("Status poll could not be evaluated",
				zap.String("job_id", job.ID), zap.Error(err))
			if timedOut {
				p.failTimeout(ctx, job, attempt, now)
				report.FailedCount++
			} else {
				report.StillProcessingCount++
			}
			continue
		}

		switch result.State {
		case publisher.StatePublished:
			p.dispatcher.markPublished(ctx, job, attempt, result)
			report.FinalizedCount++
		case publisher.StateFailed:
			p.dispatcher.markFailed(ctx, job, attempt, account, result.Err)
			report.FailedCount++
		case publisher.StateInProgress:
			if timedOut {
				p.failTimeout(ctx, job, attempt, now)
				report.FailedCount++
			} else {
				report.StillProcessingCount++
			}
		}
	}

	return report, nil
}

func (p *Poller) timedOut(job *models.ContentJob, now time.Time) bool {
	claimedAt := job.UpdatedAt
	if job.ClaimedAt != nil {
		claimedAt = *job.ClaimedAt
	}
	return now.Sub(claimedAt) > p.timeout
}

func (p *Poller) failTimeout(ctx context.Context, job *models.ContentJob, attempt *models.PublishAttempt, now time.Time) {
	elapsed := p.timeout
	if job.ClaimedAt != nil {
		elapsed = now.Sub(*job.ClaimedAt)
	}
	p.dispatcher.markFailed(ctx, job, attempt, nil,
		publisher.Timeout("processing exceeded %s (elapsed %s)", p.timeout, elapsed.Round(time.Second)))
}
