package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// CycleReport summarizes one dispatch cycle for the trigger caller.
type CycleReport struct {
	ProcessedCount       int `json:"processedCount"`
	StillProcessingCount int `json:"stillProcessingCount"`
	FailedCount          int `json:"failedCount"`
}

// Dispatcher claims due jobs and drives them through their platform protocol.
// It is invoked by the cron trigger endpoint and by the in-process tick;
// overlapping invocations are safe because each job is claimed through the
// store's guarded transition and losers skip silently.
type Dispatcher struct {
	store    *JobStore
	queue    *FastQueue
	accounts *AccountStore
	manager  *publisher.Manager
	logger   *zap.Logger
}

func NewDispatcher(store *JobStore, queue *FastQueue, accounts *AccountStore, manager *publisher.Manager, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		queue:    queue,
		accounts: accounts,
		manager:  manager,
		logger:   logger,
	}
}

// RunCycle processes up to maxJobs due jobs as of now. Per-job failures are
// recorded on the job and never abort the cycle; only store connectivity
// errors do, since no state change is safe without the store.
func (d *Dispatcher) RunCycle(ctx context.Context, now time.Time, maxJobs int) (CycleReport, error) {
	var report CycleReport

	jobs, err := d.gatherDue(ctx, now, maxJobs)
	if err != nil {
		return report, err
	}

	for i := range jobs {
		job := &jobs[i]

		// Claim: exactly one concurrent cycle wins this transition, the rest
		// observe a no-op and move on.
		claimed, err := d.store.Transition(ctx, job.ID,
			[]models.JobStatus{models.StatusScheduled},
			models.StatusProcessing,
			map[string]interface{}{"claimed_at": now})
		if err != nil {
			d.logger.Error("Failed to claim job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		claimedAt := now
		job.Status = models.StatusProcessing
		job.ClaimedAt = &claimedAt

		attempt, err := d.store.OpenAttempt(ctx, job)
		if err != nil {
			d.logger.Error("Failed to open attempt record", zap.String("job_id", job.ID), zap.Error(err))
		}

		account, err := d.accounts.GetActiveAccount(ctx, job.OwnerID, job.Platform)
		if err != nil {
			perr := publisher.CredentialExpired("no active %s account", job.Platform)
			if !errors.Is(err, ErrNoActiveAccount) {
				d.logger.Error("Failed to resolve account", zap.String("job_id", job.ID), zap.Error(err))
				perr = publisher.Transient("account lookup failed: %v", err)
			}
			d.markFailed(ctx, job, attempt, nil, perr)
			report.FailedCount++
			continue
		}

		// Never hand an expired credential to a platform call. The account is
		// left active: the refresher may still renew it.
		if account.TokenExpiresAt.Before(now) {
			d.markFailed(ctx, job, attempt, nil, publisher.CredentialExpired("access token expired at %s", account.TokenExpiresAt.Format(time.RFC3339)))
			report.FailedCount++
			continue
		}

		pub, err := d.manager.Get(job.Platform)
		if err != nil {
			d.markFailed(ctx, job, attempt, account, publisher.Rejected("no publisher for platform %s", job.Platform))
			report.FailedCount++
			continue
		}

		result, err := pub.Publish(ctx, job, account)
		if err != nil {
			// The attempt could not be evaluated; the job stays claimed and
			// the poller resolves it (or times it out).
			d.logger.Error("Publish attempt could not be evaluated",
				zap.String("job_id", job.ID),
				zap.String("platform", string(job.Platform)),
				zap.Error(err))
			report.StillProcessingCount++
			continue
		}

		switch result.State {
		case publisher.StatePublished:
			d.markPublished(ctx, job, attempt, result)
			report.ProcessedCount++
		case publisher.StateInProgress:
			d.recordInProgress(ctx, job, result.ContainerID)
			report.StillProcessingCount++
		case publisher.StateFailed:
			d.markFailed(ctx, job, attempt, account, result.Err)
			report.FailedCount++
		}
	}

	return report, nil
}

// gatherDue merges fast-queue candidates with the authoritative store scan.
// The queue is only a hint: every entry is re-validated against the store, and
// a dead or empty queue just means the store scan carries the cycle alone.
func (d *Dispatcher) gatherDue(ctx context.Context, now time.Time, maxJobs int) ([]models.ContentJob, error) {
	jobs, err := d.store.FindDueJobs(ctx, now, maxJobs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = true
	}

	for _, entry := range d.queue.ListDue(ctx, now) {
		if len(jobs) >= maxJobs {
			break
		}
		if seen[entry.JobID] {
			continue
		}

		job, err := d.store.Get(ctx, entry.JobID, entry.OwnerID)
		if errors.Is(err, ErrNotFound) {
			// Stale entry, the job is gone
			d.queue.Remove(ctx, entry.JobID)
			continue
		}
		if err != nil {
			d.logger.Warn("Failed to confirm queue entry against store",
				zap.String("job_id", entry.JobID), zap.Error(err))
			continue
		}
		if job.Status != models.StatusScheduled || job.ScheduledAt.After(now) {
			if job.Status.Terminal() {
				d.queue.Remove(ctx, entry.JobID)
			}
			continue
		}

		seen[job.ID] = true
		jobs = append(jobs, *job)
	}

	return jobs, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, job *models.ContentJob, attempt *models.PublishAttempt, result *publisher.Result) {
	publishedAt := time.Now()
	ok, err := d.store.Transition(ctx, job.ID,
		[]models.JobStatus{models.StatusProcessing},
		models.StatusPublished,
		map[string]interface{}{
			"remote_id":    result.RemoteID,
			"permalink":    result.Permalink,
			"published_at": publishedAt,
			"error":        "",
		})
	if err != nil || !ok {
		d.logger.Error("Failed to record published state",
			zap.String("job_id", job.ID),
			zap.Bool("transitioned", ok),
			zap.Error(err))
		return
	}

	if attempt != nil {
		if err := d.store.CloseAttempt(ctx, attempt, true, result.RemoteID, "", "", false); err != nil {
			d.logger.Error("Failed to close attempt", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	d.queue.Remove(ctx, job.ID)

	d.logger.Info("Job published",
		zap.String("job_id", job.ID),
		zap.String("platform", string(job.Platform)),
		zap.String("remote_id", result.RemoteID))
}

func (d *Dispatcher) recordInProgress(ctx context.Context, job *models.ContentJob, containerID string) {
	if containerID == "" || containerID == job.ContainerID {
		return
	}

	ok, err := d.store.Transition(ctx, job.ID,
		[]models.JobStatus{models.StatusProcessing},
		models.StatusProcessing,
		map[string]interface{}{"container_id": containerID})
	if err != nil || !ok {
		d.logger.Error("Failed to record container id",
			zap.String("job_id", job.ID),
			zap.Bool("transitioned", ok),
			zap.Error(err))
		return
	}

	d.logger.Info("Job deferred to processing poller",
		zap.String("job_id", job.ID),
		zap.String("container_id", containerID))
}

func (d *Dispatcher) markFailed(ctx context.Context, job *models.ContentJob, attempt *models.PublishAttempt, account *models.PlatformAccount, perr *publisher.PublishError) {
	ok, err := d.store.Transition(ctx, job.ID,
		[]models.JobStatus{models.StatusProcessing},
		models.StatusFailed,
		map[string]interface{}{"error": perr.Error()})
	if err != nil || !ok {
		d.logger.Error("Failed to record failed state",
			zap.String("job_id", job.ID),
			zap.Bool("transitioned", ok),
			zap.Error(err))
		return
	}

	if attempt != nil {
		if err := d.store.CloseAttempt(ctx, attempt, false, "", perr.Message, string(perr.Kind), perr.Retryable()); err != nil {
			d.logger.Error("Failed to close attempt", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	d.queue.Remove(ctx, job.ID)

	// A rejected token means every future attempt fails the same way until
	// the user reconnects; take the account out of rotation now.
	if perr.Kind == publisher.KindCredentialExpired && account != nil {
		if err := d.accounts.Deactivate(ctx, account.ID); err != nil {
			d.logger.Error("Failed to deactivate account",
				zap.Uint("account_id", account.ID),
				zap.Error(err))
		}
	}

	d.logger.Warn("Job failed",
		zap.String("job_id", job.ID),
		zap.String("platform", string(job.Platform)),
		zap.String("kind", string(perr.Kind)),
		zap.String("error", perr.Message))
}
