package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castline/castline/internal/models"
)

// ErrorKind classifies a failed publish attempt.
type ErrorKind string

const (
	// KindTransientNetwork covers connectivity and 5xx-style failures; the
	// attempt may succeed if the user retries.
	KindTransientNetwork ErrorKind = "transient_network"
	// KindCredentialExpired means the platform rejected the access token; the
	// owning account must be re-authorized, retrying is pointless.
	KindCredentialExpired ErrorKind = "credential_expired"
	// KindPlatformRejected is a definitive platform-side refusal of the content.
	KindPlatformRejected ErrorKind = "platform_rejected"
	// KindTimeout marks a job abandoned after the bounded processing wait.
	KindTimeout ErrorKind = "timeout"
)

// PublishError is a classified failure of a publish attempt.
type PublishError struct {
	Kind    ErrorKind
	Message string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PublishError) Retryable() bool {
	return e.Kind == KindTransientNetwork
}

func Transient(format string, args ...interface{}) *PublishError {
	return &PublishError{Kind: KindTransientNetwork, Message: fmt.Sprintf(format, args...)}
}

func CredentialExpired(format string, args ...interface{}) *PublishError {
	return &PublishError{Kind: KindCredentialExpired, Message: fmt.Sprintf(format, args...)}
}

func Rejected(format string, args ...interface{}) *PublishError {
	return &PublishError{Kind: KindPlatformRejected, Message: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...interface{}) *PublishError {
	return &PublishError{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Classify maps an arbitrary error onto the attempt taxonomy. Unclassified
// errors are treated as transient so they stay user-retryable.
func Classify(err error) *PublishError {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe
	}
	return Transient("%v", err)
}

// State is the outcome of one publisher invocation.
type State string

const (
	// StatePublished means the post is live and RemoteID is final.
	StatePublished State = "published"
	// StateInProgress means the platform accepted the media but is still
	// processing it; ContainerID is set and the poller takes over.
	StateInProgress State = "in_progress"
	// StateFailed means this attempt is over; Err carries the classification.
	StateFailed State = "failed"
)

// Result is the structured outcome of a publish or poll step.
type Result struct {
	State       State
	ContainerID string
	RemoteID    string
	Permalink   string
	Err         *PublishError
}

func Published(remoteID, permalink string) *Result {
	return &Result{State: StatePublished, RemoteID: remoteID, Permalink: permalink}
}

func InProgress(containerID string) *Result {
	return &Result{State: StateInProgress, ContainerID: containerID}
}

func Failed(err *PublishError) *Result {
	return &Result{State: StateFailed, Err: err}
}

// Publisher drives one platform's publish protocol. Implementations must be
// safe for concurrent use; all per-job state rides on the job record.
type Publisher interface {
	PlatformName() models.Platform

	// Publish runs the protocol from the start for a freshly claimed job.
	// Protocol-level failures are reported in the Result, not the error; a
	// non-nil error means the attempt could not be evaluated at all and the
	// job should stay claimed for the poller.
	Publish(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*Result, error)
}

// ErrRefreshRejected is returned by a CredentialRefresher when the platform
// definitively refused the refresh (expired or revoked refresh token); the
// account must be deactivated, not retried.
var ErrRefreshRejected = errors.New("platform rejected credential refresh")

// CredentialRefresher renews one platform's credentials ahead of expiry.
type CredentialRefresher interface {
	Platform() models.Platform
	Refresh(ctx context.Context, account *models.PlatformAccount) (accessToken string, expiresAt time.Time, err error)
}

// StatusPoller is implemented by platforms whose protocol has an asynchronous
// processing phase that outlives a single dispatch cycle.
type StatusPoller interface {
	// PollStatus resumes a job that holds a container id: it either finalizes
	// the publish, reports a definitive failure, or reports still-in-progress.
	PollStatus(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*Result, error)
}
