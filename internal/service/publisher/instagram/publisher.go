package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
	"github.com/castline/castline/pkg/util"
)

// Container status codes reported by the Graph API.
const (
	containerFinished   = "FINISHED"
	containerInProgress = "IN_PROGRESS"
	containerError      = "ERROR"
	containerExpired    = "EXPIRED"
	containerPublished  = "PUBLISHED"
)

// Graph API error code for invalid/expired OAuth tokens.
const errCodeOAuth = 190

// Publisher drives the Instagram Graph three-phase publish protocol:
// create a media container, wait for server-side processing, publish the
// container. Processing that outlives the in-attempt poll window is resumed by
// the background poller via PollStatus.
type Publisher struct {
	logger       *zap.Logger
	client       *http.Client
	baseURL      string
	pollInterval time.Duration
	pollAttempts int
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type graphEnvelope struct {
	ID         string      `json:"id"`
	StatusCode string      `json:"status_code"`
	Permalink  string      `json:"permalink"`
	Error      *graphError `json:"error"`
}

func NewPublisher(cfg config.InstagramConfig, logger *zap.Logger) *Publisher {
	pollInterval, err := time.ParseDuration(cfg.PollInterval)
	if err != nil || pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	requestTimeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil || requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	pollAttempts := cfg.PollAttempts
	if pollAttempts <= 0 {
		pollAttempts = 5
	}

	return &Publisher{
		logger:       logger,
		client:       &http.Client{Timeout: requestTimeout},
		baseURL:      strings.TrimRight(cfg.GraphBaseURL, "/"),
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

func (p *Publisher) PlatformName() models.Platform {
	return models.PlatformInstagram
}

func (p *Publisher) Publish(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*publisher.Result, error) {
	containerID, perr := p.createContainer(ctx, job, account)
	if perr != nil {
		// No container exists, nothing to resume later
		return publisher.Failed(perr), nil
	}

	p.logger.Info("Instagram container created",
		zap.String("job_id", job.ID),
		zap.String("container_id", containerID))

	// Short synchronous wait; most images finish within a few polls. Videos
	// that take longer stay in processing and the poller finishes them.
	for i := 0; i < p.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return publisher.InProgress(containerID), nil
		case <-time.After(p.pollInterval):
		}

		status, perr := p.containerStatus(ctx, containerID, account)
		if perr != nil {
			if perr.Kind == publisher.KindTransientNetwork {
				// Container likely still exists, let the poller retry
				return publisher.InProgress(containerID), nil
			}
			return publisher.Failed(perr), nil
		}

		switch status {
		case containerFinished:
			return p.finalize(ctx, containerID, account)
		case containerError:
			return publisher.Failed(publisher.Rejected("instagram reported container error")), nil
		case containerExpired:
			return publisher.Failed(publisher.Rejected("instagram container expired")), nil
		}
	}

	return publisher.InProgress(containerID), nil
}

// PollStatus resumes a processing job from its recorded container id.
func (p *Publisher) PollStatus(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*publisher.Result, error) {
	if job.ContainerID == "" {
		return nil, fmt.Errorf("job %s has no container to poll", job.ID)
	}

	status, perr := p.containerStatus(ctx, job.ContainerID, account)
	if perr != nil {
		if perr.Kind == publisher.KindTransientNetwork {
			return publisher.InProgress(job.ContainerID), nil
		}
		return publisher.Failed(perr), nil
	}

	switch status {
	case containerFinished:
		return p.finalize(ctx, job.ContainerID, account)
	case containerError:
		return publisher.Failed(publisher.Rejected("instagram reported container error")), nil
	case containerExpired:
		return publisher.Failed(publisher.Rejected("instagram container expired")), nil
	default:
		return publisher.InProgress(job.ContainerID), nil
	}
}

// createContainer submits the media and caption, returning the container id.
func (p *Publisher) createContainer(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (string, *publisher.PublishError) {
	params := url.Values{}
	params.Set("caption", util.ComposeCaption(job.Caption, job.Instagram.Hashtags, job.Instagram.Mentions))
	params.Set("access_token", account.AccessToken)

	switch {
	case job.Instagram.IsReel:
		params.Set("media_type", "REELS")
		params.Set("video_url", job.MediaURL)
	case job.MediaType == models.MediaTypeVideo:
		params.Set("media_type", "VIDEO")
		params.Set("video_url", job.MediaURL)
	default:
		params.Set("image_url", job.MediaURL)
	}

	endpoint := fmt.Sprintf("%s/%s/media", p.baseURL, account.RemoteUserID)
	envelope, perr := p.post(ctx, endpoint, params)
	if perr != nil {
		return "", perr
	}
	if envelope.ID == "" {
		return "", publisher.Rejected("instagram returned no container id")
	}

	return envelope.ID, nil
}

func (p *Publisher) containerStatus(ctx context.Context, containerID string, account *models.PlatformAccount) (string, *publisher.PublishError) {
	endpoint := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s",
		p.baseURL, containerID, url.QueryEscape(account.AccessToken))

	envelope, perr := p.get(ctx, endpoint)
	if perr != nil {
		return "", perr
	}
	if envelope.StatusCode == "" {
		return "", publisher.Rejected("instagram returned no container status")
	}

	return envelope.StatusCode, nil
}

// finalize publishes a FINISHED container and fetches the permalink.
func (p *Publisher) finalize(ctx context.Context, containerID string, account *models.PlatformAccount) (*publisher.Result, error) {
	params := url.Values{}
	params.Set("creation_id", containerID)
	params.Set("access_token", account.AccessToken)

	endpoint := fmt.Sprintf("%s/%s/media_publish", p.baseURL, account.RemoteUserID)
	envelope, perr := p.post(ctx, endpoint, params)
	if perr != nil {
		return publisher.Failed(perr), nil
	}
	if envelope.ID == "" {
		return publisher.Failed(publisher.Rejected("instagram publish returned no media id")), nil
	}

	// Permalink fetch is best-effort; the publish already succeeded.
	permalink := p.fetchPermalink(ctx, envelope.ID, account)

	p.logger.Info("Instagram media published",
		zap.String("container_id", containerID),
		zap.String("media_id", envelope.ID))

	return publisher.Published(envelope.ID, permalink), nil
}

func (p *Publisher) fetchPermalink(ctx context.Context, mediaID string, account *models.PlatformAccount) string {
	endpoint := fmt.Sprintf("%s/%s?fields=permalink&access_token=%s",
		p.baseURL, mediaID, url.QueryEscape(account.AccessToken))

	envelope, perr := p.get(ctx, endpoint)
	if perr != nil {
		p.logger.Warn("Failed to fetch permalink",
			zap.String("media_id", mediaID),
			zap.String("error", perr.Message))
		return ""
	}

	return envelope.Permalink
}

func (p *Publisher) post(ctx context.Context, endpoint string, params url.Values) (*graphEnvelope, *publisher.PublishError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, publisher.Transient("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return p.do(req)
}

func (p *Publisher) get(ctx context.Context, endpoint string) (*graphEnvelope, *publisher.PublishError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, publisher.Transient("failed to build request: %v", err)
	}

	return p.do(req)
}

func (p *Publisher) do(req *http.Request) (*graphEnvelope, *publisher.PublishError) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, publisher.Transient("instagram request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, publisher.Transient("failed to read instagram response: %v", err)
	}

	var envelope graphEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, publisher.Transient("failed to decode instagram response: %v", err)
	}

	if envelope.Error != nil {
		return nil, classifyGraphError(resp.StatusCode, envelope.Error)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, publisher.Transient("instagram returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, publisher.Rejected("instagram returned status %d", resp.StatusCode)
	}

	return &envelope, nil
}

func classifyGraphError(status int, gerr *graphError) *publisher.PublishError {
	if gerr.Code == errCodeOAuth || gerr.Type == "OAuthException" {
		return publisher.CredentialExpired("instagram rejected token: %s", gerr.Message)
	}
	if status >= http.StatusInternalServerError {
		return publisher.Transient("instagram error %d: %s", gerr.Code, gerr.Message)
	}
	return publisher.Rejected("instagram error %d: %s", gerr.Code, gerr.Message)
}
