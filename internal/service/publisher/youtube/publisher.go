package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
	"github.com/castline/castline/pkg/util"
)

const maxTitleLength = 100

// Publisher uploads videos through the YouTube resumable upload protocol:
// initiate an upload session with the video metadata, stream the media bytes
// to the session URL, then set the thumbnail as a best-effort extra. The
// remote id is known as soon as the upload completes, so there is no
// asynchronous container phase to poll.
type Publisher struct {
	logger        *zap.Logger
	client        *http.Client
	uploadBaseURL string
	apiBaseURL    string
}

type videoSnippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

type videoStatus struct {
	PrivacyStatus           string `json:"privacyStatus"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
}

type videoResource struct {
	ID      string       `json:"id"`
	Snippet videoSnippet `json:"snippet"`
	Status  videoStatus  `json:"status"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewPublisher(cfg config.YouTubeConfig, logger *zap.Logger) *Publisher {
	requestTimeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil || requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}

	return &Publisher{
		logger:        logger,
		client:        &http.Client{Timeout: requestTimeout},
		uploadBaseURL: strings.TrimRight(cfg.UploadBaseURL, "/"),
		apiBaseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
	}
}

func (p *Publisher) PlatformName() models.Platform {
	return models.PlatformYouTube
}

func (p *Publisher) Publish(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*publisher.Result, error) {
	sessionURL, perr := p.initiateSession(ctx, job, account)
	if perr != nil {
		return publisher.Failed(perr), nil
	}

	p.logger.Info("YouTube upload session created", zap.String("job_id", job.ID))

	videoID, perr := p.uploadMedia(ctx, sessionURL, job, account)
	if perr != nil {
		return publisher.Failed(perr), nil
	}

	// Thumbnail is a secondary step; failure never fails the publish.
	if job.YouTube.ThumbnailURL != "" {
		if err := p.setThumbnail(ctx, videoID, job.YouTube.ThumbnailURL, account); err != nil {
			p.logger.Warn("Thumbnail upload failed",
				zap.String("job_id", job.ID),
				zap.String("video_id", videoID),
				zap.Error(err))
		}
	}

	p.logger.Info("YouTube video published",
		zap.String("job_id", job.ID),
		zap.String("video_id", videoID))

	permalink := fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
	if job.YouTube.IsShort {
		permalink = fmt.Sprintf("https://www.youtube.com/shorts/%s", videoID)
	}

	return publisher.Published(videoID, permalink), nil
}

// initiateSession starts a resumable upload and returns the session URL from
// the Location header.
func (p *Publisher) initiateSession(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (string, *publisher.PublishError) {
	title := job.YouTube.Title
	if title == "" {
		title = job.Caption
	}
	title = util.Truncate(title, maxTitleLength)

	description := job.YouTube.Description
	if description == "" {
		description = job.Caption
	}

	privacy := job.YouTube.Privacy
	if privacy == "" {
		privacy = "private"
	}

	resource := videoResource{
		Snippet: videoSnippet{
			Title:       title,
			Description: description,
			Tags:        job.YouTube.Tags,
		},
		Status: videoStatus{PrivacyStatus: privacy},
	}

	payload, err := json.Marshal(resource)
	if err != nil {
		return "", publisher.Transient("failed to marshal video resource: %v", err)
	}

	endpoint := fmt.Sprintf("%s/videos?uploadType=resumable&part=snippet,status", p.uploadBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", publisher.Transient("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", publisher.Transient("youtube session request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyAPIError(resp)
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", publisher.Rejected("youtube returned no upload session URL")
	}

	return sessionURL, nil
}

// uploadMedia streams the media bytes from the job's media URL into the
// upload session and returns the final video id.
func (p *Publisher) uploadMedia(ctx context.Context, sessionURL string, job *models.ContentJob, account *models.PlatformAccount) (string, *publisher.PublishError) {
	mediaReq, err := http.NewRequestWithContext(ctx, http.MethodGet, job.MediaURL, nil)
	if err != nil {
		return "", publisher.Transient("failed to build media request: %v", err)
	}

	mediaResp, err := p.client.Do(mediaReq)
	if err != nil {
		return "", publisher.Transient("failed to fetch media: %v", err)
	}
	defer mediaResp.Body.Close()

	if mediaResp.StatusCode != http.StatusOK {
		return "", publisher.Rejected("media URL returned status %d", mediaResp.StatusCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, mediaResp.Body)
	if err != nil {
		return "", publisher.Transient("failed to build upload request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "video/*")
	if mediaResp.ContentLength > 0 {
		req.ContentLength = mediaResp.ContentLength
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", publisher.Transient("youtube upload failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyAPIError(resp)
	}

	var video videoResource
	if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
		return "", publisher.Transient("failed to decode upload response: %v", err)
	}
	if video.ID == "" {
		return "", publisher.Rejected("youtube returned no video id")
	}

	return video.ID, nil
}

func (p *Publisher) setThumbnail(ctx context.Context, videoID, thumbnailURL string, account *models.PlatformAccount) error {
	thumbReq, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbnailURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build thumbnail request: %w", err)
	}

	thumbResp, err := p.client.Do(thumbReq)
	if err != nil {
		return fmt.Errorf("failed to fetch thumbnail: %w", err)
	}
	defer thumbResp.Body.Close()

	if thumbResp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail URL returned status %d", thumbResp.StatusCode)
	}

	endpoint := fmt.Sprintf("%s/thumbnails/set?videoId=%s", p.apiBaseURL, videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, thumbResp.Body)
	if err != nil {
		return fmt.Errorf("failed to build thumbnail upload: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", thumbResp.Header.Get("Content-Type"))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("thumbnail upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail upload returned status %d", resp.StatusCode)
	}

	return nil
}

func classifyAPIError(resp *http.Response) *publisher.PublishError {
	body, _ := io.ReadAll(resp.Body)

	var apiErr apiError
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return publisher.CredentialExpired("youtube rejected token: %s", message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return publisher.Transient("youtube error %d: %s", resp.StatusCode, message)
	default:
		return publisher.Rejected("youtube error %d: %s", resp.StatusCode, message)
	}
}
