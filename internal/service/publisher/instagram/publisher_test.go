package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// graphFake simulates the Graph API endpoints the publisher touches. Each
// status-check call pops the next entry from statusSequence, so tests can
// script IN_PROGRESS runs that eventually finish or error.
type graphFake struct {
	t *testing.T

	containerID    string
	mediaID        string
	permalink      string
	statusSequence []string
	statusCalls    int
	createCalls    int
	publishCalls   int

	createResponse func(w http.ResponseWriter)
}

func (g *graphFake) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media"):
			g.createCalls++
			if g.createResponse != nil {
				g.createResponse(w)
				return
			}
			require.NoError(g.t, r.ParseForm())
			assert.NotEmpty(g.t, r.PostFormValue("access_token"))
			fmt.Fprintf(w, `{"id":%q}`, g.containerID)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media_publish"):
			g.publishCalls++
			require.NoError(g.t, r.ParseForm())
			assert.Equal(g.t, g.containerID, r.PostFormValue("creation_id"))
			fmt.Fprintf(w, `{"id":%q}`, g.mediaID)

		case r.Method == http.MethodGet && r.URL.Query().Get("fields") == "status_code":
			status := "IN_PROGRESS"
			if g.statusCalls < len(g.statusSequence) {
				status = g.statusSequence[g.statusCalls]
			}
			g.statusCalls++
			fmt.Fprintf(w, `{"status_code":%q}`, status)

		case r.Method == http.MethodGet && r.URL.Query().Get("fields") == "permalink":
			fmt.Fprintf(w, `{"permalink":%q}`, g.permalink)

		default:
			g.t.Errorf("unexpected graph call: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestPublisher(baseURL string) *Publisher {
	return NewPublisher(config.InstagramConfig{
		GraphBaseURL:   baseURL,
		PollInterval:   "1ms",
		PollAttempts:   3,
		RequestTimeout: "5s",
	}, zap.NewNop())
}

func testJob() *models.ContentJob {
	return &models.ContentJob{
		ID:        "job-1",
		OwnerID:   "owner",
		Platform:  models.PlatformInstagram,
		MediaURL:  "https://cdn.example.com/photo.jpg",
		MediaType: models.MediaTypeImage,
		Caption:   "sunset",
		Instagram: models.InstagramOptions{
			Hashtags: models.StringArray{"nofilter"},
		},
	}
}

func testAccount() *models.PlatformAccount {
	return &models.PlatformAccount{
		OwnerID:        "owner",
		Platform:       models.PlatformInstagram,
		RemoteUserID:   "1784000001",
		AccessToken:    "igtoken",
		TokenExpiresAt: time.Now().Add(time.Hour),
		Active:         true,
	}
}

func TestPublishImageHappyPath(t *testing.T) {
	fake := &graphFake{
		t:              t,
		containerID:    "container-1",
		mediaID:        "media-1",
		permalink:      "https://www.instagram.com/p/abc/",
		statusSequence: []string{"FINISHED"},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).Publish(context.Background(), testJob(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, "media-1", result.RemoteID)
	assert.Equal(t, "https://www.instagram.com/p/abc/", result.Permalink)
	assert.Equal(t, 1, fake.createCalls)
	assert.Equal(t, 1, fake.publishCalls)
}

func TestPublishSlowVideoDefersToPoller(t *testing.T) {
	fake := &graphFake{
		t:           t,
		containerID: "container-1",
		// Never finishes within the attempt's poll window
		statusSequence: []string{"IN_PROGRESS", "IN_PROGRESS", "IN_PROGRESS"},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	job := testJob()
	job.MediaType = models.MediaTypeVideo

	result, err := newTestPublisher(srv.URL).Publish(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateInProgress, result.State)
	assert.Equal(t, "container-1", result.ContainerID)
	assert.Zero(t, fake.publishCalls)
}

func TestPublishOAuthRejectionIsCredentialExpired(t *testing.T) {
	fake := &graphFake{
		t: t,
		createResponse: func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`)
		},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).Publish(context.Background(), testJob(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateFailed, result.State)
	require.NotNil(t, result.Err)
	assert.Equal(t, publisher.KindCredentialExpired, result.Err.Kind)
	assert.False(t, result.Err.Retryable())
}

func TestPublishContainerErrorFails(t *testing.T) {
	fake := &graphFake{
		t:              t,
		containerID:    "container-1",
		statusSequence: []string{"IN_PROGRESS", "ERROR"},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).Publish(context.Background(), testJob(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateFailed, result.State)
	require.NotNil(t, result.Err)
	assert.Equal(t, publisher.KindPlatformRejected, result.Err.Kind)
	assert.Zero(t, fake.publishCalls)
}

func TestPublishReelSendsVideoURL(t *testing.T) {
	var mediaType, videoURL string
	fake := &graphFake{
		t:              t,
		containerID:    "container-1",
		mediaID:        "media-1",
		statusSequence: []string{"FINISHED"},
	}
	fake.createResponse = func(w http.ResponseWriter) {
		fmt.Fprintf(w, `{"id":%q}`, fake.containerID)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media") {
			require.NoError(t, r.ParseForm())
			mediaType = r.PostFormValue("media_type")
			videoURL = r.PostFormValue("video_url")
		}
		fake.handler()(w, r)
	}))
	defer srv.Close()

	job := testJob()
	job.MediaURL = "https://cdn.example.com/clip.mp4"
	job.Instagram.IsReel = true

	result, err := newTestPublisher(srv.URL).Publish(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, "REELS", mediaType)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", videoURL)
}

func TestPollStatusResumesFromContainer(t *testing.T) {
	fake := &graphFake{
		t:              t,
		containerID:    "container-9",
		mediaID:        "media-9",
		permalink:      "https://www.instagram.com/p/xyz/",
		statusSequence: []string{"FINISHED"},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	job := testJob()
	job.ContainerID = "container-9"

	result, err := newTestPublisher(srv.URL).PollStatus(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, "media-9", result.RemoteID)
	assert.Zero(t, fake.createCalls)
}

func TestPollStatusExpiredContainerFails(t *testing.T) {
	fake := &graphFake{
		t:              t,
		containerID:    "container-9",
		statusSequence: []string{"EXPIRED"},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	job := testJob()
	job.ContainerID = "container-9"

	result, err := newTestPublisher(srv.URL).PollStatus(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateFailed, result.State)
	assert.Equal(t, publisher.KindPlatformRejected, result.Err.Kind)
}

func TestPollStatusRequiresContainer(t *testing.T) {
	_, err := newTestPublisher("http://unused").PollStatus(context.Background(), testJob(), testAccount())
	assert.Error(t, err)
}

func TestPublishTransientStatusErrorStaysInProgress(t *testing.T) {
	statusHits := 0
	var fake *graphFake
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Query().Get("fields") == "status_code" {
			statusHits++
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"unknown","code":1}}`)
			return
		}
		fake.handler()(w, r)
	}))
	defer srv.Close()
	fake = &graphFake{t: t, containerID: "container-1"}

	result, err := newTestPublisher(srv.URL).Publish(context.Background(), testJob(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateInProgress, result.State)
	assert.Equal(t, "container-1", result.ContainerID)
	assert.Equal(t, 1, statusHits)
}
