package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// youtubeFake serves the resumable upload session, the media PUT, the
// thumbnail endpoint, and doubles as the CDN the media bytes come from.
type youtubeFake struct {
	t *testing.T

	videoID      string
	mediaBody    string
	snippet      videoSnippet
	status       videoStatus
	uploadedBody string

	initCalls      int
	uploadCalls    int
	thumbnailCalls int

	initResponse      func(w http.ResponseWriter)
	thumbnailResponse func(w http.ResponseWriter)
}

func (f *youtubeFake) server() *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload/videos":
			f.initCalls++
			if f.initResponse != nil {
				f.initResponse(w)
				return
			}
			assert.Equal(f.t, "Bearer yttoken", r.Header.Get("Authorization"))
			assert.Equal(f.t, "resumable", r.URL.Query().Get("uploadType"))

			var resource videoResource
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&resource))
			f.snippet = resource.Snippet
			f.status = resource.Status

			w.Header().Set("Location", srv.URL+"/upload/session/abc")
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodPut && r.URL.Path == "/upload/session/abc":
			f.uploadCalls++
			body, err := io.ReadAll(r.Body)
			require.NoError(f.t, err)
			f.uploadedBody = string(body)

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":%q}`, f.videoID)

		case r.Method == http.MethodGet && r.URL.Path == "/media/video.mp4":
			fmt.Fprint(w, f.mediaBody)

		case r.Method == http.MethodGet && r.URL.Path == "/media/thumb.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			fmt.Fprint(w, "thumbnail-bytes")

		case r.Method == http.MethodPost && r.URL.Path == "/api/thumbnails/set":
			f.thumbnailCalls++
			if f.thumbnailResponse != nil {
				f.thumbnailResponse(w)
				return
			}
			assert.Equal(f.t, f.videoID, r.URL.Query().Get("videoId"))
			w.WriteHeader(http.StatusOK)

		default:
			f.t.Errorf("unexpected youtube call: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv
}

func newTestPublisher(srv *httptest.Server) *Publisher {
	return NewPublisher(config.YouTubeConfig{
		UploadBaseURL:  srv.URL + "/upload",
		APIBaseURL:     srv.URL + "/api",
		RequestTimeout: "5s",
	}, zap.NewNop())
}

func testJob(srv *httptest.Server) *models.ContentJob {
	return &models.ContentJob{
		ID:        "job-1",
		OwnerID:   "owner",
		Platform:  models.PlatformYouTube,
		MediaURL:  srv.URL + "/media/video.mp4",
		MediaType: models.MediaTypeVideo,
		Caption:   "launch day",
		YouTube: models.YouTubeOptions{
			Title:       "Launch Day",
			Description: "Behind the scenes",
			Privacy:     "public",
			Tags:        models.StringArray{"launch", "startup"},
		},
	}
}

func testAccount() *models.PlatformAccount {
	return &models.PlatformAccount{
		OwnerID:        "owner",
		Platform:       models.PlatformYouTube,
		RemoteUserID:   "UC123",
		AccessToken:    "yttoken",
		TokenExpiresAt: time.Now().Add(time.Hour),
		Active:         true,
	}
}

func TestPublishUploadsVideo(t *testing.T) {
	fake := &youtubeFake{t: t, videoID: "vid-1", mediaBody: "video-bytes"}
	srv := fake.server()
	defer srv.Close()

	result, err := newTestPublisher(srv).Publish(context.Background(), testJob(srv), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, "vid-1", result.RemoteID)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid-1", result.Permalink)

	assert.Equal(t, 1, fake.initCalls)
	assert.Equal(t, 1, fake.uploadCalls)
	assert.Equal(t, "video-bytes", fake.uploadedBody)
	assert.Equal(t, "Launch Day", fake.snippet.Title)
	assert.Equal(t, []string{"launch", "startup"}, fake.snippet.Tags)
	assert.Equal(t, "public", fake.status.PrivacyStatus)
	assert.Zero(t, fake.thumbnailCalls)
}

func TestPublishShortUsesShortsPermalink(t *testing.T) {
	fake := &youtubeFake{t: t, videoID: "vid-2", mediaBody: "clip"}
	srv := fake.server()
	defer srv.Close()

	job := testJob(srv)
	job.YouTube.IsShort = true

	result, err := newTestPublisher(srv).Publish(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/shorts/vid-2", result.Permalink)
}

func TestPublishDefaultsMetadataFromCaption(t *testing.T) {
	fake := &youtubeFake{t: t, videoID: "vid-3", mediaBody: "clip"}
	srv := fake.server()
	defer srv.Close()

	job := testJob(srv)
	job.YouTube.Title = ""
	job.YouTube.Description = ""
	job.YouTube.Privacy = ""

	result, err := newTestPublisher(srv).Publish(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, "launch day", fake.snippet.Title)
	assert.Equal(t, "launch day", fake.snippet.Description)
	assert.Equal(t, "private", fake.status.PrivacyStatus)
}

func TestPublishSetsThumbnail(t *testing.T) {
	fake := &youtubeFake{t: t, videoID: "vid-4", mediaBody: "clip"}
	srv := fake.server()
	defer srv.Close()

	job := testJob(srv)
	job.YouTube.ThumbnailURL = srv.URL + "/media/thumb.jpg"

	result, err := newTestPublisher(srv).Publish(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, 1, fake.thumbnailCalls)
}

func TestPublishThumbnailFailureDoesNotFailPublish(t *testing.T) {
	fake := &youtubeFake{t: t, videoID: "vid-5", mediaBody: "clip"}
	fake.thumbnailResponse = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusForbidden)
	}
	srv := fake.server()
	defer srv.Close()

	job := testJob(srv)
	job.YouTube.ThumbnailURL = srv.URL + "/media/thumb.jpg"

	result, err := newTestPublisher(srv).Publish(context.Background(), job, testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StatePublished, result.State)
	assert.Equal(t, "vid-5", result.RemoteID)
}

func TestPublishUnauthorizedIsCredentialExpired(t *testing.T) {
	fake := &youtubeFake{t: t}
	fake.initResponse = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials","status":"UNAUTHENTICATED"}}`)
	}
	srv := fake.server()
	defer srv.Close()

	result, err := newTestPublisher(srv).Publish(context.Background(), testJob(srv), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateFailed, result.State)
	require.NotNil(t, result.Err)
	assert.Equal(t, publisher.KindCredentialExpired, result.Err.Kind)
	assert.Contains(t, result.Err.Message, "Invalid Credentials")
}

func TestPublishServerErrorIsTransient(t *testing.T) {
	fake := &youtubeFake{t: t}
	fake.initResponse = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":503,"message":"Backend Error","status":"UNAVAILABLE"}}`)
	}
	srv := fake.server()
	defer srv.Close()

	result, err := newTestPublisher(srv).Publish(context.Background(), testJob(srv), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateFailed, result.State)
	require.NotNil(t, result.Err)
	assert.Equal(t, publisher.KindTransientNetwork, result.Err.Kind)
	assert.True(t, result.Err.Retryable())
}

func TestPublishMissingSessionURLFails(t *testing.T) {
	fake := &youtubeFake{t: t}
	fake.initResponse = func(w http.ResponseWriter) {
		// 200 but no Location header
		w.WriteHeader(http.StatusOK)
	}
	srv := fake.server()
	defer srv.Close()

	result, err := newTestPublisher(srv).Publish(context.Background(), testJob(srv), testAccount())
	require.NoError(t, err)
	assert.Equal(t, publisher.StateFailed, result.State)
	assert.Equal(t, publisher.KindPlatformRejected, result.Err.Kind)
}
