package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// TokenRefresher exchanges the stored OAuth refresh token for a new access
// token. A missing or revoked refresh token is a definitive rejection.
type TokenRefresher struct {
	logger       *zap.Logger
	client       *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func NewTokenRefresher(tokenURL, clientID, clientSecret string, logger *zap.Logger) *TokenRefresher {
	return &TokenRefresher{
		logger:       logger,
		client:       &http.Client{Timeout: 30 * time.Second},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

func (r *TokenRefresher) Platform() models.Platform {
	return models.PlatformYouTube
}

func (r *TokenRefresher) Refresh(ctx context.Context, account *models.PlatformAccount) (string, time.Time, error) {
	if account.RefreshToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: no refresh token on file", publisher.ErrRefreshRejected)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshToken)
	form.Set("client_id", r.clientID)
	form.Set("client_secret", r.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	if body.Error != "" {
		// invalid_grant means the refresh token itself is dead
		if body.Error == "invalid_grant" {
			return "", time.Time{}, fmt.Errorf("%w: %s", publisher.ErrRefreshRejected, body.ErrorDescription)
		}
		return "", time.Time{}, fmt.Errorf("oauth refresh error %s: %s", body.Error, body.ErrorDescription)
	}
	if body.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("oauth endpoint returned no access token")
	}

	return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
