package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// TokenRefresher exchanges a long-lived Instagram token for a fresh one.
// Instagram long-lived tokens last ~60 days and can be refreshed any time
// after they are 24 hours old.
type TokenRefresher struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
}

type refreshResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	Error       *graphError `json:"error"`
}

func NewTokenRefresher(baseURL string, logger *zap.Logger) *TokenRefresher {
	return &TokenRefresher{
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (r *TokenRefresher) Platform() models.Platform {
	return models.PlatformInstagram
}

func (r *TokenRefresher) Refresh(ctx context.Context, account *models.PlatformAccount) (string, time.Time, error) {
	endpoint := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		r.baseURL, url.QueryEscape(account.AccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	if body.Error != nil {
		if body.Error.Code == errCodeOAuth || body.Error.Type == "OAuthException" {
			return "", time.Time{}, fmt.Errorf("%w: %s", publisher.ErrRefreshRejected, body.Error.Message)
		}
		return "", time.Time{}, fmt.Errorf("instagram refresh error %d: %s", body.Error.Code, body.Error.Message)
	}
	if body.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("instagram returned no refreshed token")
	}

	return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
