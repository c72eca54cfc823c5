package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// fakeRefresher scripts refresh outcomes per remote user id.
type fakeRefresher struct {
	platform models.Platform
	token    string
	expires  time.Time
	err      error
	calls    int
}

func (f *fakeRefresher) Platform() models.Platform {
	return f.platform
}

func (f *fakeRefresher) Refresh(ctx context.Context, account *models.PlatformAccount) (string, time.Time, error) {
	f.calls++
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.token, f.expires, nil
}

func TestRunPassRefreshesExpiringAccount(t *testing.T) {
	db := newTestDB(t)
	accounts := NewAccountStore(db, zap.NewNop())

	newExpiry := time.Now().Add(60 * 24 * time.Hour).Truncate(time.Second)
	fake := &fakeRefresher{
		platform: models.PlatformInstagram,
		token:    "fresh-token",
		expires:  newExpiry,
	}

	refresher := NewTokenRefresher(accounts, 30*24*time.Hour, zap.NewNop())
	refresher.Register(fake)

	expiring := seedAccount(t, db, "u1", models.PlatformInstagram, time.Now().Add(24*time.Hour))
	// Far outside the lookahead, must not be touched
	healthy := seedAccount(t, db, "u2", models.PlatformInstagram, time.Now().Add(90*24*time.Hour))

	report, err := refresher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RefreshedCount)
	assert.Zero(t, report.DeactivatedCount)
	assert.Equal(t, 1, fake.calls)

	var reloaded models.PlatformAccount
	require.NoError(t, db.First(&reloaded, expiring.ID).Error)
	assert.Equal(t, "fresh-token", reloaded.AccessToken)
	assert.WithinDuration(t, newExpiry, reloaded.TokenExpiresAt, time.Second)
	assert.NotNil(t, reloaded.LastRefreshAt)
	assert.True(t, reloaded.Active)

	var untouched models.PlatformAccount
	require.NoError(t, db.First(&untouched, healthy.ID).Error)
	assert.Equal(t, healthy.AccessToken, untouched.AccessToken)
}

func TestRunPassDeactivatesOnRejectedRefresh(t *testing.T) {
	db := newTestDB(t)
	accounts := NewAccountStore(db, zap.NewNop())

	fake := &fakeRefresher{
		platform: models.PlatformYouTube,
		err:      publisher.ErrRefreshRejected,
	}
	refresher := NewTokenRefresher(accounts, 30*24*time.Hour, zap.NewNop())
	refresher.Register(fake)

	account := seedAccount(t, db, "u1", models.PlatformYouTube, time.Now().Add(time.Hour))

	report, err := refresher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeactivatedCount)
	assert.Zero(t, report.RefreshedCount)

	var reloaded models.PlatformAccount
	require.NoError(t, db.First(&reloaded, account.ID).Error)
	assert.False(t, reloaded.Active)

	// Deactivated accounts leave the refresh rotation entirely
	fake.calls = 0
	report, err = refresher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.DeactivatedCount)
	assert.Zero(t, fake.calls)
}

func TestRunPassSkipsTransientRefreshFailure(t *testing.T) {
	db := newTestDB(t)
	accounts := NewAccountStore(db, zap.NewNop())

	fake := &fakeRefresher{
		platform: models.PlatformInstagram,
		err:      errors.New("token endpoint unreachable"),
	}
	refresher := NewTokenRefresher(accounts, 30*24*time.Hour, zap.NewNop())
	refresher.Register(fake)

	account := seedAccount(t, db, "u1", models.PlatformInstagram, time.Now().Add(time.Hour))
	originalToken := account.AccessToken

	report, err := refresher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedCount)
	assert.Zero(t, report.RefreshedCount)
	assert.Zero(t, report.DeactivatedCount)

	// Account untouched and still active: next pass retries
	var reloaded models.PlatformAccount
	require.NoError(t, db.First(&reloaded, account.ID).Error)
	assert.Equal(t, originalToken, reloaded.AccessToken)
	assert.True(t, reloaded.Active)
}

func TestRunPassSkipsPlatformWithoutRefresher(t *testing.T) {
	db := newTestDB(t)
	accounts := NewAccountStore(db, zap.NewNop())

	refresher := NewTokenRefresher(accounts, 30*24*time.Hour, zap.NewNop())
	seedAccount(t, db, "u1", models.PlatformInstagram, time.Now().Add(time.Hour))

	report, err := refresher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedCount)
}
