package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

// RefreshReport summarizes one refresher pass.
type RefreshReport struct {
	RefreshedCount   int `json:"refreshedCount"`
	DeactivatedCount int `json:"deactivatedCount"`
	SkippedCount     int `json:"skippedCount"`
}

// TokenRefresher proactively renews credentials whose expiry falls inside the
// lookahead window. It runs on a much coarser cadence than the dispatcher so
// credential writes never race an in-flight publish.
type TokenRefresher struct {
	accounts   *AccountStore
	refreshers map[models.Platform]publisher.CredentialRefresher
	logger     *zap.Logger
	lookahead  time.Duration
	batchSize  int
}

func NewTokenRefresher(accounts *AccountStore, lookahead time.Duration, logger *zap.Logger) *TokenRefresher {
	if lookahead <= 0 {
		lookahead = 30 * 24 * time.Hour
	}
	return &TokenRefresher{
		accounts:   accounts,
		refreshers: make(map[models.Platform]publisher.CredentialRefresher),
		logger:     logger,
		lookahead:  lookahead,
		batchSize:  100,
	}
}

func (r *TokenRefresher) Register(refresher publisher.CredentialRefresher) {
	r.refreshers[refresher.Platform()] = refresher
	r.logger.Info("Credential refresher registered",
		zap.String("platform", string(refresher.Platform())))
}

// RunPass refreshes every active account expiring within the lookahead.
// Transient refresh failures are skipped and retried next pass; definitive
// rejections deactivate the account.
func (r *TokenRefresher) RunPass(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport

	accounts, err := r.accounts.FindExpiringAccounts(ctx, r.lookahead, r.batchSize)
	if err != nil {
		return report, err
	}

	for i := range accounts {
		account := &accounts[i]

		refresher, ok := r.refreshers[account.Platform]
		if !ok {
			r.logger.Warn("No refresher for platform",
				zap.String("platform", string(account.Platform)),
				zap.Uint("account_id", account.ID))
			report.SkippedCount++
			continue
		}

		token, expiresAt, err := refresher.Refresh(ctx, account)
		if errors.Is(err, publisher.ErrRefreshRejected) {
			if derr := r.accounts.Deactivate(ctx, account.ID); derr != nil {
				r.logger.Error("Failed to deactivate account",
					zap.Uint("account_id", account.ID), zap.Error(derr))
				report.SkippedCount++
				continue
			}
			report.DeactivatedCount++
			continue
		}
		if err != nil {
			r.logger.Warn("Credential refresh failed, will retry next pass",
				zap.Uint("account_id", account.ID),
				zap.String("platform", string(account.Platform)),
				zap.Error(err))
			report.SkippedCount++
			continue
		}

		if err := r.accounts.UpdateCredentials(ctx, account.ID, token, expiresAt); err != nil {
			r.logger.Error("Failed to store refreshed credentials",
				zap.Uint("account_id", account.ID), zap.Error(err))
			report.SkippedCount++
			continue
		}

		r.logger.Info("Credentials refreshed",
			zap.Uint("account_id", account.ID),
			zap.String("platform", string(account.Platform)),
			zap.Time("expires_at", expiresAt))
		report.RefreshedCount++
	}

	return report, nil
}
