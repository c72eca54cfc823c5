package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/castline/castline/internal/models"
)

// ErrNoActiveAccount means the owner has no usable connection for the platform:
// either it was never connected or the refresher deactivated it.
var ErrNoActiveAccount = errors.New("no active account for platform")

// AccountStore reads connected platform accounts for the dispatcher and writes
// refresh results for the token refresher. The dispatcher never mutates
// credentials; refresh runs on its own coarser cadence.
type AccountStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAccountStore(db *gorm.DB, logger *zap.Logger) *AccountStore {
	return &AccountStore{db: db, logger: logger}
}

// GetActiveAccount returns the owner's active connection for the platform.
func (s *AccountStore) GetActiveAccount(ctx context.Context, ownerID string, platform models.Platform) (*models.PlatformAccount, error) {
	var account models.PlatformAccount
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ? AND active = ?", ownerID, platform, true).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveAccount
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &account, nil
}

// FindExpiringAccounts returns active accounts whose token expires within the
// lookahead window, oldest expiry first.
func (s *AccountStore) FindExpiringAccounts(ctx context.Context, within time.Duration, limit int) ([]models.PlatformAccount, error) {
	var accounts []models.PlatformAccount
	err := s.db.WithContext(ctx).
		Where("active = ? AND token_expires_at <= ?", true, time.Now().Add(within)).
		Order("token_expires_at ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiring accounts: %w", err)
	}
	return accounts, nil
}

// UpdateCredentials stores a successful refresh.
func (s *AccountStore) UpdateCredentials(ctx context.Context, accountID uint, accessToken string, expiresAt time.Time) error {
	now := time.Now()
	err := s.db.WithContext(ctx).
		Model(&models.PlatformAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"token_expires_at": expiresAt,
			"last_refresh_at":  now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return nil
}

// Deactivate marks an account as requiring user re-authorization. Jobs owned
// by a deactivated account fail with a credential error instead of retrying.
func (s *AccountStore) Deactivate(ctx context.Context, accountID uint) error {
	err := s.db.WithContext(ctx).
		Model(&models.PlatformAccount{}).
		Where("id = ?", accountID).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}

	s.logger.Warn("Platform account deactivated, user must re-authorize",
		zap.Uint("account_id", accountID))
	return nil
}
