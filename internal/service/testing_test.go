package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service/publisher"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.ContentJob{},
		&models.PublishAttempt{},
		&models.PlatformAccount{},
		&models.PublishStats{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func newTestQueue(logger *zap.Logger) *FastQueue {
	// nil client: every queue operation degrades to a no-op, which is exactly
	// the fast-queue-unavailable mode the dispatcher must tolerate
	return NewFastQueue(nil, &config.RedisConfig{EntryTTL: "168h"}, logger)
}

func seedAccount(t *testing.T, db *gorm.DB, ownerID string, platform models.Platform, expiresAt time.Time) *models.PlatformAccount {
	t.Helper()

	account := &models.PlatformAccount{
		OwnerID:        ownerID,
		Platform:       platform,
		RemoteUserID:   "remote-" + ownerID,
		AccessToken:    "token-" + ownerID,
		TokenExpiresAt: expiresAt,
		Active:         true,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

func seedJob(t *testing.T, store *JobStore, ownerID string, platform models.Platform, scheduledAt time.Time) *models.ContentJob {
	t.Helper()

	job := &models.ContentJob{
		OwnerID:     ownerID,
		Platform:    platform,
		MediaURL:    "https://cdn.example.com/media.jpg",
		MediaType:   models.MediaTypeImage,
		Caption:     "hello",
		ScheduledAt: scheduledAt,
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func reloadJob(t *testing.T, db *gorm.DB, id string) *models.ContentJob {
	t.Helper()

	var job models.ContentJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload job %s: %v", id, err)
	}
	return &job
}

// fakePublisher scripts publish and poll outcomes for dispatcher and poller
// tests. It implements both Publisher and StatusPoller.
type fakePublisher struct {
	platform models.Platform

	publishResult *publisher.Result
	publishErr    error
	publishCalls  int

	pollResult *publisher.Result
	pollErr    error
	pollCalls  int
}

func (f *fakePublisher) PlatformName() models.Platform {
	return f.platform
}

func (f *fakePublisher) Publish(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*publisher.Result, error) {
	f.publishCalls++
	return f.publishResult, f.publishErr
}

func (f *fakePublisher) PollStatus(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*publisher.Result, error) {
	f.pollCalls++
	return f.pollResult, f.pollErr
}

// directPublisher has no asynchronous processing phase, so it deliberately
// does not implement StatusPoller.
type directPublisher struct {
	platform models.Platform
	result   *publisher.Result
}

func (d *directPublisher) PlatformName() models.Platform {
	return d.platform
}

func (d *directPublisher) Publish(ctx context.Context, job *models.ContentJob, account *models.PlatformAccount) (*publisher.Result, error) {
	return d.result, nil
}

type dispatcherFixture struct {
	db         *gorm.DB
	store      *JobStore
	queue      *FastQueue
	accounts   *AccountStore
	manager    *publisher.Manager
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T, pubs ...publisher.Publisher) *dispatcherFixture {
	t.Helper()

	logger := zap.NewNop()
	db := newTestDB(t)
	store := NewJobStore(db, logger)
	queue := newTestQueue(logger)
	accounts := NewAccountStore(db, logger)
	manager := publisher.NewManager(logger)
	for _, p := range pubs {
		if err := manager.Register(p); err != nil {
			t.Fatalf("failed to register publisher: %v", err)
		}
	}

	return &dispatcherFixture{
		db:         db,
		store:      store,
		queue:      queue,
		accounts:   accounts,
		manager:    manager,
		dispatcher: NewDispatcher(store, queue, accounts, manager, logger),
	}
}
