package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/pkg/jobs"
)

const deleteObjectTimeout = 30 * time.Second

type objectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// UploadCleaner removes stored objects that no student references any more.
type UploadCleaner struct {
	store  objectDeleter
	queue  *jobs.Queue[string]
	logger *zap.Logger
}

// NewUploadCleaner builds the cleaner and its worker queue.
func NewUploadCleaner(store objectDeleter, cfg jobs.QueueConfig) *UploadCleaner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &UploadCleaner{store: store, logger: cfg.Logger}
	c.queue = jobs.NewQueue[string]("upload-cleanup", c.handle, cfg)
	return c
}

// Start launches the workers.
func (c *UploadCleaner) Start(ctx context.Context) {
	c.queue.Start(ctx)
}

// Stop finishes queued deletions and stops the workers.
func (c *UploadCleaner) Stop() {
	c.queue.Stop()
}

// Schedule queues key for deletion without blocking the caller. A full or stopped queue leaves the object in place.
func (c *UploadCleaner) Schedule(key string) {
	if key == "" {
		return
	}
	if err := c.queue.TryEnqueue(jobs.Job[string]{ID: uuid.NewString(), Payload: key}); err != nil {
		c.logger.Warn("upload cleanup not scheduled", zap.String("key", key), zap.Error(err))
	}
}

func (c *UploadCleaner) handle(ctx context.Context, job jobs.Job[string]) error {
	ctx, cancel := context.WithTimeout(ctx, deleteObjectTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, job.Payload); err != nil {
		return err
	}
	c.logger.Debug("upload removed", zap.String("key", job.Payload))
	return nil
}
