package remote

import (
	"context"

	"go.uber.org/zap"
)

// LogClient accepts every mutation and only logs it. Used for dry runs.
type LogClient struct {
	logger *zap.Logger
}

func NewLogClient(logger *zap.Logger) *LogClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogClient{logger: logger.With(zap.String("component", "remote"), zap.Bool("dry_run", true))}
}

func (c *LogClient) UpdateTask(_ context.Context, key string, p TaskUpdate) error {
	c.logger.Info("Syncing task update",
		zap.String("id", key),
		zap.String("task_id", p.TaskID),
		zap.String("worker_id", p.WorkerID),
		zap.String("status", p.Status))
	return nil
}

func (c *LogClient) UpdateLocation(_ context.Context, key string, p LocationUpdate) error {
	c.logger.Info("Syncing location update",
		zap.String("id", key),
		zap.String("worker_id", p.WorkerID),
		zap.Float64("lat", p.Location.Lat),
		zap.Float64("lng", p.Location.Lng))
	return nil
}

func (c *LogClient) UploadPhoto(_ context.Context, key string, p PhotoUpload) error {
	c.logger.Info("Uploading photo",
		zap.String("id", key),
		zap.String("task_id", p.TaskID),
		zap.String("uri", p.PhotoURI))
	return nil
}

func (c *LogClient) CompleteTask(_ context.Context, key string, p TaskCompletion) error {
	c.logger.Info("Syncing task completion",
		zap.String("id", key),
		zap.String("task_id", p.TaskID),
		zap.Int("photos", len(p.CompletionData.Photos)))
	return nil
}
