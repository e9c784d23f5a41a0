// Package remote delivers queued mutations to the backend.
package remote

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStatus is matched by every non-2xx response.
	ErrStatus = errors.New("unexpected response status")
	// ErrInvalidPayload reports a payload missing the ids needed to route it.
	ErrInvalidPayload = errors.New("invalid payload")
)

// StatusError carries the HTTP status of a rejected request.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Client is the set of remote operations the sync engine dispatches to.
// key is the mutation id and is sent as the idempotency key.
type Client interface {
	UpdateTask(ctx context.Context, key string, p TaskUpdate) error
	UpdateLocation(ctx context.Context, key string, p LocationUpdate) error
	UploadPhoto(ctx context.Context, key string, p PhotoUpload) error
	CompleteTask(ctx context.Context, key string, p TaskCompletion) error
}

// TaskUpdate changes a task status, a worker duty flag, or both.
type TaskUpdate struct {
	TaskID     string `json:"taskId,omitempty"`
	WorkerID   string `json:"workerId,omitempty"`
	Status     string `json:"status,omitempty"`
	IsOnDuty   *bool  `json:"isOnDuty,omitempty"`
	AcceptedAt string `json:"acceptedAt,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type LocationUpdate struct {
	WorkerID  string   `json:"workerId"`
	Location  Location `json:"location"`
	Timestamp int64    `json:"timestamp"`
}

type PhotoUpload struct {
	TaskID     string `json:"taskId"`
	PhotoURI   string `json:"photoUri"`
	UploadedAt int64  `json:"uploadedAt,omitempty"`
	ObjectKey  string `json:"objectKey,omitempty"`
}

type CompletionData struct {
	Notes       string   `json:"notes,omitempty"`
	Photos      []string `json:"photos,omitempty"`
	CompletedAt string   `json:"completedAt,omitempty"`
}

type TaskCompletion struct {
	TaskID         string         `json:"taskId"`
	WorkerID       string         `json:"workerId,omitempty"`
	CompletionData CompletionData `json:"completionData"`
}
