package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies which remote operation a mutation replays
type Action string

const (
	ActionTaskUpdate     Action = "task_update"
	ActionLocationUpdate Action = "location_update"
	ActionPhotoUpload    Action = "photo_upload"
	ActionTaskCompletion Action = "task_completion"
)

// ErrUnknownAction is returned when enqueueing an action outside the closed set
var ErrUnknownAction = errors.New("unknown mutation action")

// Actions lists every supported action in dispatch-table order
func Actions() []Action {
	return []Action{ActionTaskUpdate, ActionLocationUpdate, ActionPhotoUpload, ActionTaskCompletion}
}

// ParseAction validates s against the closed action set
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Valid reports whether a is one of the supported actions
func (a Action) Valid() bool {
	switch a {
	case ActionTaskUpdate, ActionLocationUpdate, ActionPhotoUpload, ActionTaskCompletion:
		return true
	}
	return false
}

// Record is a locally originated mutation waiting to be replayed
type Record struct {
	ID         string          `json:"id"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	CacheKey   string          `json:"cacheKey,omitempty"`
	LastError  string          `json:"lastError,omitempty"`
	FailedAt   int64           `json:"failedAt,omitempty"`
}

// EnqueuedTime returns EnqueuedAt as a time.Time
func (r Record) EnqueuedTime() time.Time {
	return time.UnixMilli(r.EnqueuedAt)
}

// newID builds a monotonic-ish id: enqueue millis plus a random suffix
func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("mut_%d_%s", now.UnixMilli(), suffix)
}
