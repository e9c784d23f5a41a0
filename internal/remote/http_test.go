package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		data, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		var body map[string]any
		if len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &body))
		}
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{
			Method: req.Method,
			Path:   req.URL.Path,
			Header: req.Header.Clone(),
			Body:   body,
		})
		status := r.status
		r.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (r *recorder) last(t *testing.T) capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.requests)
	return r.requests[len(r.requests)-1]
}

func newTestClient(t *testing.T, rec *recorder, photos PhotoUploader) *HTTPClient {
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", Token: "secret"}, photos, nil)
	require.NoError(t, err)
	return c
}

func TestHTTPClient_UpdateTask(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, nil)

	err := c.UpdateTask(context.Background(), "mut_1", TaskUpdate{TaskID: "t1", Status: "accepted"})
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/api/tasks/t1/status", req.Path)
	assert.Equal(t, "mut_1", req.Header.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "accepted", req.Body["status"])
}

func TestHTTPClient_UpdateDutyRoutesToWorker(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, nil)

	onDuty := true
	err := c.UpdateTask(context.Background(), "mut_2", TaskUpdate{WorkerID: "w1", IsOnDuty: &onDuty})
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, "/api/workers/w1/status", req.Path)
	assert.Equal(t, true, req.Body["isOnDuty"])
}

func TestHTTPClient_InvalidPayload(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.UpdateTask(ctx, "k", TaskUpdate{Status: "x"}), ErrInvalidPayload)
	assert.ErrorIs(t, c.UpdateLocation(ctx, "k", LocationUpdate{}), ErrInvalidPayload)
	assert.ErrorIs(t, c.UploadPhoto(ctx, "k", PhotoUpload{TaskID: "t1"}), ErrInvalidPayload)
	assert.ErrorIs(t, c.CompleteTask(ctx, "k", TaskCompletion{}), ErrInvalidPayload)
	assert.Empty(t, rec.requests)
}

func TestHTTPClient_LocationAndCompletion(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, nil)
	ctx := context.Background()

	require.NoError(t, c.UpdateLocation(ctx, "k1", LocationUpdate{
		WorkerID:  "w1",
		Location:  Location{Lat: 1.5, Lng: 2.5},
		Timestamp: 10,
	}))
	req := rec.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/workers/w1/location", req.Path)
	assert.Equal(t, map[string]any{"lat": 1.5, "lng": 2.5}, req.Body["location"])

	require.NoError(t, c.CompleteTask(ctx, "k2", TaskCompletion{
		TaskID:         "t9",
		CompletionData: CompletionData{Notes: "done", Photos: []string{"a.jpg"}},
	}))
	req = rec.last(t)
	assert.Equal(t, "/api/tasks/t9/completion", req.Path)
	assert.Equal(t, "k2", req.Header.Get("Idempotency-Key"))
}

func TestHTTPClient_Non2xxIsStatusError(t *testing.T) {
	rec := &recorder{status: http.StatusServiceUnavailable}
	c := newTestClient(t, rec, nil)

	err := c.UpdateTask(context.Background(), "k", TaskUpdate{TaskID: "t1", Status: "started"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "/api/tasks/t1/status", se.Path)
}

func TestHTTPClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	err = c.UpdateTask(context.Background(), "k", TaskUpdate{TaskID: "t1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatus)
}

func TestNewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = NewHTTPClient(HTTPConfig{BaseURL: "ftp://example.com"}, nil, nil)
	assert.Error(t, err)
}

func TestLogClient_AlwaysSucceeds(t *testing.T) {
	c := NewLogClient(nil)
	ctx := context.Background()

	assert.NoError(t, c.UpdateTask(ctx, "k", TaskUpdate{}))
	assert.NoError(t, c.UpdateLocation(ctx, "k", LocationUpdate{}))
	assert.NoError(t, c.UploadPhoto(ctx, "k", PhotoUpload{}))
	assert.NoError(t, c.CompleteTask(ctx, "k", TaskCompletion{}))
}
