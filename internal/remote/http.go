package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxErrorBody = 512

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPClient implements Client against the field-service JSON API.
type HTTPClient struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	photos  PhotoUploader
	logger  *zap.Logger
}

// NewHTTPClient creates a client. photos may be nil, in which case photo
// uploads only notify the API of the local uri.
func NewHTTPClient(cfg HTTPConfig, photos PhotoUploader, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: u,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		photos:  photos,
		logger:  logger.With(zap.String("component", "remote")),
	}, nil
}

func (c *HTTPClient) UpdateTask(ctx context.Context, key string, p TaskUpdate) error {
	switch {
	case p.TaskID != "":
		return c.send(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(p.TaskID)+"/status", key, p)
	case p.WorkerID != "" && p.IsOnDuty != nil:
		return c.send(ctx, http.MethodPatch, "/api/workers/"+url.PathEscape(p.WorkerID)+"/status", key, p)
	default:
		return fmt.Errorf("task update needs taskId or workerId with isOnDuty: %w", ErrInvalidPayload)
	}
}

func (c *HTTPClient) UpdateLocation(ctx context.Context, key string, p LocationUpdate) error {
	if p.WorkerID == "" {
		return fmt.Errorf("location update needs workerId: %w", ErrInvalidPayload)
	}
	return c.send(ctx, http.MethodPost, "/api/workers/"+url.PathEscape(p.WorkerID)+"/location", key, p)
}

func (c *HTTPClient) UploadPhoto(ctx context.Context, key string, p PhotoUpload) error {
	if p.TaskID == "" || p.PhotoURI == "" {
		return fmt.Errorf("photo upload needs taskId and photoUri: %w", ErrInvalidPayload)
	}
	if c.photos != nil {
		objectKey, err := c.photos.Upload(ctx, p.TaskID, p.PhotoURI)
		if err != nil {
			return fmt.Errorf("failed to upload photo object: %w", err)
		}
		p.ObjectKey = objectKey
	}
	return c.send(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(p.TaskID)+"/photos", key, p)
}

func (c *HTTPClient) CompleteTask(ctx context.Context, key string, p TaskCompletion) error {
	if p.TaskID == "" {
		return fmt.Errorf("task completion needs taskId: %w", ErrInvalidPayload)
	}
	return c.send(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(p.TaskID)+"/completion", key, p)
}

func (c *HTTPClient) send(ctx context.Context, method, path, key string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
