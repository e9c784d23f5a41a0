package remote

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"fieldsync/internal/storage"
)

// PhotoUploader ships a locally captured photo to object storage and returns
// the object key it was stored under.
type PhotoUploader interface {
	Upload(ctx context.Context, taskID, uri string) (string, error)
}

// ObjectPhotoUploader stores photos as tasks/<taskId>/<basename> in a bucket.
// The bucket is created on first use.
type ObjectPhotoUploader struct {
	client storage.Client
	bucket string

	mu    sync.Mutex
	ready bool
}

func NewObjectPhotoUploader(client storage.Client, bucket string) *ObjectPhotoUploader {
	return &ObjectPhotoUploader{client: client, bucket: bucket}
}

// ObjectKey is the key a photo for taskID is stored under.
func ObjectKey(taskID, uri string) string {
	return path.Join("tasks", taskID, path.Base(filepath.ToSlash(localPath(uri))))
}

func (u *ObjectPhotoUploader) Upload(ctx context.Context, taskID, uri string) (string, error) {
	p := localPath(uri)
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open photo %s: %w", p, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat photo %s: %w", p, err)
	}

	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := ObjectKey(taskID, uri)

	// A previous attempt may have stored the object before the API call failed.
	if info, err := u.client.HeadObject(ctx, u.bucket, key); err == nil && info.Size == stat.Size() {
		return key, nil
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err = u.client.PutObject(ctx, u.bucket, key, f, stat.Size(), storage.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"task-id": taskID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return key, nil
}

// ensureBucket creates the bucket once. A failure is retried on the next upload.
func (u *ObjectPhotoUploader) ensureBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ready {
		return nil
	}
	if err := u.client.EnsureBucket(ctx, u.bucket); err != nil {
		return fmt.Errorf("failed to prepare bucket %s: %w", u.bucket, err)
	}
	u.ready = true
	return nil
}

// localPath accepts plain paths and file:// uris.
func localPath(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		if u, err := url.Parse(uri); err == nil {
			return filepath.FromSlash(u.Path)
		}
	}
	return uri
}
