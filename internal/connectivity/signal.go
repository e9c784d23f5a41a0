package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ManualSignal relays readings pushed with Set. It backs the CLI offline
// switch and embedding hosts that own their own network observer.
type ManualSignal struct {
	mu      sync.Mutex
	report  func(bool)
	pending *bool
	current bool
}

// NewManualSignal creates a signal whose first reading is initial
func NewManualSignal(initial bool) *ManualSignal {
	return &ManualSignal{pending: &initial, current: initial}
}

// Current returns the last reading pushed
func (m *ManualSignal) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Run forwards the pending reading and every later Set until ctx is done
func (m *ManualSignal) Run(ctx context.Context, report func(bool)) error {
	m.mu.Lock()
	m.report = report
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if pending != nil {
		report(*pending)
	}

	<-ctx.Done()

	m.mu.Lock()
	m.report = nil
	m.mu.Unlock()
	return nil
}

// Set pushes a reading
func (m *ManualSignal) Set(online bool) {
	m.mu.Lock()
	m.current = online
	report := m.report
	if report == nil {
		m.pending = &online
	}
	m.mu.Unlock()

	if report != nil {
		report(online)
	}
}

// FileSignal watches a file whose content is "online" or "offline". A device
// agent or a test harness flips the file; a missing file reads as offline.
type FileSignal struct {
	path   string
	logger *zap.Logger
}

// NewFileSignal creates a signal watching path
func NewFileSignal(path string, logger *zap.Logger) *FileSignal {
	return &FileSignal{path: path, logger: logger}
}

// Run reports the initial file state then every change until ctx is done
func (f *FileSignal) Run(ctx context.Context, report func(bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames over the file are seen
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	report(f.read())

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			report(f.read())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("Connectivity file watcher error", zap.Error(err))
		}
	}
}

func (f *FileSignal) read() bool {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("Failed to read connectivity file", zap.String("path", f.path), zap.Error(err))
		}
		return false
	}
	online, ok := ParseState(string(data))
	if !ok {
		f.logger.Warn("Unrecognized connectivity state", zap.String("content", strings.TrimSpace(string(data))))
	}
	return online
}

// ParseState interprets a textual connectivity state. Unrecognized input
// reads as offline.
func ParseState(s string) (online bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "up", "connected", "true", "1":
		return true, true
	case "offline", "down", "disconnected", "false", "0":
		return false, true
	}
	return false, false
}

// ProbeSignal polls a health URL. Any 2xx or 3xx answer is online; errors and
// other statuses are offline.
type ProbeSignal struct {
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProbeSignal creates a probe of url every interval
func NewProbeSignal(url string, interval, timeout time.Duration) *ProbeSignal {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProbeSignal{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

// Run probes immediately and then on every tick until ctx is done
func (p *ProbeSignal) Run(ctx context.Context, report func(bool)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	report(p.probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report(p.probe(ctx))
		}
	}
}

func (p *ProbeSignal) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
