package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agentwatch/internal/logger"
	"agentwatch/pkg/models"
)

// FilePublisher appends notifications to a JSON lines file. Useful for
// local runs and as a drop box for side-channel delivery tooling.
type FilePublisher struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFilePublisher creates a JSONL publisher.
func NewFilePublisher(path string) (*FilePublisher, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Notification file publisher initialized: %s", path)
	return &FilePublisher{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Publish appends one notification record.
func (p *FilePublisher) Publish(ctx context.Context, record models.NotificationRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return nil
}

// Close closes the output file.
func (p *FilePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// NopPublisher discards notifications; used in tests and when the
// notification channel is disabled.
type NopPublisher struct{}

// Publish discards the record.
func (NopPublisher) Publish(ctx context.Context, record models.NotificationRecord) error {
	return nil
}

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
