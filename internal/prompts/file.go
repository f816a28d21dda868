package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

// FileQueue stores the queue as a JSON array on disk. Writes go to a temp
// file that is renamed over the original, so readers see either the old or
// the new queue, never a partial one.
type FileQueue struct {
	path string
	mu   sync.Mutex
}

func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

func (q *FileQueue) LoadAll(ctx context.Context) ([]model.Prompt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prompts, err := q.read()
	if err != nil {
		return nil, backendError(err, "load")
	}
	return prompts, nil
}

func (q *FileQueue) Head(ctx context.Context) (model.Prompt, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prompts, err := q.read()
	if err != nil {
		return model.Prompt{}, false, backendError(err, "head")
	}
	if len(prompts) == 0 {
		return model.Prompt{}, false, nil
	}
	return prompts[0], true, nil
}

func (q *FileQueue) ReplaceAll(ctx context.Context, prompts []model.Prompt) error {
	if err := validate(prompts); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.write(prompts); err != nil {
		return backendError(err, "replace")
	}

	logger.Info("Prompt queue replaced", zap.Int("count", len(prompts)))
	return nil
}

func (q *FileQueue) RemoveFirst(ctx context.Context) (model.Prompt, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prompts, err := q.read()
	if err != nil {
		return model.Prompt{}, false, backendError(err, "remove")
	}
	if len(prompts) == 0 {
		return model.Prompt{}, false, nil
	}

	if err := q.write(prompts[1:]); err != nil {
		return model.Prompt{}, false, backendError(err, "remove")
	}
	return prompts[0], true, nil
}

func (q *FileQueue) RemoveHead(ctx context.Context, expectedID string) (model.Prompt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prompts, err := q.read()
	if err != nil {
		return model.Prompt{}, backendError(err, "remove")
	}
	if len(prompts) == 0 {
		return model.Prompt{}, staleHead(expectedID, nil)
	}
	if prompts[0].ID != expectedID {
		return model.Prompt{}, staleHead(expectedID, &prompts[0])
	}

	if err := q.write(prompts[1:]); err != nil {
		return model.Prompt{}, backendError(err, "remove")
	}
	return prompts[0], nil
}

// read returns the queue, creating an empty file when none exists
func (q *FileQueue) read() ([]model.Prompt, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := q.write(nil); err != nil {
			return nil, err
		}
		return []model.Prompt{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", q.path, err)
	}

	prompts := []model.Prompt{}
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", q.path, err)
	}
	if prompts == nil {
		prompts = []model.Prompt{}
	}
	return prompts, nil
}

func (q *FileQueue) write(prompts []model.Prompt) error {
	if prompts == nil {
		prompts = []model.Prompt{}
	}

	data, err := json.MarshalIndent(prompts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prompts: %w", err)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".prompts-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), q.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", q.path, err)
	}
	return nil
}
