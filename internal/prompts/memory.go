package prompts

import (
	"context"
	"sync"

	"voicecollect/pkg/model"
)

type MemoryQueue struct {
	mu      sync.RWMutex
	prompts []model.Prompt
}

func NewMemoryQueue(initial ...model.Prompt) *MemoryQueue {
	return &MemoryQueue{prompts: append([]model.Prompt(nil), initial...)}
}

func (q *MemoryQueue) LoadAll(ctx context.Context) ([]model.Prompt, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]model.Prompt{}, q.prompts...), nil
}

func (q *MemoryQueue) Head(ctx context.Context) (model.Prompt, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.prompts) == 0 {
		return model.Prompt{}, false, nil
	}
	return q.prompts[0], true, nil
}

func (q *MemoryQueue) ReplaceAll(ctx context.Context, prompts []model.Prompt) error {
	if err := validate(prompts); err != nil {
		return err
	}
	q.mu.Lock()
	q.prompts = append([]model.Prompt{}, prompts...)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) RemoveFirst(ctx context.Context) (model.Prompt, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.prompts) == 0 {
		return model.Prompt{}, false, nil
	}
	head := q.prompts[0]
	q.prompts = q.prompts[1:]
	return head, true, nil
}

func (q *MemoryQueue) RemoveHead(ctx context.Context, expectedID string) (model.Prompt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.prompts) == 0 {
		return model.Prompt{}, staleHead(expectedID, nil)
	}
	head := q.prompts[0]
	if head.ID != expectedID {
		return model.Prompt{}, staleHead(expectedID, &head)
	}
	q.prompts = q.prompts[1:]
	return head, nil
}
