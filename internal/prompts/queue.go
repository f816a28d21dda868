// Package prompts holds the ordered queue of texts waiting to be recorded.
// Every backend pops the head atomically, so two concurrent removals never
// take the same prompt.
package prompts

import (
	"context"

	"voicecollect/pkg/apperr"
	"voicecollect/pkg/model"
)

type Queue interface {
	// LoadAll returns the whole queue in order, creating an empty one if none exists
	LoadAll(ctx context.Context) ([]model.Prompt, error)
	// Head returns the current prompt; false when the queue is empty
	Head(ctx context.Context) (model.Prompt, bool, error)
	// ReplaceAll swaps the queue contents in one step
	ReplaceAll(ctx context.Context, prompts []model.Prompt) error
	// RemoveFirst pops the head; false when the queue is empty
	RemoveFirst(ctx context.Context) (model.Prompt, bool, error)
	// RemoveHead pops the head only if its id is expectedID
	RemoveHead(ctx context.Context, expectedID string) (model.Prompt, error)
}

func validate(prompts []model.Prompt) error {
	if err := model.ValidatePrompts(prompts); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid prompt list")
	}
	return nil
}

func staleHead(expectedID string, head *model.Prompt) error {
	if head == nil {
		return apperr.Newf(apperr.KindStalePrompt, "prompt %q is not current: queue is empty", expectedID).
			WithContext("prompt_id", expectedID)
	}
	return apperr.Newf(apperr.KindStalePrompt, "prompt %q is not current, head is %q", expectedID, head.ID).
		WithContext("prompt_id", expectedID).
		WithContext("head_id", head.ID)
}

func backendError(err error, op string) error {
	return apperr.Wrapf(apperr.KindInternal, err, "prompt queue %s failed", op)
}
