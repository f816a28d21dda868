// Package worker applies recording events to the ledger.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"voicecollect/internal/events"
	"voicecollect/pkg/cache"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

// seenTTL bounds how long an applied event id is remembered
const seenTTL = 24 * time.Hour

type Ledger interface {
	Upsert(ctx context.Context, event *model.RecordingEvent) error
}

type Processor struct {
	ledger Ledger
	seen   cache.Cache
}

// NewProcessor creates a processor. seen may be nil, in which case every
// delivery reaches the ledger.
func NewProcessor(ledger Ledger, seen cache.Cache) *Processor {
	return &Processor{
		ledger: ledger,
		seen:   seen,
	}
}

// ProcessEvent is a events.RabbitMQ consumer handler
func (p *Processor) ProcessEvent(ctx context.Context, body []byte) error {
	event, err := events.Decode(body)
	if err != nil {
		return err
	}

	logger.Info("Processing recording event",
		zap.String("event_id", event.ID),
		zap.String("key", event.Key),
		zap.String("status", string(event.Status)))

	if p.alreadyApplied(ctx, event.ID) {
		logger.Debug("Skipping duplicate event", zap.String("event_id", event.ID))
		return nil
	}

	if err := p.ledger.Upsert(ctx, event); err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.ID, err)
	}

	if event.NeedsReconciliation() {
		reason := ""
		if event.Error != nil {
			reason = *event.Error
		}
		logger.Warn("Recording awaits reconciliation",
			zap.String("key", event.Key),
			zap.String("prompt_id", event.PromptID),
			zap.String("url", event.URL),
			zap.String("reason", reason))
	}

	p.markApplied(ctx, event.ID)
	return nil
}

func (p *Processor) alreadyApplied(ctx context.Context, id string) bool {
	if p.seen == nil {
		return false
	}
	ok, err := p.seen.Exists(ctx, cache.EventCacheKey(id))
	if err != nil {
		logger.Error("Failed to check event cache", zap.Error(err))
		return false
	}
	return ok
}

func (p *Processor) markApplied(ctx context.Context, id string) {
	if p.seen == nil {
		return
	}
	if err := p.seen.SetWithTTL(ctx, cache.EventCacheKey(id), true, seenTTL); err != nil {
		logger.Error("Failed to save event to cache", zap.Error(err))
	}
}
