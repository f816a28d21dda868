// Package ingest turns a client recording into a stored object and advances
// the prompt queue once the object is durably stored.
package ingest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicecollect/internal/notify"
	"voicecollect/pkg/apperr"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

// AudioExtension is appended to the prompt id to form the object key
const AudioExtension = ".wav"

const defaultCommitTimeout = 2 * time.Minute

// StoredKeyContext names the error context entry holding the key of an
// object that was written even though the submission failed.
const StoredKeyContext = "stored_key"

// Stage names used for timing and logs
const (
	StageValidate  = "validate"
	StageNormalize = "normalize"
	StageUpload    = "upload"
	StageResolve   = "resolve"
	StageAdvance   = "advance"
)

type Queue interface {
	Head(ctx context.Context) (model.Prompt, bool, error)
	RemoveHead(ctx context.Context, expectedID string) (model.Prompt, error)
}

type Normalizer interface {
	Normalize(data []byte, hint string) (model.NormalizedAudio, error)
}

type Storage interface {
	Upload(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error)
	ResolvePublicURL(ctx context.Context, key string) (string, error)
	List(ctx context.Context, namespace string) iter.Seq2[model.StoredObject, error]
}

type Publisher interface {
	PublishRecording(ctx context.Context, event *model.RecordingEvent) error
}

// Recorder receives outcome counts and stage timings
type Recorder interface {
	IngestOutcome(outcome string)
	ObserveStage(stage string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) IngestOutcome(string)                {}
func (nopRecorder) ObserveStage(string, time.Duration) {}

// Result is a successful ingestion
type Result struct {
	PromptID string
	Key      string
	URL      string
	Object   model.StoredObject
}

type Service struct {
	queue      Queue
	normalizer Normalizer
	storage    Storage

	policy        model.CollisionPolicy
	commitTimeout time.Duration
	publisher     Publisher
	notifier      notify.Notifier
	recorder      Recorder
	now           func() time.Time

	locks *promptLocks
}

type Option func(*Service)

// WithCollisionPolicy sets the policy used by Ingest. Rerecord always overwrites.
func WithCollisionPolicy(p model.CollisionPolicy) Option {
	return func(s *Service) {
		if p.Valid() {
			s.policy = p
		}
	}
}

// WithCommitTimeout bounds the upload, link and queue steps, which run
// detached from the caller's context.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *Service) { s.commitTimeout = d }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(queue Queue, normalizer Normalizer, storage Storage, opts ...Option) *Service {
	s := &Service{
		queue:         queue,
		normalizer:    normalizer,
		storage:       storage,
		policy:        model.CollisionReject,
		commitTimeout: defaultCommitTimeout,
		notifier:      notify.Nop{},
		recorder:      nopRecorder{},
		now:           time.Now,
		locks:         newPromptLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest stores a recording for the current head prompt using the
// configured collision policy.
func (s *Service) Ingest(ctx context.Context, sub model.RecordingSubmission) (Result, error) {
	return s.run(ctx, sub, s.policy)
}

// Rerecord replaces any existing object for the head prompt.
func (s *Service) Rerecord(ctx context.Context, sub model.RecordingSubmission) (Result, error) {
	return s.run(ctx, sub, model.CollisionOverwrite)
}

// Files lists every stored recording with its public URL
func (s *Service) Files(ctx context.Context) ([]model.StoredObject, error) {
	files := []model.StoredObject{}
	for obj, err := range s.storage.List(ctx, "") {
		if err != nil {
			return nil, err
		}
		files = append(files, obj)
	}
	return files, nil
}

// KeyFor derives the object key of a prompt
func KeyFor(promptID string) string {
	return promptID + AudioExtension
}

func (s *Service) run(ctx context.Context, sub model.RecordingSubmission, policy model.CollisionPolicy) (Result, error) {
	submissionID := uuid.NewString()
	log := []zap.Field{
		zap.String("submission_id", submissionID),
		zap.String("prompt_id", sub.PromptID),
		zap.String("policy", string(policy)),
	}

	logger.Info("Recording received", append(log, zap.Int("size", len(sub.AudioBytes)))...)

	res, err := s.pipeline(ctx, sub, policy)
	if err != nil {
		kind := apperr.KindOf(err)
		s.recorder.IngestOutcome(string(kind))

		if kind == apperr.KindPartialSuccess {
			logger.Error("Recording stored but prompt not advanced", append(log, zap.Error(err))...)
		} else {
			logger.Warn("Recording rejected", append(log, zap.String("kind", string(kind)), zap.Error(err))...)
		}
		return Result{}, err
	}

	s.recorder.IngestOutcome("success")
	logger.Info("Recording ingested", append(log, zap.String("key", res.Key))...)
	return res, nil
}

func (s *Service) pipeline(ctx context.Context, sub model.RecordingSubmission, policy model.CollisionPolicy) (Result, error) {
	if err := s.timed(StageValidate, func() error { return s.validate(ctx, sub) }); err != nil {
		return Result{}, err
	}

	var audio model.NormalizedAudio
	err := s.timed(StageNormalize, func() error {
		var err error
		audio, err = s.normalizer.Normalize(sub.AudioBytes, sub.MimeHint)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	// Once audio is decoded the submission commits. A client disconnect from
	// here on must not abort the write or leave a stored object without a
	// queue decision.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	// Upload and advance for one prompt never interleave, and the head is
	// checked again under the lock before anything is written.
	unlock, err := s.locks.acquire(commitCtx, sub.PromptID)
	if err != nil {
		return Result{}, apperr.Wrapf(apperr.KindConflict, err, "prompt %q is still being committed by another submission", sub.PromptID).
			WithContext("prompt_id", sub.PromptID)
	}
	defer unlock()

	if err := s.checkHead(commitCtx, sub.PromptID); err != nil {
		return Result{}, err
	}

	key := KeyFor(sub.PromptID)

	var obj model.StoredObject
	err = s.timed(StageUpload, func() error {
		var err error
		obj, err = s.storage.Upload(commitCtx, key, audio.WAV, policy)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	var url string
	err = s.timed(StageResolve, func() error {
		var err error
		url, err = s.storage.ResolvePublicURL(commitCtx, key)
		return err
	})
	if err != nil {
		// Stored without a link. The queue stays put so the re-record flow
		// can take the prompt again.
		return Result{}, apperr.Wrapf(apperr.KindOf(err), err, "recording stored as %s but link resolution failed", obj.Key).
			WithContext(StoredKeyContext, obj.Key)
	}
	obj.PublicURL = url

	err = s.timed(StageAdvance, func() error {
		_, err := s.queue.RemoveHead(commitCtx, sub.PromptID)
		return err
	})
	if err != nil {
		partial := &PartialSuccessError{
			PromptID: sub.PromptID,
			Key:      obj.Key,
			URL:      url,
			Err:      err,
		}
		s.announce(commitCtx, sub.PromptID, obj.Key, url, partial)
		return Result{}, partial
	}

	s.announce(commitCtx, sub.PromptID, obj.Key, url, nil)

	return Result{
		PromptID: sub.PromptID,
		Key:      obj.Key,
		URL:      url,
		Object:   obj,
	}, nil
}

func (s *Service) validate(ctx context.Context, sub model.RecordingSubmission) error {
	if strings.TrimSpace(sub.PromptID) == "" {
		return apperr.New(apperr.KindValidation, "prompt id is required")
	}
	if len(sub.AudioBytes) == 0 {
		return apperr.New(apperr.KindValidation, "audio payload is empty").
			WithContext("prompt_id", sub.PromptID)
	}

	return s.checkHead(ctx, sub.PromptID)
}

func (s *Service) checkHead(ctx context.Context, promptID string) error {
	head, ok, err := s.queue.Head(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.KindStalePrompt, "prompt %q is not current: queue is empty", promptID).
			WithContext("prompt_id", promptID)
	}
	if head.ID != promptID {
		return apperr.Newf(apperr.KindStalePrompt, "prompt %q is not current, head is %q", promptID, head.ID).
			WithContext("prompt_id", promptID).
			WithContext("head_id", head.ID)
	}
	return nil
}

// announce publishes the outcome and alerts on partial success. Failures
// are logged and never change the result.
func (s *Service) announce(ctx context.Context, promptID, key, url string, partial *PartialSuccessError) {
	event := &model.RecordingEvent{
		ID:         uuid.NewString(),
		PromptID:   promptID,
		Key:        key,
		URL:        url,
		Status:     model.RecordingStatusStored,
		OccurredAt: s.now().UTC(),
	}
	if partial != nil {
		msg := partial.Err.Error()
		event.Status = model.RecordingStatusPartial
		event.Error = &msg
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRecording(ctx, event); err != nil {
			logger.Error("Failed to publish recording event",
				zap.String("event_id", event.ID),
				zap.String("key", key),
				zap.Error(err))
		}
	}

	if event.NeedsReconciliation() {
		if err := s.notifier.PartialSuccess(ctx, event); err != nil {
			logger.Error("Failed to send partial success alert",
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

func (s *Service) timed(stage string, fn func() error) error {
	start := s.now()
	err := fn()
	s.recorder.ObserveStage(stage, s.now().Sub(start))
	return err
}

// AsPartial extracts a PartialSuccessError from err
func AsPartial(err error) (*PartialSuccessError, bool) {
	var p *PartialSuccessError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}
