package model

import (
	"fmt"
	"strings"
	"time"
)

// Prompt is one text to be read aloud and recorded
type Prompt struct {
	ID   string `json:"id" db:"id"`
	Text string `json:"text" db:"text"`
}

// ValidatePrompts checks a bulk import: every prompt needs an id and text, ids are
// unique and usable as object keys.
func ValidatePrompts(prompts []Prompt) error {
	seen := make(map[string]struct{}, len(prompts))
	for i, p := range prompts {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("prompt %d: missing id", i)
		}
		if strings.ContainsAny(p.ID, "/\\") || strings.Contains(p.ID, "..") {
			return fmt.Errorf("prompt %d: id %q must not contain path separators or \"..\"", i, p.ID)
		}
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("prompt %d (%s): missing text", i, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("prompt %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// CollisionPolicy decides what an upload does when the key already exists
type CollisionPolicy string

const (
	CollisionReject    CollisionPolicy = "reject"
	CollisionOverwrite CollisionPolicy = "overwrite"
)

// Valid reports whether p is a known policy
func (p CollisionPolicy) Valid() bool {
	return p == CollisionReject || p == CollisionOverwrite
}

// RecordingSubmission is one client upload. It lives only for a single ingestion call.
type RecordingSubmission struct {
	PromptID   string
	AudioBytes []byte
	MimeHint   string
}

// NormalizedAudio is PCM audio at the canonical sample rate, encoded as WAV.
type NormalizedAudio struct {
	SampleRate int
	Channels   int
	PCM        []byte
	WAV        []byte
}

// StoredObject is an object in the storage namespace with its playback link
type StoredObject struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	PublicURL string    `json:"url"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordingStatus is the terminal outcome recorded for a stored object
type RecordingStatus string

const (
	RecordingStatusStored  RecordingStatus = "stored"
	RecordingStatusPartial RecordingStatus = "partial"
)

// RecordingEvent is published whenever an ingestion stored an object
type RecordingEvent struct {
	ID         string          `json:"id" db:"id"`
	PromptID   string          `json:"prompt_id" db:"prompt_id"`
	Key        string          `json:"key" db:"key"`
	URL        string          `json:"url" db:"url"`
	Status     RecordingStatus `json:"status" db:"status"`
	Error      *string         `json:"error,omitempty" db:"error_text"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

// NeedsReconciliation returns true if the object was stored but the queue was not advanced
func (e *RecordingEvent) NeedsReconciliation() bool {
	return e.Status == RecordingStatusPartial
}
