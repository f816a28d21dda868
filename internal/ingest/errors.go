package ingest

import (
	"fmt"

	"voicecollect/pkg/apperr"
)

// PartialSuccessError reports a recording that was stored and linked while
// the prompt queue was not advanced. Key and URL identify the object for
// manual reconciliation.
type PartialSuccessError struct {
	PromptID string
	Key      string
	URL      string
	Err      error
}

func (e *PartialSuccessError) Error() string {
	return fmt.Sprintf("recording for prompt %q stored at %s but queue not advanced: %v", e.PromptID, e.URL, e.Err)
}

func (e *PartialSuccessError) Unwrap() error {
	return e.Err
}

func (e *PartialSuccessError) ErrorKind() apperr.Kind {
	return apperr.KindPartialSuccess
}
