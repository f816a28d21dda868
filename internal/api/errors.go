package api

import (
	"errors"
	"net/http"

	"voicecollect/internal/ingest"
	"voicecollect/pkg/apperr"
)

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorResponse struct {
	Error   errorBody `json:"error"`
	FileURL string    `json:"fileUrl,omitempty"`
	Key     string    `json:"key,omitempty"`
}

// writeError renders err with the status of its kind. Partial successes
// carry the stored object so the client can show or reconcile it.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	resp := errorResponse{Error: errorBody{Kind: kind, Message: apperr.Message(err)}}

	if partial, ok := ingest.AsPartial(err); ok {
		resp.Error.Message = "recording stored but prompt queue was not advanced"
		resp.FileURL = partial.URL
		resp.Key = partial.Key
	}

	if key, ok := storedKey(err); ok && resp.Key == "" {
		resp.Key = key
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
		resp.Error.Kind = apperr.KindValidation
	}

	if resp.Error.Kind == apperr.KindInternal {
		resp.Error.Message = "internal error"
	}

	writeJSON(w, status, resp)
}

// storedKey reports the key of an object written by a failed submission
func storedKey(err error) (string, bool) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return "", false
	}
	for _, kv := range appErr.Context {
		if kv.Key == ingest.StoredKeyContext {
			return kv.Value, true
		}
	}
	return "", false
}
