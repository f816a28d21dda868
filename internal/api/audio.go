package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"voicecollect/internal/ingest"
	"voicecollect/pkg/apperr"
	"voicecollect/pkg/model"
)

const multipartMemory = 32 << 20

type uploadAudioResponse struct {
	Message string `json:"message"`
	FileURL string `json:"fileUrl"`
	Key     string `json:"key"`
}

type fileEntry struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	h.handleAudio(w, r, h.ingestor.Ingest, "Audio uploaded successfully")
}

func (h *Handler) RerecordAudio(w http.ResponseWriter, r *http.Request) {
	h.handleAudio(w, r, h.ingestor.Rerecord, "Audio re-recorded successfully")
}

type ingestFunc func(ctx context.Context, sub model.RecordingSubmission) (ingest.Result, error)

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request, run ingestFunc, message string) {
	sub, err := h.readSubmission(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := run(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadAudioResponse{
		Message: message,
		FileURL: res.URL,
		Key:     res.Key,
	})
}

func (h *Handler) readSubmission(w http.ResponseWriter, r *http.Request) (model.RecordingSubmission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.RecordingSubmission{}, err
		}
		return model.RecordingSubmission{}, apperr.Wrap(apperr.KindValidation, err, "invalid multipart form")
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	id := r.FormValue("id")
	if id == "" {
		return model.RecordingSubmission{}, apperr.New(apperr.KindValidation, "id field is required")
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return model.RecordingSubmission{}, apperr.Wrap(apperr.KindValidation, err, "audio file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return model.RecordingSubmission{}, apperr.Wrap(apperr.KindValidation, err, "failed to read audio file")
	}

	return model.RecordingSubmission{
		PromptID:   id,
		AudioBytes: data,
		MimeHint:   header.Header.Get("Content-Type"),
	}, nil
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.ingestor.Files(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{
			Name:      f.Name,
			URL:       f.PublicURL,
			CreatedAt: f.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}
