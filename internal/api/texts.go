package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"voicecollect/pkg/apperr"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

type uploadTextsRequest struct {
	Texts *[]model.Prompt `json:"texts"`
}

func (h *Handler) GetTexts(w http.ResponseWriter, r *http.Request) {
	texts, err := h.queue.LoadAll(r.Context())
	if err != nil {
		logger.Error("Failed to load prompts", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, texts)
}

func (h *Handler) UploadTexts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var req uploadTextsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, err, "invalid JSON body"))
		return
	}
	if req.Texts == nil {
		writeError(w, apperr.New(apperr.KindValidation, "texts field is required"))
		return
	}

	if err := h.queue.ReplaceAll(r.Context(), *req.Texts); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Texts uploaded successfully"})
}

func (h *Handler) RemoveFirstText(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.queue.RemoveFirst(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, messageResponse{Message: "queue is empty"})
		return
	}

	logger.Info("Prompt skipped", zap.String("prompt_id", p.ID))
	writeJSON(w, http.StatusOK, messageResponse{Message: "First text removed"})
}
