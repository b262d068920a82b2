package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/rs/zerolog/log"
)

type uploadRequest struct {
	File string `json:"file"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// handleUpload stores an image sent as base64 or a data URI. Only the
// uploader's own failures are reported as "Upload failed"; payloads that
// are not images are rejected with the validation error.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
		return
	}
	if s.uploader == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Uploads are disabled"})
		return
	}

	maxBody := int64(s.settings.UploadMax)
	if maxBody <= 0 {
		maxBody = attachments.DefaultMaxBytes
	}
	// base64 is 4/3 of the payload, plus the JSON envelope
	r.Body = http.MaxBytesReader(w, r.Body, maxBody*4/3+1024)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file provided"})
		return
	}

	data, err := attachments.DecodeDataURI(req.File)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := attachments.Validate(data, s.settings.UploadMax); err != nil {
		writeError(w, r, err)
		return
	}

	up, err := s.uploader.Upload(r.Context(), data)
	if err != nil {
		log.Error().Err(err).Int("bytes", len(data)).Msg("upload failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Upload failed"})
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, URL: up.URL, PublicID: up.PublicID})
}

// handleHistory lists the most recent persisted messages across all
// sessions, newest first. ?session= narrows it to one session.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		log.Error().Msg("history requested without a store")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch history"})
		return
	}
	var options []store.ListOption
	if id := r.URL.Query().Get("session"); id != "" {
		options = append(options, store.ForSession(id))
	}
	records, err := s.store.ListRecent(r.Context(), s.settings.HistoryLimit, options...)
	if err != nil {
		log.Error().Err(err).Msg("could not fetch history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch history"})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: nonNil(records)})
}
