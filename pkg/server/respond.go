package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/window"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var errInvalidBody = errors.New("invalid request body")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("could not write response")
	}
}

// writeError answers with the status matching err and its message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	l := log.Debug()
	if status >= http.StatusInternalServerError {
		l = log.Error()
	}
	l.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNoActive):
		return http.StatusConflict
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, session.ErrMessageNotFound),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, errInvalidBody),
		errors.Is(err, session.ErrEmptySubmission),
		errors.Is(err, session.ErrNotUserMessage),
		errors.Is(err, session.ErrEmptyTranscript),
		errors.Is(err, window.ErrInvalidSize),
		errors.Is(err, attachments.ErrEmptyPayload),
		errors.Is(err, attachments.ErrTooLarge),
		errors.Is(err, attachments.ErrUnsupportedType),
		errors.Is(err, attachments.ErrInvalidEncoding):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUploadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(errInvalidBody, err.Error())
	}
	return nil
}
