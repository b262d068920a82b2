package session

import "github.com/pkg/errors"

var (
	ErrBusy            = errors.New("session is busy")
	ErrEmptySubmission = errors.New("submission has no text and no attachment")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotUserMessage  = errors.New("only user messages can be edited")
	ErrEmptyTranscript = errors.New("transcript is empty")
	ErrUploadFailed    = errors.New("attachment upload failed")
	ErrNoUploader      = errors.New("no attachment uploader configured")
	ErrNoStore         = errors.New("no transcript store configured")
	ErrSessionClosed   = errors.New("session is closed")
	ErrEmptyResponse   = errors.New("inference returned an empty response")
	ErrCanceled        = errors.New("inference was canceled")
	ErrNoActive        = errors.New("session has no active inference")
)
