package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Uploader forwards attachments to an upload endpoint that speaks the
// same protocol as the server's POST /api/upload.
type Uploader struct {
	endpoint string
	maxBytes int
	client   *http.Client
}

type Option func(*Uploader)

func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) {
		u.client = c
	}
}

func New(endpoint string, maxBytes int, options ...Option) (*Uploader, error) {
	if endpoint == "" {
		return nil, errors.New("remote uploader: empty endpoint")
	}
	u := &Uploader{
		endpoint: endpoint,
		maxBytes: maxBytes,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range options {
		o(u)
	}
	return u, nil
}

type Request struct {
	File string `json:"file"`
}

type Response struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	Error    string `json:"error,omitempty"`
}

func (u *Uploader) Upload(ctx context.Context, data []byte) (attachments.Upload, error) {
	contentType, err := attachments.Validate(data, u.maxBytes)
	if err != nil {
		return attachments.Upload{}, err
	}

	body, err := json.Marshal(Request{File: attachments.EncodeDataURI(contentType, data)})
	if err != nil {
		return attachments.Upload{}, errors.Wrap(err, "remote uploader: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return attachments.Upload{}, errors.Wrap(err, "remote uploader: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return attachments.Upload{}, errors.Wrap(err, "remote uploader: send request")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close upload response body")
		}
	}()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return attachments.Upload{}, errors.Wrapf(err, "remote uploader: decode response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return attachments.Upload{}, errors.Errorf("remote uploader: status %d: %s", resp.StatusCode, msg)
	}
	if out.URL == "" {
		return attachments.Upload{}, errors.New("remote uploader: response has no url")
	}
	return attachments.Upload{URL: out.URL, PublicID: out.PublicID}, nil
}

var _ attachments.Uploader = (*Uploader)(nil)
