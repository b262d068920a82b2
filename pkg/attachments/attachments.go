package attachments

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyPayload    = errors.New("attachment is empty")
	ErrTooLarge        = errors.New("attachment is too large")
	ErrUnsupportedType = errors.New("attachment type is not supported")
	ErrInvalidEncoding = errors.New("attachment is not valid base64")
)

const DefaultMaxBytes = 10 << 20

// Upload is where an attachment ended up.
type Upload struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// Uploader stores raw attachment bytes and returns a URL that inference
// backends and browsers can fetch.
type Uploader interface {
	Upload(ctx context.Context, data []byte) (Upload, error)
}

type Settings struct {
	Dir      string `mapstructure:"uploads-dir" yaml:"dir"`
	BaseURL  string `mapstructure:"uploads-base-url" yaml:"base_url"`
	Endpoint string `mapstructure:"upload-endpoint" yaml:"endpoint"`
	MaxBytes int    `mapstructure:"upload-max-bytes" yaml:"max_bytes"`
}

func DefaultSettings() Settings {
	return Settings{Dir: "uploads", MaxBytes: DefaultMaxBytes}
}

// DecodeDataURI accepts either a data URI ("data:image/png;base64,...")
// or bare base64 and returns the decoded bytes.
func DecodeDataURI(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyPayload
	}
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.Wrap(ErrInvalidEncoding, "data URI has no payload")
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, errors.Wrap(ErrInvalidEncoding, "data URI is not base64")
		}
		s = payload
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// browsers sometimes drop the padding
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, errors.Wrap(ErrInvalidEncoding, err.Error())
		}
	}
	if len(b) == 0 {
		return nil, ErrEmptyPayload
	}
	return b, nil
}

// EncodeDataURI is the inverse of DecodeDataURI.
func EncodeDataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Validate checks size and sniffs the content type. Only images pass.
func Validate(data []byte, maxBytes int) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return "", errors.Wrapf(ErrTooLarge, "%d bytes, limit %d", len(data), maxBytes)
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", errors.Wrapf(ErrUnsupportedType, "%s", contentType)
	}
	return contentType, nil
}

var extensions = map[string]string{
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/bmp":                ".bmp",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
}

func ExtensionFor(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return ".bin"
}
