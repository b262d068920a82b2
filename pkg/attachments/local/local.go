package local

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Uploader writes attachments into a directory and hands out URLs under
// baseURL. Handler serves the same directory.
type Uploader struct {
	dir      string
	baseURL  string
	maxBytes int
}

func New(dir, baseURL string, maxBytes int) (*Uploader, error) {
	if dir == "" {
		return nil, errors.New("local uploader: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "local uploader: create %s", dir)
	}
	return &Uploader{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

func (u *Uploader) Upload(ctx context.Context, data []byte) (attachments.Upload, error) {
	if err := ctx.Err(); err != nil {
		return attachments.Upload{}, err
	}
	contentType, err := attachments.Validate(data, u.maxBytes)
	if err != nil {
		return attachments.Upload{}, err
	}

	id := uuid.NewString()
	name := id + attachments.ExtensionFor(contentType)
	path := filepath.Join(u.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return attachments.Upload{}, errors.Wrap(err, "local uploader: write")
	}
	log.Debug().Str("path", path).Str("content_type", contentType).Int("bytes", len(data)).Msg("stored attachment")

	return attachments.Upload{
		URL:      u.baseURL + "/" + name,
		PublicID: id,
	}, nil
}

// Handler serves stored files; mount it under the path part of baseURL.
func (u *Uploader) Handler() http.Handler {
	return http.FileServer(http.Dir(u.dir))
}

var _ attachments.Uploader = (*Uploader)(nil)
