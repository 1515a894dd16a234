package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes caps a single screenshot.
const DefaultMaxBytes int64 = 5 << 20

var (
	ErrNotImage = errors.New("only image files are allowed")
	ErrTooLarge = errors.New("file too large. Maximum size is 5MB.")
	ErrEmpty    = errors.New("file is empty")
)

// Upload is one evidence file as received from the client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Store persists evidence and returns an opaque reference that is kept on
// the negotiation record.
type Store interface {
	Save(ctx context.Context, u Upload) (ref string, err error)
}

// Check enforces the image-only and size rules before anything is written.
func Check(u Upload, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if u.Size == 0 {
		return ErrEmpty
	}
	if u.Size > maxBytes {
		return ErrTooLarge
	}
	if !strings.HasPrefix(contentType(u), "image/") {
		return ErrNotImage
	}
	return nil
}

func contentType(u Upload) string {
	ct := strings.TrimSpace(u.ContentType)
	if ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			ct = mt
		}
		ct = strings.ToLower(ct)
	}
	// Generic clients send octet-stream for everything; trust the name then.
	if ct == "" || ct == "application/octet-stream" {
		return mime.TypeByExtension(extension(u.Filename))
	}
	return ct
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(filepath.Base(filename)))
}

// limitBody reads at most maxBytes and fails if the body is longer than that,
// whatever Size claimed.
type limitBody struct {
	r     io.Reader
	left  int64
	limit int64
}

func newLimitBody(r io.Reader, maxBytes int64) *limitBody {
	return &limitBody{r: r, left: maxBytes + 1, limit: maxBytes}
}

func (l *limitBody) Read(p []byte) (int, error) {
	if l.left <= 0 {
		return 0, fmt.Errorf("%w (over %d bytes)", ErrTooLarge, l.limit)
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left <= 0 {
		return n, fmt.Errorf("%w (over %d bytes)", ErrTooLarge, l.limit)
	}
	return n, err
}
