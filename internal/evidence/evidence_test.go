package evidence

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func png(n int) Upload {
	return Upload{Filename: "shot.PNG", ContentType: "image/png", Size: int64(n), Body: bytes.NewReader(bytes.Repeat([]byte{1}, n))}
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(png(10), 100))
	assert.ErrorIs(t, Check(png(101), 100), ErrTooLarge)
	assert.ErrorIs(t, Check(Upload{Filename: "a.png", ContentType: "image/png"}, 100), ErrEmpty)
	assert.ErrorIs(t, Check(Upload{Filename: "a.pdf", ContentType: "application/pdf", Size: 5}, 100), ErrNotImage)
	assert.NoError(t, Check(Upload{Filename: "a.jpg", Size: 5}, 100), "type falls back to extension")
	assert.ErrorIs(t, Check(Upload{Filename: "a.txt", Size: 5}, 100), ErrNotImage)
	assert.NoError(t, Check(Upload{Filename: "a.png", ContentType: "application/octet-stream", Size: 5}, 100))
	assert.ErrorIs(t, Check(Upload{Filename: "a.exe", ContentType: "application/octet-stream", Size: 5}, 100), ErrNotImage)
	assert.ErrorIs(t, Check(png(int(DefaultMaxBytes)+1), 0), ErrTooLarge)
}

func TestLocalStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewLocalStore(dir, 100)
	require.NoError(t, err)
	s.newName = func() string { return "fixed" }

	ref, err := s.Save(context.Background(), png(10))
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(filepath.Join(dir, "fixed.png")), ref)

	data, err := os.ReadFile(filepath.FromSlash(ref))
	require.NoError(t, err)
	assert.Len(t, data, 10)
}

func TestLocalStore_RejectsOversizedBody(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, 100)
	require.NoError(t, err)

	// Size under-reports the real body.
	u := Upload{Filename: "a.png", ContentType: "image/png", Size: 10, Body: strings.NewReader(strings.Repeat("x", 500))}
	_, err = s.Save(context.Background(), u)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file removed")
}

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &manager.UploadOutput{}, nil
}

func TestS3Store_Save(t *testing.T) {
	up := &fakeUploader{}
	s := newS3Store(up, "bucket", "prod", 100)
	s.clock = func() time.Time { return time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC) }
	s.newName = func() string { return "abc" }

	ref, err := s.Save(context.Background(), png(12))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/prod/evidence/2026/02/03/abc.png", ref)
	assert.Equal(t, "bucket", aws.ToString(up.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(up.input.ContentType))
	assert.Len(t, up.body, 12)
}

func TestS3Store_Errors(t *testing.T) {
	up := &fakeUploader{err: errors.New("denied")}
	s := newS3Store(up, "bucket", "", 100)

	_, err := s.Save(context.Background(), Upload{Filename: "a.gif", ContentType: "text/plain", Size: 3, Body: strings.NewReader("abc")})
	assert.ErrorIs(t, err, ErrNotImage)
	assert.Nil(t, up.input, "rejected before upload")

	_, err = s.Save(context.Background(), png(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
