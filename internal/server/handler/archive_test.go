package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBlobReader serves canned archive objects from memory.
type fakeBlobReader struct {
	objects map[string][]byte
}

func (f *fakeBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, data := range f.objects {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			infos = append(infos, domain.BlobInfo{
				Path:         path,
				Size:         int64(len(data)),
				LastModified: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			})
		}
	}
	return infos, nil
}

func TestListArchives(t *testing.T) {
	reader := &fakeBlobReader{objects: map[string][]byte{
		"archive/orders/2026-07.jsonl": []byte(`{"id":"a"}` + "\n"),
	}}
	h := NewArchiveHandler(reader, testLogger())

	req := httptest.NewRequest("GET", "/api/archives?prefix=archive/orders/", nil)
	rec := httptest.NewRecorder()
	h.ListArchives(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp listArchivesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 1)
	assert.Equal(t, "archive/orders/2026-07.jsonl", resp.Objects[0].Path)
}

func TestDownloadArchive(t *testing.T) {
	body := []byte(`{"id":"ord-1"}` + "\n")
	reader := &fakeBlobReader{objects: map[string][]byte{
		"archive/orders/2026-07.jsonl": body,
	}}
	h := NewArchiveHandler(reader, testLogger())

	req := httptest.NewRequest("GET", "/api/archives/object?path=archive/orders/2026-07.jsonl", nil)
	rec := httptest.NewRecorder()
	h.DownloadArchive(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.Bytes())
}

func TestDownloadArchive_NotFound(t *testing.T) {
	h := NewArchiveHandler(&fakeBlobReader{objects: map[string][]byte{}}, testLogger())

	req := httptest.NewRequest("GET", "/api/archives/object?path=archive/orders/2020-01.jsonl", nil)
	rec := httptest.NewRecorder()
	h.DownloadArchive(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestDownloadArchive_RejectsBadPaths(t *testing.T) {
	h := NewArchiveHandler(&fakeBlobReader{objects: map[string][]byte{}}, testLogger())

	for _, path := range []string{"", "secrets/creds", "archive/../secrets"} {
		req := httptest.NewRequest("GET", "/api/archives/object?path="+path, nil)
		rec := httptest.NewRecorder()
		h.DownloadArchive(rec, req)
		assert.Equal(t, 400, rec.Code, "path %q", path)
	}
}
