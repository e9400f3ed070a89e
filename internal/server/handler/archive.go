package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// ArchiveHandler lists and serves archived execution history from blob
// storage. Only registered when an S3 backend is configured.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given blob reader.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

// listArchivesResponse wraps the archive listing response.
type listArchivesResponse struct {
	Objects []domain.BlobInfo `json:"objects"`
}

// ListArchives returns metadata for archived objects under a prefix.
// GET /api/archives?prefix=archive/orders/
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{Objects: infos})
}

// DownloadArchive streams one archived file.
// GET /api/archives/object?path=archive/orders/2026-08.jsonl
func (h *ArchiveHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	// Keys outside archive/ are not served, whatever else the bucket holds.
	if path == "" || strings.Contains(path, "..") || !strings.HasPrefix(path, "archive/") {
		writeError(w, http.StatusBadRequest, "path must name an object under archive/")
		return
	}

	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive download failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive object")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
