package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// ArchiveHandler serves history that the archiver moved to cold storage.
type ArchiveHandler struct {
	archive domain.ArchiveReader
	logger  *slog.Logger
}

func NewArchiveHandler(archive domain.ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// ListPartitions returns the archived days of one record kind.
// GET /api/archive/{kind}
func (h *ArchiveHandler) ListPartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := h.archive.Partitions(r.Context(), r.PathValue("kind"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list archive partitions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"partitions": parts})
}

// GetPartition streams one archived day as JSON lines.
// GET /api/archive/{kind}/{day}   day is YYYY-MM-DD
func (h *ArchiveHandler) GetPartition(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(time.DateOnly, r.PathValue("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	body, err := h.archive.OpenPartition(r.Context(), r.PathValue("kind"), day)
	if err != nil {
		writeServiceError(w, r, h.logger, "open archive partition", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive partition stream interrupted",
			slog.String("kind", r.PathValue("kind")),
			slog.String("day", r.PathValue("day")),
			slog.String("error", err.Error()),
		)
	}
}
