package httpserver

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cun0/firehose/internal/ingest"
	"github.com/cun0/firehose/internal/metrics"
)

type Handler struct {
	logger  zerolog.Logger
	buffer  *ingest.Buffer
	metrics *metrics.Metrics
}

func New(logger zerolog.Logger, buffer *ingest.Buffer, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		buffer:  buffer,
		metrics: m,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
