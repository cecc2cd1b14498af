package httpserver

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cun0/firehose/internal/httpserver/middleware"
	"github.com/cun0/firehose/internal/ingest"
	"github.com/cun0/firehose/internal/metrics"
)

func BuildHandler(logger zerolog.Logger, buffer *ingest.Buffer, m *metrics.Metrics) http.Handler {
	h := New(logger, buffer, m)

	mux := http.NewServeMux()

	const maxEventBody = 256 << 10 // 256KB

	mux.HandleFunc("/healthz", h.Healthz)

	mux.Handle("/events",
		middleware.BodyLimit(maxEventBody)(
			http.HandlerFunc(h.PostEvent),
		),
	)

	mux.Handle("/metrics", m.Handler())
	mux.Handle("/stats", m.StatsHandler())

	var handler http.Handler = mux
	handler = middleware.AccessLog(logger)(handler)
	handler = middleware.RequestID()(handler)
	handler = middleware.Recover(logger)(handler)

	return handler
}
