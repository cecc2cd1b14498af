package httpserver

import (
	"net/http"

	"github.com/cun0/firehose/internal/domain"
)

// PostEvent accepts a single event and acknowledges it immediately. The event
// is only buffered at this point; persistence happens on the flusher's
// schedule, so 202 means "accepted for eventual persistence", nothing more.
//
// There is deliberately no field validation: user_id, timestamp and metadata
// are taken as-is. Only a body that does not decode as JSON is refused.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var p domain.EventPayload
	if err := decodeJSON(r.Body, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := p.ToEvent()

	if !h.buffer.Enqueue(ev) {
		// Only reachable with a configured BUFFER_CAPACITY; the default
		// buffer is unbounded and never refuses.
		h.metrics.EventRejected()
		writeError(w, http.StatusServiceUnavailable, "buffer full")
		return
	}

	h.metrics.EventAccepted()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"id":     ev.ID,
	})
}
