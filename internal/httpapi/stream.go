package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gatehouse.org/internal/auth"
)

const streamHeartbeat = 25 * time.Second

// Stream pushes the caller's notifications as Server-Sent Events.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Streaming disabled", nil)
		return
	}
	ac, ok := auth.AuthFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ErrTokenMissing.Reason, nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.hub.Subscribe(ctx, ac.UserID())

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
