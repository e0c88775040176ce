package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
)

const (
	streamBuffer    = 64
	streamKeepalive = 15 * time.Second
)

// chanListener hands notifications to a stream without ever blocking the
// recording goroutine. When the buffer is full the notification is dropped
// and counted; no error is returned, so a stalled client does not flood the
// log.
type chanListener struct {
	ch    chan stats.Notification
	drops interface{ IncDropped() }
}

func (l *chanListener) HandleNotification(n stats.Notification) error {
	select {
	case l.ch <- n:
		return nil
	default:
		if l.drops != nil {
			l.drops.IncDropped()
		}
		return nil
	}
}

// notifications streams every outcome of a monitor as Server-Sent Events
// until the client disconnects.
func (h *handler) notifications(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	l := &chanListener{ch: make(chan stats.Notification, streamBuffer), drops: h.deps.Drops}
	sub := m.Subscribe(l)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n := <-l.ch:
			b, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.Sequence, n.Type, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
