// Package api is the management HTTP surface: monitor attributes, the reset
// operation, a live notification stream and the outbox catalogue.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/passwordkeyorg/mail-file-transport/internal/index"
	"github.com/passwordkeyorg/mail-file-transport/internal/metrics"
	"github.com/passwordkeyorg/mail-file-transport/internal/registry"
	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
)

type Deps struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	DB       *index.DB
	AdminKey string
	Metrics  *metrics.APIMetrics
	// Drops counts notifications discarded for slow stream clients.
	Drops interface{ IncDropped() }
}

type handler struct{ deps Deps }

func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	mux := http.NewServeMux()
	h := &handler{deps: deps}

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /v1/monitors", h.guard(h.listMonitors))
	mux.HandleFunc("GET /v1/monitors/{name}/attributes", h.guard(h.getAttributes))
	mux.HandleFunc("GET /v1/monitors/{name}/attributes/{attr}", h.guard(h.getAttribute))
	mux.HandleFunc("PUT /v1/monitors/{name}/attributes/{attr}", h.guard(h.setAttribute))
	mux.HandleFunc("POST /v1/monitors/{name}/reset", h.guard(h.reset))
	mux.HandleFunc("GET /v1/monitors/{name}/notifications", h.guard(h.notifications))
	mux.HandleFunc("GET /v1/messages", h.guard(h.listMessages))
	if deps.Metrics != nil {
		return instrument(*deps.Metrics, mux)
	}
	return mux
}

func (h *handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.deps.AdminKey != "" && r.Header.Get("X-Admin-Key") != h.deps.AdminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) listMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"monitors": h.deps.Registry.Names()})
}

func (h *handler) monitor(w http.ResponseWriter, r *http.Request) (*stats.Monitor, bool) {
	m, ok := h.deps.Registry.Lookup(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "monitor_not_found")
	}
	return m, ok
}

func (h *handler) getAttributes(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	names, present := r.URL.Query()["name"]
	if !present {
		names = m.AttributeNames()
	}
	vals, err := m.Attributes(names)
	if err != nil {
		h.attributeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vals)
}

func (h *handler) getAttribute(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	attr := r.PathValue("attr")
	v, err := m.Attribute(attr)
	if err != nil {
		h.attributeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{attr: v})
}

func (h *handler) setAttribute(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	var v any
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&v)
	h.attributeError(w, m.SetAttribute(r.PathValue("attr"), v))
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	m.Reset()
	h.deps.Logger.Info("monitor reset via api", "monitor", m.Name(), "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) attributeError(w http.ResponseWriter, err error) {
	var nf *stats.AttributeNotFoundError
	var ro *stats.ReadOnlyAttributeError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "attribute_not_found", "attribute": nf.Name})
	case errors.As(err, &ro):
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "read_only_attribute", "attribute": ro.Name})
	default:
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil {
		writeError(w, http.StatusNotFound, "index not configured")
		return
	}
	after := r.URL.Query().Get("after")
	rows, err := h.deps.DB.ListMessages(r.Context(), after, 50)
	if err != nil {
		h.deps.Logger.Error("list messages failed", "err", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	next := ""
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		next = last.CreatedAt + ":" + last.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows, "next": next})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
