package syncqueue

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bgde/vocab-platform/pkg/logger"
)

type Handler struct {
	queue  *Queue
	logger *slog.Logger
}

func NewHandler(q *Queue) *Handler {
	return &Handler{queue: q, logger: slog.Default().With("component", "sync-handler")}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sync/status", h.Status)
	mux.HandleFunc("POST /api/v1/sync/flush", h.Flush)
	mux.HandleFunc("DELETE /api/v1/sync/queue", h.Clear)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.queue.Status()
	if err != nil {
		logger.FromContext(r.Context()).Error("sync status failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync status unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	rep, err := h.queue.Process(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("sync flush failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync flush failed")
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(); err != nil {
		logger.FromContext(r.Context()).Error("sync clear failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
