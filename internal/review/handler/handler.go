// Package handler exposes practice sessions and review progress over the
// local HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bgde/vocab-platform/internal/review/session"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// Sessions is implemented by *session.Manager.
type Sessions interface {
	Start(ctx context.Context, direction string, limit int) (session.Summary, error)
	Answer(ctx context.Context, sessionID, itemID string, grade int) (session.Result, error)
	Get(sessionID string) (session.Summary, error)
	Item(ctx context.Context, itemID, direction string) (session.ItemView, error)
	Phases(ctx context.Context, direction, lang string) (session.PhaseOverview, error)
}

type StartRequest struct {
	Direction string `json:"direction" validate:"omitempty,oneof=bg-de de-bg"`
	Limit     int    `json:"limit" validate:"min=0,max=200"`
}

type AnswerRequest struct {
	ItemID string `json:"item_id" validate:"required"`
	Grade  *int   `json:"grade" validate:"required,min=0,max=5"`
}

type Handler struct {
	sessions Sessions
	validate *validator.Validate
	logger   *slog.Logger
}

func New(s Sessions) *Handler {
	return &Handler{
		sessions: s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default().With("component", "review-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.Start)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/sessions/{id}/answers", h.Answer)
	mux.HandleFunc("GET /api/v1/review/items/{id}", h.Item)
	mux.HandleFunc("GET /api/v1/review/phases", h.Phases)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if !h.valid(w, &req) {
		return
	}
	sum, err := h.sessions.Start(r.Context(), req.Direction, req.Limit)
	if err != nil {
		h.fail(w, r, "starting session failed", err)
		return
	}
	logger.FromContext(r.Context()).Info("session started", "session_id", sum.ID, "cards", sum.Total)
	h.writeJSON(w, http.StatusCreated, sum)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "loading session failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.valid(w, &req) {
		return
	}
	res, err := h.sessions.Answer(r.Context(), r.PathValue("id"), req.ItemID, *req.Grade)
	if err != nil {
		h.fail(w, r, "recording answer failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	v, err := h.sessions.Item(r.Context(), r.PathValue("id"), r.URL.Query().Get("direction"))
	if err != nil {
		h.fail(w, r, "loading item failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

func (h *Handler) Phases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lang := q.Get("lang")
	if lang == "" {
		lang = "en"
	}
	ov, err := h.sessions.Phases(r.Context(), q.Get("direction"), lang)
	if err != nil {
		h.fail(w, r, "loading phases failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ov)
}

// valid writes a 400 listing the failing fields when v does not validate.
func (h *Handler) valid(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		fields[strings.ToLower(fe.Field())] = msg
	}
	h.writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
	return false
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
		h.writeError(w, status, msg)
		return
	}
	log.Warn(msg, "error", err, "status_code", status)
	h.writeError(w, status, err.Error())
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
