package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmehra2102/storefront-backend/internal/newsletter/application"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/subscribe", h.subscribe)
	r.Post("/unsubscribe", h.unsubscribe)
	return r
}

type emailReq struct {
	Email string `json:"email"`
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req emailReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeMsg(w, http.StatusBadRequest, "email is required")
		return
	}

	err := h.service.Subscribe(r.Context(), req.Email)
	switch {
	case errors.Is(err, application.ErrBadEmail):
		writeMsg(w, http.StatusBadRequest, "invalid email address")
	case errors.Is(err, application.ErrAlreadySubscribed):
		writeMsg(w, http.StatusConflict, "already subscribed")
	case err != nil:
		h.log.Error("subscribe failed", "err", err)
		writeMsg(w, http.StatusInternalServerError, "subscription failed")
	default:
		writeMsg(w, http.StatusOK, "subscribed")
	}
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req emailReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeMsg(w, http.StatusBadRequest, "email is required")
		return
	}

	err := h.service.Unsubscribe(r.Context(), req.Email)
	switch {
	case errors.Is(err, application.ErrNotSubscribed):
		writeMsg(w, http.StatusNotFound, "email not found")
	case err != nil:
		h.log.Error("unsubscribe failed", "err", err)
		writeMsg(w, http.StatusInternalServerError, "unsubscription failed")
	default:
		writeMsg(w, http.StatusOK, "unsubscribed")
	}
}

func writeMsg(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
