package recording

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"screen-recorder/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the recording control API using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the recording endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/recordings", func(r chi.Router) {
		r.Post("/", h.StartRecording)
		r.Get("/", h.ListRecordings)
		r.Get("/{id}", h.GetRecording)
		r.Post("/{id}/{action}", h.ApplyAction)
	})
}

// StartRecording handles POST /recordings.
// Body (optional): { "display": ":0.0", "mic": true, "format": "mp4" }.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cfg, err := req.Configuration(h.svc.Defaults())
	if err != nil {
		h.log.Debug("invalid start request", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	rec, err := h.svc.Start(r.Context(), cfg)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			h.log.Info("recording start failed",
				slog.String("id", string(rec.ID)),
				slog.String("code", re.Code.String()),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusUnprocessableEntity, rec)
			return
		}
		h.log.Error("start recording failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("recording created",
		slog.String("id", string(rec.ID)),
		slog.String("location", rec.Location))
	writeJSON(w, http.StatusCreated, rec)
	h.metrics.IncActions(ActionStart.String())
}

// ListRecordings handles GET /recordings.
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.List())
}

// GetRecording handles GET /recordings/{id}.
func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	id := RecordingID(chi.URLParam(r, "id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rec, ok := h.svc.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ApplyAction handles POST /recordings/{id}/{action} for pause, resume,
// stop, restart, delete and start.
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	id := RecordingID(chi.URLParam(r, "id"))
	action, err := ParseAction(chi.URLParam(r, "action"))
	if id == "" || err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rec, err := h.svc.Apply(r.Context(), id, action)
	switch {
	case errors.Is(err, ErrRecordingNotFound):
		w.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, ErrRecordingClosed):
		h.log.Info("action on closed recording",
			slog.String("id", string(id)),
			slog.String("action", action.String()))
		writeJSON(w, http.StatusConflict, rec)
		return
	case err != nil:
		h.log.Error("recording action failed",
			slog.String("id", string(id)),
			slog.String("action", action.String()),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Debug("recording action applied",
		slog.String("id", string(id)),
		slog.String("action", action.String()),
		slog.String("status", string(rec.Status)))
	writeJSON(w, http.StatusOK, rec)
	h.metrics.IncActions(action.String())
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
