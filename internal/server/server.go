package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"pokerassist/internal/cards"
	"pokerassist/internal/history"
	"pokerassist/internal/models"
	processing "pokerassist/processing/detector"
)

// Session is the streaming session the server controls.
type Session interface {
	Capture() (*models.InferenceResponse, error)
	Status() processing.Status
	Preview() *image.RGBA
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Capture, error)
}

type Server struct {
	session Session
	table   *cards.Table
	history HistoryReader
	hub     *Hub
	router  *mux.Router
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New wires the routes. history may be nil.
func New(session Session, table *cards.Table, hist HistoryReader) *Server {
	s := &Server{
		session: session,
		table:   table,
		history: hist,
		hub:     NewHub(table.Snapshot),
		router:  mux.NewRouter(),
	}

	table.OnChange(s.hub.Broadcast)

	r := s.router
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/capture", s.handleCapture).Methods(http.MethodPost)
	r.HandleFunc("/table", s.handleTable).Methods(http.MethodGet)
	r.HandleFunc("/table/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/table/players", s.handlePlayers).Methods(http.MethodPut)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/preview.jpg", s.handlePreview).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler":         st.Metrics,
		"fps":               st.FPS,
		"frames_seen":       st.FramesSeen,
		"last_inference_ms": st.LastInferenceMs,
		"ws_clients":        s.hub.Len(),
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, _ *http.Request) {
	_, err := s.session.Capture()
	if err != nil {
		status, code := captureErrorStatus(err)
		sendErrorResponse(w, code, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

func captureErrorStatus(err error) (int, string) {
	var serr *processing.ServerError
	switch {
	case errors.Is(err, processing.ErrNoFrame):
		return http.StatusServiceUnavailable, "no_frame"
	case errors.Is(err, processing.ErrCaptureInProgress):
		return http.StatusConflict, "capture_in_progress"
	case errors.Is(err, processing.ErrTimeout):
		return http.StatusGatewayTimeout, "inference_timeout"
	case errors.As(err, &serr):
		return http.StatusBadGateway, "inference_server_error"
	case errors.Is(err, processing.ErrDecoding):
		return http.StatusBadGateway, "inference_decoding_error"
	case errors.Is(err, processing.ErrInvalidImage):
		return http.StatusUnprocessableEntity, "invalid_image"
	default:
		return http.StatusBadGateway, "inference_failed"
	}
}

func (s *Server) handleTable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.table.Reset()
	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Players int `json:"players"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Players < 1 || req.Players > 10 {
		sendErrorResponse(w, "invalid_request", "players must be between 1 and 10", http.StatusBadRequest)
		return
	}

	s.table.SetPlayers(req.Players)
	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		sendErrorResponse(w, "history_disabled", "capture history is not configured", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			sendErrorResponse(w, "invalid_request", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	captures, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("read capture history")
		sendErrorResponse(w, "history_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if captures == nil {
		captures = []history.Capture{}
	}

	writeJSON(w, http.StatusOK, captures)
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img := s.session.Preview()
	if img == nil {
		sendErrorResponse(w, "no_frame", processing.ErrNoFrame.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		log.Warn().Err(err).Msg("encode preview")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
