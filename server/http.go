package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/room"
	"github.com/wfunc/planningpoker/services"
	"github.com/wfunc/planningpoker/session"
)

type CreateRoomRequest struct {
	Deck     []string `json:"deck,omitempty"`
	DeckText string   `json:"deck_text,omitempty"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Handler routes the websocket endpoint and the REST API.
func (s *PokerServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}/export.csv", s.handleExport).Methods(http.MethodGet)

	std := zap.NewStdLog(logger.Log.Desugar())
	var h http.Handler = handlers.CombinedLoggingHandler(std.Writer(), r)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(std), handlers.PrintRecoveryStack(true))(h)
}

func (s *PokerServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessionManager.Count(),
	})
}

func (s *PokerServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "validation", Error: "malformed request body"})
			return
		}
	}
	deck := req.Deck
	if len(deck) == 0 && req.DeckText != "" {
		deck = models.ParseDeck(req.DeckText)
	}

	created, err := room.CreateWithRetry(r.Context(), s.engine, deck, s.opts.CreateAttempts)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/rooms/"+created.ID)
	writeJSON(w, http.StatusCreated, services.BuildReport(created))
}

func (s *PokerServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *PokerServer) handleExport(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.reports.Export(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Debugf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, room.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, room.ErrNotAParticipant), errors.Is(err, room.ErrAlreadyExists), errors.Is(err, room.ErrStaleWrite):
		status = http.StatusConflict
	default:
		logger.Log.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, ErrorResponse{Code: session.ErrorCode(err), Error: err.Error()})
}
