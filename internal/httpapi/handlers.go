package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/DoyleJ11/race-board-backend/internal/archive"
	"github.com/DoyleJ11/race-board-backend/internal/engine"
	"github.com/DoyleJ11/race-board-backend/internal/hub"
	"github.com/DoyleJ11/race-board-backend/internal/lobby"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	codeLength     = 6
	maxCodeRetries = 10
	defaultResults = 20
	requestTimeout = 5 * time.Second
)

// ResultsStore is the read side of the match archive.
type ResultsStore interface {
	Results(ctx context.Context, code string, limit int) ([]archive.Match, error)
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		var code string
		for i := 0; i < maxCodeRetries; i++ {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if h.Lookup(ctx, c) == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("room", c))
		}
		if code == "" {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}

		reply := make(chan *lobby.Lobby, 1)
		select {
		case h.Inbox() <- hub.EnsureLobby{Code: code, State: engine.NewEmptyState(), Reply: reply}:
		case <-ctx.Done():
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		if <-reply == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

type roomView struct {
	Code       string          `json:"code"`
	Version    int             `json:"version"`
	NumClients int             `json:"num_clients"`
	Status     engine.Status   `json:"status"`
	Config     engine.Config   `json:"config"`
	Players    []engine.Player `json:"players"`
	TurnIndex  int             `json:"turn_index"`
	Rankings   []engine.Rank   `json:"rankings"`
}

func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		code := chi.URLParam(r, "code")
		lb := h.Lookup(ctx, code)
		if lb == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		reply := make(chan lobby.View, 1)
		if !lb.Send(lobby.GetState{Reply: reply}) {
			http.Error(w, "room closed", http.StatusGone)
			return
		}
		var v lobby.View
		select {
		case v = <-reply:
		case <-ctx.Done():
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, roomView{
			Code:       code,
			Version:    v.Version,
			NumClients: v.NumClients,
			Status:     v.State.Status,
			Config:     v.State.Config,
			Players:    v.State.Players,
			TurnIndex:  v.State.CurrentTurn,
			Rankings:   v.State.Rankings,
		})
	}
}

func RoomResults(store ResultsStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "archive disabled", http.StatusServiceUnavailable)
			return
		}

		limit := defaultResults
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		code := chi.URLParam(r, "code")
		matches, err := store.Results(r.Context(), code, limit)
		if err != nil {
			log.Error("loading results failed", zap.String("room", code), zap.Error(err))
			http.Error(w, "failed to load results", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		codes, err := h.List(ctx)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			Rooms  int    `json:"rooms"`
		}{Status: "ok", Rooms: len(codes)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
