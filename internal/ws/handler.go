package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/race-board-backend/internal/engine"
	"github.com/DoyleJ11/race-board-backend/internal/hub"
	"github.com/DoyleJ11/race-board-backend/internal/lobby"
	"github.com/DoyleJ11/race-board-backend/internal/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RolePlayer = "player"
	RoleAdmin  = "admin"

	outboxSize   = 32
	writeTimeout = 3 * time.Second
	pingInterval = 20 * time.Second
)

type Options struct {
	Logger *zap.Logger
	// OriginPatterns are passed to websocket.Accept; same-origin is always allowed.
	OriginPatterns []string
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		role := r.URL.Query().Get("role")
		if role == "" {
			role = RolePlayer
		}
		if role != RolePlayer && role != RoleAdmin {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}

		lb := h.Lookup(r.Context(), code)
		if lb == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.String("room", code), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := log.With(zap.String("room", code), zap.String("client", clientID), zap.String("role", role))
		log.Info("client connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Welcome goes out before Join so the full state never beats it.
		if err := writeJSON(ctx, conn, types.Welcome(clientID)); err != nil {
			return
		}

		out := make(chan lobby.Notification, outboxSize)
		if !lb.Send(lobby.Join{ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		defer func() {
			lb.Send(lobby.Leave{ClientID: clientID})
			log.Info("client disconnected")
		}()

		// Writer goroutine
		go func() {
			for n := range out {
				if err := writeJSON(ctx, conn, n.Message()); err != nil {
					log.Debug("write failed", zap.Error(err))
				}
			}
			// The room dropped us or shut down; unblock the reader.
			conn.Close(websocket.StatusGoingAway, "room closed")
		}()

		go keepAlive(ctx, conn)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				log.Debug("read failed", zap.Error(err))
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeJSON(ctx, conn, types.Failure(types.CodeBadRequest, "bad json"))
				continue
			}

			cmd, ok := toEngineCommand(cm)
			if !ok {
				_ = writeJSON(ctx, conn, types.Failure(types.CodeBadRequest, "unknown type"))
				continue
			}
			if adminOnly(cmd.Type) && role != RoleAdmin {
				_ = writeJSON(ctx, conn, types.Failure(types.CodeForbidden, "admin only"))
				continue
			}

			if !lb.Send(lobby.FromClient{ClientID: clientID, Cmd: cmd}) {
				return
			}
		}
	}
}

func toEngineCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case "join":
		return engine.Command{Type: engine.CmdJoin, Name: m.Name}, true
	case "roll":
		return engine.Command{Type: engine.CmdRoll}, true
	case "start":
		return engine.Command{Type: engine.CmdStart, Config: engine.Config{EnableTraps: m.EnableTraps, EnableFate: m.EnableFate}}, true
	case "restart":
		return engine.Command{Type: engine.CmdRestart}, true
	case "reset":
		return engine.Command{Type: engine.CmdReset}, true
	default:
		return engine.Command{}, false
	}
}

func adminOnly(t engine.CommandType) bool {
	switch t {
	case engine.CmdStart, engine.CmdRestart, engine.CmdReset:
		return true
	}
	return false
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
