package types

import "github.com/DoyleJ11/race-board-backend/internal/engine"

type ClientMessage struct {
	Type        string `json:"type"` // "join" | "roll" | "start" | "restart" | "reset"
	Name        string `json:"name,omitempty"`
	EnableTraps bool   `json:"enable_traps,omitempty"`
	EnableFate  bool   `json:"enable_fate,omitempty"`
}

const (
	TypeWelcome        = "welcome"
	TypeError          = "error"
	TypeJoined         = "joined"
	TypeRosterUpdated  = "roster_updated"
	TypeInitiative     = "initiative_order"
	TypeGameStarted    = "game_started"
	TypeTurnChanged    = "turn_changed"
	TypeMoveResolved   = "move_resolved"
	TypePlayerFinished = "player_finished"
	TypeGameOver       = "game_over"
	TypeFullState      = "full_state"
	TypePositionsReset = "positions_reset"
	TypeForceReload    = "force_reload"
)

const (
	CodeBadRequest = "BAD_REQUEST"
	CodeForbidden  = "FORBIDDEN"
)

var eventTypes = map[engine.EventType]string{
	engine.EvtJoined:          TypeJoined,
	engine.EvtRosterUpdated:   TypeRosterUpdated,
	engine.EvtInitiativeOrder: TypeInitiative,
	engine.EvtGameStarted:     TypeGameStarted,
	engine.EvtTurnChanged:     TypeTurnChanged,
	engine.EvtMoveResolved:    TypeMoveResolved,
	engine.EvtPlayerFinished:  TypePlayerFinished,
	engine.EvtGameOver:        TypeGameOver,
	engine.EvtFullState:       TypeFullState,
	engine.EvtPositionsReset:  TypePositionsReset,
	engine.EvtForceReload:     TypeForceReload,
}

type ServerMessage struct {
	Type     string `json:"type"`
	Version  int    `json:"version,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`

	Status     engine.Status       `json:"status,omitempty"`
	Config     *engine.Config      `json:"config,omitempty"`
	Players    []engine.Player     `json:"players,omitempty"`
	Player     *engine.Player      `json:"player,omitempty"`
	PlayerID   string              `json:"player_id,omitempty"`
	TurnIndex  *int                `json:"turn_index,omitempty"`
	Rank       int                 `json:"rank,omitempty"`
	Rankings   []engine.Rank       `json:"rankings,omitempty"`
	Initiative []engine.Initiative `json:"initiative,omitempty"`

	// roll, landing_pos, new_pos, trigger, fate_delta, revealed_trap
	*engine.MoveResult
}

func FromEvent(version int, e engine.Event) ServerMessage {
	msg := ServerMessage{Type: eventTypes[e.Type], Version: version}

	switch e.Type {
	case engine.EvtJoined:
		msg.Player = e.Player
	case engine.EvtRosterUpdated:
		msg.Players = e.Players
	case engine.EvtInitiativeOrder:
		msg.Initiative = e.Initiative
	case engine.EvtTurnChanged:
		idx := e.TurnIndex
		msg.TurnIndex = &idx
		msg.PlayerID = e.PlayerID
	case engine.EvtMoveResolved:
		msg.PlayerID = e.PlayerID
		msg.MoveResult = e.Move
	case engine.EvtPlayerFinished:
		msg.Player = e.Player
		msg.Rank = e.Rank
	case engine.EvtGameOver:
		msg.Rankings = e.Rankings
	case engine.EvtFullState:
		idx := e.TurnIndex
		cfg := e.Config
		msg.Status = e.Status
		msg.Players = e.Players
		msg.Config = &cfg
		msg.Rankings = e.Rankings
		msg.TurnIndex = &idx
	}
	return msg
}

func FromError(version int, err *engine.ValidationError) ServerMessage {
	return ServerMessage{Type: TypeError, Version: version, Code: string(err.Code), Error: err.Err.Error()}
}

func Welcome(clientID string) ServerMessage {
	return ServerMessage{Type: TypeWelcome, ClientID: clientID}
}

func Failure(code, reason string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Error: reason}
}
