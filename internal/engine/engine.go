package engine

import (
	"errors"
	"slices"
	"time"
)

var ErrWrongTurn = errors.New("invalid turn")
var ErrInvalidTransition = errors.New("invalid transition")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	FinishLine = 21
	MaxPlayers = 8
)

type Status string

const (
	StatusLobby   Status = "lobby"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

type Config struct {
	EnableTraps bool `json:"enable_traps"`
	EnableFate  bool `json:"enable_fate"`
}

type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   Avatar    `json:"avatar"`
	Color    string    `json:"color"`
	JoinedAt time.Time `json:"joined_at"`
	Position int       `json:"position"`
	// Tiles stay server-side; a move reports what it hit. 0 means none.
	TrapIndex int `json:"-"`
	FateIndex int `json:"-"`
}

func (p Player) Finished() bool { return p.Position == FinishLine }

type Rank struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Avatar   Avatar `json:"avatar"`
	Rank     int    `json:"rank"`
}

type Initiative struct {
	Player Player `json:"player"`
	Roll   int    `json:"roll"`
}

type State struct {
	Status  Status
	Players []Player
	// CurrentTurn is -1 between admin start and the game-start timer.
	CurrentTurn int
	Rankings    []Rank
	Config      Config
	LastRoll    int
	// Moves counts rolls resolved this round.
	Moves      int
	Generation int
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdDisconnect  CommandType = "Disconnect"
	CmdRoll        CommandType = "Roll"
	CmdStart       CommandType = "Start"
	CmdRestart     CommandType = "Restart"
	CmdReset       CommandType = "Reset"
	CmdSnapshot    CommandType = "Snapshot"
	CmdBeginGame   CommandType = "BeginGame"
	CmdAdvanceTurn CommandType = "AdvanceTurn"
)

/*
	CmdJoin        -> EvtJoined (sender) -> EvtRosterUpdated
	CmdDisconnect  -> EvtRosterUpdated [-> EvtTimerStarted(advance)] or EvtForceReload when the roster empties
	CmdRoll        -> EvtMoveResolved [-> EvtPlayerFinished] -> EvtTurnChanged, or EvtGameOver
	CmdStart       -> EvtInitiativeOrder -> EvtTimerStarted(game start)
	CmdBeginGame   -> EvtGameStarted -> EvtTurnChanged
	CmdAdvanceTurn -> EvtTurnChanged or EvtGameOver
	CmdRestart     -> EvtPositionsReset -> EvtRosterUpdated
	CmdReset       -> EvtPositionsReset -> EvtForceReload
	CmdSnapshot    -> EvtFullState (sender)
*/

type Command struct {
	Type     CommandType
	ClientID string
	Name     string
	Config   Config
	At       time.Time
	// Generation and Moves are only read by timer commands.
	Generation int
	Moves      int
}

type EventType string

const (
	EvtJoined          EventType = "Joined"
	EvtRosterUpdated   EventType = "RosterUpdated"
	EvtInitiativeOrder EventType = "InitiativeOrder"
	EvtGameStarted     EventType = "GameStarted"
	EvtTurnChanged     EventType = "TurnChanged"
	EvtMoveResolved    EventType = "MoveResolved"
	EvtPlayerFinished  EventType = "PlayerFinished"
	EvtGameOver        EventType = "GameOver"
	EvtFullState       EventType = "FullState"
	EvtPositionsReset  EventType = "PositionsReset"
	EvtForceReload     EventType = "ForceReload"
	EvtTimerStarted    EventType = "TimerStarted"
)

type TimerKind string

const (
	TimerGameStart   TimerKind = "GameStart"
	TimerAdvanceTurn TimerKind = "AdvanceTurn"
)

// Event is an outbound notification. An empty To means broadcast.
// EvtTimerStarted is consumed by the room and never reaches clients.
type Event struct {
	Type       EventType
	To         string
	Players    []Player
	Player     *Player
	PlayerID   string
	TurnIndex  int
	Move       *MoveResult
	Rank       int
	Rankings   []Rank
	Initiative []Initiative
	Status     Status
	Config     Config
	Timer      TimerKind
	Generation int
	Moves      int
}

type MoveResult struct {
	Roll int `json:"roll"`
	Move
}

// Apply runs cmd against s and returns the notifications to emit along with the
// next state. s is never modified in place.
func Apply(s State, cmd Command, dice Dice) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		return join(s, cmd)

	case CmdDisconnect:
		return leave(s, cmd.ClientID)

	case CmdRoll:
		return roll(s, cmd.ClientID, dice)

	case CmdStart:
		return start(s, cmd.Config, dice)

	case CmdBeginGame:
		if cmd.Generation != s.Generation || s.Status != StatusPlaying || s.CurrentTurn != -1 {
			return nil, s, nil
		}
		newState := s
		newState.CurrentTurn = 0
		events := []Event{{Type: EvtGameStarted}}
		turn, newState := advanceTurn(newState, 0)
		return append(events, turn...), newState, nil

	case CmdAdvanceTurn:
		// A roll since arming has already passed the turn on.
		if cmd.Generation != s.Generation || cmd.Moves != s.Moves || s.Status != StatusPlaying {
			return nil, s, nil
		}
		events, newState := advanceTurn(s, s.CurrentTurn)
		return events, newState, nil

	case CmdRestart:
		if s.Status != StatusEnded {
			return nil, s, ErrInvalidTransition
		}
		newState := s
		newState.Status = StatusLobby
		newState.Players = clearBoard(s.Players)
		newState.Rankings = nil
		newState.LastRoll = 0
		newState.Moves = 0
		newState.CurrentTurn = 0
		newState.Generation++
		return []Event{
			{Type: EvtPositionsReset},
			{Type: EvtRosterUpdated, Players: newState.Players},
		}, newState, nil

	case CmdReset:
		newState := NewEmptyState()
		newState.Generation = s.Generation + 1
		return []Event{
			{Type: EvtPositionsReset},
			{Type: EvtForceReload},
		}, newState, nil

	case CmdSnapshot:
		return []Event{snapshot(s, cmd.ClientID)}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func roll(s State, clientID string, dice Dice) ([]Event, State, error) {
	if s.Status != StatusPlaying || s.CurrentTurn < 0 || s.CurrentTurn >= len(s.Players) {
		return nil, s, ErrWrongTurn
	}
	if s.Players[s.CurrentTurn].ID != clientID {
		return nil, s, ErrWrongTurn
	}

	newState := s
	newState.Players = slices.Clone(s.Players)
	p := &newState.Players[s.CurrentTurn]

	value := RollDie(s.LastRoll, dice)
	newState.LastRoll = value
	newState.Moves++

	move := ResolveMove(*p, value, s.Config, dice)
	p.Position = move.Final

	events := []Event{{
		Type:     EvtMoveResolved,
		PlayerID: p.ID,
		Move:     &MoveResult{Roll: value, Move: move},
	}}

	if p.Finished() && !hasRank(s.Rankings, p.ID) {
		rank := Rank{PlayerID: p.ID, Name: p.Name, Avatar: p.Avatar, Rank: len(s.Rankings) + 1}
		newState.Rankings = append(slices.Clone(s.Rankings), rank)

		if MatchOver(len(newState.Players), len(newState.Rankings)) {
			newState.Status = StatusEnded
			events = append(events, Event{Type: EvtGameOver, Rankings: newState.Rankings})
			return events, newState, nil
		}

		finished := *p
		events = append(events, Event{Type: EvtPlayerFinished, Player: &finished, Rank: rank.Rank})
	}

	turn, newState := advanceTurn(newState, newState.CurrentTurn+1)
	return append(events, turn...), newState, nil
}

func snapshot(s State, to string) Event {
	return Event{
		Type:      EvtFullState,
		To:        to,
		Status:    s.Status,
		Players:   s.Players,
		Config:    s.Config,
		Rankings:  s.Rankings,
		TurnIndex: s.CurrentTurn,
	}
}

func clearBoard(players []Player) []Player {
	out := slices.Clone(players)
	for i := range out {
		out[i].Position = 0
		out[i].TrapIndex = 0
		out[i].FateIndex = 0
	}
	return out
}
