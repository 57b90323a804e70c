package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var ErrRoomInProgress = errors.New("game already in progress")
var ErrRoomFull = errors.New("room is full")
var ErrInvalidName = errors.New("name must not be empty")
var ErrNameTaken = errors.New("name already taken")
var ErrAlreadyJoined = errors.New("connection already joined")
var ErrEmptyRoster = errors.New("no players to start with")

type ErrorCode string

const (
	CodeRoomInProgress ErrorCode = "ROOM_IN_PROGRESS"
	CodeRoomFull       ErrorCode = "ROOM_FULL"
	CodeInvalidName    ErrorCode = "INVALID_NAME"
	CodeNameTaken      ErrorCode = "NAME_TAKEN"
	CodeAlreadyJoined  ErrorCode = "ALREADY_JOINED"
	CodeEmptyRoster    ErrorCode = "EMPTY_ROSTER"
)

// ValidationError is reported back to the client that sent the command.
type ValidationError struct {
	Code ErrorCode
	Err  error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(code ErrorCode, err error) error {
	return &ValidationError{Code: code, Err: err}
}

type Avatar string

var AvatarPool = []Avatar{
	"fox", "owl", "bear", "cat", "frog",
	"panda", "tiger", "rabbit", "koala", "penguin",
	"lion", "monkey", "turtle", "whale", "dragon",
}

var Palette = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f1c40f",
	"#9b59b6", "#e67e22", "#1abc9c", "#ec407a",
}

func join(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusLobby {
		return nil, s, invalid(CodeRoomInProgress, ErrRoomInProgress)
	}
	if len(s.Players) >= MaxPlayers {
		return nil, s, invalid(CodeRoomFull, ErrRoomFull)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, s, invalid(CodeInvalidName, ErrInvalidName)
	}
	for _, p := range s.Players {
		if p.Name == name {
			return nil, s, invalid(CodeNameTaken, ErrNameTaken)
		}
		if p.ID == cmd.ClientID {
			return nil, s, invalid(CodeAlreadyJoined, ErrAlreadyJoined)
		}
	}

	p := Player{
		ID:       cmd.ClientID,
		Name:     name,
		Avatar:   pickAvatar(s.Players),
		Color:    Palette[len(s.Players)%len(Palette)],
		JoinedAt: cmd.At,
	}

	newState := s
	newState.Players = append(slices.Clone(s.Players), p)
	// Turn order is join order. Never re-sorted once a round is running.
	slices.SortStableFunc(newState.Players, func(a, b Player) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})

	return []Event{
		{Type: EvtJoined, To: cmd.ClientID, Player: &p},
		{Type: EvtRosterUpdated, Players: newState.Players},
	}, newState, nil
}

func pickAvatar(players []Player) Avatar {
	for _, a := range AvatarPool {
		used := slices.ContainsFunc(players, func(p Player) bool { return p.Avatar == a })
		if !used {
			return a
		}
	}
	return AvatarPool[0]
}

func leave(s State, clientID string) ([]Event, State, error) {
	idx := indexOf(s.Players, clientID)
	if idx < 0 {
		return nil, s, nil
	}

	wasOnTurn := s.Status == StatusPlaying && idx == s.CurrentTurn

	newState := s
	newState.Players = slices.Delete(slices.Clone(s.Players), idx, idx+1)
	if idx < newState.CurrentTurn {
		newState.CurrentTurn--
	}
	if newState.CurrentTurn >= len(newState.Players) {
		newState.CurrentTurn = 0
	}

	events := []Event{{Type: EvtRosterUpdated, Players: newState.Players}}

	if len(newState.Players) == 0 {
		reset := NewEmptyState()
		reset.Generation = s.Generation + 1
		return append(events, Event{Type: EvtForceReload}), reset, nil
	}

	if wasOnTurn {
		events = append(events, Event{
			Type:       EvtTimerStarted,
			Timer:      TimerAdvanceTurn,
			Generation: newState.Generation,
			Moves:      newState.Moves,
		})
	}
	return events, newState, nil
}
