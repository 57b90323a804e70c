package engine

import "slices"

const (
	trapMin, trapMax = 3, 20
	fateMin, fateMax = 2, 17
	fateAttempts     = 10
)

// MatchOver reports whether a round with total players and ranked finishers
// is done. One or two or three players end on the first finisher; larger
// rosters play for a podium of three, or until everyone is home.
func MatchOver(total, ranked int) bool {
	switch {
	case total == 1:
		return ranked == 1
	case total <= 3:
		return ranked >= 1
	default:
		return ranked >= 3 || ranked == total
	}
}

func hasRank(rankings []Rank, playerID string) bool {
	return slices.ContainsFunc(rankings, func(r Rank) bool { return r.PlayerID == playerID })
}

func start(s State, cfg Config, dice Dice) ([]Event, State, error) {
	if s.Status != StatusLobby {
		return nil, s, ErrInvalidTransition
	}
	if len(s.Players) == 0 {
		return nil, s, invalid(CodeEmptyRoster, ErrEmptyRoster)
	}

	newState := s
	newState.Config = cfg
	newState.Players = clearBoard(s.Players)
	for i := range newState.Players {
		trap, fate := seedTiles(dice)
		newState.Players[i].TrapIndex = trap
		newState.Players[i].FateIndex = fate
	}
	newState.Rankings = nil
	newState.LastRoll = 0
	newState.Moves = 0
	newState.CurrentTurn = -1
	newState.Status = StatusPlaying
	newState.Generation++

	return []Event{
		{Type: EvtInitiativeOrder, Initiative: initiative(newState.Players, dice)},
		{Type: EvtTimerStarted, Timer: TimerGameStart, Generation: newState.Generation},
	}, newState, nil
}

// seedTiles draws a trap in [3,20] and a fate tile in [2,17] that avoids it.
// A fate of 0 means every attempt collided and the player gets no fate tile.
func seedTiles(dice Dice) (trap, fate int) {
	trap = trapMin + dice.Intn(trapMax-trapMin+1)
	for i := 0; i < fateAttempts; i++ {
		f := fateMin + dice.Intn(fateMax-fateMin+1)
		if f != trap {
			return trap, f
		}
	}
	return trap, 0
}

// initiative is cosmetic: a shuffled copy of the roster with a d6 each.
// The authoritative turn order is untouched.
func initiative(players []Player, dice Dice) []Initiative {
	order := make([]Initiative, len(players))
	for i, p := range players {
		order[i] = Initiative{Player: p, Roll: dice.Intn(6) + 1}
	}
	dice.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}
