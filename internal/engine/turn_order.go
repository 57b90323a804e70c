package engine

// advanceTurn hands the turn to the first unfinished player at or after from,
// wrapping around the roster. When nobody is left to play and at least one
// rank exists, the match ends.
func advanceTurn(s State, from int) ([]Event, State) {
	n := len(s.Players)
	if n == 0 {
		return nil, s
	}

	idx := ((from % n) + n) % n
	for checked := 0; checked <= n; checked++ {
		if !s.Players[idx].Finished() {
			s.CurrentTurn = idx
			return []Event{{Type: EvtTurnChanged, TurnIndex: idx, PlayerID: s.Players[idx].ID}}, s
		}
		idx = (idx + 1) % n
	}

	if len(s.Rankings) > 0 {
		s.Status = StatusEnded
		return []Event{{Type: EvtGameOver, Rankings: s.Rankings}}, s
	}
	return nil, s
}
