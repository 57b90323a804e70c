package engine

func NewEmptyState() State {
	return State{
		Status:      StatusLobby,
		Players:     []Player{},
		CurrentTurn: 0,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	_, ok := FindEvent(events, eventType)
	return ok
}

func FindEvent(events []Event, eventType EventType) (Event, bool) {
	for _, event := range events {
		if event.Type == eventType {
			return event, true
		}
	}
	return Event{}, false
}

func indexOf(players []Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}
