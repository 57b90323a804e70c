package engine

type TriggerType string

const (
	TriggerNormal   TriggerType = "NORMAL"
	TriggerTrap     TriggerType = "TRAP"
	TriggerFate     TriggerType = "FATE"
	TriggerFateTrap TriggerType = "FATE_TRAP"
)

var fateDeltas = []int{-3, -2, -1, 1, 2, 3}

type Move struct {
	Landing   int         `json:"landing_pos"`
	Final     int         `json:"new_pos"`
	Trigger   TriggerType `json:"trigger"`
	FateDelta int         `json:"fate_delta,omitempty"`
	// RevealedTrap is 0 unless a trap fired.
	RevealedTrap int `json:"revealed_trap,omitempty"`
}

// ResolveMove computes where p ends up after rolling roll. Only one fate hop
// is evaluated: a fate tile can lead into a trap but never into another fate tile.
func ResolveMove(p Player, roll int, cfg Config, dice Dice) Move {
	landing := min(p.Position+roll, FinishLine)
	m := Move{Landing: landing, Final: landing, Trigger: TriggerNormal}

	switch {
	case cfg.EnableTraps && p.TrapIndex != 0 && landing == p.TrapIndex:
		m.Trigger = TriggerTrap
		m.Final = 0
		m.RevealedTrap = landing

	case cfg.EnableFate && p.FateIndex != 0 && landing == p.FateIndex:
		m.FateDelta = fateDeltas[dice.Intn(len(fateDeltas))]
		after := clamp(landing+m.FateDelta, 0, FinishLine)
		if cfg.EnableTraps && p.TrapIndex != 0 && after == p.TrapIndex {
			m.Trigger = TriggerFateTrap
			m.Final = 0
			m.RevealedTrap = after
		} else {
			m.Trigger = TriggerFate
			m.Final = after
		}
	}

	return m
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
