package engine

// Dice is the randomness source for rolls, board effects and seeding.
// *rand.Rand from math/rand satisfies it.
type Dice interface {
	Intn(n int) int
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// RepeatAvoidance is the chance that a roll equal to the previous one is redrawn.
const RepeatAvoidance = 0.7

// RollDie returns 1..6. A draw equal to prev is redrawn once with probability
// RepeatAvoidance; the second draw is kept whatever it is. prev == 0 means no
// previous roll.
func RollDie(prev int, dice Dice) int {
	v := dice.Intn(6) + 1
	if prev != 0 && v == prev && dice.Float64() < RepeatAvoidance {
		v = dice.Intn(6) + 1
	}
	return v
}
