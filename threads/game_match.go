package threads

import "fmt"

// Player abilities accepted by GameMatch.Play
const (
	AbilityBeginner     = 1
	AbilityIntermediate = 2
	AbilityExpert       = 3
)

const numAbilities = 3

// GameMatch groups player threads of equal ability into matches of a fixed
// size. Match numbers start at 1 and are shared across abilities, so they
// are handed out without gaps in the order matches fill up.
type GameMatch struct {
	size    int
	lock    *Lock
	matches int
	lobbies [numAbilities]lobby
}

// lobby holds the players of one ability waiting for the current match
type lobby struct {
	ready   *Condition
	players int
	round   int
	formed  map[int]*formedMatch // by round, until every sleeper has read it
}

type formedMatch struct {
	number int
	unread int
}

// NewGameMatch creates a matcher for matches of size players
func NewGameMatch(size int) *GameMatch {
	if size < 1 {
		panic(fmt.Sprintf("threads: match size must be positive, got %d", size))
	}

	g := &GameMatch{size: size, lock: NewLock()}
	for i := range g.lobbies {
		g.lobbies[i] = lobby{
			ready:  NewCondition(g.lock, nil),
			formed: make(map[int]*formedMatch),
		}
	}
	return g
}

// Play blocks t until size players of the same ability have arrived and
// returns the number of the match they form. It returns -1 at once for an
// unknown ability.
func (g *GameMatch) Play(t *Thread, ability int) int {
	if ability < AbilityBeginner || ability > AbilityExpert {
		return -1
	}

	g.lock.Acquire(t)
	defer g.lock.Release(t)

	l := &g.lobbies[ability-1]
	round := l.round
	l.players++

	if l.players < g.size {
		for l.round == round {
			l.ready.Sleep(t)
		}
		m := l.formed[round]
		if m.unread--; m.unread == 0 {
			delete(l.formed, round)
		}
		return m.number
	}

	g.matches++
	if g.size > 1 {
		l.formed[round] = &formedMatch{number: g.matches, unread: g.size - 1}
	}
	l.players = 0
	l.round++
	l.ready.WakeAll(t)
	return g.matches
}

// Waiting returns how many players of ability are waiting for a match
func (g *GameMatch) Waiting(t *Thread, ability int) int {
	if ability < AbilityBeginner || ability > AbilityExpert {
		return 0
	}

	g.lock.Acquire(t)
	defer g.lock.Release(t)
	return g.lobbies[ability-1].players
}
