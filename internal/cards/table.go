package cards

import (
	"sync"
	"time"

	"pokerassist/internal/models"
)

const (
	MaxHand  = 2
	MaxBoard = 5
)

type Snapshot struct {
	Hand      []Card    `json:"hand"`
	Board     []Card    `json:"board"`
	Players   int       `json:"players"`
	Odds      Stats     `json:"odds"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Table holds the player's hand and the community board built from
// inference results.
type Table struct {
	mu        sync.RWMutex
	hand      []Card
	board     []Card
	players   int
	updatedAt time.Time

	listenersMu sync.Mutex
	listeners   []func(Snapshot)
}

func NewTable(players int) *Table {
	if players < 1 {
		players = 1
	}
	return &Table{players: players}
}

// OnChange registers fn to receive a snapshot after every mutation.
func (t *Table) OnChange(fn func(Snapshot)) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// MergeBoard adds scanned cards that are neither on the board nor in the
// hand, until the board holds MaxBoard cards. It returns the number added.
func (t *Table) MergeBoard(dets []models.Detection) int {
	added := 0

	t.mu.Lock()
	for _, c := range FromDetections(dets) {
		if len(t.board) >= MaxBoard {
			break
		}
		if contains(t.board, c) || contains(t.hand, c) {
			continue
		}
		t.board = append(t.board, c)
		added++
	}
	if added > 0 {
		t.updatedAt = time.Now()
	}
	t.mu.Unlock()

	if added > 0 {
		t.notify()
	}
	return added
}

// ReplaceHand discards the current hand and keeps the first MaxHand parsed cards.
func (t *Table) ReplaceHand(dets []models.Detection) []Card {
	parsed := FromDetections(dets)
	if len(parsed) > MaxHand {
		parsed = parsed[:MaxHand]
	}

	t.mu.Lock()
	t.hand = parsed
	t.updatedAt = time.Now()
	hand := append([]Card(nil), t.hand...)
	t.mu.Unlock()

	t.notify()
	return hand
}

func (t *Table) Reset() {
	t.mu.Lock()
	t.hand = nil
	t.board = nil
	t.updatedAt = time.Now()
	t.mu.Unlock()

	t.notify()
}

func (t *Table) SetPlayers(n int) {
	if n < 1 {
		n = 1
	}

	t.mu.Lock()
	changed := t.players != n
	t.players = n
	t.mu.Unlock()

	if changed {
		t.notify()
	}
}

func (t *Table) Players() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.players
}

func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		Hand:      append([]Card{}, t.hand...),
		Board:     append([]Card{}, t.board...),
		Players:   t.players,
		UpdatedAt: t.updatedAt,
	}
	s.Odds = CalculateOdds(s.Hand, s.Board, s.Players)
	return s
}

func (t *Table) notify() {
	t.listenersMu.Lock()
	fns := append([]func(Snapshot){}, t.listeners...)
	t.listenersMu.Unlock()

	if len(fns) == 0 {
		return
	}

	s := t.Snapshot()
	for _, fn := range fns {
		fn(s)
	}
}
