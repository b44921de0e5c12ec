package cards

import (
	"strings"

	"pokerassist/internal/models"
)

type Suit string

const (
	Hearts   Suit = "Hearts"
	Diamonds Suit = "Diamonds"
	Clubs    Suit = "Clubs"
	Spades   Suit = "Spades"
)

type Location string

const (
	LocationHand  Location = "Hand"
	LocationBoard Location = "Board"
)

const (
	// Detections whose top edge lies in the lower 35% of the square frame are
	// taken to be the cards held by the player.
	handLineY = 0.65

	minLabelLen = 2
)

type Card struct {
	Rank     string   `json:"rank"`
	Suit     Suit     `json:"suit"`
	Location Location `json:"location"`
	SourceY  float64  `json:"source_y"`
}

// Key identifies a card by rank and suit only.
func (c Card) Key() string {
	return c.Rank + string(c.Suit)
}

func (c Card) Equal(o Card) bool {
	return c.Rank == o.Rank && c.Suit == o.Suit
}

func (c Card) String() string {
	if c.Suit == "" {
		return c.Rank
	}
	return c.Rank + string(c.Suit[0])
}

func parseSuit(ch byte) (Suit, bool) {
	switch ch {
	case 'H', 'h':
		return Hearts, true
	case 'D', 'd':
		return Diamonds, true
	case 'C', 'c':
		return Clubs, true
	case 'S', 's':
		return Spades, true
	}
	return "", false
}

// Parse maps a detector label and the normalized y coordinate it was seen at
// into a Card. The rank is not validated.
func Parse(label string, y float64) (Card, bool) {
	if len(label) < minLabelLen {
		return Card{}, false
	}

	suit, ok := parseSuit(label[len(label)-1])
	if !ok {
		return Card{}, false
	}

	loc := LocationBoard
	if y > handLineY {
		loc = LocationHand
	}

	return Card{
		Rank:     strings.ToUpper(label[:len(label)-1]),
		Suit:     suit,
		Location: loc,
		SourceY:  y,
	}, true
}

func FromDetection(d models.Detection) (Card, bool) {
	return Parse(d.Label, d.BBox.Y1)
}

// FromDetections maps every parsable detection, keeping the input order.
func FromDetections(dets []models.Detection) []Card {
	out := make([]Card, 0, len(dets))
	for _, d := range dets {
		if c, ok := FromDetection(d); ok {
			out = append(out, c)
		}
	}
	return out
}

func contains(list []Card, c Card) bool {
	for _, x := range list {
		if x.Equal(c) {
			return true
		}
	}
	return false
}
