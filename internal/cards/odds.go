package cards

import "strconv"

// Stats is a rough odds estimate for display. It is not real equity.
type Stats struct {
	WinProbability     float64 `json:"win_probability"`
	NextBestHandChance float64 `json:"next_best_hand_chance"`
	CurrentRank        string  `json:"current_rank"`
}

const (
	RankWaiting = "Waiting for Hand"
	RankHigh    = "High Card"
	RankPair    = "Pair or Better"

	minWin = 0.05
	maxWin = 0.95
)

var faceValues = map[string]int{"A": 14, "K": 13, "Q": 12, "J": 11, "10": 10}

func CalculateOdds(hand, board []Card, players int) Stats {
	if len(hand) != 2 {
		return Stats{CurrentRank: RankWaiting}
	}
	if players < 1 {
		players = 1
	}

	return Stats{
		WinProbability:     winProbability(hand, board, players),
		NextBestHandChance: drawProbability(board),
		CurrentRank:        handName(hand, board),
	}
}

func winProbability(hand, board []Card, players int) float64 {
	strength := float64(cardValue(hand[0])+cardValue(hand[1])) / 30.0
	boardImpact := float64(len(board)) * 0.1
	p := (strength + boardImpact) / float64(players)
	return min(max(p, minWin), maxWin)
}

func drawProbability(board []Card) float64 {
	switch {
	case len(board) >= 5:
		return 0
	case len(board) < 3:
		return 0.25
	default:
		return 0.15
	}
}

func handName(hand, board []Card) string {
	seen := make(map[string]struct{}, len(hand)+len(board))
	for _, c := range append(append([]Card{}, hand...), board...) {
		if _, ok := seen[c.Rank]; ok {
			return RankPair
		}
		seen[c.Rank] = struct{}{}
	}
	return RankHigh
}

func cardValue(c Card) int {
	if v, ok := faceValues[c.Rank]; ok {
		return v
	}
	v, err := strconv.Atoi(c.Rank)
	if err != nil {
		return 0
	}
	return v
}
