package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"pokerassist/internal/cards"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Capture is one completed hand capture and the table it was taken against.
type Capture struct {
	ID          string       `json:"id"`
	Hand        []cards.Card `json:"hand"`
	Board       []cards.Card `json:"board"`
	Players     int          `json:"players"`
	Odds        cards.Stats  `json:"odds"`
	InferenceMs float64      `json:"inference_ms"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the history database and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// CreateSchema is safe to call multiple times.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS capture (
    id TEXT PRIMARY KEY,
    hand TEXT NOT NULL,
    board TEXT NOT NULL,
    players INTEGER NOT NULL,
    win_probability REAL NOT NULL,
    next_best_hand_chance REAL NOT NULL,
    current_rank TEXT NOT NULL,
    inference_ms REAL NOT NULL DEFAULT 0,
    created_at_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_capture_created_at ON capture(created_at_ms);
`

// RecordCapture stores c, assigning an ID and timestamp when missing.
func (s *Store) RecordCapture(ctx context.Context, c Capture) (Capture, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	hand, err := json.Marshal(orEmpty(c.Hand))
	if err != nil {
		return c, fmt.Errorf("marshal hand: %w", err)
	}
	board, err := json.Marshal(orEmpty(c.Board))
	if err != nil {
		return c, fmt.Errorf("marshal board: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO capture (id, hand, board, players, win_probability, next_best_hand_chance,
			current_rank, inference_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, string(hand), string(board), c.Players, c.Odds.WinProbability,
		c.Odds.NextBestHandChance, c.Odds.CurrentRank, c.InferenceMs, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return c, fmt.Errorf("insert capture: %w", err)
	}

	return c, nil
}

// Recent returns up to limit captures, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, hand, board, players, win_probability, next_best_hand_chance,
			current_rank, inference_ms, created_at_ms
		FROM capture
		ORDER BY created_at_ms DESC, id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		var (
			c           Capture
			hand, board string
			createdMs   int64
		)
		if err := rows.Scan(&c.ID, &hand, &board, &c.Players, &c.Odds.WinProbability,
			&c.Odds.NextBestHandChance, &c.Odds.CurrentRank, &c.InferenceMs, &createdMs); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		if err := json.Unmarshal([]byte(hand), &c.Hand); err != nil {
			return nil, fmt.Errorf("decode hand %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(board), &c.Board); err != nil {
			return nil, fmt.Errorf("decode board %s: %w", c.ID, err)
		}
		c.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, c)
	}

	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func orEmpty(cs []cards.Card) []cards.Card {
	if cs == nil {
		return []cards.Card{}
	}
	return cs
}
