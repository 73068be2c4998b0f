// Package store persists per-item review state in SQL (SQLite or
// PostgreSQL through sqlx).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/bgde/vocab-platform/internal/review/sm2"
	"github.com/bgde/vocab-platform/pkg/database"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS review_states (
		item_id         TEXT NOT NULL,
		direction       TEXT NOT NULL,
		interval_days   INTEGER NOT NULL,
		ease_factor     DOUBLE PRECISION NOT NULL,
		repetitions     INTEGER NOT NULL,
		phase           INTEGER NOT NULL,
		next_review     TIMESTAMP NOT NULL,
		last_review     TIMESTAMP,
		total_reviews   INTEGER NOT NULL DEFAULT 0,
		correct_answers INTEGER NOT NULL DEFAULT 0,
		correct_streak  INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (item_id, direction)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_states_due ON review_states (direction, next_review)`,
}

const columns = `item_id, direction, interval_days, ease_factor, repetitions, phase,
	next_review, last_review, total_reviews, correct_answers, correct_streak,
	created_at, updated_at`

const upsert = `INSERT INTO review_states (` + columns + `)
	VALUES (:item_id, :direction, :interval_days, :ease_factor, :repetitions, :phase,
		:next_review, :last_review, :total_reviews, :correct_answers, :correct_streak,
		:created_at, :updated_at)
	ON CONFLICT (item_id, direction) DO UPDATE SET
		interval_days   = excluded.interval_days,
		ease_factor     = excluded.ease_factor,
		repetitions     = excluded.repetitions,
		phase           = excluded.phase,
		next_review     = excluded.next_review,
		last_review     = excluded.last_review,
		total_reviews   = excluded.total_reviews,
		correct_answers = excluded.correct_answers,
		correct_streak  = excluded.correct_streak,
		updated_at      = excluded.updated_at`

// Store reads and writes sm2.State rows.
type Store struct {
	db     *database.Client
	logger *slog.Logger
}

// New creates the schema if needed and returns a Store.
func New(ctx context.Context, db *database.Client) (*Store, error) {
	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating review schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "review-store", "driver", db.Driver),
	}, nil
}

func (s *Store) Get(ctx context.Context, itemID, direction string) (sm2.State, error) {
	var st sm2.State
	query := s.db.Rebind(`SELECT ` + columns + ` FROM review_states WHERE item_id = ? AND direction = ?`)
	if err := s.db.DB.GetContext(ctx, &st, query, itemID, direction); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sm2.State{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "no review state for %s (%s)", itemID, direction)
		}
		return sm2.State{}, fmt.Errorf("loading review state %s/%s: %w", itemID, direction, err)
	}
	return toUTC(st), nil
}

// Save inserts or replaces the state for its item and direction.
func (s *Store) Save(ctx context.Context, st sm2.State) error {
	if st.ItemID == "" || st.Direction == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "review state needs item id and direction")
	}
	if _, err := s.db.DB.NamedExecContext(ctx, upsert, toUTC(st)); err != nil {
		return fmt.Errorf("saving review state %s/%s: %w", st.ItemID, st.Direction, err)
	}
	return nil
}

// Due returns states of direction whose next review is at or before now,
// oldest due first. limit <= 0 means no limit.
func (s *Store) Due(ctx context.Context, direction string, now time.Time, limit int) ([]sm2.State, error) {
	query := `SELECT ` + columns + ` FROM review_states
		WHERE direction = ? AND next_review <= ?
		ORDER BY next_review, item_id`
	args := []any{direction, now.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectStates(ctx, query, args...)
}

// List returns all states of direction, or of every direction when
// direction is empty.
func (s *Store) List(ctx context.Context, direction string) ([]sm2.State, error) {
	if direction == "" {
		return s.selectStates(ctx, `SELECT `+columns+` FROM review_states ORDER BY item_id, direction`)
	}
	return s.selectStates(ctx, `SELECT `+columns+` FROM review_states WHERE direction = ? ORDER BY item_id`, direction)
}

func (s *Store) Delete(ctx context.Context, itemID, direction string) error {
	res, err := s.db.DB.ExecContext(ctx, s.db.Rebind(`DELETE FROM review_states WHERE item_id = ? AND direction = ?`), itemID, direction)
	if err != nil {
		return fmt.Errorf("deleting review state %s/%s: %w", itemID, direction, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "no review state for %s (%s)", itemID, direction)
	}
	return nil
}

// Phases maps item IDs to their stored phase for direction.
func (s *Store) Phases(ctx context.Context, direction string) (map[string]int, error) {
	var rows []struct {
		ItemID string `db:"item_id"`
		Phase  int    `db:"phase"`
	}
	query := s.db.Rebind(`SELECT item_id, phase FROM review_states WHERE direction = ?`)
	if err := s.db.DB.SelectContext(ctx, &rows, query, direction); err != nil {
		return nil, fmt.Errorf("loading phases for %s: %w", direction, err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ItemID] = r.Phase
	}
	return out, nil
}

type Stats struct {
	Direction     string  `json:"direction"`
	Total         int     `json:"total"`
	Due           int     `json:"due"`
	AvgEaseFactor float64 `json:"avg_ease_factor"`
	AvgAccuracy   float64 `json:"avg_accuracy"`
}

// Stats summarizes the states of direction ("" for all). Average accuracy
// only counts items that have been reviewed at least once.
func (s *Store) Stats(ctx context.Context, direction string, now time.Time) (Stats, error) {
	states, err := s.List(ctx, direction)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Direction: direction, Total: len(states), AvgEaseFactor: 2.5}
	if st.Direction == "" {
		st.Direction = "all"
	}
	if len(states) == 0 {
		return st, nil
	}
	var efSum, accSum float64
	reviewed := 0
	for _, rs := range states {
		efSum += rs.EaseFactor
		if rs.Due(now) {
			st.Due++
		}
		if rs.TotalReviews > 0 {
			reviewed++
			accSum += rs.Accuracy()
		}
	}
	st.AvgEaseFactor = math.Round(efSum/float64(len(states))*100) / 100
	if reviewed > 0 {
		st.AvgAccuracy = math.Round(accSum / float64(reviewed))
	}
	return st, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) selectStates(ctx context.Context, query string, args ...any) ([]sm2.State, error) {
	var states []sm2.State
	if err := s.db.DB.SelectContext(ctx, &states, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying review states: %w", err)
	}
	for i := range states {
		states[i] = toUTC(states[i])
	}
	return states, nil
}

// toUTC moves all timestamps to UTC. Drivers return stored times in a fixed
// zero-offset zone.
func toUTC(st sm2.State) sm2.State {
	st.NextReview = st.NextReview.UTC()
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	if st.LastReview != nil {
		t := st.LastReview.UTC()
		st.LastReview = &t
	}
	return st
}
