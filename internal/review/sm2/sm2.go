// Package sm2 schedules reviews with the SM-2 algorithm, adjusted per
// learning direction, with longer intervals once an item is learned.
package sm2

import (
	"math"
	"net/http"
	"time"

	"github.com/bgde/vocab-platform/internal/review/phase"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
)

const (
	DirectionBgDe = "bg-de"
	DirectionDeBg = "de-bg"

	MinGrade  = 0
	MaxGrade  = 5
	PassGrade = 3

	failPenalty = 0.2
	day         = 24 * time.Hour
)

// Direction multipliers stretch intervals for the harder directions.
var directionMultipliers = map[string]float64{
	DirectionBgDe: 1.1,
	DirectionDeBg: 1.2,
}

// State is the review state of one item in one learning direction.
type State struct {
	ItemID         string     `json:"item_id" db:"item_id"`
	Direction      string     `json:"direction" db:"direction"`
	Interval       int        `json:"interval" db:"interval_days"`
	EaseFactor     float64    `json:"ease_factor" db:"ease_factor"`
	Repetitions    int        `json:"repetitions" db:"repetitions"`
	Phase          int        `json:"phase" db:"phase"`
	NextReview     time.Time  `json:"next_review" db:"next_review"`
	LastReview     *time.Time `json:"last_review,omitempty" db:"last_review"`
	TotalReviews   int        `json:"total_reviews" db:"total_reviews"`
	CorrectAnswers int        `json:"correct_answers" db:"correct_answers"`
	CorrectStreak  int        `json:"correct_streak" db:"correct_streak"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// NewState returns the state of an item that has never been reviewed. It is
// due immediately.
func NewState(itemID, direction string, now time.Time) State {
	return State{
		ItemID:      itemID,
		Direction:   direction,
		Interval:    1,
		EaseFactor:  phase.DefaultEaseFactor,
		Repetitions: 0,
		Phase:       phase.New,
		NextReview:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Due reports whether the item should be reviewed at now.
func (s State) Due(now time.Time) bool {
	return !s.NextReview.After(now)
}

// Accuracy is the share of correct answers as a percentage.
func (s State) Accuracy() float64 {
	if s.TotalReviews == 0 {
		return 0
	}
	return float64(s.CorrectAnswers) / float64(s.TotalReviews) * 100
}

// Schedule applies a graded answer to s and returns the updated state. Grades
// below PassGrade reset the repetition count; passing grades grow the
// interval by the ease factor and the direction multiplier. An item that
// reaches Learned has its interval scaled by the Learned multiplier.
func Schedule(s State, grade int, now time.Time) (State, error) {
	if grade < MinGrade || grade > MaxGrade {
		return s, apperrors.Newf(apperrors.ErrInvalidGrade, http.StatusBadRequest, "grade %d", grade)
	}
	if s.EaseFactor == 0 {
		s.EaseFactor = phase.DefaultEaseFactor
	}
	if s.Interval <= 0 {
		s.Interval = 1
	}
	prevPhase := s.Phase

	last := now
	s.LastReview = &last
	s.UpdatedAt = now
	s.TotalReviews++

	if grade >= PassGrade {
		s.CorrectAnswers++
		s.CorrectStreak++
		q := float64(MaxGrade - grade)
		s.EaseFactor = round2(math.Max(phase.MinEaseFactor, s.EaseFactor+(0.1-q*(0.08+q*0.02))))
		switch s.Repetitions {
		case 0:
			s.Interval = 1
		case 1:
			s.Interval = 6
		default:
			next := float64(s.Interval) * s.EaseFactor * DirectionMultiplier(s.Direction)
			s.Interval = max(1, int(math.Round(next)))
		}
		s.Repetitions++
	} else {
		s.CorrectStreak = 0
		s.Repetitions = 0
		s.Interval = 1
		s.EaseFactor = round2(math.Max(phase.MinEaseFactor, s.EaseFactor-failPenalty))
	}

	s.Phase = phase.Next(prevPhase, grade, s.EaseFactor, s.Repetitions)
	if s.Phase == phase.Learned {
		s.Interval = max(1, int(math.Round(float64(s.Interval)*phase.IntervalMultiplier(phase.Learned))))
	}
	s.NextReview = now.Add(time.Duration(s.Interval) * day)
	return s, nil
}

// DirectionMultiplier returns the interval multiplier for direction, 1 for
// unknown directions.
func DirectionMultiplier(direction string) float64 {
	if m, ok := directionMultipliers[direction]; ok {
		return m
	}
	return 1.0
}

// ValidDirection reports whether direction is one of the supported pairs.
func ValidDirection(direction string) bool {
	_, ok := directionMultipliers[direction]
	return ok
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
