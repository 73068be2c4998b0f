// Package session runs practice sessions: it picks cards, grades answers
// through SM-2 and records the outcome locally, on the sync queue and as an
// analytics event.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bgde/vocab-platform/internal/analytics"
	"github.com/bgde/vocab-platform/internal/content"
	"github.com/bgde/vocab-platform/internal/review/phase"
	"github.com/bgde/vocab-platform/internal/review/sm2"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/google/uuid"
)

// SyncType is the queue entry type used for graded answers.
const SyncType = "review"

type StateStore interface {
	Get(ctx context.Context, itemID, direction string) (sm2.State, error)
	Save(ctx context.Context, st sm2.State) error
	Due(ctx context.Context, direction string, now time.Time, limit int) ([]sm2.State, error)
	List(ctx context.Context, direction string) ([]sm2.State, error)
}

type Catalog interface {
	Vocabulary(id string) (content.VocabularyItem, bool)
	VocabularyItems() []content.VocabularyItem
}

type Queue interface {
	Add(typ string, data any) (string, error)
}

type Tracker interface {
	Track(event any)
}

type Config struct {
	DefaultDirection string
	Size             int
	TTL              time.Duration
}

type Option func(*Manager)

func WithQueue(q Queue) Option              { return func(m *Manager) { m.queue = q } }
func WithTracker(t Tracker) Option          { return func(m *Manager) { m.tracker = t } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }
func WithClock(now func() time.Time) Option  { return func(m *Manager) { m.now = now } }

type Card struct {
	ItemID   string `json:"item_id"`
	Prompt   string `json:"prompt"`
	Answer   string `json:"answer"`
	Notes    string `json:"notes,omitempty"`
	Category string `json:"category,omitempty"`
	Level    string `json:"level,omitempty"`
	Phase    int    `json:"phase"`
	New      bool   `json:"new"`
}

type Session struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Cards     []Card    `json:"cards"`
	StartedAt time.Time `json:"started_at"`

	answered   map[string]bool
	correct    int
	lastActive time.Time
}

type Summary struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Total     int       `json:"total"`
	Answered  int       `json:"answered"`
	Correct   int       `json:"correct"`
	Accuracy  float64   `json:"accuracy"`
	Remaining []Card    `json:"remaining"`
	StartedAt time.Time `json:"started_at"`
	Done      bool      `json:"done"`
}

type Result struct {
	State     sm2.State     `json:"state"`
	Phase     phase.Details `json:"phase"`
	Progress  float64       `json:"progress"`
	Correct   bool          `json:"correct"`
	Remaining int           `json:"remaining"`
}

// ReviewUpdate is the payload queued for the sync endpoint.
type ReviewUpdate struct {
	SessionID string    `json:"session_id"`
	ItemID    string    `json:"item_id"`
	Direction string    `json:"direction"`
	Grade     int       `json:"grade"`
	State     sm2.State `json:"state"`
}

// Manager holds active sessions in memory. Sessions idle for longer than
// the TTL are dropped.
type Manager struct {
	store   StateStore
	catalog Catalog
	queue   Queue
	tracker Tracker
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store StateStore, catalog Catalog, cfg Config, opts ...Option) *Manager {
	if cfg.Size <= 0 {
		cfg.Size = 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if !sm2.ValidDirection(cfg.DefaultDirection) {
		cfg.DefaultDirection = sm2.DirectionBgDe
	}
	m := &Manager{
		store:    store,
		catalog:  catalog,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session of up to limit cards: due items first, oldest due
// first, then items never reviewed in direction in catalog order.
func (m *Manager) Start(ctx context.Context, direction string, limit int) (Summary, error) {
	if direction == "" {
		direction = m.cfg.DefaultDirection
	}
	if !sm2.ValidDirection(direction) {
		return Summary{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown direction %q", direction)
	}
	if limit <= 0 {
		limit = m.cfg.Size
	}
	now := m.now()

	due, err := m.store.Due(ctx, direction, now, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("loading due items: %w", err)
	}
	cards := make([]Card, 0, limit)
	for _, st := range due {
		item, ok := m.catalog.Vocabulary(st.ItemID)
		if !ok {
			continue
		}
		cards = append(cards, newCard(item, direction, st.Phase, false))
	}

	if len(cards) < limit {
		known, err := m.store.List(ctx, direction)
		if err != nil {
			return Summary{}, fmt.Errorf("loading review states: %w", err)
		}
		seen := make(map[string]struct{}, len(known))
		for _, st := range known {
			seen[st.ItemID] = struct{}{}
		}
		for _, item := range m.catalog.VocabularyItems() {
			if len(cards) >= limit {
				break
			}
			if _, ok := seen[item.ID]; ok {
				continue
			}
			cards = append(cards, newCard(item, direction, phase.New, true))
		}
	}

	s := &Session{
		ID:         uuid.NewString(),
		Direction:  direction,
		Cards:      cards,
		StartedAt:  now,
		answered:   make(map[string]bool, len(cards)),
		lastActive: now,
	}
	m.mu.Lock()
	m.sweepLocked(now)
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session started", "session_id", s.ID, "direction", direction, "cards", len(cards))
	return summarize(s), nil
}

func newCard(item content.VocabularyItem, direction string, ph int, isNew bool) Card {
	prompt, answer, notes := item.Card(direction)
	return Card{
		ItemID:   item.ID,
		Prompt:   prompt,
		Answer:   answer,
		Notes:    notes,
		Category: item.Category,
		Level:    item.Level,
		Phase:    ph,
		New:      isNew,
	}
}

// Answer grades one card of the session. Each card can be answered once.
func (m *Manager) Answer(ctx context.Context, sessionID, itemID string, grade int) (Result, error) {
	if grade < sm2.MinGrade || grade > sm2.MaxGrade {
		return Result{}, apperrors.Newf(apperrors.ErrInvalidGrade, http.StatusBadRequest, "grade %d", grade)
	}
	now := m.now()

	m.mu.Lock()
	s, err := m.lookupLocked(sessionID, now)
	if err != nil {
		m.mu.Unlock()
		return Result{}, err
	}
	if len(s.answered) == len(s.Cards) {
		m.mu.Unlock()
		return Result{}, apperrors.Newf(apperrors.ErrSessionDone, http.StatusConflict, "session %s has no cards left", sessionID)
	}
	if !hasCard(s, itemID) {
		m.mu.Unlock()
		return Result{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "item %s is not part of session %s", itemID, sessionID)
	}
	if s.answered[itemID] {
		m.mu.Unlock()
		return Result{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusConflict, "item %s already answered", itemID)
	}
	// Reserve the card so a concurrent answer for it fails.
	s.answered[itemID] = true
	s.lastActive = now
	direction := s.Direction
	m.mu.Unlock()

	prev, next, err := m.grade(ctx, itemID, direction, grade, now)
	if err != nil {
		m.mu.Lock()
		delete(s.answered, itemID)
		m.mu.Unlock()
		return Result{}, err
	}

	correct := grade >= sm2.PassGrade
	m.mu.Lock()
	if correct {
		s.correct++
	}
	remaining := len(s.Cards) - len(s.answered)
	m.mu.Unlock()

	m.publish(sessionID, itemID, grade, prev, next)
	return Result{
		State:     next,
		Phase:     phase.Lookup(next.Phase),
		Progress:  phase.Progress(next.Phase, next.EaseFactor),
		Correct:   correct,
		Remaining: remaining,
	}, nil
}

func (m *Manager) grade(ctx context.Context, itemID, direction string, grade int, now time.Time) (prev, next sm2.State, err error) {
	prev, err = m.store.Get(ctx, itemID, direction)
	if errors.Is(err, apperrors.ErrNotFound) {
		prev = sm2.NewState(itemID, direction, now)
	} else if err != nil {
		return prev, next, fmt.Errorf("loading state of %s: %w", itemID, err)
	}
	next, err = sm2.Schedule(prev, grade, now)
	if err != nil {
		return prev, next, err
	}
	if err := m.store.Save(ctx, next); err != nil {
		return prev, next, fmt.Errorf("saving state of %s: %w", itemID, err)
	}
	return prev, next, nil
}

// publish reports a graded answer to the sync queue, analytics and metrics.
// Failures here do not undo the answer.
func (m *Manager) publish(sessionID, itemID string, grade int, prev, st sm2.State) {
	direction := st.Direction
	outcome := "correct"
	eventType := analytics.EventReview
	if grade < sm2.PassGrade {
		outcome = "incorrect"
		eventType = analytics.EventLapse
	}
	if m.metrics != nil {
		m.metrics.ReviewsTotal.WithLabelValues(direction, outcome).Inc()
	}
	if m.queue != nil {
		update := ReviewUpdate{SessionID: sessionID, ItemID: itemID, Direction: direction, Grade: grade, State: st}
		if _, err := m.queue.Add(SyncType, update); err != nil {
			m.logger.Warn("queueing review update failed", "item_id", itemID, "error", err)
		}
	}
	if m.tracker != nil {
		m.tracker.Track(analytics.ReviewEvent{
			Type:       eventType,
			SessionID:  sessionID,
			ItemID:     itemID,
			Direction:  direction,
			Grade:      grade,
			OldPhase:   prev.Phase,
			NewPhase:   st.Phase,
			Interval:   st.Interval,
			EaseFactor: st.EaseFactor,
			Timestamp:  st.UpdatedAt,
		})
	}
}

func (m *Manager) Get(sessionID string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(sessionID, m.now())
	if err != nil {
		return Summary{}, err
	}
	return summarize(s), nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) sweepLocked(now time.Time) int {
	n := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastActive) > m.cfg.TTL {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *Manager) lookupLocked(id string, now time.Time) (*Session, error) {
	s, ok := m.sessions[id]
	if ok && now.Sub(s.lastActive) > m.cfg.TTL {
		delete(m.sessions, id)
		ok = false
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "session %s", id)
	}
	return s, nil
}

func hasCard(s *Session, itemID string) bool {
	for _, c := range s.Cards {
		if c.ItemID == itemID {
			return true
		}
	}
	return false
}

func summarize(s *Session) Summary {
	sum := Summary{
		ID:        s.ID,
		Direction: s.Direction,
		Total:     len(s.Cards),
		Answered:  len(s.answered),
		Correct:   s.correct,
		StartedAt: s.StartedAt,
		Remaining: []Card{},
	}
	for _, c := range s.Cards {
		if !s.answered[c.ItemID] {
			sum.Remaining = append(sum.Remaining, c)
		}
	}
	if sum.Answered > 0 {
		sum.Accuracy = math.Round(float64(sum.Correct)/float64(sum.Answered)*1000) / 10
	}
	sum.Done = sum.Answered == sum.Total
	return sum
}

// ItemView is the review state of one item with its derived phase data.
type ItemView struct {
	Card             Card          `json:"card"`
	State            sm2.State     `json:"state"`
	Phase            phase.Details `json:"phase"`
	Progress         float64       `json:"progress"`
	CanAdvance       bool          `json:"can_advance"`
	NeedsMaintenance bool          `json:"needs_maintenance"`
	Reviewed         bool          `json:"reviewed"`
}

func (m *Manager) Item(ctx context.Context, itemID, direction string) (ItemView, error) {
	if direction == "" {
		direction = m.cfg.DefaultDirection
	}
	if !sm2.ValidDirection(direction) {
		return ItemView{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown direction %q", direction)
	}
	item, ok := m.catalog.Vocabulary(itemID)
	if !ok {
		return ItemView{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "vocabulary item %s", itemID)
	}
	now := m.now()
	st, err := m.store.Get(ctx, itemID, direction)
	reviewed := err == nil
	if errors.Is(err, apperrors.ErrNotFound) {
		st = sm2.NewState(itemID, direction, now)
	} else if err != nil {
		return ItemView{}, fmt.Errorf("loading state of %s: %w", itemID, err)
	}
	return ItemView{
		Card:             newCard(item, direction, st.Phase, !reviewed),
		State:            st,
		Phase:            phase.Lookup(st.Phase),
		Progress:         phase.Progress(st.Phase, st.EaseFactor),
		CanAdvance:       phase.CanAdvance(st.Phase, st.Repetitions, st.EaseFactor),
		NeedsMaintenance: st.Phase == phase.Learned && phase.NeedsMaintenanceReview(st.LastReview, st.EaseFactor, now),
		Reviewed:         reviewed,
	}, nil
}

type PhaseEntry struct {
	Phase      int     `json:"phase"`
	Name       string  `json:"name"`
	Icon       string  `json:"icon"`
	Color      string  `json:"color"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type PhaseOverview struct {
	Direction string       `json:"direction"`
	Total     int          `json:"total"`
	Phases    []PhaseEntry `json:"phases"`
}

// Phases counts catalog items per phase in direction. Items never reviewed
// count as New.
func (m *Manager) Phases(ctx context.Context, direction, lang string) (PhaseOverview, error) {
	if direction == "" {
		direction = m.cfg.DefaultDirection
	}
	if !sm2.ValidDirection(direction) {
		return PhaseOverview{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown direction %q", direction)
	}
	states, err := m.store.List(ctx, direction)
	if err != nil {
		return PhaseOverview{}, fmt.Errorf("loading review states: %w", err)
	}
	byID := make(map[string]sm2.State, len(states))
	for _, st := range states {
		byID[st.ItemID] = st
	}

	items := m.catalog.VocabularyItems()
	samples := make([]phase.Sample, 0, len(items))
	for _, item := range items {
		p := phase.New
		s := phase.Sample{Phase: &p}
		if st, ok := byID[item.ID]; ok {
			p = st.Phase
			s.EaseFactor, s.Repetitions = st.EaseFactor, st.Repetitions
		}
		samples = append(samples, s)
	}
	stats := phase.Stats(samples)

	ov := PhaseOverview{Direction: direction, Total: stats.Total}
	for _, p := range phase.Phases {
		d := phase.Lookup(p)
		c := stats.Phases[p]
		ov.Phases = append(ov.Phases, PhaseEntry{
			Phase:      p,
			Name:       phase.Name(p, lang),
			Icon:       d.Icon,
			Color:      d.Color,
			Count:      c.Count,
			Percentage: c.Percentage,
		})
		if m.metrics != nil {
			m.metrics.PhaseItems.WithLabelValues(direction, fmt.Sprint(p)).Set(float64(c.Count))
		}
	}
	return ov, nil
}
