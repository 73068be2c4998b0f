package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bgde/vocab-platform/internal/analytics"
	"github.com/bgde/vocab-platform/internal/content"
	"github.com/bgde/vocab-platform/internal/review/phase"
	"github.com/bgde/vocab-platform/internal/review/sm2"
	"github.com/bgde/vocab-platform/internal/review/store"
	"github.com/bgde/vocab-platform/pkg/database"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeQueue struct {
	mu      sync.Mutex
	updates []ReviewUpdate
}

func (q *fakeQueue) Add(typ string, data any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if typ == SyncType {
		q.updates = append(q.updates, data.(ReviewUpdate))
	}
	return "id", nil
}

type fakeTracker struct {
	mu     sync.Mutex
	events []analytics.ReviewEvent
}

func (t *fakeTracker) Track(event any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event.(analytics.ReviewEvent))
}

type fixture struct {
	mgr     *Manager
	store   *store.Store
	queue   *fakeQueue
	tracker *fakeTracker
	metrics *metrics.Metrics
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	st, err := store.New(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	catalog := content.NewCatalog(content.Data{Vocabulary: []content.VocabularyItem{
		{ID: "a", Word: "ябълка", Translation: "Apfel", Category: "food", Level: "A1"},
		{ID: "b", Word: "къща", Translation: "Haus", Category: "home", Level: "A1"},
		{ID: "c", Word: "куче", Translation: "Hund", Category: "animals", Level: "A2"},
		{ID: "d", Word: "хляб", Translation: "Brot", Category: "food", Level: "A1", NotesBgToDe: "das Brot"},
	}})

	f := &fixture{
		store:   st,
		queue:   &fakeQueue{},
		tracker: &fakeTracker{},
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
		clock:   &clock{now: start},
	}
	f.mgr = NewManager(st, catalog, Config{Size: 10, TTL: time.Hour},
		WithQueue(f.queue), WithTracker(f.tracker), WithMetrics(f.metrics), WithClock(f.clock.Now))

	// b is due since yesterday, c is not due until tomorrow.
	ctx := context.Background()
	b, err := sm2.Schedule(sm2.NewState("b", sm2.DirectionBgDe, start.Add(-48*time.Hour)), 4, start.Add(-48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, b))
	c, err := sm2.Schedule(sm2.NewState("c", sm2.DirectionBgDe, start), 4, start)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, c))
	return f
}

func cardIDs(cards []Card) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ItemID
	}
	return ids
}

func TestStartDueFirstThenNew(t *testing.T) {
	f := newFixture(t)

	sum, err := f.mgr.Start(context.Background(), sm2.DirectionBgDe, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "d"}, cardIDs(sum.Remaining))
	assert.Equal(t, 3, sum.Total)
	assert.False(t, sum.Remaining[0].New)
	assert.True(t, sum.Remaining[1].New)
	assert.Equal(t, phase.New, sum.Remaining[1].Phase)

	assert.Equal(t, "ябълка", sum.Remaining[1].Prompt)
	assert.Equal(t, "Apfel", sum.Remaining[1].Answer)
	assert.Equal(t, "das Brot", sum.Remaining[2].Notes)
}

func TestStartReverseDirection(t *testing.T) {
	f := newFixture(t)

	sum, err := f.mgr.Start(context.Background(), sm2.DirectionDeBg, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cardIDs(sum.Remaining))
	assert.Equal(t, "Apfel", sum.Remaining[0].Prompt)
	assert.Equal(t, "ябълка", sum.Remaining[0].Answer)
}

func TestStartRejectsUnknownDirection(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Start(context.Background(), "en-bg", 5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAnswerRecordsEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sum, err := f.mgr.Start(ctx, sm2.DirectionBgDe, 3)
	require.NoError(t, err)

	res, err := f.mgr.Answer(ctx, sum.ID, "a", 4)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 1, res.State.Repetitions)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, res.State.Phase, res.Phase.Phase)

	saved, err := f.store.Get(ctx, "a", sm2.DirectionBgDe)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.TotalReviews)

	require.Len(t, f.queue.updates, 1)
	assert.Equal(t, "a", f.queue.updates[0].ItemID)
	assert.Equal(t, 4, f.queue.updates[0].Grade)

	require.Len(t, f.tracker.events, 1)
	ev := f.tracker.events[0]
	assert.Equal(t, analytics.EventReview, ev.Type)
	assert.Equal(t, phase.New, ev.OldPhase)
	assert.Equal(t, sum.ID, ev.SessionID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReviewsTotal.WithLabelValues("bg-de", "correct")))
}

func TestAnswerLapseAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sum, err := f.mgr.Start(ctx, sm2.DirectionBgDe, 3)
	require.NoError(t, err)

	_, err = f.mgr.Answer(ctx, sum.ID, "a", 5)
	require.NoError(t, err)
	res, err := f.mgr.Answer(ctx, sum.ID, "b", 1)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, analytics.EventLapse, f.tracker.events[1].Type)

	got, err := f.mgr.Get(sum.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Answered)
	assert.Equal(t, 1, got.Correct)
	assert.Equal(t, 50.0, got.Accuracy)
	assert.Equal(t, []string{"d"}, cardIDs(got.Remaining))
	assert.False(t, got.Done)

	_, err = f.mgr.Answer(ctx, sum.ID, "d", 3)
	require.NoError(t, err)
	got, err = f.mgr.Get(sum.ID)
	require.NoError(t, err)
	assert.True(t, got.Done)
	assert.Empty(t, got.Remaining)

	_, err = f.mgr.Answer(ctx, sum.ID, "d", 3)
	assert.ErrorIs(t, err, apperrors.ErrSessionDone)
}

func TestAnswerErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sum, err := f.mgr.Start(ctx, sm2.DirectionBgDe, 3)
	require.NoError(t, err)

	_, err = f.mgr.Answer(ctx, sum.ID, "a", 6)
	assert.ErrorIs(t, err, apperrors.ErrInvalidGrade)
	_, err = f.mgr.Answer(ctx, sum.ID, "c", 4)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.mgr.Answer(ctx, "nope", "a", 4)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.mgr.Answer(ctx, sum.ID, "a", 4)
	require.NoError(t, err)
	_, err = f.mgr.Answer(ctx, sum.ID, "a", 4)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Len(t, f.queue.updates, 1)
}

func TestSessionsExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.mgr.Start(ctx, sm2.DirectionBgDe, 1)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.mgr.Start(ctx, sm2.DirectionBgDe, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.mgr.Active())

	f.clock.Advance(45 * time.Minute)
	_, err = f.mgr.Get(first.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, f.mgr.Active())

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.mgr.Sweep())
	assert.Zero(t, f.mgr.Active())
}

func TestItemView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.mgr.Item(ctx, "a", "")
	require.NoError(t, err)
	assert.False(t, v.Reviewed)
	assert.True(t, v.Card.New)
	assert.Equal(t, phase.New, v.Phase.Phase)
	assert.False(t, v.CanAdvance)

	v, err = f.mgr.Item(ctx, "b", sm2.DirectionBgDe)
	require.NoError(t, err)
	assert.True(t, v.Reviewed)
	assert.Equal(t, 1, v.State.Repetitions)

	_, err = f.mgr.Item(ctx, "zzz", sm2.DirectionBgDe)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPhaseOverview(t *testing.T) {
	f := newFixture(t)

	ov, err := f.mgr.Phases(context.Background(), sm2.DirectionBgDe, "de")
	require.NoError(t, err)
	assert.Equal(t, 4, ov.Total)
	require.Len(t, ov.Phases, len(phase.Phases))
	assert.Equal(t, 1, ov.Phases[0].Phase)
	assert.Equal(t, "Neu", ov.Phases[0].Name)
	assert.Equal(t, 2, ov.Phases[0].Count)
	assert.Equal(t, 50.0, ov.Phases[0].Percentage)
	assert.Equal(t, 2, ov.Phases[1].Count)
	assert.Equal(t, phase.Learned, ov.Phases[len(ov.Phases)-1].Phase)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PhaseItems.WithLabelValues("bg-de", "1")))
}
