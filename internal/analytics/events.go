// Package analytics collects learner events (searches and review answers)
// and publishes them asynchronously to Kafka.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventCacheHit   EventType = "cache_hit"
	EventCacheMiss  EventType = "cache_miss"
	EventZeroResult EventType = "zero_result"
	EventReview     EventType = "review"
	EventLapse      EventType = "lapse"
)

type SearchEvent struct {
	Type      EventType         `json:"type"`
	Query     string            `json:"query"`
	Terms     []string          `json:"terms"`
	Filters   map[string]string `json:"filters,omitempty"`
	TotalHits int               `json:"total_hits"`
	Returned  int               `json:"returned"`
	LatencyMs int64             `json:"latency_ms"`
	CacheHit  bool              `json:"cache_hit"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id"`
}

// ReviewEvent is emitted for every graded answer. Type is EventLapse when the
// grade was a failure.
type ReviewEvent struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	ItemID     string    `json:"item_id"`
	Direction  string    `json:"direction"`
	Grade      int       `json:"grade"`
	OldPhase   int       `json:"old_phase"`
	NewPhase   int       `json:"new_phase"`
	Interval   int       `json:"interval_days"`
	EaseFactor float64   `json:"ease_factor"`
	Timestamp  time.Time `json:"timestamp"`
}
