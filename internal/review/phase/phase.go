// Package phase maps SM-2 ease factors and repetition counts onto the seven
// learning phases shown to learners: phases 1 (New) through 6 (Expert), and
// 0 for items that have been Learned.
package phase

import (
	"encoding/json"
	"math"
	"time"
)

const (
	Learned = 0
	New     = 1
	Expert  = 6

	MinEaseFactor = 1.3
	// DefaultEaseFactor is assumed for states that carry no ease factor.
	DefaultEaseFactor = 2.5

	minReviewsToAdvance   = 3
	learnedMinRepetitions = 5
	learnedEaseFactor     = 3.0
)

type Details struct {
	Phase int     `json:"phase"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Icon  string  `json:"icon"`
}

// MarshalJSON encodes an unbounded Max as null.
func (d Details) MarshalJSON() ([]byte, error) {
	type plain Details
	out := struct {
		plain
		Max *float64 `json:"max"`
	}{plain: plain(d)}
	if !math.IsInf(d.Max, 0) {
		out.Max = &d.Max
	}
	return json.Marshal(out)
}

var details = map[int]Details{
	Learned: {Phase: Learned, Min: 3.0, Max: math.Inf(1), Name: "Learned", Color: "#06b6d4", Icon: "🎓"},
	1:       {Phase: 1, Min: 0, Max: 2.0, Name: "New", Color: "#ef4444", Icon: "🌱"},
	2:       {Phase: 2, Min: 2.0, Max: 2.2, Name: "Learning", Color: "#f97316", Icon: "📖"},
	3:       {Phase: 3, Min: 2.2, Max: 2.4, Name: "Familiar", Color: "#eab308", Icon: "👁️"},
	4:       {Phase: 4, Min: 2.4, Max: 2.6, Name: "Known", Color: "#84cc16", Icon: "✅"},
	5:       {Phase: 5, Min: 2.6, Max: 2.8, Name: "Mastered", Color: "#22c55e", Icon: "⭐"},
	6:       {Phase: 6, Min: 2.8, Max: 3.0, Name: "Expert", Color: "#10b981", Icon: "🏆"},
}

var names = map[int]map[string]string{
	0: {"en": "Learned", "de": "Gelernt", "bg": "Научен"},
	1: {"en": "New", "de": "Neu", "bg": "Нов"},
	2: {"en": "Learning", "de": "Lernen", "bg": "Учене"},
	3: {"en": "Familiar", "de": "Vertraut", "bg": "Познат"},
	4: {"en": "Known", "de": "Bekannt", "bg": "Известен"},
	5: {"en": "Mastered", "de": "Gemeistert", "bg": "Овладян"},
	6: {"en": "Expert", "de": "Experte", "bg": "Експерт"},
}

var multipliers = map[int]float64{
	0: 3.0,
	1: 0.8,
	2: 0.9,
	3: 1.0,
	4: 1.2,
	5: 1.5,
	6: 2.0,
}

// Phases lists every phase in display order, New first and Learned last.
var Phases = []int{1, 2, 3, 4, 5, 6, Learned}

// Calculate returns the phase for an ease factor (clamped to MinEaseFactor)
// and repetition count. An ease factor of 3.0 or more only counts as Learned
// after enough repetitions; before that the item stays Expert.
func Calculate(easeFactor float64, repetitions int) int {
	ef := math.Max(MinEaseFactor, easeFactor)
	if ef >= learnedEaseFactor && repetitions >= learnedMinRepetitions {
		return Learned
	}
	switch {
	case ef < 2.0:
		return 1
	case ef < 2.2:
		return 2
	case ef < 2.4:
		return 3
	case ef < 2.6:
		return 4
	case ef < 2.8:
		return 5
	default:
		return Expert
	}
}

// Lookup returns the details of phase. Unknown phases resolve to New.
func Lookup(phase int) Details {
	if d, ok := details[phase]; ok {
		return d
	}
	return details[New]
}

// rank orders phases by progress, placing Learned after Expert.
func rank(phase int) int {
	if phase == Learned {
		return Expert + 1
	}
	return phase
}

// Next returns the phase after a review of the given quality. A failed
// review (quality below 3) moves one phase back but never below New; a
// Learned item that fails starts over at New. A
// successful one recalculates the phase from the new ease factor and
// advances at most one step; Learned is only reachable from Expert.
func Next(current, quality int, newEaseFactor float64, repetitions int) int {
	if quality < 3 {
		if current == Learned {
			return New
		}
		return max(New, current-1)
	}
	calculated := Calculate(newEaseFactor, repetitions)
	if rank(calculated) > rank(current) {
		if next := rank(current) + 1; next <= Expert {
			return next
		}
		return Learned
	}
	return calculated
}

// CanAdvance reports whether an item in phase current is ready for the next
// phase. Learned items never advance, New items need a minimum number of
// reviews and Expert items need the Learned criteria.
func CanAdvance(current, repetitions int, easeFactor float64) bool {
	switch {
	case current == Learned:
		return false
	case current == New && repetitions < minReviewsToAdvance:
		return false
	case current == Expert:
		return easeFactor >= learnedEaseFactor && repetitions >= learnedMinRepetitions
	}
	return easeFactor >= Lookup(current+1).Min
}

// Progress is how far easeFactor has moved through the band of phase, as a
// percentage. Learned items are always complete.
func Progress(phase int, easeFactor float64) float64 {
	if phase == Learned {
		return 100
	}
	d := Lookup(phase)
	span := d.Max - d.Min
	if span == 0 || math.IsInf(span, 1) {
		return 0
	}
	p := (easeFactor - d.Min) / span * 100
	return math.Max(0, math.Min(100, p))
}

// IntervalMultiplier scales SM-2 intervals by phase. Unknown phases use the
// New multiplier.
func IntervalMultiplier(phase int) float64 {
	if m, ok := multipliers[phase]; ok {
		return m
	}
	return multipliers[New]
}

// NeedsMaintenanceReview reports whether a long-term item is due for a
// maintenance pass: after 90 days, or 120 and 180 days for ease factors of at
// least 3.2 and 3.5. Items never reviewed always need one.
func NeedsMaintenanceReview(lastReview *time.Time, easeFactor float64, now time.Time) bool {
	if lastReview == nil || lastReview.IsZero() {
		return true
	}
	days := 90.0
	switch {
	case easeFactor >= 3.5:
		days = 180
	case easeFactor >= 3.2:
		days = 120
	}
	return now.Sub(*lastReview).Hours()/24 >= days
}

// Name returns the phase name in lang ("en", "de" or "bg"), falling back to
// English and then to "Unknown".
func Name(phase int, lang string) string {
	byLang, ok := names[phase]
	if !ok {
		return "Unknown"
	}
	if n, ok := byLang[lang]; ok {
		return n
	}
	return byLang["en"]
}

func Icon(phase int) string {
	if d, ok := details[phase]; ok {
		return d.Icon
	}
	return "❓"
}

// Sample is the part of a review state the statistics need. A nil Phase is
// derived from EaseFactor (DefaultEaseFactor when zero) and Repetitions.
type Sample struct {
	Phase       *int
	EaseFactor  float64
	Repetitions int
}

type Count struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type Statistics struct {
	Phases map[int]Count `json:"phases"`
	Total  int           `json:"total"`
}

// Stats counts samples per phase. Percentages are rounded to one decimal.
func Stats(samples []Sample) Statistics {
	st := Statistics{Phases: make(map[int]Count, len(Phases)), Total: len(samples)}
	for _, p := range Phases {
		st.Phases[p] = Count{}
	}
	for _, s := range samples {
		var p int
		if s.Phase != nil {
			p = *s.Phase
		} else {
			ef := s.EaseFactor
			if ef == 0 {
				ef = DefaultEaseFactor
			}
			p = Calculate(ef, s.Repetitions)
		}
		c, ok := st.Phases[p]
		if !ok {
			continue
		}
		c.Count++
		st.Phases[p] = c
	}
	if st.Total == 0 {
		return st
	}
	for p, c := range st.Phases {
		c.Percentage = math.Round(float64(c.Count)/float64(st.Total)*1000) / 10
		st.Phases[p] = c
	}
	return st
}
