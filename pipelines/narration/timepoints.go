package narration

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Timepoint pairs an SSML mark with the playback time at which it is spoken.
type Timepoint struct {
	MarkName    string  `json:"mark_name"`
	TimeSeconds float64 `json:"time_seconds"`
}

type markTime struct {
	index int
	time  float64
}

// TimepointMap resolves a playback time to the sentence being spoken.
type TimepointMap struct {
	marks []markTime
}

// ParseMarkIndex extracts the sentence index from a mark name like "s12".
func ParseMarkIndex(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, "s")
	if !ok {
		return 0, fmt.Errorf("mark %q has no sentence prefix", name)
	}
	index, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("mark %q: %w", name, err)
	}
	if index < 0 {
		return 0, fmt.Errorf("mark %q: negative sentence index", name)
	}
	return index, nil
}

// NewTimepointMap builds a lookup from raw synthesizer timepoints. Entries
// with malformed marks or times are logged and skipped. When sentenceCount
// is non-negative, marks pointing outside [0, sentenceCount) are skipped too.
// Marks are stable-sorted by time, so input order does not matter.
func NewTimepointMap(raw []Timepoint, sentenceCount int) *TimepointMap {
	m := &TimepointMap{marks: make([]markTime, 0, len(raw))}
	for _, tp := range raw {
		index, err := ParseMarkIndex(tp.MarkName)
		if err != nil {
			log.Printf("[NARRATION] Skipping timepoint: %v", err)
			continue
		}
		if sentenceCount >= 0 && index >= sentenceCount {
			log.Printf("[NARRATION] Skipping timepoint %q: only %d sentences", tp.MarkName, sentenceCount)
			continue
		}
		if math.IsNaN(tp.TimeSeconds) || math.IsInf(tp.TimeSeconds, 0) {
			log.Printf("[NARRATION] Skipping timepoint %q: invalid time", tp.MarkName)
			continue
		}
		m.marks = append(m.marks, markTime{index: index, time: tp.TimeSeconds})
	}

	sort.SliceStable(m.marks, func(i, j int) bool {
		return m.marks[i].time < m.marks[j].time
	})
	return m
}

// SentenceAt returns the index of the latest sentence whose mark has been
// reached at time t, or -1 if none has.
func (m *TimepointMap) SentenceAt(t float64) int {
	if m == nil || math.IsNaN(t) || math.IsInf(t, 0) {
		return -1
	}
	// first mark strictly after t; the one before it is current
	n := sort.Search(len(m.marks), func(i int) bool {
		return m.marks[i].time > t
	})
	if n == 0 {
		return -1
	}
	return m.marks[n-1].index
}

// Len returns the number of usable marks.
func (m *TimepointMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.marks)
}

// Timepoints returns the usable marks in time order.
func (m *TimepointMap) Timepoints() []Timepoint {
	if m == nil {
		return nil
	}
	out := make([]Timepoint, len(m.marks))
	for i, mt := range m.marks {
		out[i] = Timepoint{MarkName: MarkName(mt.index), TimeSeconds: mt.time}
	}
	return out
}
