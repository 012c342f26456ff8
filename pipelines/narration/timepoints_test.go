package narration

import (
	"math"
	"testing"
)

func TestParseMarkIndex(t *testing.T) {
	if i, err := ParseMarkIndex("s12"); err != nil || i != 12 {
		t.Errorf("expected 12, got %d (%v)", i, err)
	}
	for _, bad := range []string{"", "s", "12", "sx", "s-1", "ss1", "s1.5"} {
		if _, err := ParseMarkIndex(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestSentenceAt(t *testing.T) {
	m := NewTimepointMap([]Timepoint{
		{MarkName: "s0", TimeSeconds: 0},
		{MarkName: "s1", TimeSeconds: 2},
		{MarkName: "s2", TimeSeconds: 5},
	}, 3)

	tests := []struct {
		t    float64
		want int
	}{
		{-1, -1},
		{0, 0},
		{1, 0},
		{2, 1},
		{4.99, 1},
		{5, 2},
		{6, 2},
		{math.NaN(), -1},
		{math.Inf(1), -1},
	}
	for _, tt := range tests {
		if got := m.SentenceAt(tt.t); got != tt.want {
			t.Errorf("SentenceAt(%v) = %d, want %d", tt.t, got, tt.want)
		}
	}

	if m.Len() != 3 {
		t.Errorf("expected 3 marks, got %d", m.Len())
	}
}

func TestTimepointMapSkipsMalformed(t *testing.T) {
	m := NewTimepointMap([]Timepoint{
		{MarkName: "s0", TimeSeconds: 0},
		{MarkName: "bogus", TimeSeconds: 1},
		{MarkName: "s1", TimeSeconds: 2},
		{MarkName: "s9", TimeSeconds: 3},
		{MarkName: "s2", TimeSeconds: math.NaN()},
	}, 3)

	if m.Len() != 2 {
		t.Fatalf("expected 2 usable marks, got %d", m.Len())
	}
	if got := m.SentenceAt(3.5); got != 1 {
		t.Errorf("out-of-range mark should be ignored, got %d", got)
	}

	unchecked := NewTimepointMap([]Timepoint{{MarkName: "s9", TimeSeconds: 3}}, -1)
	if unchecked.SentenceAt(3) != 9 {
		t.Errorf("negative sentence count should disable range checks")
	}
}

func TestTimepointMapSortsInput(t *testing.T) {
	m := NewTimepointMap([]Timepoint{
		{MarkName: "s2", TimeSeconds: 5},
		{MarkName: "s0", TimeSeconds: 0},
		{MarkName: "s1", TimeSeconds: 2},
	}, -1)

	for tm, want := range map[float64]int{1: 0, 3: 1, 9: 2} {
		if got := m.SentenceAt(tm); got != want {
			t.Errorf("SentenceAt(%v) = %d, want %d", tm, got, want)
		}
	}

	tps := m.Timepoints()
	if len(tps) != 3 || tps[0].MarkName != "s0" || tps[2].MarkName != "s2" {
		t.Errorf("timepoints not in time order: %+v", tps)
	}
}

func TestTimepointMapEqualTimesLastWins(t *testing.T) {
	m := NewTimepointMap([]Timepoint{
		{MarkName: "s0", TimeSeconds: 0},
		{MarkName: "s1", TimeSeconds: 0},
	}, -1)
	if got := m.SentenceAt(0); got != 1 {
		t.Errorf("expected the later of two equal-time marks, got %d", got)
	}
}

func TestNilTimepointMap(t *testing.T) {
	var m *TimepointMap
	if m.SentenceAt(10) != -1 || m.Len() != 0 || m.Timepoints() != nil {
		t.Errorf("nil map should resolve nothing")
	}
}
