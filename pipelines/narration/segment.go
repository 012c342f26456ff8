package narration

import (
	"sort"
	"unicode"
)

// Sentence is one unit of narration and highlighting. Index is the position
// in the filtered document order, contiguous from 0.
type Sentence struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Segment splits normalized text into sentences. A split happens at
// whitespace following '.', '?' or '!', except after abbreviations such as
// "U.S.", "Dr." or a single initial like "J.".
func Segment(text string) []Sentence {
	runes := []rune(text)
	var out []Sentence
	for _, sp := range spans(runes) {
		out = append(out, Sentence{Text: string(runes[sp.start:sp.end]), Index: len(out)})
	}
	return out
}

// SegmentPages joins the pages with a space, segments the result as one text
// and assigns every sentence the page on which it starts. A sentence that
// runs across a page break stays whole.
func SegmentPages(pages []string) ([]Sentence, PageMap) {
	var (
		runes  []rune
		starts []int
	)
	for i, page := range pages {
		if i > 0 {
			runes = append(runes, ' ')
		}
		starts = append(starts, len(runes))
		runes = append(runes, []rune(page)...)
	}

	var sentences []Sentence
	pm := make(PageMap)
	for _, sp := range spans(runes) {
		index := len(sentences)
		sentences = append(sentences, Sentence{Text: string(runes[sp.start:sp.end]), Index: index})
		// last page starting at or before the sentence
		page := sort.Search(len(starts), func(p int) bool { return starts[p] > sp.start }) - 1
		pm.Set(index, page)
	}
	return sentences, pm
}

type span struct{ start, end int }

// spans returns the trimmed, non-empty sentence ranges of runes.
func spans(runes []rune) []span {
	var out []span
	start := 0

	emit := func(end int) {
		for start < end && unicode.IsSpace(runes[start]) {
			start++
		}
		for end > start && unicode.IsSpace(runes[end-1]) {
			end--
		}
		if start < end {
			out = append(out, span{start, end})
		}
	}

	for i, r := range runes {
		if !unicode.IsSpace(r) || !isBoundary(runes, i) {
			continue
		}
		emit(i)
		start = i + 1
	}
	emit(len(runes))

	return out
}

// isBoundary reports whether the whitespace at runes[i] ends a sentence.
func isBoundary(runes []rune, i int) bool {
	if i == 0 {
		return false
	}
	switch runes[i-1] {
	case '.', '?', '!':
	default:
		return false
	}

	// "U.S. " / "e.g. "
	if i >= 4 && isWordRune(runes[i-4]) && runes[i-3] == '.' && isWordRune(runes[i-2]) {
		return false
	}
	if runes[i-1] != '.' {
		return true
	}
	// "Dr. " / "Mr. "
	if i >= 3 && unicode.IsUpper(runes[i-3]) && unicode.IsLower(runes[i-2]) {
		return false
	}
	// "J. "
	if i >= 2 && unicode.IsUpper(runes[i-2]) && (i == 2 || !isWordRune(runes[i-3])) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
