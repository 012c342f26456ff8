package narration

// PageMap maps a sentence index to the zero-based page it was extracted from.
type PageMap map[int]int

// Set records the page of a sentence.
func (m PageMap) Set(index, page int) {
	m[index] = page
}

// PageOf returns the page of a sentence, or false when the index is unknown.
func (m PageMap) PageOf(index int) (int, bool) {
	if m == nil {
		return 0, false
	}
	page, ok := m[index]
	return page, ok
}
