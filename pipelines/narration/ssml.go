package narration

import (
	"fmt"
	"strings"
)

// EscapeSSML escapes markup characters in sentence text.
func EscapeSSML(text string) string {
	// Order matters! Ampersand must be replaced first
	replacements := []struct{ old, new string }{
		{"&", "&amp;"},
		{"<", "&lt;"},
		{">", "&gt;"},
		{`"`, "&quot;"},
		{"'", "&apos;"},
	}
	for _, r := range replacements {
		text = strings.ReplaceAll(text, r.old, r.new)
	}
	return text
}

// MarkName is the SSML mark emitted before sentence index.
func MarkName(index int) string {
	return fmt.Sprintf("s%d", index)
}

// BuildSSML wraps sentences in a speak envelope with one mark per sentence,
// so the synthesizer reports when each sentence starts.
func BuildSSML(sentences []Sentence) string {
	var sb strings.Builder
	sb.WriteString("<speak>")
	for _, s := range sentences {
		writeSentence(&sb, s)
	}
	sb.WriteString("</speak>")
	return sb.String()
}

// FitSentences returns the longest prefix of sentences whose SSML stays
// within maxBytes. A non-positive maxBytes disables the limit.
func FitSentences(sentences []Sentence, maxBytes int) []Sentence {
	if maxBytes <= 0 {
		return sentences
	}

	size := len("<speak></speak>")
	var sb strings.Builder
	for i, s := range sentences {
		sb.Reset()
		writeSentence(&sb, s)
		size += sb.Len()
		if size > maxBytes {
			return sentences[:i]
		}
	}
	return sentences
}

func writeSentence(sb *strings.Builder, s Sentence) {
	sb.WriteString(`<mark name="`)
	sb.WriteString(MarkName(s.Index))
	sb.WriteString(`"/>`)
	sb.WriteString(EscapeSSML(s.Text))
	sb.WriteString(" ")
}
