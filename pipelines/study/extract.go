package study

import (
	"encoding/json"
	"log"
	"strings"
)

const fence = "```"

// ExtractJSON decodes a JSON value out of model output. The payload may be
// wrapped in a markdown code fence or surrounded by prose. def is returned
// when nothing decodes.
func ExtractJSON[T any](text string, def T) T {
	for _, candidate := range jsonCandidates(text) {
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v
		}
	}
	log.Printf("[STUDY] Failed to parse JSON from response (%d chars)", len(text))
	return def
}

func jsonCandidates(text string) []string {
	var out []string

	if start := strings.Index(text, fence); start != -1 {
		body := text[start+len(fence):]
		if end := strings.Index(body, fence); end != -1 {
			body = body[:end]
		}
		body = strings.TrimPrefix(strings.TrimLeft(body, " \t"), "json")
		out = append(out, strings.TrimSpace(body))
	}

	if start := strings.IndexAny(text, "[{"); start != -1 {
		if end := strings.LastIndexAny(text, "]}"); end > start {
			out = append(out, text[start:end+1])
		}
	}

	return append(out, strings.TrimSpace(text))
}
