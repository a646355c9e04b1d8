package llm

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// ExtractJSON pulls the JSON payload out of a model answer: it strips
// ```json fences and any prose before the first '[' or '{'. It returns ""
// when the text contains no JSON start at all.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var lines []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inBlock {
					break
				}
				inBlock = true
				continue
			}
			if inBlock {
				lines = append(lines, line)
			}
		}
		if block := strings.TrimSpace(strings.Join(lines, "\n")); block != "" {
			return block
		}
	}

	start := strings.IndexAny(raw, "[{")
	if start == -1 {
		return ""
	}
	if end := matchingClose(raw, start); end > 0 {
		return raw[start : end+1]
	}
	return raw[start:]
}

// matchingClose returns the index of the bracket closing raw[start], ignoring
// brackets inside string literals, or -1
func matchingClose(raw string, start int) int {
	open := raw[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// PrepareJSON extracts the JSON payload and, when repair is set, runs
// RepairJSON on it. The returned text is what the caller should unmarshal.
func PrepareJSON(raw string, repair bool) string {
	text := ExtractJSON(raw)
	if !repair || text == "" {
		return text
	}

	repaired, stats, err := RepairJSON(text)
	if stats.WasRepaired {
		log.Debug().
			Strs("strategies", stats.RepairStrategies).
			Int("errors_fixed", stats.ErrorsFixed).
			Int("comments_lost", stats.CommentsLost).
			Int("original_bytes", stats.OriginalBytes).
			Int("repaired_bytes", stats.RepairedBytes).
			Bool("valid", err == nil).
			Msg("Repaired model JSON")
	}
	return repaired
}
