package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats tracks what a repair pass changed
type RepairStats struct {
	OriginalBytes    int           `json:"original_bytes"`
	RepairedBytes    int           `json:"repaired_bytes"`
	CommentsLost     int           `json:"comments_lost"`
	ErrorsFixed      int           `json:"errors_fixed"`
	RepairTime       time.Duration `json:"repair_time"`
	RepairStrategies []string      `json:"repair_strategies"`
	WasRepaired      bool          `json:"was_repaired"`
}

var (
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuotedPattern  = regexp.MustCompile(`'([^'\n]*)'`)
	blockCommentPattern  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	smartQuoteReplacer   = strings.NewReplacer("“", `"`, "”", `"`)
)

// RepairJSON tries to turn a malformed model answer into valid JSON. Cheap
// textual strategies run first in order:
//  1. smart quotes around keys and values
//  2. trailing commas
//  3. comments
//  4. unquoted keys
//  5. single quoted strings
//  6. unclosed arrays/objects
//
// and the jsonrepair library is the fallback when the result still does not parse.
func RepairJSON(raw string) (repaired string, stats RepairStats, err error) {
	start := time.Now()
	stats.OriginalBytes = len(raw)
	defer func() {
		stats.RepairedBytes = len(repaired)
		stats.RepairTime = time.Since(start)
	}()

	if json.Valid([]byte(raw)) {
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired = strings.TrimSpace(raw)

	apply := func(name string, fn func(string) string) {
		if json.Valid([]byte(repaired)) {
			return
		}
		next := fn(repaired)
		if next != repaired {
			repaired = next
			stats.RepairStrategies = append(stats.RepairStrategies, name)
			stats.ErrorsFixed++
		}
	}

	apply("smart_quotes", smartQuoteReplacer.Replace)
	apply("trailing_commas", func(s string) string {
		return trailingCommaPattern.ReplaceAllString(s, "$1")
	})
	apply("comments_removed", func(s string) string {
		out, n := removeComments(s)
		stats.CommentsLost += n
		return out
	})
	apply("key_quotes", func(s string) string {
		return unquotedKeyPattern.ReplaceAllString(s, `$1"$2"$3`)
	})
	apply("single_quotes", func(s string) string {
		return singleQuotedPattern.ReplaceAllString(s, `"$1"`)
	})
	apply("completion", completeJSON)

	if !json.Valid([]byte(repaired)) {
		if fixed, libErr := jsonrepair.JSONRepair(repaired); libErr == nil && fixed != repaired {
			repaired = fixed
			stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")
			stats.ErrorsFixed++
		}
	}

	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.RepairStrategies))
	}
	return repaired, stats, nil
}

// removeComments strips // line comments outside strings and /* */ blocks
func removeComments(s string) (string, int) {
	removed := 0

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := lineCommentIndex(line); idx >= 0 {
			lines[i] = line[:idx]
			removed++
		}
	}
	s = strings.Join(lines, "\n")

	removed += len(blockCommentPattern.FindAllStringIndex(s, -1))
	return blockCommentPattern.ReplaceAllString(s, ""), removed
}

// lineCommentIndex finds "//" that is not inside a string literal, so URLs in
// reasons survive.
func lineCommentIndex(line string) int {
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return i
		}
	}
	return -1
}

// completeJSON closes unterminated strings, objects and arrays in LIFO order
func completeJSON(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
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
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\r\n,")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
