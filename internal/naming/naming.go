package naming

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Fields are the values a file name template may reference
type Fields struct {
	Time     time.Time
	Model    string
	RunID    string
	Language string
}

// Matches {name}; names are restricted to the fixed set below
var fieldPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

func (f Fields) lookup(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "date":
		return f.Time.Format("20060102"), true
	case "time":
		return f.Time.Format("150405"), true
	case "datetime":
		return f.Time.Format("20060102_150405"), true
	case "model":
		return f.Model, true
	case "run_id":
		return f.RunID, true
	case "language":
		return f.Language, true
	}
	return "", false
}

// Names lists the supported placeholders
func Names() []string {
	return []string{"date", "time", "datetime", "model", "run_id", "language"}
}

// Render substitutes {field} placeholders in format. Unknown placeholders are
// an error; substituted values are stripped of path separators and other
// characters that are not valid in file names.
func Render(format string, fields Fields) (string, error) {
	var unknown []string
	out := fieldPattern.ReplaceAllStringFunc(format, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := fields.lookup(name)
		if !ok {
			unknown = append(unknown, name)
			return m
		}
		return sanitize(v)
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("unknown file name field(s) %s (supported: %s)",
			strings.Join(unknown, ", "), strings.Join(Names(), ", "))
	}

	out = strings.TrimSpace(out)
	if out == "" || sanitize(out) != out {
		return "", fmt.Errorf("file name template %q does not produce a valid file name", format)
	}
	return out, nil
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "-")
}
