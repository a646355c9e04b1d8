package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/codingofficer/internal/llm"
	"github.com/codingofficer/pkg/models"
)

var ErrNoJSON = errors.New("answer contains no JSON array")

type rawAssignment struct {
	ReplyID json.RawMessage `json:"reply_id"`
	Tags    json.RawMessage `json:"tags"`
	Reason  json.RawMessage `json:"reason"`
}

// ParseAssignments parses one coded answer into its assignments. The answer
// must be a JSON array of {reply_id, tags, reason} objects, optionally inside a
// markdown fence. reply_id may be a string or a number; tags and reason may be
// a list or a single string. Any malformed element fails the whole answer.
func ParseAssignments(code string, repair bool) ([]models.CodingAssignment, error) {
	text := llm.PrepareJSON(code, repair)
	if text == "" {
		return nil, ErrNoJSON
	}

	var raw []rawAssignment
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	out := make([]models.CodingAssignment, 0, len(raw))
	for i, item := range raw {
		replyID, err := parseReplyID(item.ReplyID)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		tags, err := stringList(item.Tags)
		if err != nil {
			return nil, fmt.Errorf("element %d tags: %w", i, err)
		}
		reasons, err := stringList(item.Reason)
		if err != nil {
			return nil, fmt.Errorf("element %d reason: %w", i, err)
		}
		out = append(out, models.CodingAssignment{ReplyID: replyID, Tags: tags, Reasons: reasons})
	}
	return out, nil
}

func parseReplyID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing reply_id")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var number json.Number
		if err := json.Unmarshal(raw, &number); err != nil {
			return 0, fmt.Errorf("reply_id %s is neither a string nor a number", raw)
		}
		text = number.String()
	}

	text = strings.TrimSpace(text)
	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		return id, nil
	}
	// ids that went through a float column, e.g. "123.0"
	if f, err := strconv.ParseFloat(text, 64); err == nil && f == float64(int64(f)) {
		return int64(f), nil
	}
	return 0, fmt.Errorf("invalid reply_id %q", text)
}

func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		single = strings.TrimSpace(single)
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected a string or a list of strings, got %s", raw)
	}
	out := list[:0]
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}
