package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PendingSentinel is the literal older databases stored in place of a null
// prompt_code. It is only used by the storage compatibility shim and for display.
const PendingSentinel = "None"

// NoTagSentinel is what the model answers when no scheme code applies.
const NoTagSentinel = "NULL"

// Topic is the root of a discussion
type Topic struct {
	TopicID int64  `json:"topic_id"`
	Title   string `json:"topic_title"`
	Content string `json:"topic_content"`
}

// Reply is a forum reply. ToReplyID == 0 marks a direct reply to the topic.
type Reply struct {
	ReplyID   int64  `json:"reply_id"`
	ToReplyID int64  `json:"to_reply_id"`
	TopicID   int64  `json:"topic_id"`
	UserName  string `json:"user_name"`
	Content   string `json:"reply_content"`
}

// IsFirstLevel reports whether the reply answers the topic directly
func (r Reply) IsFirstLevel() bool {
	return r.ToReplyID == 0
}

// CodingSchemeEntry defines one tag of the coding vocabulary
type CodingSchemeEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CodingScheme is the ordered tag vocabulary for a run
type CodingScheme []CodingSchemeEntry

// Codes returns the tag names in scheme order
func (s CodingScheme) Codes() []string {
	codes := make([]string, 0, len(s))
	for _, entry := range s {
		codes = append(codes, entry.Code)
	}
	return codes
}

// Has reports whether code is part of the scheme
func (s CodingScheme) Has(code string) bool {
	for _, entry := range s {
		if entry.Code == code {
			return true
		}
	}
	return false
}

// Validate checks that every code is non-empty and unique
func (s CodingScheme) Validate() error {
	if len(s) == 0 {
		return errors.New("coding scheme is empty")
	}
	seen := make(map[string]bool, len(s))
	for i, entry := range s {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return fmt.Errorf("coding scheme entry %d has an empty code", i+1)
		}
		if code == NoTagSentinel {
			return fmt.Errorf("coding scheme code %q is reserved", code)
		}
		if seen[code] {
			return fmt.Errorf("duplicate coding scheme code %q", code)
		}
		seen[code] = true
	}
	return nil
}

// PromptDraft is a rendered prompt that has not been stored yet
type PromptDraft struct {
	TopicID       int64
	ThreadReplyID int64
	ReplyIDs      []int64
	Content       string
}

// PromptRow is one unit of LLM work. Code is nil while the row is pending.
type PromptRow struct {
	RowID         int64   `json:"row_id"`
	TopicID       int64   `json:"topic_id"`
	ThreadReplyID int64   `json:"thread_reply_id"`
	Content       string  `json:"prompt_content"`
	Code          *string `json:"prompt_code,omitempty"`
	CodeRaw       *string `json:"prompt_code_raw,omitempty"`
}

// Pending reports whether the row still waits for a coding result
func (p PromptRow) Pending() bool {
	return p.Code == nil
}

// CodeOrSentinel returns the coded value, or PendingSentinel for a pending row
func (p PromptRow) CodeOrSentinel() string {
	if p.Code == nil {
		return PendingSentinel
	}
	return *p.Code
}

// CodingAssignment is one element of a parsed LLM answer
type CodingAssignment struct {
	ReplyID int64
	Tags    []string
	Reasons []string
}

// RunState is the lifecycle state of a dispatch run
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateStopped   RunState = "stopped"
)

// RunRecord is the persisted summary of a dispatch run
type RunRecord struct {
	RunID      string     `json:"run_id"`
	Mode       string     `json:"mode"`
	Model      string     `json:"model"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	State      RunState   `json:"state"`
	Requested  int        `json:"requested"`
	Coded      int        `json:"coded"`
	Failed     int        `json:"failed"`
}
