package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codingofficer/internal/config"
	"github.com/codingofficer/internal/naming"
	"github.com/codingofficer/internal/notify"
	"github.com/codingofficer/pkg/models"
)

const reasonSeparator = " | "

// utf8BOM precedes the header row
const utf8BOM = "\ufeff"

// Source is the part of the store the exporter reads
type Source interface {
	CodedPrompts(ctx context.Context) ([]models.PromptRow, error)
	Replies(ctx context.Context) ([]models.Reply, error)
	CodingScheme(ctx context.Context) (models.CodingScheme, error)
}

// Options controls parsing and where the file goes
type Options struct {
	Dir            string
	FileNameFormat string
	Repair         bool
	Language       string
	Model          string
	Now            func() time.Time
}

// OptionsFromConfig creates Options from the application configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dir:            cfg.Export.Dir,
		FileNameFormat: cfg.Export.FileNameFormat,
		Repair:         cfg.Export.RepairJSON,
		Language:       cfg.General.Language,
		Model:          cfg.LLM.Model,
	}
}

// Result summarises one export
type Result struct {
	Parsed         int     `json:"parsed"`
	Failed         int     `json:"failed"`
	FailedRows     []int64 `json:"failed_rows,omitempty"`
	Assignments    int     `json:"assignments"`
	TaggedReplies  int     `json:"tagged_replies"`
	UnknownTags    int     `json:"unknown_tags"`
	UnknownReplies int     `json:"unknown_replies"`
	Path           string  `json:"path,omitempty"`
}

// ReplyResult is one line of the output table
type ReplyResult struct {
	Reply   models.Reply
	Tags    map[string]bool
	Reasons []string
}

// Reason joins every collected reason
func (r ReplyResult) Reason() string {
	return strings.Join(r.Reasons, reasonSeparator)
}

// Table is the reply table augmented with one indicator per scheme code
type Table struct {
	Codes []string
	Rows  []*ReplyResult
}

// Header returns the output column names
func (t *Table) Header() []string {
	header := []string{"reply_id", "to_reply_id", "topic_id", "user_name", "reply_content"}
	header = append(header, t.Codes...)
	return append(header, "reason")
}

// WriteCSV writes the table as UTF-8 CSV with a byte order mark
func (t *Table) WriteCSV(w io.Writer) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := []string{
			strconv.FormatInt(row.Reply.ReplyID, 10),
			strconv.FormatInt(row.Reply.ToReplyID, 10),
			strconv.FormatInt(row.Reply.TopicID, 10),
			row.Reply.UserName,
			row.Reply.Content,
		}
		for _, code := range t.Codes {
			if row.Tags[code] {
				record = append(record, "1")
			} else {
				record = append(record, "0")
			}
		}
		record = append(record, row.Reason())
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Build merges every coded row onto the reply table. Rows are applied in
// row_id order: tags are unioned and reasons concatenated, so a reply that
// appears in several answers keeps everything it was given. A row that cannot
// be parsed counts as one failure and contributes nothing.
func Build(rows []models.PromptRow, replies []models.Reply, scheme models.CodingScheme, repair bool, sink notify.Sink) (*Table, *Result) {
	table := &Table{Codes: scheme.Codes(), Rows: make([]*ReplyResult, 0, len(replies))}
	byID := make(map[int64]*ReplyResult, len(replies))
	for _, reply := range replies {
		entry := &ReplyResult{Reply: reply, Tags: map[string]bool{}}
		table.Rows = append(table.Rows, entry)
		byID[reply.ReplyID] = entry
	}

	result := &Result{}
	for _, row := range rows {
		if row.Pending() {
			continue
		}
		assignments, err := ParseAssignments(*row.Code, repair)
		if err != nil {
			result.Failed++
			result.FailedRows = append(result.FailedRows, row.RowID)
			log.Warn().Err(err).Int64("row_id", row.RowID).Msg("Coded row could not be parsed")
			if sink != nil {
				sink.Notify(notify.Warning, notify.MsgExportRowInvalid, row.RowID, err.Error())
			}
			continue
		}
		result.Parsed++

		for _, a := range assignments {
			entry, ok := byID[a.ReplyID]
			if !ok {
				result.UnknownReplies++
				continue
			}
			result.Assignments++
			for _, tag := range a.Tags {
				if tag == models.NoTagSentinel {
					continue
				}
				if !scheme.Has(tag) {
					result.UnknownTags++
					continue
				}
				entry.Tags[tag] = true
			}
			entry.Reasons = append(entry.Reasons, a.Reasons...)
		}
	}

	for _, entry := range table.Rows {
		if len(entry.Tags) > 0 {
			result.TaggedReplies++
		}
	}
	return table, result
}

// Exporter turns stored answers into the result file
type Exporter struct {
	source Source
	sink   notify.Sink
	opts   Options
}

func NewExporter(source Source, sink notify.Sink, opts Options) *Exporter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FileNameFormat == "" {
		opts.FileNameFormat = "coding_result_{date}_{time}.csv"
	}
	return &Exporter{source: source, sink: sink, opts: opts}
}

// Build reads the store and merges the answers without writing anything
func (e *Exporter) Build(ctx context.Context) (*Table, *Result, error) {
	rows, err := e.source.CodedPrompts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load coded prompts: %w", err)
	}
	replies, err := e.source.Replies(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load replies: %w", err)
	}
	scheme, err := e.source.CodingScheme(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load coding scheme: %w", err)
	}

	table, result := Build(rows, replies, scheme, e.opts.Repair, e.sink)
	e.notify(notify.Notice, notify.MsgExportFinished, result.Parsed, result.Failed)
	log.Info().
		Int("parsed", result.Parsed).
		Int("failed", result.Failed).
		Int("unknown_tags", result.UnknownTags).
		Int("unknown_replies", result.UnknownReplies).
		Msg("Coding results parsed")
	return table, result, nil
}

// Export writes the result file. An empty path means a file named after
// FileNameFormat inside Dir.
func (e *Exporter) Export(ctx context.Context, path string) (*Result, error) {
	if path == "" {
		var err error
		if path, err = e.DefaultPath(""); err != nil {
			return nil, err
		}
	}

	table, result, err := e.Build(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeFile(path, table); err != nil {
		return nil, err
	}
	result.Path = path
	e.notify(notify.Notice, notify.MsgExportWritten, path)
	return result, nil
}

// DefaultPath renders the configured file name inside the export directory
func (e *Exporter) DefaultPath(runID string) (string, error) {
	name, err := naming.Render(e.opts.FileNameFormat, naming.Fields{
		Time:     e.opts.Now(),
		Model:    e.opts.Model,
		RunID:    runID,
		Language: e.opts.Language,
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(e.opts.Dir, name), nil
}

func (e *Exporter) notify(sev notify.Severity, key notify.MessageKey, args ...interface{}) {
	if e.sink != nil {
		e.sink.Notify(sev, key, args...)
	}
}

// writeFile writes through a temporary file so a failed export never leaves a
// truncated result behind
func writeFile(path string, table *Table) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.csv")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := table.WriteCSV(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move export file into place: %w", err)
	}
	return nil
}
