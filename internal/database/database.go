package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codingofficer/pkg/models"
)

var (
	ErrEmptyCode      = errors.New("prompt code must not be empty")
	ErrPromptNotFound = errors.New("prompt row not found")
	ErrAlreadyCoded   = errors.New("prompt row is already coded")
)

// Store is the embedded SQLite database holding the corpus, the prompts and
// their coding results. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and creates if needed) the database at path
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// ReplaceCorpus swaps topics, replies and the coding scheme in one transaction
func (s *Store) ReplaceCorpus(ctx context.Context, topics []models.Topic, replies []models.Reply, scheme models.CodingScheme) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace corpus: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"topic", "reply", "coding_scheme"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	topicStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO topic (topic_id, topic_title, topic_content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare topic insert: %w", err)
	}
	defer topicStmt.Close()
	for _, t := range topics {
		if _, err := topicStmt.ExecContext(ctx, t.TopicID, t.Title, t.Content); err != nil {
			return fmt.Errorf("insert topic %d: %w", t.TopicID, err)
		}
	}

	replyStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reply (reply_id, to_reply_id, topic_id, user_name, reply_content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare reply insert: %w", err)
	}
	defer replyStmt.Close()
	for _, r := range replies {
		if _, err := replyStmt.ExecContext(ctx, r.ReplyID, r.ToReplyID, r.TopicID, r.UserName, r.Content); err != nil {
			return fmt.Errorf("insert reply %d: %w", r.ReplyID, err)
		}
	}

	for i, entry := range scheme {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO coding_scheme (position, code, description) VALUES (?, ?, ?)`,
			i, entry.Code, entry.Description); err != nil {
			return fmt.Errorf("insert code %q: %w", entry.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace corpus: %w", err)
	}
	return nil
}

// ReplacePrompts discards every prompt row and stores drafts as pending rows.
// Row ids are assigned in draft order starting at 1.
func (s *Store) ReplacePrompts(ctx context.Context, drafts []models.PromptDraft) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace prompts: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt`); err != nil {
		return fmt.Errorf("clear prompts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO prompt (row_id, topic_id, thread_reply_id, prompt_content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare prompt insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range drafts {
		if _, err := stmt.ExecContext(ctx, i+1, d.TopicID, d.ThreadReplyID, d.Content); err != nil {
			return fmt.Errorf("insert prompt %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace prompts: %w", err)
	}
	return nil
}

const selectPromptColumns = `row_id, topic_id, thread_reply_id, prompt_content, prompt_code, prompt_code_raw`

// PendingPrompts returns up to limit pending rows in row order; limit < 0 means all
func (s *Store) PendingPrompts(ctx context.Context, limit int) ([]models.PromptRow, error) {
	if limit < 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectPromptColumns+` FROM prompt WHERE prompt_code IS NULL ORDER BY row_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending prompts: %w", err)
	}
	return scanPrompts(rows)
}

// CodedPrompts returns every coded row in row order
func (s *Store) CodedPrompts(ctx context.Context) ([]models.PromptRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectPromptColumns+` FROM prompt WHERE prompt_code IS NOT NULL ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("query coded prompts: %w", err)
	}
	return scanPrompts(rows)
}

// GetPrompt returns one row by id
func (s *Store) GetPrompt(ctx context.Context, rowID int64) (*models.PromptRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectPromptColumns+` FROM prompt WHERE row_id = ?`, rowID)
	if err != nil {
		return nil, fmt.Errorf("query prompt %d: %w", rowID, err)
	}
	out, err := scanPrompts(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrPromptNotFound, rowID)
	}
	return &out[0], nil
}

func scanPrompts(rows *sql.Rows) ([]models.PromptRow, error) {
	defer rows.Close()

	var out []models.PromptRow
	for rows.Next() {
		var (
			p       models.PromptRow
			code    sql.NullString
			codeRaw sql.NullString
		)
		if err := rows.Scan(&p.RowID, &p.TopicID, &p.ThreadReplyID, &p.Content, &code, &codeRaw); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		if code.Valid {
			p.Code = &code.String
		}
		if codeRaw.Valid {
			p.CodeRaw = &codeRaw.String
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return out, nil
}

// SavePromptCode moves one pending row to coded. It is a single-row UPDATE
// that only matches while the row is still pending, so a coded row is never
// overwritten.
func (s *Store) SavePromptCode(ctx context.Context, rowID int64, code, raw string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE prompt SET prompt_code = ?, prompt_code_raw = ? WHERE row_id = ? AND prompt_code IS NULL`,
		code, raw, rowID)
	if err != nil {
		return fmt.Errorf("update prompt %d: %w", rowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update prompt %d: %w", rowID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt WHERE row_id = ?`, rowID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check prompt %d: %w", rowID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %d", ErrPromptNotFound, rowID)
	}
	return fmt.Errorf("%w: %d", ErrAlreadyCoded, rowID)
}

// CountPrompts returns the number of coded and pending rows
func (s *Store) CountPrompts(ctx context.Context) (coded, pending int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN prompt_code IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN prompt_code IS NULL THEN 1 ELSE 0 END), 0)
		FROM prompt`).Scan(&coded, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count prompts: %w", err)
	}
	return coded, pending, nil
}

// Topics returns topics in load order
func (s *Store) Topics(ctx context.Context) ([]models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic_id, topic_title, topic_content FROM topic ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var out []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.TopicID, &t.Title, &t.Content); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Replies returns replies in load order
func (s *Store) Replies(ctx context.Context) ([]models.Reply, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reply_id, to_reply_id, topic_id, user_name, reply_content FROM reply ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	defer rows.Close()

	var out []models.Reply
	for rows.Next() {
		var r models.Reply
		if err := rows.Scan(&r.ReplyID, &r.ToReplyID, &r.TopicID, &r.UserName, &r.Content); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CodingScheme returns the scheme in load order
func (s *Store) CodingScheme(ctx context.Context) (models.CodingScheme, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, description FROM coding_scheme ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query coding scheme: %w", err)
	}
	defer rows.Close()

	var out models.CodingScheme
	for rows.Next() {
		var e models.CodingSchemeEntry
		if err := rows.Scan(&e.Code, &e.Description); err != nil {
			return nil, fmt.Errorf("scan coding scheme: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StartRun persists a new run record
func (s *Store) StartRun(ctx context.Context, run models.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coding_run (run_id, mode, model, started_at, state, requested)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Mode, run.Model, run.StartedAt.UTC().Format(time.RFC3339Nano), string(run.State), run.Requested)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun records the final state and counters of a run
func (s *Store) FinishRun(ctx context.Context, runID string, state models.RunState, coded, failed int, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE coding_run SET state = ?, coded = ?, failed = ?, finished_at = ? WHERE run_id = ?`,
		string(state), coded, failed, finishedAt.UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// RecentRuns returns the n most recently started runs, newest first
func (s *Store) RecentRuns(ctx context.Context, n int) ([]models.RunRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, model, started_at, finished_at, state, requested, coded, failed
		FROM coding_run ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var (
			r        models.RunRecord
			started  string
			finished sql.NullString
			state    string
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &r.Model, &started, &finished, &state, &r.Requested, &r.Coded, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State = models.RunState(state)
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		if finished.Valid {
			if t, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
				r.FinishedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
