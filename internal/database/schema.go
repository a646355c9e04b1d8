package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codingofficer/pkg/models"
)

const createTopicTableSQL = `
CREATE TABLE IF NOT EXISTS topic (
	topic_id INTEGER NOT NULL,
	topic_title TEXT NOT NULL DEFAULT '',
	topic_content TEXT NOT NULL DEFAULT ''
)`

const createReplyTableSQL = `
CREATE TABLE IF NOT EXISTS reply (
	reply_id INTEGER NOT NULL,
	to_reply_id INTEGER NOT NULL DEFAULT 0,
	topic_id INTEGER NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	reply_content TEXT NOT NULL DEFAULT ''
)`

const createCodingSchemeTableSQL = `
CREATE TABLE IF NOT EXISTS coding_scheme (
	position INTEGER PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT ''
)`

// prompt_code is NULL while the row is pending and never an empty string.
const createPromptTableSQL = `
CREATE TABLE IF NOT EXISTS prompt (
	row_id INTEGER PRIMARY KEY,
	topic_id INTEGER NOT NULL DEFAULT 0,
	thread_reply_id INTEGER NOT NULL DEFAULT 0,
	prompt_content TEXT NOT NULL,
	prompt_code TEXT NULL CHECK (prompt_code IS NULL OR length(prompt_code) > 0),
	prompt_code_raw TEXT NULL
)`

const createCodingRunTableSQL = `
CREATE TABLE IF NOT EXISTS coding_run (
	run_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	model TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NULL,
	state TEXT NOT NULL,
	requested INTEGER NOT NULL DEFAULT 0,
	coded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
)`

const createPromptPendingIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_prompt_pending ON prompt(row_id) WHERE prompt_code IS NULL`

func (s *Store) migrate(ctx context.Context) error {
	if err := s.upgradeLegacyPromptTable(ctx); err != nil {
		return err
	}

	statements := []string{
		createTopicTableSQL,
		createReplyTableSQL,
		createCodingSchemeTableSQL,
		createPromptTableSQL,
		createCodingRunTableSQL,
		createPromptPendingIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	return s.normalizeLegacySentinel(ctx)
}

// normalizeLegacySentinel rewrites the "None" placeholder older databases
// stored in the code columns to NULL.
func (s *Store) normalizeLegacySentinel(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prompt SET prompt_code = NULL WHERE prompt_code = ?`, models.PendingSentinel)
	if err != nil {
		return fmt.Errorf("normalize prompt_code: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE prompt SET prompt_code_raw = NULL WHERE prompt_code_raw = ?`, models.PendingSentinel); err != nil {
		return fmt.Errorf("normalize prompt_code_raw: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Info().Int64("rows", n).Msg("Converted legacy pending markers to NULL")
	}
	return nil
}

// upgradeLegacyPromptTable converts a prompt table written by the desktop
// application (index, prompt_content, prompt_code, prompt_code_orign) into
// the current layout, keeping row order and coded results.
func (s *Store) upgradeLegacyPromptTable(ctx context.Context) error {
	columns, err := tableColumns(ctx, s.db, "prompt")
	if err != nil {
		return err
	}
	if len(columns) == 0 || columns["row_id"] {
		return nil
	}
	if !columns["prompt_content"] || !columns["prompt_code"] {
		return fmt.Errorf("prompt table has an unknown layout")
	}

	rawColumn := "NULL"
	switch {
	case columns["prompt_code_raw"]:
		rawColumn = "prompt_code_raw"
	case columns["prompt_code_orign"]:
		rawColumn = "prompt_code_orign"
	}
	orderColumn := "rowid"
	if columns["index"] {
		orderColumn = `"index"`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin legacy upgrade: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`ALTER TABLE prompt RENAME TO prompt_legacy`,
		createPromptTableSQL,
		fmt.Sprintf(`INSERT INTO prompt (prompt_content, prompt_code, prompt_code_raw)
			SELECT prompt_content,
				NULLIF(NULLIF(prompt_code, '%[1]s'), ''),
				NULLIF(%[2]s, '%[1]s')
			FROM prompt_legacy ORDER BY %[3]s`, models.PendingSentinel, rawColumn, orderColumn),
		`DROP TABLE prompt_legacy`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("upgrade legacy prompt table: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit legacy upgrade: %w", err)
	}

	log.Info().Msg("Upgraded legacy prompt table")
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		columns[strings.ToLower(name)] = true
	}
	return columns, rows.Err()
}
