package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codingofficer/internal/database"
	"github.com/codingofficer/internal/notify"
	"github.com/codingofficer/pkg/models"
)

func coded(rowID int64, code string) models.PromptRow {
	return models.PromptRow{RowID: rowID, Content: "prompt", Code: &code, CodeRaw: &code}
}

var (
	testScheme = models.CodingScheme{
		{Code: "Q", Description: "question"},
		{Code: "A", Description: "answer"},
	}
	testReplies = []models.Reply{
		{ReplyID: 10, TopicID: 1, UserName: "alice", Content: "why?"},
		{ReplyID: 11, ToReplyID: 10, TopicID: 1, UserName: "bob", Content: "because, \"quoted\""},
		{ReplyID: 12, TopicID: 1, UserName: "carol", Content: "line\nbreak"},
	}
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		repair  bool
		want    []models.CodingAssignment
		wantErr bool
	}{
		{
			name: "canonical",
			code: `[{"reply_id":"10","tags":["Q"],"reason":["asks"]}]`,
			want: []models.CodingAssignment{{ReplyID: 10, Tags: []string{"Q"}, Reasons: []string{"asks"}}},
		},
		{
			name: "numeric id and single strings",
			code: `[{"reply_id":11,"tags":"A","reason":"answers"}]`,
			want: []models.CodingAssignment{{ReplyID: 11, Tags: []string{"A"}, Reasons: []string{"answers"}}},
		},
		{
			name: "float id in fence",
			code: "```json\n[{\"reply_id\":\"12.0\",\"tags\":[\"NULL\"],\"reason\":[]}]\n```",
			want: []models.CodingAssignment{{ReplyID: 12, Tags: []string{"NULL"}, Reasons: []string{}}},
		},
		{
			name: "missing tags",
			code: `[{"reply_id":"10"}]`,
			want: []models.CodingAssignment{{ReplyID: 10}},
		},
		{name: "object instead of array", code: `{"reply_id":"10","tags":["Q"]}`, wantErr: true},
		{name: "prose", code: `I could not classify these replies.`, wantErr: true},
		{name: "trailing comma strict", code: `[{"reply_id":"10","tags":["Q",],"reason":[]}]`, wantErr: true},
		{
			name:   "trailing comma repaired",
			code:   `[{"reply_id":"10","tags":["Q",],"reason":[]}]`,
			repair: true,
			want:   []models.CodingAssignment{{ReplyID: 10, Tags: []string{"Q"}, Reasons: []string{}}},
		},
		{name: "missing reply id", code: `[{"tags":["Q"]}]`, wantErr: true},
		{name: "bad reply id", code: `[{"reply_id":"ten","tags":["Q"]}]`, wantErr: true},
		{name: "tags of numbers", code: `[{"reply_id":"10","tags":[1,2]}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.code, tt.repair)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("assignments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_OneMalformedRow(t *testing.T) {
	rows := []models.PromptRow{
		coded(1, `[{"reply_id":"10","tags":["Q"],"reason":["asks why"]},{"reply_id":"11","tags":["A"],"reason":["explains"]}]`),
		coded(2, `[{"reply_id":"12","tags":["Q"],"reason":["oops"]`),
	}
	hub := notify.NewHub("en")

	table, result := Build(rows, testReplies, testScheme, false, hub)

	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []int64{2}, result.FailedRows)
	assert.Equal(t, 2, result.TaggedReplies)

	assert.Equal(t, map[string]bool{"Q": true}, table.Rows[0].Tags)
	assert.Equal(t, map[string]bool{"A": true}, table.Rows[1].Tags)
	assert.Empty(t, table.Rows[2].Tags)
	assert.Equal(t, "asks why", table.Rows[0].Reason())

	lines := hub.Lines(0)
	require.Len(t, lines, 1)
	assert.Equal(t, notify.Warning, lines[0].Severity)
	assert.Contains(t, lines[0].Text, "2")
}

func TestBuild_RepairRecoversRow(t *testing.T) {
	rows := []models.PromptRow{coded(2, `[{"reply_id":"12","tags":["Q"],"reason":["truncated`)}

	_, strict := Build(rows, testReplies, testScheme, false, nil)
	assert.Equal(t, 1, strict.Failed)

	table, repaired := Build(rows, testReplies, testScheme, true, nil)
	assert.Equal(t, 1, repaired.Parsed)
	assert.Equal(t, 0, repaired.Failed)
	assert.True(t, table.Rows[2].Tags["Q"])
	assert.Equal(t, "truncated", table.Rows[2].Reason())
}

func TestBuild_MergesAcrossRows(t *testing.T) {
	rows := []models.PromptRow{
		coded(1, `[{"reply_id":"10","tags":["Q"],"reason":["first"]}]`),
		coded(2, `[{"reply_id":"10","tags":["A","Q"],"reason":["second","third"]}]`),
	}

	table, _ := Build(rows, testReplies, testScheme, false, nil)
	assert.Equal(t, map[string]bool{"Q": true, "A": true}, table.Rows[0].Tags)
	assert.Equal(t, "first | second | third", table.Rows[0].Reason())
}

func TestBuild_UnknownTagsAndReplies(t *testing.T) {
	rows := []models.PromptRow{
		coded(1, `[{"reply_id":"10","tags":["NULL"],"reason":["nothing fits"]},`+
			`{"reply_id":"11","tags":["Z","A"],"reason":["r"]},`+
			`{"reply_id":"99","tags":["Q"],"reason":["ghost"]}]`),
		{RowID: 2, Content: "pending"},
	}

	table, result := Build(rows, testReplies, testScheme, false, nil)
	assert.Equal(t, 1, result.Parsed)
	// only Z; the NULL sentinel is not an unknown tag
	assert.Equal(t, 1, result.UnknownTags)
	assert.Equal(t, 1, result.UnknownReplies)
	assert.Equal(t, 2, result.Assignments)

	assert.Empty(t, table.Rows[0].Tags)
	assert.Equal(t, "nothing fits", table.Rows[0].Reason())
	assert.Equal(t, map[string]bool{"A": true}, table.Rows[1].Tags)
	assert.Equal(t, []string{"reply_id", "to_reply_id", "topic_id", "user_name", "reply_content", "Q", "A", "reason"}, table.Header())
}

func TestTable_WriteCSV(t *testing.T) {
	rows := []models.PromptRow{coded(1, `[{"reply_id":"11","tags":["A"],"reason":["a","b"]}]`)}
	table, _ := Build(rows, testReplies, testScheme, false, nil)

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf))
	require.True(t, strings.HasPrefix(buf.String(), utf8BOM))

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), utf8BOM))).ReadAll()
	require.NoError(t, err)

	want := [][]string{
		{"reply_id", "to_reply_id", "topic_id", "user_name", "reply_content", "Q", "A", "reason"},
		{"10", "0", "1", "alice", "why?", "0", "0", ""},
		{"11", "10", "1", "bob", "because, \"quoted\"", "0", "1", "a | b"},
		{"12", "0", "1", "carol", "line\nbreak", "0", "0", ""},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestExporter_ExportFromStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := database.Open(ctx, filepath.Join(dir, "coding.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.ReplaceCorpus(ctx, []models.Topic{{TopicID: 1, Title: "t"}}, testReplies, testScheme))
	require.NoError(t, store.ReplacePrompts(ctx, []models.PromptDraft{
		{TopicID: 1, ThreadReplyID: 10, ReplyIDs: []int64{10, 11}, Content: "p1"},
		{TopicID: 1, ThreadReplyID: 12, ReplyIDs: []int64{12}, Content: "p2"},
	}))
	require.NoError(t, store.SavePromptCode(ctx, 1, `[{"reply_id":"10","tags":["Q"],"reason":["asks"]}]`, "{}"))
	require.NoError(t, store.SavePromptCode(ctx, 2, `not json`, "{}"))

	hub := notify.NewHub("en")
	exporter := NewExporter(store, hub, Options{
		Dir:            filepath.Join(dir, "out"),
		FileNameFormat: "result_{date}_{model}.csv",
		Model:          "gpt/4o",
		Now:            func() time.Time { return time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC) },
	})

	result, err := exporter.Export(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "result_20240309_gpt-4o.csv"), result.Path)
	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 1, result.Failed)

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10,0,1,alice,why?,1,0,asks")

	var keys []string
	for _, line := range hub.Lines(0) {
		keys = append(keys, line.Key)
	}
	assert.Equal(t, []string{
		string(notify.MsgExportRowInvalid),
		string(notify.MsgExportFinished),
		string(notify.MsgExportWritten),
	}, keys)

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExporter_BadFileNameFormat(t *testing.T) {
	exporter := NewExporter(nil, nil, Options{Dir: t.TempDir(), FileNameFormat: "{nope}.csv"})
	_, err := exporter.Export(context.Background(), "")
	assert.Error(t, err)
}
