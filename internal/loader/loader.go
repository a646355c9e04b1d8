package loader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/codingofficer/pkg/models"
)

// Corpus is everything a load step produces
type Corpus struct {
	Topics  []models.Topic
	Replies []models.Reply
	Scheme  models.CodingScheme
}

// LoadCorpus reads the three input files
func LoadCorpus(topicsPath, repliesPath, schemePath string) (*Corpus, error) {
	topics, err := readFile(topicsPath, ReadTopics)
	if err != nil {
		return nil, err
	}
	replies, err := readFile(repliesPath, ReadReplies)
	if err != nil {
		return nil, err
	}
	scheme, err := readFile(schemePath, ReadScheme)
	if err != nil {
		return nil, err
	}
	if err := scheme.Validate(); err != nil {
		return nil, fmt.Errorf("coding scheme %q: %w", schemePath, err)
	}
	return &Corpus{Topics: topics, Replies: replies, Scheme: scheme}, nil
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(path) == "" {
		return zero, errors.New("input file path is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	out, err := read(file)
	if err != nil {
		return zero, fmt.Errorf("read %q: %w", path, err)
	}
	return out, nil
}

// ReadTopics parses topic_id, topic_title, topic_content columns
func ReadTopics(r io.Reader) ([]models.Topic, error) {
	var topics []models.Topic
	err := readRecords(r, []string{"topic_id", "topic_title", "topic_content"},
		func(row record) error {
			id, err := row.id("topic_id")
			if err != nil {
				return err
			}
			topics = append(topics, models.Topic{
				TopicID: id,
				Title:   row.text("topic_title"),
				Content: row.text("topic_content"),
			})
			return nil
		})
	return topics, err
}

// ReadReplies parses reply rows. to_reply_id is optional; empty, 0 and NaN
// all mean a direct reply to the topic.
func ReadReplies(r io.Reader) ([]models.Reply, error) {
	var replies []models.Reply
	err := readRecords(r, []string{"reply_id", "topic_id", "user_name", "reply_content"},
		func(row record) error {
			id, err := row.id("reply_id")
			if err != nil {
				return err
			}
			topicID, err := row.id("topic_id")
			if err != nil {
				return err
			}
			parent, err := row.optionalID("to_reply_id")
			if err != nil {
				return err
			}
			replies = append(replies, models.Reply{
				ReplyID:   id,
				ToReplyID: parent,
				TopicID:   topicID,
				UserName:  row.text("user_name"),
				Content:   row.text("reply_content"),
			})
			return nil
		})
	return replies, err
}

// ReadScheme parses code, description columns
func ReadScheme(r io.Reader) (models.CodingScheme, error) {
	var scheme models.CodingScheme
	err := readRecords(r, []string{"code"},
		func(row record) error {
			code := strings.TrimSpace(row.text("code"))
			if code == "" {
				return nil
			}
			scheme = append(scheme, models.CodingSchemeEntry{
				Code:        code,
				Description: row.text("description"),
			})
			return nil
		})
	return scheme, err
}

type record struct {
	line   int
	values []string
	index  map[string]int
}

func (r record) text(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.values) {
		return ""
	}
	return r.values[i]
}

func (r record) id(column string) (int64, error) {
	raw := strings.TrimSpace(r.text(column))
	if raw == "" {
		return 0, fmt.Errorf("line %d: %s is empty", r.line, column)
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("line %d: %s %q: %w", r.line, column, raw, err)
	}
	return id, nil
}

func (r record) optionalID(column string) (int64, error) {
	raw := strings.TrimSpace(r.text(column))
	switch strings.ToLower(raw) {
	case "", "nan", "none", "null":
		return 0, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("line %d: %s %q: %w", r.line, column, raw, err)
	}
	return id, nil
}

// parseID accepts integers and integral floats such as "123.0", which is how
// spreadsheet exports write id columns that contain blanks.
func parseID(raw string) (int64, error) {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, errors.New("not an integer id")
	}
	return int64(f), nil
}

func readRecords(r io.Reader, required []string, fn func(record) error) error {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty csv")
		}
		return fmt.Errorf("header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, column := range required {
		if _, ok := index[column]; !ok {
			return fmt.Errorf("missing column %q", column)
		}
	}

	line := 1
	for {
		values, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("row: %w", err)
		}
		line++
		if isBlank(values) {
			continue
		}
		if err := fn(record{line: line, values: values, index: index}); err != nil {
			return err
		}
	}
}

func isBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return br
}
