package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codingofficer/pkg/models"
)

func TestReadTopics(t *testing.T) {
	input := "\ufeff,topic_id,topic_title,topic_content\n" +
		"0,1,Hello,\"First, topic\"\n" +
		"1,2.0,Second,\n"

	topics, err := ReadTopics(strings.NewReader(input))
	require.NoError(t, err)

	want := []models.Topic{
		{TopicID: 1, Title: "Hello", Content: "First, topic"},
		{TopicID: 2, Title: "Second", Content: ""},
	}
	if diff := cmp.Diff(want, topics); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}
}

func TestReadReplies_ParentVariants(t *testing.T) {
	input := "reply_id,to_reply_id,topic_id,user_name,reply_content\n" +
		"10,,1,alice,top\n" +
		"11,10.0,1,bob,child\n" +
		"12,nan,1,carol,another top\n" +
		"13,0,1,dave,zero parent\n" +
		",,,,\n"

	replies, err := ReadReplies(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, replies, 4)

	assert.True(t, replies[0].IsFirstLevel())
	assert.Equal(t, int64(10), replies[1].ToReplyID)
	assert.True(t, replies[2].IsFirstLevel())
	assert.True(t, replies[3].IsFirstLevel())
	assert.Equal(t, "bob", replies[1].UserName)
}

func TestReadReplies_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty csv"},
		{"missing column", "reply_id,topic_id,user_name\n1,1,a\n", `missing column "reply_content"`},
		{"bad id", "reply_id,topic_id,user_name,reply_content\nabc,1,a,b\n", "reply_id"},
		{"fractional id", "reply_id,topic_id,user_name,reply_content\n1.5,1,a,b\n", "not an integer id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReplies(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadScheme(t *testing.T) {
	input := "code,description\nQ,Question\n,ignored\nA,\"Answer | with pipe\"\n"

	scheme, err := ReadScheme(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"Q", "A"}, scheme.Codes())
	assert.Equal(t, "Answer | with pipe", scheme[1].Description)
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	topics := write("topics.csv", "topic_id,topic_title,topic_content\n1,T,C\n")
	replies := write("replies.csv", "reply_id,to_reply_id,topic_id,user_name,reply_content\n10,,1,u,r\n")
	scheme := write("scheme.csv", "code,description\nQ,Question\n")

	corpus, err := LoadCorpus(topics, replies, scheme)
	require.NoError(t, err)
	assert.Len(t, corpus.Topics, 1)
	assert.Len(t, corpus.Replies, 1)
	assert.Len(t, corpus.Scheme, 1)

	dup := write("dup.csv", "code,description\nQ,a\nQ,b\n")
	_, err = LoadCorpus(topics, replies, dup)
	assert.ErrorContains(t, err, "duplicate")

	_, err = LoadCorpus(topics, filepath.Join(dir, "missing.csv"), scheme)
	assert.Error(t, err)
}
