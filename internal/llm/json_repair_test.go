package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	valid := `[{"reply_id":"1","tags":["Q"],"reason":["asks"]}]`

	repaired, stats, err := RepairJSON(valid)
	require.NoError(t, err)
	assert.False(t, stats.WasRepaired)
	assert.Equal(t, valid, repaired)
	assert.Equal(t, len(valid), stats.OriginalBytes)
	assert.Equal(t, len(valid), stats.RepairedBytes)
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	malformed := `[{"reply_id":"1","tags":["Q",],"reason":["r"],}]`

	repaired, stats, err := RepairJSON(malformed)
	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.Equal(t, `[{"reply_id":"1","tags":["Q"],"reason":["r"]}]`, repaired)
	assert.Equal(t, []string{"trailing_commas"}, stats.RepairStrategies)
	assert.Equal(t, 1, stats.ErrorsFixed)
}

func TestRepairJSON_TruncatedAnswer(t *testing.T) {
	malformed := `[{"reply_id":"1","tags":["Q"],"reason":["because`

	repaired, stats, err := RepairJSON(malformed)
	require.NoError(t, err)
	assert.Equal(t, `[{"reply_id":"1","tags":["Q"],"reason":["because"]}]`, repaired)
	assert.Contains(t, stats.RepairStrategies, "completion")
}

func TestRepairJSON_CommentsKeepURLs(t *testing.T) {
	malformed := "[\n  // first reply\n  {\"reply_id\": \"1\", \"tags\": [\"Q\"], \"reason\": [\"see http://x.y\"]} /* note */\n]"

	repaired, stats, err := RepairJSON(malformed)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CommentsLost)
	assert.Contains(t, repaired, "http://x.y")

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Len(t, out, 1)
}

func TestRepairJSON_UnquotedKeysAndSingleQuotes(t *testing.T) {
	malformed := `[{reply_id: '1', tags: ['Q'], reason: ['r']}]`

	repaired, stats, err := RepairJSON(malformed)
	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.Contains(t, stats.RepairStrategies, "key_quotes")
	assert.Contains(t, stats.RepairStrategies, "single_quotes")
	assert.True(t, json.Valid([]byte(repaired)))
}

func TestRepairJSON_SmartQuotes(t *testing.T) {
	malformed := `[{“reply_id”:“1”,“tags”:[“Q”],“reason”:[“r”]}]`

	repaired, stats, err := RepairJSON(malformed)
	require.NoError(t, err)
	assert.Equal(t, []string{"smart_quotes"}, stats.RepairStrategies)
	assert.Equal(t, `[{"reply_id":"1","tags":["Q"],"reason":["r"]}]`, repaired)
}

func TestRepairJSON_LibraryFallback(t *testing.T) {
	// missing comma between elements is left to the library
	malformed := `[{"reply_id":"1","tags":["Q"],"reason":["a"]} {"reply_id":"2","tags":["A"],"reason":["b"]}]`

	repaired, stats, err := RepairJSON(malformed)
	require.NoError(t, err)
	assert.Contains(t, stats.RepairStrategies, "jsonrepair_library")

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Len(t, out, 2)
}

func TestRepairJSON_Performance(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 200; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf(`{"reply_id":"%d","tags":["Q"],"reason":["r"]}`, i))
	}
	sb.WriteString("]")
	large := sb.String()

	start := time.Now()
	repaired, _, err := RepairJSON(large)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, large, repaired)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain array", ` [{"reply_id":"1"}] `, `[{"reply_id":"1"}]`},
		{"json fence", "```json\n[{\"reply_id\":\"1\"}]\n```", `[{"reply_id":"1"}]`},
		{"bare fence with prose", "Here you go:\n```\n[1]\n```\nthanks", `[1]`},
		{"leading prose", `Result: [{"reason":["a ] bracket"]}] done`, `[{"reason":["a ] bracket"]}]`},
		{"unterminated", `Result: [{"a":1}`, `[{"a":1}`},
		{"no json", "I cannot help with that.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.raw))
		})
	}
}

func TestPrepareJSON(t *testing.T) {
	raw := "```json\n[{\"reply_id\":\"1\",\"tags\":[\"Q\",],\"reason\":[\"r\"]}]\n```"

	assert.Equal(t, `[{"reply_id":"1","tags":["Q",],"reason":["r"]}]`, PrepareJSON(raw, false))
	assert.Equal(t, `[{"reply_id":"1","tags":["Q"],"reason":["r"]}]`, PrepareJSON(raw, true))
	assert.Equal(t, "", PrepareJSON("nothing here", true))
}
