package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedHub(lang string) *Hub {
	h := NewHub(lang)
	h.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return h
}

func TestHub_NotifyFormatsAndStores(t *testing.T) {
	h := fixedHub("en")
	h.Notify(Notice, MsgRowCoded, 12)
	h.Notify(Warning, MsgRowFailed, 13, "authentication", 401, "bad key")

	lines := h.Lines(0)
	require.Len(t, lines, 2)
	assert.Equal(t, "[Notice] [2024-05-06 07:08:09] Row 12 coded", lines[0].String())
	assert.Equal(t, Warning, lines[1].Severity)
	assert.Equal(t, "Row 13 failed (authentication, HTTP 401): bad key", lines[1].Text)
	assert.Equal(t, uint64(2), lines[1].Seq)

	assert.Len(t, h.Lines(1), 1)
	assert.Empty(t, h.Lines(2))
	assert.Empty(t, h.Lines(99))
}

func TestHub_Chinese(t *testing.T) {
	h := fixedHub("zh")
	h.Notify(Notice, MsgRunCompleted, 4, 0)
	assert.Equal(t, "编码结束：已编码 4 条，剩余 0 条", h.Lines(0)[0].Text)
}

func TestCatalog_Fallbacks(t *testing.T) {
	c := Catalog{"en": {MsgRowCoded: "Row %d coded"}}
	assert.Equal(t, "Row 1 coded", c.Format("fr", MsgRowCoded, 1))
	assert.Equal(t, "unknown_key", c.Format("en", "unknown_key"))
	assert.Equal(t, "unknown_key [3]", c.Format("en", "unknown_key", 3))
}

func TestCatalog_LanguagesCoverSameKeys(t *testing.T) {
	for key := range DefaultCatalog["en"] {
		_, ok := DefaultCatalog["zh"][key]
		assert.True(t, ok, "zh is missing %s", key)
	}
	assert.Equal(t, len(DefaultCatalog["en"]), len(DefaultCatalog["zh"]))
}

func TestHub_RunningAndProgress(t *testing.T) {
	h := NewHub("en")
	assert.False(t, h.Running())

	h.SetRunning(true)
	h.AddProgress(1)
	h.AddProgress(2)
	assert.True(t, h.Running())
	assert.Equal(t, 3, h.Progress())

	h.SetRunning(false)
	assert.Equal(t, 3, h.Progress(), "progress survives the end of a run")

	h.SetRunning(true)
	assert.Equal(t, 0, h.Progress(), "a new run starts from zero")
}

func TestHub_Subscribe(t *testing.T) {
	h := NewHub("en")
	ch, cancel := h.Subscribe(1)

	h.Notify(Notice, MsgNoPendingRows)
	h.Notify(Notice, MsgNoPendingRows) // dropped, buffer full

	line := <-ch
	assert.Equal(t, uint64(1), line.Seq)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	h.Notify(Notice, MsgNoPendingRows)
	assert.Len(t, h.Lines(0), 3)
}
