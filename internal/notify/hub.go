package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity classifies a status line
type Severity string

const (
	Notice  Severity = "Notice"
	Warning Severity = "Warning"
	Error   Severity = "Error"
)

// Line is one timestamped status line
type Line struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Key      string    `json:"key"`
	Text     string    `json:"text"`
}

func (l Line) String() string {
	return fmt.Sprintf("[%s] [%s] %s", l.Severity, l.Time.Format("2006-01-02 15:04:05"), l.Text)
}

// Sink receives status lines, the running signal and progress deltas
type Sink interface {
	Notify(sev Severity, key MessageKey, args ...interface{})
	SetRunning(running bool)
	AddProgress(delta int)
}

// Hub is the in-process Sink. It keeps the full history and fans every line
// out to subscribers without blocking on slow readers.
type Hub struct {
	lang    string
	catalog Catalog
	now     func() time.Time

	mutex       sync.RWMutex
	lines       []Line
	seq         uint64
	running     bool
	progress    int
	subscribers map[int]chan Line
	nextSubID   int
}

// NewHub creates a hub that renders lines in lang
func NewHub(lang string) *Hub {
	return &Hub{
		lang:        lang,
		catalog:     DefaultCatalog,
		now:         time.Now,
		subscribers: make(map[int]chan Line),
	}
}

func (h *Hub) Notify(sev Severity, key MessageKey, args ...interface{}) {
	text := h.catalog.Format(h.lang, key, args...)

	h.mutex.Lock()
	h.seq++
	line := Line{Seq: h.seq, Time: h.now(), Severity: sev, Key: string(key), Text: text}
	h.lines = append(h.lines, line)
	for _, ch := range h.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	h.mutex.Unlock()

	logEvent(sev).Str("key", string(key)).Msg(text)
}

func logEvent(sev Severity) *zerolog.Event {
	switch sev {
	case Error:
		return log.Error()
	case Warning:
		return log.Warn()
	default:
		return log.Info()
	}
}

// SetRunning records the run state; a new run resets the progress counter
func (h *Hub) SetRunning(running bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if running && !h.running {
		h.progress = 0
	}
	h.running = running
}

func (h *Hub) AddProgress(delta int) {
	h.mutex.Lock()
	h.progress += delta
	h.mutex.Unlock()
}

func (h *Hub) Running() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

func (h *Hub) Progress() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.progress
}

// Lines returns every line with Seq greater than after
func (h *Hub) Lines(after uint64) []Line {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Seq starts at 1 and increments by one, so it doubles as an index
	if after >= uint64(len(h.lines)) {
		return []Line{}
	}
	out := make([]Line, len(h.lines)-int(after))
	copy(out, h.lines[after:])
	return out
}

// Subscribe returns a channel receiving new lines. Lines are dropped when the
// buffer is full. The cancel func closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Line, func()) {
	ch := make(chan Line, buffer)

	h.mutex.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = ch
	h.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mutex.Lock()
			delete(h.subscribers, id)
			h.mutex.Unlock()
			close(ch)
		})
	}
}
