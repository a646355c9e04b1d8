package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DailyFile is an io.Writer appending to <dir>/<YYYY-MM-DD>.log and switching
// files when the date changes.
type DailyFile struct {
	dir   string
	now   func() time.Time
	mutex sync.Mutex
	day   string
	file  *os.File
}

// NewDailyFile creates the log directory and returns a writer for it
func NewDailyFile(dir string) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &DailyFile{dir: dir, now: time.Now}, nil
}

// Path returns the file the next write goes to
func (d *DailyFile) Path() string {
	return filepath.Join(d.dir, d.now().Format("2006-01-02")+".log")
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	day := d.now().Format("2006-01-02")
	if d.file == nil || day != d.day {
		if d.file != nil {
			d.file.Close()
		}
		f, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			d.file = nil
			return 0, err
		}
		d.file = f
		d.day = day
	}
	return d.file.Write(p)
}

func (d *DailyFile) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the global zerolog logger to write to stderr and, when dir
// is not empty, to a daily log file. The returned closer flushes the file.
func Setup(level, dir string) (io.Closer, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if dir == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nopCloser{}, nil
	}

	daily, err := NewDailyFile(dir)
	if err != nil {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nopCloser{}, err
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, daily)).With().Timestamp().Logger()
	return daily, nil
}
