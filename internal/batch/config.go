package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/codingofficer/internal/config"
)

const DefaultPollInterval = 100 * time.Millisecond

// Options holds configuration for a Dispatcher
type Options struct {
	Threads int    // Number of concurrent workers, 1-8
	Model   string // Model identifier sent with every request
	// PollInterval bounds how long a worker waits on an empty queue before it
	// re-checks cancellation
	PollInterval time.Duration
	// CancelCheck, when set, is consulted together with Stop and the run context
	CancelCheck func() bool
}

// DefaultOptions returns the defaults used when a value is not configured
func DefaultOptions() Options {
	return Options{
		Threads:      4,
		PollInterval: DefaultPollInterval,
	}
}

// OptionsFromConfig creates Options from the application configuration
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.Batch.ThreadCount > 0 {
		opts.Threads = cfg.Batch.ThreadCount
	}
	if cfg.Batch.PollInterval > 0 {
		opts.PollInterval = cfg.Batch.PollInterval
	}
	opts.Model = cfg.LLM.Model
	return opts
}

func (o Options) validate() error {
	if o.Threads < config.MinThreads || o.Threads > config.MaxThreads {
		return fmt.Errorf("thread count must be between %d and %d, got %d", config.MinThreads, config.MaxThreads, o.Threads)
	}
	if strings.TrimSpace(o.Model) == "" {
		return config.ErrMissingModel
	}
	return nil
}
