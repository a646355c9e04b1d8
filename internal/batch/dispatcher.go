package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codingofficer/internal/llm"
	"github.com/codingofficer/internal/notify"
	"github.com/codingofficer/pkg/models"
)

var (
	ErrAlreadyRunning = errors.New("a coding run is already in progress")
	ErrNoPendingRows  = errors.New("no rows waiting for coding")
)

// PromptStore is the part of the store a run reads from and writes to
type PromptStore interface {
	PendingPrompts(ctx context.Context, limit int) ([]models.PromptRow, error)
	SavePromptCode(ctx context.Context, rowID int64, code, raw string) error
	CountPrompts(ctx context.Context) (coded, pending int, err error)
}

// RunRecorder persists run records; optional
type RunRecorder interface {
	StartRun(ctx context.Context, run models.RunRecord) error
	FinishRun(ctx context.Context, runID string, state models.RunState, coded, failed int, finishedAt time.Time) error
}

// Completer performs one chat completion
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (*llm.Completion, error)
}

// ThrottledCompleter is a Completer whose rate limiting can be waited on
// separately from sending. The dispatcher waits with a context that Stop
// cancels and only detaches the send itself.
type ThrottledCompleter interface {
	Completer
	Acquire(ctx context.Context) error
	Send(ctx context.Context, model, prompt string) (*llm.Completion, error)
}

// Summary describes a finished (or running) run
type Summary struct {
	RunID      string          `json:"run_id"`
	State      models.RunState `json:"state"`
	Limit      int             `json:"limit"`
	Requested  int             `json:"requested"`
	Workers    int             `json:"workers"`
	Coded      int             `json:"coded"`
	Failed     int             `json:"failed"`
	SaveErrors int             `json:"save_errors"`
	// CodedTotal and Remaining come from a fresh count after the workers exit
	CodedTotal int        `json:"coded_total"`
	Remaining  int        `json:"remaining"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type run struct {
	id        string
	limit     int
	requested int
	workers   int
	startedAt time.Time
	queue     *WorkQueue

	// ctx is cancelled by Stop, by CancelCheck and with the parent context
	ctx    context.Context
	cancel context.CancelFunc

	stop       atomic.Bool
	stopLogged atomic.Bool
	coded      atomic.Int64
	failed     atomic.Int64
	saveErrors atomic.Int64

	done chan struct{}
}

// Dispatcher drives pending prompt rows through the LLM with a bounded pool
// of workers. At most one run is active at a time.
type Dispatcher struct {
	opts      Options
	store     PromptStore
	completer Completer
	sink      notify.Sink
	recorder  RunRecorder

	mu      sync.Mutex
	state   models.RunState
	current *run
	last    *Summary
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(opts Options, store PromptStore, completer Completer, sink notify.Sink, recorder RunRecorder) (*Dispatcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if store == nil || completer == nil || sink == nil {
		return nil, errors.New("dispatcher needs a store, a completer and a sink")
	}
	return &Dispatcher{
		opts:      opts,
		store:     store,
		completer: completer,
		sink:      sink,
		recorder:  recorder,
		state:     models.RunStateIdle,
	}, nil
}

// Start claims up to limit pending rows (limit < 0 means all), spawns
// min(threads, rows) workers and returns without waiting for them. ctx bounds
// the run: cancelling it has the same effect as Stop.
func (d *Dispatcher) Start(ctx context.Context, limit int) (*Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == models.RunStateRunning {
		return nil, ErrAlreadyRunning
	}

	rows, err := d.store.PendingPrompts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending rows: %w", err)
	}
	if len(rows) == 0 {
		d.sink.Notify(notify.Notice, notify.MsgNoPendingRows)
		return nil, ErrNoPendingRows
	}

	workers := d.opts.Threads
	if workers > len(rows) {
		workers = len(rows)
	}

	r := &run{
		id:        uuid.NewString(),
		limit:     limit,
		requested: len(rows),
		workers:   workers,
		startedAt: time.Now(),
		queue:     NewWorkQueue(rows),
		done:      make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	d.current = r
	d.state = models.RunStateRunning

	d.sink.SetRunning(true)
	d.sink.Notify(notify.Notice, notify.MsgRunStarted, r.requested, r.workers)
	log.Info().
		Str("run_id", r.id).
		Int("rows", r.requested).
		Int("workers", r.workers).
		Str("model", d.opts.Model).
		Msg("Coding run started")

	if d.recorder != nil {
		record := models.RunRecord{
			RunID:     r.id,
			Mode:      runMode(limit),
			Model:     d.opts.Model,
			StartedAt: r.startedAt,
			State:     models.RunStateRunning,
			Requested: r.requested,
		}
		if err := d.recorder.StartRun(context.WithoutCancel(ctx), record); err != nil {
			log.Error().Err(err).Str("run_id", r.id).Msg("Failed to record run start")
		}
	}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		worker := i + 1
		g.Go(func() error {
			d.work(ctx, r, worker)
			return nil
		})
	}
	watched := make(chan struct{})
	if d.opts.CancelCheck != nil {
		go d.watchCancelCheck(r, watched)
	} else {
		close(watched)
	}
	go func() {
		_ = g.Wait()
		r.cancel()
		<-watched
		d.finish(ctx, r)
	}()

	return d.snapshot(r), nil
}

func runMode(limit int) string {
	if limit < 0 {
		return "all"
	}
	return fmt.Sprintf("limit:%d", limit)
}

// work is one worker loop: check for cancellation, pop, exit when drained,
// check again, process
func (d *Dispatcher) work(ctx context.Context, r *run, worker int) {
	logger := log.With().Str("run_id", r.id).Int("worker", worker).Logger()
	logger.Debug().Msg("Worker started")
	defer logger.Debug().Msg("Worker exited")

	for {
		if d.cancelled(ctx, r) {
			return
		}
		row, ok := r.queue.Pop(d.opts.PollInterval)
		if !ok {
			return
		}
		if d.cancelled(ctx, r) {
			// the row was claimed but not started; it stays pending
			return
		}
		d.process(ctx, r, row)
	}
}

func (d *Dispatcher) cancelled(ctx context.Context, r *run) bool {
	if r.stop.Load() {
		return true
	}
	if ctx.Err() != nil || (d.opts.CancelCheck != nil && d.opts.CancelCheck()) {
		r.stop.Store(true)
		r.cancel()
		return true
	}
	return false
}

// watchCancelCheck polls CancelCheck so workers blocked on the rate limiter
// see an external cancellation too
func (d *Dispatcher) watchCancelCheck(r *run, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if d.opts.CancelCheck() {
				r.stop.Store(true)
				r.cancel()
				return
			}
		}
	}
}

// process makes the single LLM call for row and writes the result back. The
// rate limiter wait can be cancelled; the request and the write run detached
// from cancellation so a request that has started is allowed to finish.
func (d *Dispatcher) process(ctx context.Context, r *run, row models.PromptRow) {
	callCtx := context.WithoutCancel(ctx)
	logger := log.With().Str("run_id", r.id).Int64("row_id", row.RowID).Logger()

	defer func() {
		if p := recover(); p != nil {
			r.failed.Add(1)
			logger.Error().Interface("panic", p).Msg("Row processing panicked")
			d.sink.Notify(notify.Error, notify.MsgRowFailed, row.RowID, llm.KindUnknown, 0, fmt.Sprint(p))
		}
	}()

	completion, sent, err := d.call(ctx, callCtx, r, row)
	if !sent {
		logger.Debug().Msg("Stopped before the request was sent, row left pending")
		return
	}
	if err != nil {
		r.failed.Add(1)
		kind, status, message := describeError(err)
		logger.Warn().Err(err).Str("kind", string(kind)).Int("status", status).Msg("LLM call failed, row left pending")
		d.sink.Notify(notify.Warning, notify.MsgRowFailed, row.RowID, kind, status, message)
		return
	}

	if strings.TrimSpace(completion.Content) == "" {
		r.failed.Add(1)
		logger.Warn().Int("status", completion.HTTPStatus).Msg("LLM returned empty content, row left pending")
		d.sink.Notify(notify.Warning, notify.MsgRowEmpty, row.RowID)
		return
	}

	if err := d.store.SavePromptCode(callCtx, row.RowID, completion.Content, completion.Raw); err != nil {
		r.saveErrors.Add(1)
		logger.Error().Err(err).Msg("Failed to save coding result")
		d.sink.Notify(notify.Error, notify.MsgRowSaveFailed, row.RowID, err.Error())
		return
	}

	r.coded.Add(1)
	d.sink.AddProgress(1)
	d.sink.Notify(notify.Notice, notify.MsgRowCoded, row.RowID)
}

// call sends row to the completer. sent is false when the run was cancelled
// before the request went out.
func (d *Dispatcher) call(ctx, callCtx context.Context, r *run, row models.PromptRow) (*llm.Completion, bool, error) {
	throttled, ok := d.completer.(ThrottledCompleter)
	if !ok {
		completion, err := d.completer.Complete(callCtx, d.opts.Model, row.Content)
		return completion, true, err
	}

	if err := throttled.Acquire(r.ctx); err != nil {
		if r.ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, true, err
	}
	if d.cancelled(ctx, r) {
		return nil, false, nil
	}
	completion, err := throttled.Send(callCtx, d.opts.Model, row.Content)
	return completion, true, err
}

func describeError(err error) (llm.ErrorKind, int, string) {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, apiErr.HTTPStatus, apiErr.Message
	}
	return llm.KindUnknown, 0, err.Error()
}

// finish runs once every worker has exited
func (d *Dispatcher) finish(ctx context.Context, r *run) {
	bg := context.WithoutCancel(ctx)
	finishedAt := time.Now()

	state := models.RunStateCompleted
	if r.stop.Load() {
		state = models.RunStateStopped
	}

	summary := d.snapshot(r)
	summary.State = state
	summary.FinishedAt = &finishedAt

	codedTotal, remaining, err := d.store.CountPrompts(bg)
	if err != nil {
		log.Error().Err(err).Str("run_id", r.id).Msg("Failed to count prompts after run")
		d.sink.Notify(notify.Error, notify.MsgCountFailed, err.Error())
	} else {
		summary.CodedTotal = codedTotal
		summary.Remaining = remaining
		key := notify.MsgRunCompleted
		if state == models.RunStateStopped {
			key = notify.MsgRunStopped
		}
		d.sink.Notify(notify.Notice, key, codedTotal, remaining)
	}

	if d.recorder != nil {
		if err := d.recorder.FinishRun(bg, r.id, state, summary.Coded, summary.Failed+summary.SaveErrors, finishedAt); err != nil {
			log.Error().Err(err).Str("run_id", r.id).Msg("Failed to record run end")
		}
	}

	log.Info().
		Str("run_id", r.id).
		Str("state", string(state)).
		Int("coded", summary.Coded).
		Int("failed", summary.Failed).
		Int("save_errors", summary.SaveErrors).
		Int("remaining", summary.Remaining).
		Dur("elapsed", finishedAt.Sub(r.startedAt)).
		Msg("Coding run finished")

	d.mu.Lock()
	d.state = state
	d.last = summary
	d.current = nil
	d.mu.Unlock()

	d.sink.SetRunning(false)
	close(r.done)
}

func (d *Dispatcher) snapshot(r *run) *Summary {
	return &Summary{
		RunID:      r.id,
		State:      models.RunStateRunning,
		Limit:      r.limit,
		Requested:  r.requested,
		Workers:    r.workers,
		Coded:      int(r.coded.Load()),
		Failed:     int(r.failed.Load()),
		SaveErrors: int(r.saveErrors.Load()),
		StartedAt:  r.startedAt,
	}
}

// Stop asks the active run to stop taking new rows. It returns false when no
// run is active. Requests already sent are allowed to finish.
func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	r := d.current
	d.mu.Unlock()

	if r == nil {
		return false
	}
	r.stop.Store(true)
	r.cancel()
	if r.stopLogged.CompareAndSwap(false, true) {
		log.Info().Str("run_id", r.id).Msg("Stop requested")
		d.sink.Notify(notify.Notice, notify.MsgStopRequested)
	}
	return true
}

// Done returns a channel closed when the active run has finished. Without an
// active run the channel is already closed.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.current.done
}

// Wait blocks until the active run has finished or ctx is done and returns
// the summary of the most recent run
func (d *Dispatcher) Wait(ctx context.Context) (*Summary, error) {
	select {
	case <-d.Done():
		return d.LastSummary(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts a run and waits for it
func (d *Dispatcher) Run(ctx context.Context, limit int) (*Summary, error) {
	if _, err := d.Start(ctx, limit); err != nil {
		return nil, err
	}
	return d.Wait(context.WithoutCancel(ctx))
}

// State returns the lifecycle state of the dispatcher
func (d *Dispatcher) State() models.RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Current returns a live snapshot of the active run, or nil
func (d *Dispatcher) Current() *Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.snapshot(d.current)
}

// LastSummary returns the summary of the most recently finished run, or nil
func (d *Dispatcher) LastSummary() *Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	s := *d.last
	return &s
}
