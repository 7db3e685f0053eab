package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Query fetches the first page of results for a filter.
type Query[T any] func(ctx context.Context, filter Filter) ([]T, error)

// Options tune a Field. Zero values fall back to the package defaults.
type Options struct {
	Delay    time.Duration
	MinChars int
	Clock    Clock
	Logger   *slog.Logger
	Notifier shared.Notifier
}

// View is a consistent snapshot of a field.
type View[T any] struct {
	Kind    Kind   `json:"kind"`
	By      By     `json:"by"`
	Input   string `json:"input"`
	State   State  `json:"state"`
	Results []T    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// Field is the debounce state machine for one search input.
// It is safe for concurrent use.
type Field[T any] struct {
	kind  Kind
	query Query[T]
	opts  Options

	mu        sync.Mutex
	by        By
	live      string
	debounced string
	state     State
	results   []T
	err       error
	timer     Timer
	seq       uint64
	cancel    context.CancelFunc

	ctx      context.Context
	stop     context.CancelFunc
	inflight sync.WaitGroup
}

// NewField creates an idle field. ctx bounds every query the field issues.
func NewField[T any](ctx context.Context, kind Kind, by By, query Query[T], opts Options) *Field[T] {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if by == "" {
		by = ByName
	}
	fieldCtx, stop := context.WithCancel(ctx)
	return &Field[T]{
		kind:  kind,
		query: query,
		opts:  opts,
		by:    by,
		state: StateIdle,
		ctx:   fieldCtx,
		stop:  stop,
	}
}

// Kind returns the entity kind the field searches.
func (f *Field[T]) Kind() Kind {
	return f.kind
}

// Input records a keystroke. It rearms the debounce timer and hides results.
func (f *Field[T]) Input(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = text
	f.rearmLocked()
}

// SetBy changes the matched attribute; a non-empty input is searched again.
func (f *Field[T]) SetBy(by By) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if by == "" || by == f.by {
		return
	}
	f.by = by
	if f.live != "" {
		f.rearmLocked()
	}
}

func (f *Field[T]) rearmLocked() {
	f.resetPendingLocked()
	f.state = StateTyping
	f.results = nil
	f.err = nil
	seq := f.seq
	f.timer = f.opts.Clock.AfterFunc(f.opts.Delay, func() { f.fire(seq) })
}

// resetPendingLocked stops the timer, cancels the running query and
// invalidates any callback already scheduled.
func (f *Field[T]) resetPendingLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.seq++
}

func (f *Field[T]) fire(seq uint64) {
	f.mu.Lock()
	if seq != f.seq {
		f.mu.Unlock()
		return
	}
	f.timer = nil
	f.debounced = f.live
	term := strings.TrimSpace(f.debounced)
	if utf8.RuneCountInString(term) < f.opts.MinChars {
		f.state = StateIdle
		f.results = nil
		f.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(f.ctx)
	f.cancel = cancel
	f.state = StateQuerying
	filter := Filter{Kind: f.kind, By: f.by, Term: term, Page: 1, PageSize: PageSize}
	f.inflight.Add(1)
	f.mu.Unlock()

	go f.run(ctx, seq, filter)
}

func (f *Field[T]) run(ctx context.Context, seq uint64, filter Filter) {
	defer f.inflight.Done()
	results, err := f.query(ctx, filter)

	f.mu.Lock()
	defer f.mu.Unlock()
	if seq != f.seq {
		return
	}
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	switch {
	case err != nil:
		f.state = StateError
		f.results = nil
		f.err = &shared.LookupFailure{Op: fmt.Sprintf("search %s", f.kind), Err: err}
		f.opts.Logger.Warn("search query failed",
			slog.String("kind", string(f.kind)),
			slog.String("by", string(filter.By)),
			slog.Any("error", err))
		if f.opts.Notifier != nil {
			f.opts.Notifier.Notify(f.ctx, shared.Notice{
				Level:   shared.NoticeWarning,
				Message: fmt.Sprintf("Search for %s is unavailable right now.", f.kind),
			})
		}
	case len(results) == 0:
		f.state = StateEmpty
		f.results = nil
	default:
		f.state = StateCompleted
		f.results = results
	}
}

// Select picks a result: the field returns to idle and the input is cleared.
func (f *Field[T]) Select(item T) T {
	f.Reset()
	return item
}

// Reset clears input, results and any pending work.
func (f *Field[T]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetPendingLocked()
	f.live = ""
	f.debounced = ""
	f.state = StateIdle
	f.results = nil
	f.err = nil
}

// View returns the current state. Results are only exposed once completed.
func (f *Field[T]) View() View[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View[T]{Kind: f.kind, By: f.by, Input: f.live, State: f.state}
	if f.state == StateCompleted {
		v.Results = append([]T(nil), f.results...)
	}
	if f.err != nil {
		v.Error = f.err.Error()
	}
	return v
}

// Find returns the first completed result matching pred.
func (f *Field[T]) Find(pred func(T) bool) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	if f.state != StateCompleted {
		return zero, false
	}
	for _, item := range f.results {
		if pred(item) {
			return item, true
		}
	}
	return zero, false
}

// Wait blocks until queries already issued have returned.
func (f *Field[T]) Wait() {
	f.inflight.Wait()
}

// Close cancels pending work. The field must not be used afterwards.
func (f *Field[T]) Close() {
	f.mu.Lock()
	f.resetPendingLocked()
	f.mu.Unlock()
	f.stop()
}
