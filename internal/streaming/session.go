// internal/streaming/session.go
package streaming

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/scriptloom/scriptloom/internal/utils"
)

// Status of one streaming parse session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

const (
	// DefaultDebounce spaces re-parses of the accumulating buffer.
	DefaultDebounce = 50 * time.Millisecond
	// MinDebounce is the floor for high-frequency consumers.
	MinDebounce = 16 * time.Millisecond
	// DefaultQuietPeriod finalizes a session whose transport went silent
	// without an explicit end marker.
	DefaultQuietPeriod = 2 * time.Second

	subscriberBuffer = 10
)

// Snapshot is one observable state of a session: the typed items parsed so
// far, the lifecycle status, the raw accumulated text and the terminal error
// if the transport failed.
type Snapshot[T any] struct {
	Status     Status    `json:"status"`
	Items      []T       `json:"items"`
	RawContent string    `json:"rawContent"`
	Tier       int       `json:"tier"`
	Err        error     `json:"-"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Options tune one session. Zero values fall back to the defaults above.
type Options struct {
	Debounce    time.Duration
	QuietPeriod time.Duration
	Metrics     *utils.PipelineMetrics
}

// Session drives incremental parsing for one generation stream. Deltas are
// appended to an internal buffer; re-parses run at most once per debounce
// window; parsed snapshots fan out to subscribers with consecutive
// duplicates suppressed. A quiet period with no deltas soft-finalizes the
// session. All methods are safe for concurrent use.
type Session[T any] struct {
	strategy Strategy[T]
	opts     Options

	mu          sync.Mutex
	buf         []byte
	status      Status
	items       []T
	tier        int
	err         error
	startedAt   time.Time
	updatedAt   time.Time
	emitted     int
	stopped     bool
	parseTimer  *time.Timer
	quietTimer  *time.Timer
	subscribers map[chan Snapshot[T]]bool
}

// NewSession creates an idle session for the given stage strategy.
func NewSession[T any](strategy Strategy[T], opts Options) *Session[T] {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	} else if opts.Debounce < MinDebounce {
		opts.Debounce = MinDebounce
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}

	return &Session[T]{
		strategy:    strategy,
		opts:        opts,
		status:      StatusIdle,
		items:       []T{},
		updatedAt:   time.Now(),
		subscribers: make(map[chan Snapshot[T]]bool),
	}
}

// Feed appends one transport delta. The first delta moves the session to
// streaming; afterwards a parse runs once the debounce window closes. Deltas
// arriving after the session finished or stopped are dropped.
func (s *Session[T]) Feed(delta string) {
	if delta == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.terminalLocked() {
		return
	}

	s.buf = append(s.buf, delta...)

	if s.status == StatusIdle {
		s.status = StatusStreaming
		s.startedAt = time.Now()
		s.emitLocked()
	}

	s.resetQuietLocked()

	// 防抖：窗口内只安排一次解析，持续输入也能按节拍刷新
	if s.parseTimer == nil {
		s.parseTimer = time.AfterFunc(s.opts.Debounce, s.parseTick)
	}
}

func (s *Session[T]) parseTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parseTimer = nil
	if s.stopped || s.terminalLocked() {
		return
	}
	s.reparseLocked()
}

// reparseLocked runs the tier cascade over the current buffer and publishes
// the result when it differs from the last published one.
func (s *Session[T]) reparseLocked() {
	items, tier := Parse(s.strategy, string(s.buf))

	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordParseTier(s.strategy.Stage(), tier)
	}

	if reflect.DeepEqual(items, s.items) {
		return
	}
	s.items = items
	s.tier = tier
	s.emitLocked()
}

// End marks the transport finished: one final parse over the complete
// buffer, then the completed status.
func (s *Session[T]) End() {
	s.finish(nil)
}

// Fail marks the session failed. Reserved for transport-level errors; the
// parse tiers never fail a session.
func (s *Session[T]) Fail(err error) {
	s.finish(err)
}

func (s *Session[T]) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.terminalLocked() {
		return
	}

	s.stopTimersLocked()

	if err != nil {
		s.status = StatusError
		s.err = err
		s.emitLocked()
		s.recordSessionLocked()
		return
	}

	items, tier := Parse(s.strategy, string(s.buf))
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordParseTier(s.strategy.Stage(), tier)
	}
	s.items = items
	s.tier = tier
	s.status = StatusCompleted
	s.emitLocked()
	s.recordSessionLocked()
}

// AdoptResults replaces the item list with already-persisted results, used
// when a resume or fallback fetch returns parsed items instead of raw
// deltas. A completed batch finalizes the session.
func (s *Session[T]) AdoptResults(results []json.RawMessage, completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.terminalLocked() {
		return
	}

	items := make([]T, 0, len(results))
	for _, raw := range results {
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		item := s.strategy.Normalize(obj)
		if s.strategy.Validate(item) {
			items = append(items, item)
		}
	}
	items = dedupe(s.strategy, items)

	changed := !reflect.DeepEqual(items, s.items)
	s.items = items

	if completed {
		s.stopTimersLocked()
		s.status = StatusCompleted
		s.emitLocked()
		s.recordSessionLocked()
		return
	}

	if s.status == StatusIdle {
		s.status = StatusStreaming
		s.startedAt = time.Now()
		changed = true
	}
	s.resetQuietLocked()
	if changed {
		s.emitLocked()
	}
}

// Subscribe registers a consumer. The current snapshot is delivered
// immediately so late subscribers render without waiting for the next
// change. The returned cancel is idempotent.
func (s *Session[T]) Subscribe() (<-chan Snapshot[T], func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot[T], subscriberBuffer)
	if s.stopped {
		close(ch)
		return ch, func() {}
	}

	s.subscribers[ch] = true
	ch <- s.snapshotLocked()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subscribers[ch] {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Snapshot returns the current state.
func (s *Session[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status returns the current lifecycle status.
func (s *Session[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RawContent returns the accumulated stream text so far.
func (s *Session[T]) RawContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

// Results renders the current item array as raw JSON values, the shape the
// resume endpoint's results field carries.
func (s *Session[T]) Results() []json.RawMessage {
	s.mu.Lock()
	items := make([]T, len(s.items))
	copy(items, s.items)
	s.mu.Unlock()

	results := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		results = append(results, raw)
	}
	return results
}

// Stop tears the session down: timers cancelled, subscriber channels closed,
// later deltas dropped. No status transition is emitted.
func (s *Session[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.stopTimersLocked()

	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Snapshot[T]]bool)
}

func (s *Session[T]) terminalLocked() bool {
	return s.status == StatusCompleted || s.status == StatusError
}

func (s *Session[T]) stopTimersLocked() {
	if s.parseTimer != nil {
		s.parseTimer.Stop()
		s.parseTimer = nil
	}
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
}

func (s *Session[T]) resetQuietLocked() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
	}
	s.quietTimer = time.AfterFunc(s.opts.QuietPeriod, s.quietTick)
}

// quietTick soft-finalizes a stream whose transport went silent without an
// end marker. The transport itself is left to its owner.
func (s *Session[T]) quietTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.terminalLocked() || s.status != StatusStreaming {
		return
	}

	s.stopTimersLocked()

	items, tier := Parse(s.strategy, string(s.buf))
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordParseTier(s.strategy.Stage(), tier)
	}
	s.items = items
	s.tier = tier
	s.status = StatusCompleted
	s.emitLocked()
	s.recordSessionLocked()
}

func (s *Session[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Status:     s.status,
		Items:      append([]T(nil), s.items...),
		RawContent: string(s.buf),
		Tier:       s.tier,
		Err:        s.err,
		UpdatedAt:  s.updatedAt,
	}
}

// emitLocked publishes the current snapshot to every subscriber. Sends never
// block: a consumer that stopped draining misses intermediate states and
// catches up on the next one.
func (s *Session[T]) emitLocked() {
	s.updatedAt = time.Now()
	s.emitted++
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session[T]) recordSessionLocked() {
	if s.opts.Metrics == nil {
		return
	}
	var elapsed time.Duration
	if !s.startedAt.IsZero() {
		elapsed = time.Since(s.startedAt)
	}
	s.opts.Metrics.RecordStreamSession(s.strategy.Stage(), string(s.status), elapsed, s.emitted)
}
