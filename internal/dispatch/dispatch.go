// Package dispatch walks a confirmed batch of canonical records and hands
// them to a Sender one at a time, with a fixed delay between sends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/admisi-cli/internal/transform"
)

// Status is the delivery state of one record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is sent or failed.
func (s Status) Terminal() bool { return s == StatusSent || s == StatusFailed }

// DefaultDelay is the pause between two consecutive sends.
const DefaultDelay = 3 * time.Second

var (
	ErrAlreadyRunning = errors.New("dispatch already running")
	ErrNotRunning     = errors.New("dispatch not running")
	ErrInvalidRecords = errors.New("batch contains invalid records")
	ErrUnknownRecord  = errors.New("unknown record id")

	errStopped = errors.New("dispatch stopped")
)

// Record is a canonical record plus its delivery state.
type Record struct {
	ID       uuid.UUID        `json:"id"`
	Index    int              `json:"index"`
	Fields   transform.Record `json:"fields"`
	Selected bool             `json:"selected"`
	Status   Status           `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// Sender delivers one record. A nil error means the gateway accepted it.
type Sender interface {
	Send(ctx context.Context, fields map[string]string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, fields map[string]string) error

func (f SenderFunc) Send(ctx context.Context, fields map[string]string) error { return f(ctx, fields) }

type Options struct {
	// Delay between sends; zero selects DefaultDelay, negative disables it.
	Delay time.Duration
	// AllowInvalid lets FromValidation proceed when some rows failed
	// validation. Invalid rows are never dispatched either way.
	AllowInvalid bool
	// OnUpdate is called after every status change, outside the lock.
	OnUpdate func(Record)
	Logger   *slog.Logger
}

// Progress is a point-in-time readout of a batch.
type Progress struct {
	Total     int     `json:"total"`
	Selected  int     `json:"selected"`
	Completed int     `json:"completed"`
	Sent      int     `json:"sent"`
	Failed    int     `json:"failed"`
	Pending   int     `json:"pending"`
	Percent   float64 `json:"percent"`
	Running   bool    `json:"running"`
	Paused    bool    `json:"paused"`
}

// Sequencer owns one batch. Only one Start may be active at a time.
type Sequencer struct {
	sender Sender
	delay  time.Duration
	notify func(Record)
	log    *slog.Logger

	mu      sync.Mutex
	records []Record
	byID    map[uuid.UUID]int
	running bool
	paused  bool
	pauseC  chan struct{} // closed when Pause is called
	resumeC chan struct{} // closed when Resume is called
	stopC   chan struct{} // closed when Reset interrupts a run
	doneC   chan struct{} // closed when the run loop exits
	stopped bool
}

// New builds a sequencer over already-validated records. Every record starts
// pending and selected.
func New(valid []transform.Record, sender Sender, opts Options) *Sequencer {
	s := &Sequencer{
		sender:  sender,
		delay:   opts.Delay,
		notify:  opts.OnUpdate,
		log:     opts.Logger,
		byID:    make(map[uuid.UUID]int, len(valid)),
		pauseC:  make(chan struct{}),
		resumeC: make(chan struct{}),
	}
	if s.delay == 0 {
		s.delay = DefaultDelay
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.records = make([]Record, len(valid))
	for i, rec := range valid {
		fields := make(transform.Record, len(rec))
		for k, v := range rec {
			fields[k] = v
		}
		id := uuid.New()
		s.records[i] = Record{ID: id, Index: i, Fields: fields, Selected: true, Status: StatusPending}
		s.byID[id] = i
	}
	return s
}

// FromValidation builds a sequencer over res.Valid. Invalid rows block the
// batch unless opts.AllowInvalid is set.
func FromValidation(res transform.Result, sender Sender, opts Options) (*Sequencer, error) {
	if res.Blocking() && !opts.AllowInvalid {
		return nil, fmt.Errorf("%w: %d of %d rows failed validation", ErrInvalidRecords, len(res.Invalid), len(res.Invalid)+len(res.Valid))
	}
	return New(res.Valid, sender, opts), nil
}

// Start sends every selected, non-terminal record in order and returns when
// the batch is done, Reset stops it, or ctx is cancelled. A send already in flight always
// completes; Pause only takes effect between sends.
func (s *Sequencer) Start(ctx context.Context) error {
	queue, err := s.begin()
	if err != nil {
		return err
	}
	return s.run(ctx, queue)
}

// Go is Start in a background goroutine. The batch is marked running before
// Go returns; done, if non-nil, receives Start's result.
func (s *Sequencer) Go(ctx context.Context, done func(error)) error {
	queue, err := s.begin()
	if err != nil {
		return err
	}
	go func() {
		err := s.run(ctx, queue)
		if done != nil {
			done(err)
		}
	}()
	return nil
}

func (s *Sequencer) begin() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.stopped = false
	s.stopC = make(chan struct{})
	s.doneC = make(chan struct{})
	var queue []int
	for i, r := range s.records {
		if r.Selected && !r.Status.Terminal() {
			queue = append(queue, i)
		}
	}
	return queue, nil
}

func (s *Sequencer) run(ctx context.Context, queue []int) error {
	defer s.finish()

	s.log.Info("dispatch started", "queued", len(queue), "delay", s.delay)
	for n, i := range queue {
		if err := s.waitIfPaused(ctx); err != nil {
			return s.exit(err)
		}
		fields, ok := s.claim(i)
		if !ok {
			continue
		}
		err := s.sender.Send(ctx, fields)
		s.complete(i, err)

		if s.delay > 0 && s.hasPending(queue[n+1:]) {
			if err := s.sleep(ctx, s.delay); err != nil {
				return s.exit(err)
			}
		}
	}
	p := s.Snapshot()
	s.log.Info("dispatch finished", "sent", p.Sent, "failed", p.Failed, "selected", p.Selected)
	return nil
}

// exit maps the stop signal from Reset to a clean return.
func (s *Sequencer) exit(err error) error {
	if errors.Is(err, errStopped) {
		s.log.Info("dispatch interrupted by reset")
		return nil
	}
	return err
}

// hasPending reports whether any of rest is still selected and unsent.
func (s *Sequencer) hasPending(rest []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range rest {
		if r := s.records[i]; r.Selected && !r.Status.Terminal() {
			return true
		}
	}
	return false
}

// claim moves record i to sending if it is still selected and pending.
func (s *Sequencer) claim(i int) (map[string]string, bool) {
	s.mu.Lock()
	r := &s.records[i]
	if !r.Selected || r.Status.Terminal() {
		s.mu.Unlock()
		return nil, false
	}
	r.Status = StatusSending
	r.Error = ""
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	snap := *r
	s.mu.Unlock()
	s.emit(snap)
	return fields, true
}

func (s *Sequencer) complete(i int, err error) {
	s.mu.Lock()
	r := &s.records[i]
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	} else {
		r.Status = StatusSent
	}
	snap := *r
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("send failed", "record", snap.ID, "index", snap.Index, "number", snap.Fields["number"], "error", err)
	} else {
		s.log.Debug("send ok", "record", snap.ID, "index", snap.Index)
	}
	s.emit(snap)
}

func (s *Sequencer) emit(r Record) {
	if s.notify != nil {
		s.notify(r)
	}
}

func (s *Sequencer) finish() {
	s.mu.Lock()
	s.running = false
	if s.paused {
		s.paused = false
		close(s.resumeC)
		s.pauseC = make(chan struct{})
	}
	close(s.doneC)
	s.mu.Unlock()
}

// waitIfPaused blocks until Resume, Reset or ctx cancellation.
func (s *Sequencer) waitIfPaused(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return errStopped
		}
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		ch, stop := s.resumeC, s.stopC
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return errStopped
		case <-ch:
		}
	}
}

// sleep waits d, suspending the countdown while paused.
func (s *Sequencer) sleep(ctx context.Context, d time.Duration) error {
	remaining := d
	for remaining > 0 {
		if err := s.waitIfPaused(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		pc, stop := s.pauseC, s.stopC
		s.mu.Unlock()

		started := time.Now()
		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-stop:
			t.Stop()
			return errStopped
		case <-t.C:
			return nil
		case <-pc:
			t.Stop()
			remaining -= time.Since(started)
		}
	}
	return nil
}

// Pause suspends the batch before the next send.
func (s *Sequencer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if s.paused {
		return nil
	}
	s.paused = true
	s.resumeC = make(chan struct{})
	close(s.pauseC)
	s.log.Info("dispatch paused")
	return nil
}

// Resume continues a paused batch from the next unsent record.
func (s *Sequencer) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if !s.paused {
		return nil
	}
	s.paused = false
	s.pauseC = make(chan struct{})
	close(s.resumeC)
	s.log.Info("dispatch resumed")
	return nil
}

// Reset returns every record to pending without dropping any. A running or
// paused batch is stopped first; a send already in flight completes before
// Reset returns.
func (s *Sequencer) Reset() error {
	s.mu.Lock()
	if s.running {
		if !s.stopped {
			s.stopped = true
			close(s.stopC)
		}
		done := s.doneC
		s.mu.Unlock()
		<-done
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	for i := range s.records {
		s.records[i].Status = StatusPending
		s.records[i].Error = ""
	}
	s.mu.Unlock()
	s.log.Info("dispatch reset")
	return nil
}

// Select marks the given records as included in (or excluded from) the batch.
func (s *Sequencer) Select(ids []uuid.UUID, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
		}
	}
	for _, id := range ids {
		s.records[s.byID[id]].Selected = selected
	}
	return nil
}

// SelectAll sets the selection flag on every record.
func (s *Sequencer) SelectAll(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		s.records[i].Selected = selected
	}
}

// Records returns a copy of the batch in input order.
func (s *Sequencer) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Sequencer) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{Total: len(s.records), Running: s.running, Paused: s.paused}
	for _, r := range s.records {
		if !r.Selected {
			continue
		}
		p.Selected++
		switch r.Status {
		case StatusSent:
			p.Sent++
		case StatusFailed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	p.Completed = p.Sent + p.Failed
	if p.Selected > 0 {
		p.Percent = float64(p.Completed) / float64(p.Selected) * 100
	}
	return p
}
