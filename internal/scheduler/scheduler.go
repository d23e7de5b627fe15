// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/metrics"
)

// Class is the priority class a code is admitted under. Higher classes
// overtake lower ones at admission; within a class no overtaking is
// permitted.
type Class int

// ---- PRIORITY CLASSES ----

const (
	Regular Class = iota
	Acknowledgement
	Macro
	Prioritized

	ClassCount
)

func (c Class) String() string {
	switch c {
	case Regular:
		return "Regular"
	case Acknowledgement:
		return "Acknowledgement"
	case Macro:
		return "Macro"
	case Prioritized:
		return "Prioritized"
	}
	return "Unknown"
}

// Gate is one start/finish lock pair. The channel registry owns one per
// (channel, class); every macro owns a private one for its siblings.
type Gate struct {
	start  FIFOLock
	finish FIFOLock
}

// NewGate creates an independent serialization gate.
func NewGate() *Gate {
	return &Gate{}
}

// channelState is the scheduler-owned state of one input channel.
type channelState struct {
	gates [ClassCount]*Gate

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	awaitingAck atomic.Bool
}

// Scheduler enforces the issue-order and finish-order invariants across
// the fixed channel set. It is process-wide state, owned by the daemon
// and shared by every request handler.
type Scheduler struct {
	root  context.Context
	chans [channel.Count]*channelState
}

// New creates a scheduler whose per-channel cancellation sources are
// linked to the process-wide context.
func New(root context.Context) *Scheduler {
	s := &Scheduler{root: root}
	for i := range s.chans {
		cs := &channelState{}
		for k := range cs.gates {
			cs.gates[k] = NewGate()
		}
		cs.ctx, cs.cancel = context.WithCancel(root)
		s.chans[i] = cs
	}
	return s
}

// SetAwaitingAck flips the message-box acknowledgement state of a channel.
func (s *Scheduler) SetAwaitingAck(ch channel.Channel, v bool) {
	s.chans[ch].awaitingAck.Store(v)
}

// AwaitingAck reports the message-box acknowledgement state of a channel.
func (s *Scheduler) AwaitingAck(ch channel.Channel) bool {
	return s.chans[ch].awaitingAck.Load()
}

// CancelPending atomically swaps the channel's cancellation source and
// cancels the old one. Waiters not yet past their start-lock fail with
// ErrCancelled; codes in flight observe it at their next await point.
func (s *Scheduler) CancelPending(ch channel.Channel) {
	cs := s.chans[ch]
	cs.mu.Lock()
	old := cs.cancel
	cs.ctx, cs.cancel = context.WithCancel(s.root)
	cs.mu.Unlock()
	old()
	metrics.CancellationsPending.WithLabelValues(ch.String()).Inc()
}

// ChannelContext returns the channel's current cancellation context.
// Codes capture it at admission.
func (s *Scheduler) ChannelContext(ch channel.Channel) context.Context {
	cs := s.chans[ch]
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.ctx
}

// Classify assigns the priority class of a code about to be admitted.
// First match wins; interceptor-nested codes never reach this point.
func (s *Scheduler) Classify(c *gcode.Code) Class {
	switch {
	case c.Flags.Has(gcode.Prioritized):
		return Prioritized
	case c.Flags.Has(gcode.FromMacro):
		return Macro
	case s.AwaitingAck(c.Channel) && !isStopCode(c):
		return Acknowledgement
	default:
		return Regular
	}
}

// isStopCode reports M0/M1, which may bypass a pending acknowledgement.
func isStopCode(c *gcode.Code) bool {
	return c.Type == gcode.MCode && c.Major != nil && (*c.Major == 0 || *c.Major == 1)
}

// AdmitOptions adjust admission for one code.
type AdmitOptions struct {
	// Bypass skips ordering entirely. Used for codes emitted by an
	// interceptor on the connection it is intercepting, which would
	// otherwise deadlock against themselves.
	Bypass bool

	// MacroGate substitutes the code's per-macro gate for the global
	// Macro class gate so nested macro codes serialize only with
	// their siblings.
	MacroGate *Gate
}

// Ticket is an admitted code's hold on the ordering locks.
type Ticket struct {
	class Class

	exec context.Context // channel cancellation context at admission

	start     *Slot
	finish    *Slot
	startHeld bool
	bypass    bool
}

// Admit classifies the code and acquires its start-lock, reserving the
// finish slot at the same time so completion order equals admission
// order even when codes pipeline.
func (s *Scheduler) Admit(ctx context.Context, c *gcode.Code, opts AdmitOptions) (*Ticket, error) {
	if opts.Bypass {
		return &Ticket{bypass: true, exec: s.root}, nil
	}

	class := s.Classify(c)

	gate := s.chans[c.Channel].gates[class]
	if class == Macro && opts.MacroGate != nil {
		gate = opts.MacroGate
	}

	chanCtx := s.ChannelContext(c.Channel)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(chanCtx, cancel)
	defer stop()

	start, err := gate.start.Lock(waitCtx)
	if err == nil && chanCtx.Err() != nil {
		// The lock was handed over while CancelPending ran: the code
		// is still pending and must not be admitted.
		start.Release()
		err = chanCtx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s admission aborted", gcode.ErrCancelled, c.Channel)
	}

	return &Ticket{
		class:     class,
		exec:      chanCtx,
		start:     start,
		finish:    gate.finish.Reserve(),
		startHeld: true,
	}, nil
}

// Class returns the class the code was admitted under.
func (t *Ticket) Class() Class {
	return t.class
}

// ExecContext returns the cancellation context captured at admission.
// Await points during execution run under it.
func (t *Ticket) ExecContext() context.Context {
	return t.exec
}

// ReleaseStart releases the start-lock so the next admission on the
// same gate can begin. Buffered codes call this before awaiting the
// firmware reply; unbuffered codes hold on until the reply arrived.
func (t *Ticket) ReleaseStart() {
	if t.bypass || !t.startHeld {
		return
	}
	t.startHeld = false
	t.start.Release()
}

// WaitFinish blocks until every earlier admission on the same gate has
// completed. It deliberately ignores channel cancellation: completion
// ordering holds on success, error and cancellation paths alike.
func (t *Ticket) WaitFinish(ctx context.Context) error {
	if t.bypass {
		return nil
	}
	return t.finish.Wait(ctx)
}

// Close releases whatever the ticket still holds. Safe to call on all
// exit paths.
func (t *Ticket) Close() {
	if t.bypass {
		return
	}
	t.ReleaseStart()
	t.finish.Release()
}
