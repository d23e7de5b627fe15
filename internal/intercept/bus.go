// internal/intercept/bus.go
package intercept

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/metrics"
)

// Mode is the pipeline stage an interceptor is registered for.
type Mode int

// ---- INTERCEPTION MODES ----

const (
	// Pre runs before local handling.
	Pre Mode = iota
	// Post runs after local handling declined the code.
	Post
	// Executed runs after the result is finalized.
	Executed

	modeCount
)

func (m Mode) String() string {
	switch m {
	case Pre:
		return "Pre"
	case Post:
		return "Post"
	case Executed:
		return "Executed"
	}
	return "Unknown"
}

// Verdict is an interceptor's decision about a code.
type Verdict int

// ---- VERDICTS ----

const (
	// Ignore lets the pipeline continue.
	Ignore Verdict = iota
	// Resolve adopts the interceptor's result and short-circuits the
	// remaining pipeline.
	Resolve
	// Cancel aborts the code with ErrCancelled.
	Cancel
)

func (v Verdict) String() string {
	switch v {
	case Ignore:
		return "Ignore"
	case Resolve:
		return "Resolve"
	case Cancel:
		return "Cancel"
	}
	return "Unknown"
}

// Interceptor observes codes over a connection and returns one verdict
// per code per mode. The result is only read for Resolve.
type Interceptor interface {
	Intercept(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error)
}

type entry struct {
	id uuid.UUID
	ic Interceptor
}

// Bus delivers codes to registered interceptors in registration order
// and tracks which code each connection is currently intercepting.
type Bus struct {
	mu     sync.RWMutex
	regs   [modeCount][]entry
	active map[uuid.UUID]*gcode.Code
}

// NewBus creates an empty interception bus.
func NewBus() *Bus {
	return &Bus{active: make(map[uuid.UUID]*gcode.Code)}
}

// Register adds an interceptor for a mode and returns its connection id.
func (b *Bus) Register(mode Mode, ic Interceptor) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.regs[mode] = append(b.regs[mode], entry{id: id, ic: ic})
	b.mu.Unlock()
	return id
}

// Unregister removes a connection from every mode.
func (b *Bus) Unregister(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for m := range b.regs {
		regs := b.regs[m][:0]
		for _, e := range b.regs[m] {
			if e.id != id {
				regs = append(regs, e)
			}
		}
		b.regs[m] = regs
	}
	delete(b.active, id)
}

// CodeBeingIntercepted returns the code a connection is currently
// holding, or nil. The scheduler consults this to let nested codes
// bypass ordering.
func (b *Bus) CodeBeingIntercepted(conn uuid.UUID) *gcode.Code {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active[conn]
}

func (b *Bus) snapshot(mode Mode) []entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]entry, len(b.regs[mode]))
	copy(out, b.regs[mode])
	return out
}

func (b *Bus) setActive(conn uuid.UUID, c *gcode.Code) {
	b.mu.Lock()
	if c == nil {
		delete(b.active, conn)
	} else {
		b.active[conn] = c
	}
	b.mu.Unlock()
}

// Run delivers the code to every interceptor of the mode. It returns
// true when a Resolve verdict short-circuited the pipeline; Cancel
// verdicts surface as ErrCancelled.
func (b *Bus) Run(ctx context.Context, mode Mode, c *gcode.Code) (bool, error) {
	for _, e := range b.snapshot(mode) {
		b.setActive(e.id, c)
		verdict, result, err := e.ic.Intercept(WithConnection(ctx, e.id), c)
		b.setActive(e.id, nil)

		if err != nil {
			return false, fmt.Errorf("interceptor %s (%s): %w", e.id, mode, err)
		}
		metrics.InterceptVerdicts.WithLabelValues(mode.String(), verdict.String()).Inc()

		if mode == Executed {
			// Executed is notification only; verdicts are not acted on.
			continue
		}

		switch verdict {
		case Resolve:
			c.Result = result
			c.ResolvedByInterceptor = true
			c.InternallyProcessed = true
			return true, nil
		case Cancel:
			return false, gcode.ErrCancelled
		}
	}
	return false, nil
}

// ---- CONNECTION CONTEXT ----

type connKey struct{}

// WithConnection tags ctx with the interceptor connection executing in it.
func WithConnection(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, connKey{}, id)
}

// ConnectionFromContext returns the tagged connection id, if any.
func ConnectionFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(connKey{}).(uuid.UUID)
	return id, ok
}
