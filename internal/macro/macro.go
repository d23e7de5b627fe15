// internal/macro/macro.go
package macro

import (
	"sync"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/scheduler"
)

// Macro is one executing macro file. Codes belonging to it serialize
// through its private gate, not the global Macro class gate, so nested
// macros only wait for their own siblings.
type Macro struct {
	Handle  gcode.MacroHandle
	Path    string
	Channel channel.Channel

	gate *scheduler.Gate
}

// Gate returns the macro's private serialization gate.
func (m *Macro) Gate() *scheduler.Gate {
	return m.gate
}

// Arena owns the live macros and hands out integer handles. Codes carry
// the handle, never a direct pointer, which keeps the code/macro
// reference cycle out of the data model.
type Arena struct {
	mu     sync.Mutex
	next   gcode.MacroHandle
	macros map[gcode.MacroHandle]*Macro
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{macros: make(map[gcode.MacroHandle]*Macro)}
}

// Add registers a new executing macro and returns it.
func (a *Arena) Add(path string, ch channel.Channel) *Macro {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.next++
	m := &Macro{
		Handle:  a.next,
		Path:    path,
		Channel: ch,
		gate:    scheduler.NewGate(),
	}
	a.macros[m.Handle] = m
	return m
}

// Get looks a macro up by handle. Nil when the macro already finished.
func (a *Arena) Get(h gcode.MacroHandle) *Macro {
	if h == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.macros[h]
}

// Remove drops a finished macro from the arena.
func (a *Arena) Remove(h gcode.MacroHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.macros, h)
}
