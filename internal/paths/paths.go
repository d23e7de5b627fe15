// internal/paths/paths.go
package paths

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/tamzrod/gcode-dispatcher/internal/config"
)

// Dir is a well-known virtual directory category.
type Dir int

// ---- VIRTUAL DIRECTORIES ----

const (
	GCodes Dir = iota
	System
	Macros
	Filaments
	Web
	Scans
)

// Mapper resolves virtual paths (used on the wire, e.g. "0:/gcodes/x.g")
// to physical paths under the configured directories. Directories can
// be redirected at runtime (M505).
type Mapper struct {
	mu   sync.RWMutex
	dirs [6]string
}

// NewMapper builds a Mapper from normalized directory config.
func NewMapper(d config.DirectoriesConfig) *Mapper {
	return &Mapper{
		dirs: [6]string{
			GCodes:    d.GCodes,
			System:    d.System,
			Macros:    d.Macros,
			Filaments: d.Filaments,
			Web:       d.Web,
			Scans:     d.Scans,
		},
	}
}

// Physical returns the physical directory backing a virtual category.
func (m *Mapper) Physical(d Dir) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[d]
}

// Set redirects a virtual category to a new physical directory.
func (m *Mapper) Set(d Dir, physical string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[d] = filepath.Clean(physical)
}

// virtual first-segment names accepted on the wire.
var virtualNames = map[string]Dir{
	"gcodes":    GCodes,
	"sys":       System,
	"system":    System,
	"macros":    Macros,
	"filaments": Filaments,
	"www":       Web,
	"web":       Web,
	"scans":     Scans,
}

// ToPhysical maps a virtual path to a physical one. Paths without a
// recognized volume or directory prefix resolve under fallback.
func (m *Mapper) ToPhysical(virtual string, fallback Dir) string {
	m.mu.RLock()
	dirs := m.dirs
	m.mu.RUnlock()

	p := strings.TrimSpace(virtual)

	// Strip the SD volume prefix ("0:/", "1:/").
	if len(p) >= 2 && p[1] == ':' {
		p = p[2:]
	}
	p = strings.TrimPrefix(p, "/")

	if p == "" {
		return dirs[fallback]
	}

	first := p
	rest := ""
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		first = p[:idx]
		rest = p[idx+1:]
	}

	if d, ok := virtualNames[strings.ToLower(first)]; ok {
		return filepath.Join(dirs[d], filepath.FromSlash(rest))
	}
	return filepath.Join(dirs[fallback], filepath.FromSlash(p))
}
