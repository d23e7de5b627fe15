// internal/handlers/gcodes.go
package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/paths"
)

// processG handles the few G-codes with host-side behavior. Everything
// else goes to the firmware.
func (h *Handlers) processG(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	switch c.MajorOr(-1) {
	case 29:
		// Mesh probing defers to mesh.g when present.
		if p := c.Parameter('S'); p != nil {
			if v, err := p.Int(); err != nil || v != 0 {
				return nil, false, nil
			}
		}
		meshFile := filepath.Join(h.Paths.Physical(paths.System), "mesh.g")
		if _, err := os.Stat(meshFile); err != nil {
			return nil, false, nil
		}
		res, err := h.Macros.Run(ctx, meshFile, c.Channel)
		if err != nil {
			return nil, false, err
		}
		if res == nil {
			res = gcode.EmptyResult()
		}
		return res, true, nil
	}
	return nil, false, nil
}

// processT lets tool changes pass through to the firmware untouched.
func (h *Handlers) processT(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	return nil, false, nil
}
