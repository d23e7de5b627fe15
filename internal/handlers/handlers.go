// internal/handlers/handlers.go
package handlers

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tamzrod/gcode-dispatcher/internal/capture"
	"github.com/tamzrod/gcode-dispatcher/internal/config"
	"github.com/tamzrod/gcode-dispatcher/internal/firmware"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/macro"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
	"github.com/tamzrod/gcode-dispatcher/internal/paths"
	"github.com/tamzrod/gcode-dispatcher/internal/scheduler"
)

// Handlers interprets the curated subset of codes locally. A handler
// returns a non-nil result to mark the code internally resolved, or
// defers to the firmware by declining it.
type Handlers struct {
	Model   *model.Store
	FW      firmware.Interface
	Paths   *paths.Mapper
	Sched   *scheduler.Scheduler
	Capture *capture.Table
	Macros  *macro.Runner
	Files   config.FilesConfig
	Version string
	Log     zerolog.Logger
}

// Process dispatches the code by type. The bool reports whether the
// code was resolved locally.
func (h *Handlers) Process(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	switch c.Type {
	case gcode.GCode:
		return h.processG(ctx, c)
	case gcode.MCode:
		return h.processM(ctx, c)
	case gcode.TCode:
		return h.processT(ctx, c)
	}
	return nil, false, nil
}

// flush waits for quiescent firmware state on the code's channel.
// A rejected flush cancels the code.
func (h *Handlers) flush(ctx context.Context, c *gcode.Code) error {
	ok, err := h.FW.Flush(ctx, c.Channel)
	if err != nil {
		return err
	}
	if !ok {
		return gcode.ErrCancelled
	}
	return nil
}

// fileArgument extracts the filename argument of file-oriented codes.
// Quoted filenames arrive as the unnamed parameter or a string P;
// unquoted ones are recovered from the source text because the lexer
// splits them like parameters.
func fileArgument(c *gcode.Code) string {
	if p := c.UnnamedParameter(); p != nil {
		return p.Raw
	}
	if p := c.Parameter('P'); p != nil && p.IsString {
		return p.Raw
	}

	src := strings.TrimSpace(c.Source)
	if idx := strings.IndexAny(src, " \t"); idx >= 0 {
		src = src[idx+1:]
	} else {
		return ""
	}
	for _, stop := range []byte{';', '('} {
		if idx := strings.IndexByte(src, stop); idx >= 0 {
			src = src[:idx]
		}
	}
	return strings.TrimSpace(src)
}
