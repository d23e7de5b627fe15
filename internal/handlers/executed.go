// internal/handlers/executed.go
package handlers

import (
	"context"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
)

// CodeExecuted applies the handler-specific side effects that belong
// after result finalization. The pipeline skips it for codes resolved
// by an interceptor.
func (h *Handlers) CodeExecuted(ctx context.Context, c *gcode.Code) {
	if c.Type != gcode.MCode || c.Major == nil {
		return
	}
	if c.Result != nil && !c.Result.IsSuccessful() {
		return
	}

	switch *c.Major {
	case 24, 32, 37:
		// Job dispatch resumes once the code went through.
		h.Model.Write(func(s *model.State) {
			if s.Job.File != "" {
				s.Job.IsPrinting = true
				s.Job.IsPaused = false
				s.Job.PausePosition = nil
			}
		})

	case 82:
		h.Model.Write(func(s *model.State) {
			s.Inputs[c.Channel].RelativeExtrusion = false
		})

	case 83:
		h.Model.Write(func(s *model.State) {
			s.Inputs[c.Channel].RelativeExtrusion = true
		})

	case 122:
		if !c.InternallyProcessed {
			c.Result = append(c.Result, &gcode.Message{
				Type:    gcode.Success,
				Content: h.diagnostics(),
			})
		}

	case 555:
		if p := c.Parameter('P'); p != nil {
			if v, err := p.Int(); err == nil {
				if compat := channel.Compatibility(v); compat.String() != "Unknown" {
					h.Model.Write(func(s *model.State) {
						s.Inputs[c.Channel].Compatibility = compat
					})
				}
			}
		}
	}
}
