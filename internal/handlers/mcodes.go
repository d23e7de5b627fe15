// internal/handlers/mcodes.go
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
)

// processM is the M-code switch. Codes not named here pass through to
// the firmware.
func (h *Handlers) processM(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	switch c.MajorOr(-1) {
	case 0, 1:
		return h.cancelPrint(ctx, c)
	case 20:
		return h.listFiles(ctx, c)
	case 23:
		return h.selectFile(ctx, c, false)
	case 24:
		return h.resumePrint(ctx, c)
	case 25, 226:
		return h.pausePrint(ctx, c)
	case 26:
		return h.setFilePosition(ctx, c)
	case 27:
		return h.reportPrintStatus(ctx, c)
	case 28:
		return h.beginCapture(ctx, c)
	case 29:
		return h.endCapture(ctx, c)
	case 30:
		return h.deleteFile(ctx, c)
	case 32:
		return h.selectFile(ctx, c, true)
	case 36:
		return h.fileInfo(ctx, c)
	case 37:
		return h.simulateFile(ctx, c)
	case 38:
		return h.hashFile(ctx, c)
	case 39:
		return h.storageInfo(ctx, c)
	case 82, 83:
		// Extrusion mode is mirrored into the model by the executed
		// hook; the firmware interprets the motion change.
		return nil, false, nil
	case 112:
		// Emergency stop goes straight to the firmware, no flush.
		return nil, false, nil
	case 122:
		return h.diagnosticsCode(ctx, c)
	case 291:
		return h.messageBox(ctx, c)
	case 374:
		return h.heightmapCode(ctx, c, true)
	case 375:
		return h.heightmapCode(ctx, c, false)
	case 470:
		return h.makeDirectory(ctx, c)
	case 471:
		return h.renameFile(ctx, c)
	case 500:
		return h.saveConfigOverride(ctx, c)
	case 503:
		return h.reportConfig(ctx, c)
	case 505:
		return h.setSystemDirectory(ctx, c)
	case 550:
		return h.hostname(ctx, c)
	case 555:
		// Compatibility is applied by the executed hook once the
		// firmware accepted the code.
		return nil, false, nil
	case 701, 702, 703:
		// Filament handling needs the full model in sync first.
		if err := h.flush(ctx, c); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	case 905:
		return h.setRTC(ctx, c)
	case 929:
		return h.eventLog(ctx, c)
	case 997:
		return h.updateFirmware(ctx, c)
	case 998:
		return gcode.ErrorResult("Code is not supported"), true, nil
	case 999:
		// Controller reset, dispatched directly without flush.
		return nil, false, nil
	}
	return nil, false, nil
}

// ---- JOB CONTROL ----

// cancelPrint invalidates the print file. The code still travels to the
// firmware so motion stops there.
func (h *Handlers) cancelPrint(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	if err := h.flush(ctx, c); err != nil {
		return nil, false, err
	}
	if err := h.Model.LockJob(ctx); err != nil {
		return nil, false, err
	}
	defer h.Model.UnlockJob()

	h.Model.Write(func(s *model.State) {
		s.Job = model.Job{}
	})
	// A stop code also dismisses a pending message box.
	h.Sched.SetAwaitingAck(c.Channel, false)
	return nil, false, nil
}

func (h *Handlers) resumePrint(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	if err := h.Model.LockJob(ctx); err != nil {
		return nil, false, err
	}
	defer h.Model.UnlockJob()

	var noFile bool
	h.Model.Read(func(s *model.State) {
		noFile = s.Job.File == ""
	})
	if noFile {
		return gcode.ErrorResult("Cannot print, because no file is selected!"), true, nil
	}
	return nil, false, nil
}

func (h *Handlers) pausePrint(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	if err := h.flush(ctx, c); err != nil {
		return nil, false, err
	}
	if err := h.Model.LockJob(ctx); err != nil {
		return nil, false, err
	}
	defer h.Model.UnlockJob()

	var printing bool
	h.Model.Write(func(s *model.State) {
		printing = s.Job.File != "" && s.Job.IsPrinting
		if printing && !s.Job.IsPaused {
			s.Job.IsPaused = true
			pos := s.Job.FilePosition
			s.Job.PausePosition = &pos
		}
	})
	if !printing {
		return gcode.ErrorResult("Cannot pause print, because no file is being printed!"), true, nil
	}
	return nil, false, nil
}

func (h *Handlers) setFilePosition(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	p := c.Parameter('S')
	if p == nil {
		var pos int64
		h.Model.Read(func(s *model.State) { pos = s.Job.FilePosition })
		return gcode.SuccessResult(fmt.Sprintf("SD position: %d", pos)), true, nil
	}
	v, err := p.Uint()
	if err != nil {
		return nil, false, err
	}
	h.Model.Write(func(s *model.State) { s.Job.FilePosition = int64(v) })
	return gcode.EmptyResult(), true, nil
}

func (h *Handlers) reportPrintStatus(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	var (
		file string
		pos  int64
	)
	h.Model.Read(func(s *model.State) {
		if s.Job.IsPrinting || s.Job.IsPaused {
			file = s.Job.File
			pos = s.Job.FilePosition
		}
	})
	if file == "" {
		return gcode.SuccessResult("Not SD printing."), true, nil
	}
	size := fileSize(file)
	return gcode.SuccessResult(fmt.Sprintf("SD printing byte %d/%d", pos, size)), true, nil
}

// ---- MISC ----

func (h *Handlers) diagnosticsCode(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	addressedToHost := false
	if p := c.Parameter('B'); p != nil {
		if v, err := p.Int(); err == nil && v == 0 {
			addressedToHost = true
		}
	}
	if p := c.UnnamedParameter(); p != nil && p.Raw == "DSF" {
		addressedToHost = true
	}
	if !addressedToHost {
		// Firmware diagnostics; the host block is appended by the
		// executed hook.
		return nil, false, nil
	}
	return gcode.SuccessResult(h.diagnostics()), true, nil
}

// diagnostics renders the host-side diagnostics block.
func (h *Handlers) diagnostics() string {
	var (
		job     model.Job
		started time.Time
	)
	h.Model.Read(func(s *model.State) {
		job = s.Job
		started = s.StartUp
	})

	out := "=== Dispatcher ===\n"
	out += fmt.Sprintf("Version: %s\n", h.Version)
	out += fmt.Sprintf("Up time: %.0fs\n", time.Since(started).Seconds())
	if job.File != "" {
		out += fmt.Sprintf("Job file: %s at byte %d\n", job.File, job.FilePosition)
	} else {
		out += "No job in progress\n"
	}
	return out
}

func (h *Handlers) messageBox(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	if p := c.Parameter('S'); p != nil {
		if v, err := p.Int(); err == nil && v >= 2 {
			return gcode.ErrorResult("Blocking message boxes are not supported"), true, nil
		}
	}
	return nil, false, nil
}

func (h *Handlers) hostname(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	p := c.Parameter('P')
	if p == nil {
		var name string
		h.Model.Read(func(s *model.State) { name = s.Network.Hostname })
		return gcode.SuccessResult(fmt.Sprintf("Hostname: %s", name)), true, nil
	}
	h.Model.Write(func(s *model.State) { s.Network.Hostname = p.Raw })
	return gcode.EmptyResult(), true, nil
}

func (h *Handlers) setRTC(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	pd := c.Parameter('P')
	ps := c.Parameter('S')

	if pd == nil && ps == nil {
		var now time.Time
		h.Model.Read(func(s *model.State) { now = s.Time })
		if now.IsZero() {
			now = time.Now()
		}
		return gcode.SuccessResult(now.Format("2006-01-02 15:04:05")), true, nil
	}

	var base time.Time
	h.Model.Read(func(s *model.State) { base = s.Time })
	if base.IsZero() {
		base = time.Now()
	}

	if pd != nil {
		d, err := time.Parse("2006-01-02", pd.Raw)
		if err != nil {
			return gcode.ErrorResult(fmt.Sprintf("Invalid date format: %s", pd.Raw)), true, nil
		}
		base = time.Date(d.Year(), d.Month(), d.Day(),
			base.Hour(), base.Minute(), base.Second(), 0, base.Location())
	}
	if ps != nil {
		t, err := time.Parse("15:04:05", ps.Raw)
		if err != nil {
			return gcode.ErrorResult(fmt.Sprintf("Invalid time format: %s", ps.Raw)), true, nil
		}
		base = time.Date(base.Year(), base.Month(), base.Day(),
			t.Hour(), t.Minute(), t.Second(), 0, base.Location())
	}

	h.Model.Write(func(s *model.State) { s.Time = base })
	return gcode.EmptyResult(), true, nil
}
