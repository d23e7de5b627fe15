// internal/handlers/mcodes_files.go
package handlers

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
	"github.com/tamzrod/gcode-dispatcher/internal/paths"
)

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ---- M20 ----

type fileListEntry struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Date string `json:"date"`
}

// listFiles renders the directory listing in the framing the channel's
// compatibility mode expects.
func (h *Handlers) listFiles(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	dir := "0:/gcodes"
	if p := c.Parameter('P'); p != nil {
		dir = p.Raw
	}
	physical := h.Paths.ToPhysical(dir, paths.GCodes)

	entries, err := os.ReadDir(physical)
	if err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to list files in %s: %v", dir, err)), true, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	format := 0
	if p := c.Parameter('S'); p != nil {
		if v, err := p.Int(); err == nil {
			format = v
		}
	}

	switch format {
	case 2, 3:
		return h.listFilesJSON(dir, entries, format == 3), true, nil
	}

	if h.Model.Compatibility(c.Channel).WantsMarlinFraming() {
		var b strings.Builder
		b.WriteString("Begin file list:\n")
		for _, e := range entries {
			b.WriteString(e.Name())
			b.WriteByte('\n')
		}
		b.WriteString("End file list")
		return gcode.SuccessResult(b.String()), true, nil
	}

	var b strings.Builder
	b.WriteString("GCode files:\n")
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%q", e.Name())
	}
	return gcode.SuccessResult(b.String()), true, nil
}

func (h *Handlers) listFilesJSON(dir string, entries []os.DirEntry, detailed bool) gcode.Result {
	var files []any
	for _, e := range entries {
		if !detailed {
			files = append(files, e.Name())
			continue
		}
		entry := fileListEntry{Type: "f", Name: e.Name()}
		if e.IsDir() {
			entry.Type = "d"
		}
		if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
			entry.Date = info.ModTime().Format("2006-01-02T15:04:05")
		}
		files = append(files, entry)
	}
	if files == nil {
		files = []any{}
	}

	payload, err := json.Marshal(map[string]any{
		"dir":   dir,
		"first": 0,
		"files": files,
		"next":  0,
		"err":   0,
	})
	if err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to list files in %s: %v", dir, err))
	}
	return gcode.SuccessResult(string(payload))
}

// ---- M23 / M32 ----

// selectFile binds a print file to the job. M32 additionally starts it
// through the executed hook.
func (h *Handlers) selectFile(ctx context.Context, c *gcode.Code, start bool) (gcode.Result, bool, error) {
	name := fileArgument(c)
	if name == "" {
		return gcode.ErrorResult("No file name provided"), true, nil
	}
	physical := h.Paths.ToPhysical(name, paths.GCodes)

	if _, err := os.Stat(physical); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("GCode file %q not found", name)), true, nil
	}

	if err := h.Model.LockJob(ctx); err != nil {
		return nil, false, err
	}
	defer h.Model.UnlockJob()

	var busy bool
	h.Model.Write(func(s *model.State) {
		if s.Job.IsPrinting && !s.Job.IsPaused {
			busy = true
			return
		}
		s.Job = model.Job{File: physical}
	})
	if busy {
		return gcode.ErrorResult("Cannot set file to print, because a file is already being printed"), true, nil
	}
	return gcode.SuccessResult(fmt.Sprintf("File %s selected for printing", name)), true, nil
}

// ---- M28 / M29 ----

func (h *Handlers) beginCapture(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	name := fileArgument(c)
	if name == "" {
		return gcode.ErrorResult("No file name provided"), true, nil
	}
	physical := h.Paths.ToPhysical(name, paths.GCodes)
	if err := h.Capture.Begin(ctx, c.Channel, physical); err != nil {
		return gcode.ErrorResult(err.Error()), true, nil
	}
	return gcode.SuccessResult(fmt.Sprintf("Writing to file: %s", name)), true, nil
}

func (h *Handlers) endCapture(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	active, err := h.Capture.Active(ctx, c.Channel)
	if err != nil {
		return nil, false, err
	}
	if !active {
		// No capture in progress: let the firmware complain.
		return nil, false, nil
	}
	if _, err := h.Capture.End(ctx, c.Channel); err != nil {
		return gcode.ErrorResult(err.Error()), true, nil
	}
	return gcode.SuccessResult("Done saving file."), true, nil
}

// ---- M30 ----

func (h *Handlers) deleteFile(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	name := fileArgument(c)
	if name == "" {
		return gcode.ErrorResult("No file name provided"), true, nil
	}
	physical := h.Paths.ToPhysical(name, paths.GCodes)
	if err := os.Remove(physical); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to delete file %s: %v", name, err)), true, nil
	}
	return gcode.EmptyResult(), true, nil
}

// ---- M36 ----

// fileInfo reports basic metadata as JSON. err=1 mirrors the firmware
// convention for missing files.
func (h *Handlers) fileInfo(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	name := fileArgument(c)
	if name == "" {
		return gcode.SuccessResult(`{"err":1}`), true, nil
	}
	physical := h.Paths.ToPhysical(name, paths.GCodes)

	info, err := os.Stat(physical)
	if err != nil {
		return gcode.SuccessResult(`{"err":1}`), true, nil
	}

	payload, jerr := json.Marshal(map[string]any{
		"err":          0,
		"fileName":     name,
		"size":         info.Size(),
		"lastModified": info.ModTime().Format("2006-01-02T15:04:05"),
	})
	if jerr != nil {
		return gcode.SuccessResult(`{"err":1}`), true, nil
	}
	return gcode.SuccessResult(string(payload)), true, nil
}

// ---- M37 ----

func (h *Handlers) simulateFile(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	name := fileArgument(c)
	if name == "" {
		// Plain M37 toggles simulation in the firmware.
		return nil, false, nil
	}
	physical := h.Paths.ToPhysical(name, paths.GCodes)
	if _, err := os.Stat(physical); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("GCode file %q not found", name)), true, nil
	}

	if err := h.Model.LockJob(ctx); err != nil {
		return nil, false, err
	}
	defer h.Model.UnlockJob()

	h.Model.Write(func(s *model.State) {
		s.Job = model.Job{File: physical, IsSimulating: true}
	})
	return gcode.SuccessResult(fmt.Sprintf("Simulating print of file %s", name)), true, nil
}

// ---- M38 ----

// hashFile computes the SHA-1 of the physical file behind the argument.
func (h *Handlers) hashFile(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	name := fileArgument(c)
	if name == "" {
		return gcode.ErrorResult("No file name provided"), true, nil
	}
	physical := h.Paths.ToPhysical(name, paths.GCodes)

	f, err := os.Open(physical)
	if err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Cannot find file %s", name)), true, nil
	}
	defer f.Close()

	sum := sha1.New()
	if _, err := io.Copy(sum, f); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to hash file %s: %v", name, err)), true, nil
	}
	return gcode.SuccessResult(strings.ToUpper(hex.EncodeToString(sum.Sum(nil)))), true, nil
}

// ---- M39 ----

func (h *Handlers) storageInfo(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	var fs unix.Statfs_t
	root := h.Paths.Physical(paths.GCodes)
	if err := unix.Statfs(root, &fs); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to read storage info: %v", err)), true, nil
	}

	capacity := int64(fs.Blocks) * fs.Bsize
	free := int64(fs.Bavail) * fs.Bsize

	if p := c.Parameter('S'); p != nil {
		if v, err := p.Int(); err == nil && v == 2 {
			payload, jerr := json.Marshal(map[string]any{
				"SDinfo": map[string]any{
					"slot":     0,
					"present":  true,
					"capacity": capacity,
					"free":     free,
				},
			})
			if jerr == nil {
				return gcode.SuccessResult(string(payload)), true, nil
			}
		}
	}
	return gcode.SuccessResult(fmt.Sprintf(
		"SD card in slot 0: capacity %.2fGb, free space %.2fGb",
		float64(capacity)/1e9, float64(free)/1e9,
	)), true, nil
}

// ---- M374 / M375 ----

// heightmapCode rewrites the P parameter to the physical heightmap path
// and lets the firmware do the grid work.
func (h *Handlers) heightmapCode(ctx context.Context, c *gcode.Code, save bool) (gcode.Result, bool, error) {
	if err := h.flush(ctx, c); err != nil {
		return nil, false, err
	}

	name := h.Files.Heightmap
	if p := c.Parameter('P'); p != nil {
		name = p.Raw
		p.Raw = h.Paths.ToPhysical(name, paths.System)
		p.IsString = true
	} else {
		c.Parameters = append(c.Parameters, gcode.Parameter{
			Letter:   'P',
			Raw:      h.Paths.ToPhysical(name, paths.System),
			IsString: true,
		})
	}
	return nil, false, nil
}

// ---- M470 / M471 ----

func (h *Handlers) makeDirectory(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	p := c.Parameter('P')
	if p == nil {
		return gcode.ErrorResult("No directory name provided"), true, nil
	}
	physical := h.Paths.ToPhysical(p.Raw, paths.GCodes)
	if err := os.MkdirAll(physical, 0o755); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to create directory %s: %v", p.Raw, err)), true, nil
	}
	return gcode.EmptyResult(), true, nil
}

func (h *Handlers) renameFile(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	src := c.Parameter('S')
	dst := c.Parameter('T')
	if src == nil || dst == nil {
		return gcode.ErrorResult("Both S and T parameters are required"), true, nil
	}

	from := h.Paths.ToPhysical(src.Raw, paths.GCodes)
	to := h.Paths.ToPhysical(dst.Raw, paths.GCodes)

	if p := c.Parameter('D'); p != nil {
		if v, err := p.Int(); err == nil && v == 1 {
			_ = os.Remove(to)
		}
	}

	if err := os.Rename(from, to); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to rename %s to %s: %v", src.Raw, dst.Raw, err)), true, nil
	}
	return gcode.EmptyResult(), true, nil
}

// ---- M500 / M503 / M505 ----

// saveConfigOverride persists the host-owned model values.
func (h *Handlers) saveConfigOverride(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	if err := h.flush(ctx, c); err != nil {
		return nil, false, err
	}

	var (
		hostname string
		relative [channel.Count]bool
	)
	h.Model.Read(func(s *model.State) {
		hostname = s.Network.Hostname
		for i := range s.Inputs {
			relative[i] = s.Inputs[i].RelativeExtrusion
		}
	})

	var b strings.Builder
	b.WriteString("; generated by M500, do not edit\n")
	if hostname != "" {
		fmt.Fprintf(&b, "M550 P%q\n", hostname)
	}
	for i, rel := range relative {
		if rel {
			fmt.Fprintf(&b, "M83 ; input %d\n", i)
			break
		}
	}

	target := filepath.Join(h.Paths.Physical(paths.System), h.Files.ConfigOverride)
	if err := os.WriteFile(target, []byte(b.String()), 0o644); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to write %s: %v", h.Files.ConfigOverride, err)), true, nil
	}
	return gcode.EmptyResult(), true, nil
}

func (h *Handlers) reportConfig(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	path := filepath.Join(h.Paths.Physical(paths.System), "config.g")
	raw, err := os.ReadFile(path)
	if err != nil {
		return gcode.ErrorResult("Configuration file not found"), true, nil
	}
	return gcode.SuccessResult(string(raw)), true, nil
}

func (h *Handlers) setSystemDirectory(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	p := c.Parameter('P')
	if p == nil {
		return gcode.SuccessResult(fmt.Sprintf("Sys dir: %s", h.Paths.Physical(paths.System))), true, nil
	}
	h.Paths.Set(paths.System, h.Paths.ToPhysical(p.Raw, paths.System))
	return gcode.EmptyResult(), true, nil
}

// ---- M929 ----

func (h *Handlers) eventLog(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	enable := true
	if p := c.Parameter('S'); p != nil {
		if v, err := p.Int(); err == nil && v == 0 {
			enable = false
		}
	}

	file := "eventlog.txt"
	if p := c.Parameter('P'); p != nil {
		file = p.Raw
	}
	physical := h.Paths.ToPhysical(file, paths.System)

	h.Model.Write(func(s *model.State) {
		s.EventLog.Active = enable
		if enable {
			s.EventLog.File = physical
		}
	})
	return gcode.EmptyResult(), true, nil
}

// ---- M997 ----

// updateFirmware streams the IAP and firmware binaries to the transport.
func (h *Handlers) updateFirmware(ctx context.Context, c *gcode.Code) (gcode.Result, bool, error) {
	sys := h.Paths.Physical(paths.System)

	iapPath := filepath.Join(sys, h.Files.IAP)
	if h.Files.IAP == "" {
		return gcode.ErrorResult("Failed to find IAP file: no file configured"), true, nil
	}
	iap, err := os.Open(iapPath)
	if err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to find IAP file %s", iapPath)), true, nil
	}
	defer iap.Close()

	fwPath := filepath.Join(sys, h.Files.Firmware)
	if h.Files.Firmware == "" {
		return gcode.ErrorResult("Failed to find firmware file: no file configured"), true, nil
	}
	fw, err := os.Open(fwPath)
	if err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Failed to find firmware file %s", fwPath)), true, nil
	}
	defer fw.Close()

	if err := h.flush(ctx, c); err != nil {
		return nil, false, err
	}
	if err := h.FW.UpdateFirmware(ctx, iap, fw); err != nil {
		return gcode.ErrorResult(fmt.Sprintf("Firmware update failed: %v", err)), true, nil
	}
	return gcode.EmptyResult(), true, nil
}
