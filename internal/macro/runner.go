// internal/macro/runner.go
package macro

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
)

// Executor runs one code through the execution pipeline.
// IMPORTANT: There must be NO other version of this interface anywhere.
type Executor interface {
	Execute(ctx context.Context, c *gcode.Code) (gcode.Result, error)
}

// Runner reads a macro file and feeds its codes to the pipeline one by
// one. Codes inherit the invoking channel and the macro handle.
type Runner struct {
	arena *Arena
	exec  Executor
	log   zerolog.Logger
}

// NewRunner creates a runner over the arena. The executor is attached
// after the pipeline exists.
func NewRunner(arena *Arena, log zerolog.Logger) *Runner {
	return &Runner{arena: arena, log: log}
}

// Bind attaches the execution pipeline.
func (r *Runner) Bind(exec Executor) {
	r.exec = exec
}

// Arena exposes the macro arena for handle lookups at admission time.
func (r *Runner) Arena() *Arena {
	return r.arena
}

// Run executes one macro file to completion and returns the combined
// result of its codes. Parse failures and cancellations abort the file.
func (r *Runner) Run(ctx context.Context, path string, ch channel.Channel) (gcode.Result, error) {
	if r.exec == nil {
		return nil, fmt.Errorf("%w: macro runner has no executor", gcode.ErrInvariant)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := r.arena.Add(path, ch)
	defer r.arena.Remove(m.Handle)

	r.log.Debug().Str("file", path).Str("channel", ch.String()).Msg("macro started")

	var (
		combined gcode.Result
		filePos  int64
		lineNo   int64
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++
		pos := filePos
		filePos += int64(len(line)) + 1

		c, err := gcode.Parse(line, ch)
		if err != nil {
			return combined, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}

		c.Flags |= gcode.FromMacro
		c.Macro = m.Handle
		ln := lineNo
		c.LineNumber = &ln
		fp := pos
		c.FilePosition = &fp

		res, err := r.exec.Execute(ctx, c)
		if err != nil {
			return combined, err
		}
		combined = append(combined, res...)
	}
	if err := scanner.Err(); err != nil {
		return combined, err
	}

	r.log.Debug().Str("file", path).Msg("macro finished")
	return combined, nil
}
