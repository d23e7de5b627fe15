// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tamzrod/gcode-dispatcher/internal/capture"
	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/expr"
	"github.com/tamzrod/gcode-dispatcher/internal/firmware"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/handlers"
	"github.com/tamzrod/gcode-dispatcher/internal/intercept"
	"github.com/tamzrod/gcode-dispatcher/internal/macro"
	"github.com/tamzrod/gcode-dispatcher/internal/metrics"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
	"github.com/tamzrod/gcode-dispatcher/internal/scheduler"
)

// Executor orchestrates one code through admission, interception,
// local handling, firmware dispatch and finalization.
type Executor struct {
	Sched    *scheduler.Scheduler
	Bus      *intercept.Bus
	Handlers *handlers.Handlers
	FW       firmware.Interface
	Model    *model.Store
	Capture  *capture.Table
	Macros   *macro.Runner
	Eval     *expr.Evaluator
	Log      zerolog.Logger
}

// Execute admits the code and runs it. Asynchronous codes are detached:
// the call returns immediately with a nil result.
func (e *Executor) Execute(ctx context.Context, c *gcode.Code) (gcode.Result, error) {
	if isEmergency(c) {
		c.Flags |= gcode.Prioritized
	}

	opts := scheduler.AdmitOptions{}
	if conn, ok := intercept.ConnectionFromContext(ctx); ok {
		if nested := e.Bus.CodeBeingIntercepted(conn); nested != nil {
			// A code emitted by an interceptor on its own connection
			// must not wait behind the code it is intercepting.
			opts.Bypass = true
			if nested.Flags.Has(gcode.FromMacro) {
				c.Flags |= gcode.FromMacro
				c.Macro = nested.Macro
			}
		}
	}
	if c.Macro != 0 {
		if m := e.Macros.Arena().Get(c.Macro); m != nil {
			opts.MacroGate = m.Gate()
		}
	}

	ticket, err := e.Sched.Admit(ctx, c, opts)
	if err != nil {
		return nil, err
	}
	metrics.CodesAdmitted.WithLabelValues(c.Channel.String(), ticket.Class().String()).Inc()

	if c.Flags.Has(gcode.Asynchronous) {
		go func() {
			if _, err := e.run(context.WithoutCancel(ctx), c, ticket); err != nil {
				e.Log.Debug().Err(err).
					Str("code", c.ShortForm()).
					Str("channel", c.Channel.String()).
					Msg("asynchronous code failed")
			}
		}()
		return nil, nil
	}
	return e.run(ctx, c, ticket)
}

// isEmergency reports M112/M999, which skip flushes and overtake
// everything at admission.
func isEmergency(c *gcode.Code) bool {
	return c.Type == gcode.MCode && c.Major != nil && (*c.Major == 112 || *c.Major == 999)
}

// run drives one admitted code to completion.
func (e *Executor) run(ctx context.Context, c *gcode.Code, t *scheduler.Ticket) (res gcode.Result, err error) {
	defer t.Close()

	// Await points observe the channel cancellation captured at
	// admission as well as the caller's context.
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ExecContext(), cancel)
	defer stop()

	// An open M28 writer swallows everything on the channel except M29.
	if !isM29(c) {
		captured, cerr := e.Capture.Append(execCtx, c.Channel, c.String())
		if cerr != nil {
			return nil, cerr
		}
		if captured {
			c.Result = gcode.EmptyResult()
			return c.Result, nil
		}
	}

	err = e.process(execCtx, c, t)
	if err != nil {
		if errors.Is(err, gcode.ErrCancelled) || errors.Is(err, context.Canceled) {
			// Cancellation clears the result but still finalizes so
			// completion ordering survives.
			c.Result = nil
			e.finalize(ctx, c, t)
			return nil, gcode.ErrCancelled
		}
		// Handler errors keep completion ordering too, but the
		// executed hook does not fire for them.
		e.Log.Error().Err(err).
			Str("code", c.ShortForm()).
			Str("channel", c.Channel.String()).
			Msg("code failed")
		_ = t.WaitFinish(context.Background())
		return nil, err
	}
	return c.Result, nil
}

func isM29(c *gcode.Code) bool {
	return c.Type == gcode.MCode && c.Major != nil && *c.Major == 29
}

// process implements the main pipeline: local handling first, firmware
// dispatch for whatever remains.
func (e *Executor) process(ctx context.Context, c *gcode.Code, t *scheduler.Ticket) error {
	if !c.InternallyProcessed {
		resolved, err := e.processInternally(ctx, c, t)
		if err != nil {
			return err
		}
		if resolved {
			e.finalize(ctx, c, t)
			return nil
		}
	}

	if c.Type == gcode.Comment {
		c.Result = gcode.EmptyResult()
		e.finalize(ctx, c, t)
		return nil
	}

	// The job lock covers the dispatch only, not the reply await, so
	// pause/cancel handlers on other channels stay responsive.
	var (
		fut <-chan firmware.Outcome
		err error
	)
	if c.Channel == channel.File {
		if err := e.Model.LockJob(ctx); err != nil {
			return err
		}
		paused := false
		e.Model.Read(func(s *model.State) { paused = s.Job.IsPaused })
		if paused {
			e.Model.UnlockJob()
			return gcode.ErrCancelled
		}
		fut, err = e.FW.ProcessCode(ctx, c)
		e.Model.UnlockJob()
	} else {
		fut, err = e.FW.ProcessCode(ctx, c)
	}
	if err != nil {
		return fmt.Errorf("firmware dispatch: %w", err)
	}
	metrics.FirmwareDispatches.WithLabelValues(c.Channel.String()).Inc()

	// Buffered codes free the start-lock here so the next code on the
	// class can be sent while this one awaits its reply.
	if !c.Flags.Has(gcode.Unbuffered) {
		t.ReleaseStart()
	}

	select {
	case out := <-fut:
		if out.Err != nil {
			return out.Err
		}
		c.Result = out.Result
	case <-ctx.Done():
		return gcode.ErrCancelled
	}

	e.finalize(ctx, c, t)
	return nil
}

// processInternally runs interception and the local handlers. True
// means the code is done without firmware involvement.
func (e *Executor) processInternally(ctx context.Context, c *gcode.Code, t *scheduler.Ticket) (bool, error) {
	if c.Keyword != gcode.KeywordNone && c.Keyword != gcode.KeywordEcho {
		return false, fmt.Errorf("%w: keyword %q reached the execution core", gcode.ErrInvariant, c.Keyword)
	}

	if !c.Flags.Has(gcode.PreProcessed) {
		resolved, err := e.Bus.Run(ctx, intercept.Pre, c)
		c.Flags |= gcode.PreProcessed
		if err != nil {
			return false, err
		}
		if resolved {
			return true, nil
		}
	}

	if c.Keyword == gcode.KeywordNone && needsEvaluation(c) {
		if err := e.flush(ctx, c); err != nil {
			return false, err
		}
		if err := e.Eval.EvaluateParams(ctx, c); err != nil {
			return false, err
		}
	}

	result, handled, err := e.Handlers.Process(ctx, c)
	if err != nil {
		return false, err
	}
	if handled && c.Keyword == gcode.KeywordNone {
		c.InternallyProcessed = true
		c.Result = result
		return true, nil
	}

	if !c.Flags.Has(gcode.PostProcessed) {
		resolved, err := e.Bus.Run(ctx, intercept.Post, c)
		c.Flags |= gcode.PostProcessed
		if err != nil {
			return false, err
		}
		if resolved {
			return true, nil
		}
	}

	if c.Keyword == gcode.KeywordEcho {
		if err := e.flush(ctx, c); err != nil {
			return false, err
		}
		out, err := e.Eval.Evaluate(ctx, c.KeywordArgument)
		if err != nil {
			return false, err
		}
		c.Result = gcode.SuccessResult(out)
		c.InternallyProcessed = true
		return true, nil
	}

	return false, nil
}

// flush waits for the firmware to drain the channel; a rejected flush
// cancels the code.
func (e *Executor) flush(ctx context.Context, c *gcode.Code) error {
	ok, err := e.FW.Flush(ctx, c.Channel)
	if err != nil {
		return err
	}
	if !ok {
		return gcode.ErrCancelled
	}
	return nil
}

// needsEvaluation reports unquoted parameter values that contain an
// inline {...} expression.
func needsEvaluation(c *gcode.Code) bool {
	for i := range c.Parameters {
		p := &c.Parameters[i]
		if !p.IsString && strings.Contains(p.Raw, "{") && expr.ContainsModelFields(p.Raw) {
			return true
		}
	}
	return false
}
