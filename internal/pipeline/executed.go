// internal/pipeline/executed.go
package pipeline

import (
	"context"
	"strings"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/intercept"
	"github.com/tamzrod/gcode-dispatcher/internal/metrics"
	"github.com/tamzrod/gcode-dispatcher/internal/scheduler"
)

// finalize waits for the finish slot and runs the executed stage. The
// wait deliberately ignores channel cancellation so completion order
// holds on every path.
func (e *Executor) finalize(ctx context.Context, c *gcode.Code, t *scheduler.Ticket) {
	_ = t.WaitFinish(context.Background())
	e.codeExecuted(ctx, c)
}

// codeExecuted finalizes the result: handler post-hooks, error
// prefixing, compatibility cosmetics, logging and Executed interceptors.
func (e *Executor) codeExecuted(ctx context.Context, c *gcode.Code) {
	if !c.ResolvedByInterceptor {
		e.Handlers.CodeExecuted(ctx, c)
	}

	// Error messages carry the code's short form so the sender can
	// attribute them.
	short := c.ShortForm()
	for _, m := range c.Result {
		if m.Type == gcode.Error && !strings.HasPrefix(m.Content, short+": ") {
			m.Content = short + ": " + m.Content
		}
	}

	e.applyCompatibility(c)

	outcome := "success"
	switch {
	case c.Result == nil:
		outcome = "cancelled"
	case !c.Result.IsSuccessful():
		outcome = "error"
	}
	metrics.CodesExecuted.WithLabelValues(c.Channel.String(), outcome).Inc()

	if c.Result != nil && !c.Result.IsSuccessful() && c.Channel != channel.File {
		e.Log.Warn().
			Str("code", short).
			Str("channel", c.Channel.String()).
			Str("result", c.Result.String()).
			Msg("code finished with errors")
	}

	if _, err := e.Bus.Run(ctx, intercept.Executed, c); err != nil {
		e.Log.Error().Err(err).Str("code", short).Msg("executed interceptor failed")
	}
}

// applyCompatibility applies the Marlin-style framing some senders
// expect: "ok " prefixed to M105 replies, a trailing "ok" otherwise.
func (e *Executor) applyCompatibility(c *gcode.Code) {
	if c.Result == nil {
		return
	}
	if !e.Model.Compatibility(c.Channel).WantsMarlinFraming() {
		return
	}

	if c.Type == gcode.MCode && c.Major != nil && *c.Major == 105 {
		if len(c.Result) > 0 && !strings.HasPrefix(c.Result[0].Content, "ok") {
			c.Result[0].Content = "ok " + c.Result[0].Content
		}
		return
	}
	c.Result = append(c.Result, &gcode.Message{Type: gcode.Success, Content: "ok"})
}
