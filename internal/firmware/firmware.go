// internal/firmware/firmware.go
package firmware

import (
	"context"
	"io"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
)

// Outcome is the completed reply for one dispatched code.
type Outcome struct {
	Result gcode.Result
	Err    error
}

// Interface is the transport abstraction that forwards unresolved codes
// to the controller. Implementations serialize internally; Flush
// returns true once outstanding work for the channel has drained.
type Interface interface {
	// ProcessCode dispatches a code and returns a future reply. The
	// returned channel receives exactly one Outcome.
	ProcessCode(ctx context.Context, c *gcode.Code) (<-chan Outcome, error)

	// Flush waits for the firmware to drain outstanding work for the
	// channel. False means the flush was rejected or interrupted.
	Flush(ctx context.Context, ch channel.Channel) (bool, error)

	// UpdateFirmware streams the IAP binary followed by the firmware
	// binary to the controller.
	UpdateFirmware(ctx context.Context, iap io.Reader, fw io.Reader) error
}
