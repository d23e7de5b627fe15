// internal/firmware/builder.go
package firmware

import (
	"time"

	"github.com/rs/zerolog"

	cfg "github.com/tamzrod/gcode-dispatcher/internal/config"
)

// Build constructs the serial firmware client from normalized config.
// Fails fast at startup; reconnection policy belongs to the supervisor.
func Build(fc cfg.FirmwareConfig, log zerolog.Logger) (*Client, func() error, error) {
	client, err := Open(Config{
		Device:   fc.Device,
		BaudRate: fc.BaudRate,
		DataBits: fc.DataBits,
		StopBits: fc.StopBits,
		Parity:   fc.Parity,
		Timeout:  time.Duration(fc.TimeoutMs) * time.Millisecond,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
