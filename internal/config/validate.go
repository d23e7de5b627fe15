// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	d := &cfg.Dispatcher

	// ------------------------------------------------------------
	// FIRMWARE LINK
	// ------------------------------------------------------------

	if d.Firmware.Device == "" {
		return fmt.Errorf("firmware.device is required")
	}
	if d.Firmware.BaudRate < 0 {
		return fmt.Errorf("firmware.baud_rate must be >= 0")
	}
	if d.Firmware.TimeoutMs < 0 {
		return fmt.Errorf("firmware.timeout_ms must be >= 0")
	}
	switch d.Firmware.Parity {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("firmware.parity %q is not one of N, E, O", d.Firmware.Parity)
	}

	// ------------------------------------------------------------
	// CHANNELS
	// ------------------------------------------------------------

	seen := make(map[string]bool)
	for _, ch := range d.Channels {
		if _, ok := channel.Parse(ch.Name); !ok {
			return fmt.Errorf("channels: unknown channel %q", ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels: channel %q configured twice", ch.Name)
		}
		seen[ch.Name] = true

		if ch.Compatibility != "" {
			if _, ok := channel.ParseCompatibility(ch.Compatibility); !ok {
				return fmt.Errorf(
					"channels: channel %q: unknown compatibility %q",
					ch.Name, ch.Compatibility,
				)
			}
		}
	}

	return nil
}
