// internal/config/normalize.go
package config

import "path/filepath"

// Defaults applied by Normalize.
const (
	DefaultBaseDir        = "/opt/dispatcher/sd"
	DefaultBaudRate       = 115200
	DefaultTimeoutMs      = 4000
	DefaultConfigOverride = "config-override.g"
	DefaultHeightmap      = "heightmap.csv"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	d := &cfg.Dispatcher

	// ------------------------------------------------------------
	// DIRECTORY DEFAULTS
	// ------------------------------------------------------------

	if d.Directories.Base == "" {
		d.Directories.Base = DefaultBaseDir
	}
	base := d.Directories.Base

	fill := func(dst *string, sub string) {
		if *dst == "" {
			*dst = filepath.Join(base, sub)
		}
		*dst = filepath.Clean(*dst)
	}
	fill(&d.Directories.GCodes, "gcodes")
	fill(&d.Directories.System, "sys")
	fill(&d.Directories.Macros, "macros")
	fill(&d.Directories.Filaments, "filaments")
	fill(&d.Directories.Web, "www")
	fill(&d.Directories.Scans, "scans")

	// ------------------------------------------------------------
	// FIRMWARE LINK DEFAULTS
	// ------------------------------------------------------------

	if d.Firmware.BaudRate == 0 {
		d.Firmware.BaudRate = DefaultBaudRate
	}
	if d.Firmware.DataBits == 0 {
		d.Firmware.DataBits = 8
	}
	if d.Firmware.StopBits == 0 {
		d.Firmware.StopBits = 1
	}
	if d.Firmware.Parity == "" {
		d.Firmware.Parity = "N"
	}
	if d.Firmware.TimeoutMs == 0 {
		d.Firmware.TimeoutMs = DefaultTimeoutMs
	}

	// ------------------------------------------------------------
	// WELL-KNOWN FILES
	// ------------------------------------------------------------

	if d.Files.ConfigOverride == "" {
		d.Files.ConfigOverride = DefaultConfigOverride
	}
	if d.Files.Heightmap == "" {
		d.Files.Heightmap = DefaultHeightmap
	}

	if d.Log.Level == "" {
		d.Log.Level = "info"
	}
}
