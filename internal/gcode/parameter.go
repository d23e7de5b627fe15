// internal/gcode/parameter.go
package gcode

import (
	"strconv"
	"strings"
)

// NoLetter marks the unnamed parameter (a bare quoted string, M117-style).
const NoLetter byte = 0

// Parameter is one letter/value pair of a code. The raw value is kept
// verbatim; typed access is lazy and fails with a ParseError on mismatch.
type Parameter struct {
	Letter   byte
	Raw      string
	IsString bool // value came from a quoted run
}

func (p *Parameter) name() string {
	if p.Letter == NoLetter {
		return "unnamed parameter"
	}
	return "parameter " + string(p.Letter)
}

// Bool interprets the value as a boolean (non-zero integer).
func (p *Parameter) Bool() (bool, error) {
	v, err := p.Int()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Int interprets the value as a signed integer.
func (p *Parameter) Int() (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(p.Raw))
	if err != nil {
		return 0, parseErrorf("%s: %q is not an integer", p.name(), p.Raw)
	}
	return v, nil
}

// Uint interprets the value as an unsigned integer.
func (p *Parameter) Uint() (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(p.Raw), 10, 64)
	if err != nil {
		return 0, parseErrorf("%s: %q is not an unsigned integer", p.name(), p.Raw)
	}
	return v, nil
}

// Float interprets the value as a float.
func (p *Parameter) Float() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(p.Raw), 64)
	if err != nil {
		return 0, parseErrorf("%s: %q is not a number", p.name(), p.Raw)
	}
	return v, nil
}

// String returns the raw value.
func (p *Parameter) String() string {
	return p.Raw
}

// IntSlice interprets the value as a colon-separated integer vector.
func (p *Parameter) IntSlice() ([]int, error) {
	parts := strings.Split(p.Raw, ":")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, parseErrorf("%s: %q is not an integer vector", p.name(), p.Raw)
		}
		out = append(out, v)
	}
	return out, nil
}

// FloatSlice interprets the value as a colon-separated float vector.
func (p *Parameter) FloatSlice() ([]float64, error) {
	parts := strings.Split(p.Raw, ":")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, parseErrorf("%s: %q is not a number vector", p.name(), p.Raw)
		}
		out = append(out, v)
	}
	return out, nil
}

// render reconstructs the textual form of the parameter.
func (p *Parameter) render() string {
	var b strings.Builder
	if p.Letter != NoLetter {
		b.WriteByte(p.Letter)
	}
	if p.IsString {
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(p.Raw, `"`, `""`))
		b.WriteByte('"')
	} else {
		b.WriteString(p.Raw)
	}
	return b.String()
}
