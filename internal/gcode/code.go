// internal/gcode/code.go
package gcode

import (
	"strconv"
	"strings"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

// Type is the lexical class of a code.
type Type int

// ---- CODE TYPES ----

const (
	GCode Type = iota
	MCode
	TCode
	Comment
	KeywordCode
)

func (t Type) String() string {
	switch t {
	case GCode:
		return "G"
	case MCode:
		return "M"
	case TCode:
		return "T"
	case Comment:
		return "Comment"
	case KeywordCode:
		return "Keyword"
	}
	return "?"
}

// Keyword is a meta-command keyword. Only Echo is interpreted by the
// execution core; the conditional keywords belong to the file layer.
type Keyword int

// ---- KEYWORDS ----

const (
	KeywordNone Keyword = iota
	KeywordEcho
	KeywordIf
	KeywordElif
	KeywordElse
	KeywordWhile
	KeywordBreak
	KeywordContinue
	KeywordVar
	KeywordSet
	KeywordAbort
)

var keywordNames = map[string]Keyword{
	"echo":     KeywordEcho,
	"if":       KeywordIf,
	"elif":     KeywordElif,
	"else":     KeywordElse,
	"while":    KeywordWhile,
	"break":    KeywordBreak,
	"continue": KeywordContinue,
	"var":      KeywordVar,
	"set":      KeywordSet,
	"abort":    KeywordAbort,
}

func (k Keyword) String() string {
	for name, kw := range keywordNames {
		if kw == k {
			return name
		}
	}
	return ""
}

// Flags is the code flag bitset. Flags are monotonic: once set they
// stay set, except where the pipeline explicitly adds more.
type Flags uint16

// ---- FLAGS ----

const (
	// Asynchronous codes are fire-and-forget; the caller gets no result.
	Asynchronous Flags = 1 << iota

	// FromMacro marks codes emitted by a macro file.
	FromMacro

	// Prioritized codes overtake every other class at admission.
	Prioritized

	// Unbuffered forbids pipelining: the start-lock is held until the
	// firmware has replied.
	Unbuffered

	// PreProcessed marks that Pre interceptors have already run.
	PreProcessed

	// PostProcessed marks that Post interceptors have already run.
	PostProcessed
)

// Has reports whether all given flags are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// MacroHandle references an executing macro by arena index. Zero means
// the code does not belong to a macro.
type MacroHandle int32

// Code is one parsed G/M/T-code. It is owned by the task executing it;
// scheduler state references it by channel and class only.
type Code struct {
	Source  string
	Channel channel.Channel
	Flags   Flags
	Type    Type

	Major *int
	Minor *int

	Parameters []Parameter
	Comment    *string

	FilePosition *int64
	LineNumber   *int64

	Macro MacroHandle

	Keyword         Keyword
	KeywordArgument string

	// Result is assigned exactly once before the Executed hook fires;
	// cancellation sets it to nil.
	Result Result

	// InternallyProcessed implies the firmware dispatcher was not invoked.
	InternallyProcessed bool

	// ResolvedByInterceptor marks that an interceptor supplied the result.
	ResolvedByInterceptor bool
}

// Parameter returns the parameter with the given letter, or nil.
func (c *Code) Parameter(letter byte) *Parameter {
	for i := range c.Parameters {
		if c.Parameters[i].Letter == letter {
			return &c.Parameters[i]
		}
	}
	return nil
}

// UnnamedParameter returns the bare quoted-string parameter, or nil.
func (c *Code) UnnamedParameter() *Parameter {
	return c.Parameter(NoLetter)
}

// HasParameter reports whether a parameter with the letter exists.
func (c *Code) HasParameter(letter byte) bool {
	return c.Parameter(letter) != nil
}

// MajorOr returns the major number or def when absent.
func (c *Code) MajorOr(def int) int {
	if c.Major == nil {
		return def
	}
	return *c.Major
}

// ShortForm renders the code identity for error prefixing: G1, M5.2, T3.
func (c *Code) ShortForm() string {
	switch c.Type {
	case GCode, MCode, TCode:
		var b strings.Builder
		b.WriteString(c.Type.String())
		if c.Major != nil {
			b.WriteString(strconv.Itoa(*c.Major))
		}
		if c.Minor != nil {
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(*c.Minor))
		}
		return b.String()
	case KeywordCode:
		return c.Keyword.String()
	}
	return "Comment"
}

// String reconstructs the textual form of the code.
func (c *Code) String() string {
	switch c.Type {
	case Comment:
		if c.Comment == nil {
			return ""
		}
		return ";" + *c.Comment
	case KeywordCode:
		if c.KeywordArgument == "" {
			return c.Keyword.String()
		}
		return c.Keyword.String() + " " + c.KeywordArgument
	}

	var b strings.Builder
	b.WriteString(c.ShortForm())
	for i := range c.Parameters {
		b.WriteByte(' ')
		b.WriteString(c.Parameters[i].render())
	}
	if c.Comment != nil {
		b.WriteString(" ;")
		b.WriteString(*c.Comment)
	}
	return b.String()
}
