// internal/gcode/result.go
package gcode

import "strings"

// MessageType is the severity of a single result message.
type MessageType int

// ---- MESSAGE TYPES ----

const (
	Success MessageType = iota
	Warning
	Error
)

// Message is one entry of a code result.
type Message struct {
	Type    MessageType
	Content string
}

func (m Message) String() string {
	switch m.Type {
	case Warning:
		return "Warning: " + m.Content
	case Error:
		return "Error: " + m.Content
	default:
		return m.Content
	}
}

// Result is the ordered list of messages produced by executing a code.
// A nil Result means no content was produced; an empty Result is a
// successful execution with nothing to say.
type Result []*Message

// EmptyResult returns a non-nil result with no messages.
func EmptyResult() Result {
	return Result{}
}

// SuccessResult wraps content as a single Success message.
func SuccessResult(content string) Result {
	return Result{&Message{Type: Success, Content: content}}
}

// WarningResult wraps content as a single Warning message.
func WarningResult(content string) Result {
	return Result{&Message{Type: Warning, Content: content}}
}

// ErrorResult wraps content as a single Error message.
func ErrorResult(content string) Result {
	return Result{&Message{Type: Error, Content: content}}
}

// IsSuccessful reports whether no message is of Error type.
func (r Result) IsSuccessful() bool {
	for _, m := range r {
		if m.Type == Error {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the result carries no content at all.
func (r Result) IsEmpty() bool {
	for _, m := range r {
		if m.Content != "" {
			return false
		}
	}
	return true
}

// String renders all messages, one per line.
func (r Result) String() string {
	var b strings.Builder
	for _, m := range r {
		if m.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.String())
	}
	return b.String()
}
