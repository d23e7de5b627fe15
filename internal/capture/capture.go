// internal/capture/capture.go
package capture

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

// slot is one channel's file-being-written state.
type slot struct {
	lock *semaphore.Weighted

	path string
	file *os.File
	buf  *bufio.Writer
}

// Table holds the per-channel M28 capture slots. While a slot is open,
// every non-M29 code on that channel is appended to the file instead of
// being executed.
type Table struct {
	slots [channel.Count]*slot
}

// NewTable creates an empty capture table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = &slot{lock: semaphore.NewWeighted(1)}
	}
	return t
}

// Begin opens the capture file for a channel. The parent directory is
// created on demand; an already-open slot is an error.
func (t *Table) Begin(ctx context.Context, ch channel.Channel, physical string) error {
	s := t.slots[ch]
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	if s.file != nil {
		return fmt.Errorf("capture: %s is already writing to %s", ch, s.path)
	}
	if err := os.MkdirAll(filepath.Dir(physical), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	f, err := os.Create(physical)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	s.path = physical
	s.file = f
	s.buf = bufio.NewWriter(f)
	return nil
}

// Active reports whether the channel is currently writing a file.
func (t *Table) Active(ctx context.Context, ch channel.Channel) (bool, error) {
	s := t.slots[ch]
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.lock.Release(1)
	return s.file != nil, nil
}

// Append writes one captured line if the channel's slot is open.
// The bool reports whether the code was captured.
func (t *Table) Append(ctx context.Context, ch channel.Channel, line string) (bool, error) {
	s := t.slots[ch]
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.lock.Release(1)

	if s.file == nil {
		return false, nil
	}
	if _, err := s.buf.WriteString(line + "\n"); err != nil {
		return true, fmt.Errorf("capture: append to %s: %w", s.path, err)
	}
	return true, nil
}

// End closes the channel's capture file and returns its path.
func (t *Table) End(ctx context.Context, ch channel.Channel) (string, error) {
	s := t.slots[ch]
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.lock.Release(1)

	if s.file == nil {
		return "", fmt.Errorf("capture: %s is not writing a file", ch)
	}

	path := s.path
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()

	s.path = ""
	s.file = nil
	s.buf = nil

	if flushErr != nil {
		return path, fmt.Errorf("capture: finish %s: %w", path, flushErr)
	}
	if closeErr != nil {
		return path, fmt.Errorf("capture: finish %s: %w", path, closeErr)
	}
	return path, nil
}
