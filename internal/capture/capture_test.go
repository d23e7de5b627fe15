// internal/capture/capture_test.go
package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

func TestTable_CaptureRoundTrip(t *testing.T) {
	table := NewTable()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "capture.g")

	if active, _ := table.Active(ctx, channel.USB); active {
		t.Fatal("fresh table must not be active")
	}

	if err := table.Begin(ctx, channel.USB, path); err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if active, _ := table.Active(ctx, channel.USB); !active {
		t.Fatal("table must be active after Begin")
	}

	for _, line := range []string{"G28", "G1 X10 Y10"} {
		captured, err := table.Append(ctx, channel.USB, line)
		if err != nil {
			t.Fatalf("Append() err=%v", err)
		}
		if !captured {
			t.Fatal("Append() must capture while the slot is open")
		}
	}

	got, err := table.End(ctx, channel.USB)
	if err != nil {
		t.Fatalf("End() err=%v", err)
	}
	if got != path {
		t.Fatalf("End() path=%q want %q", got, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if string(raw) != "G28\nG1 X10 Y10\n" {
		t.Fatalf("unexpected capture content: %q", raw)
	}
}

func TestTable_ChannelsAreIndependent(t *testing.T) {
	table := NewTable()
	ctx := context.Background()

	if err := table.Begin(ctx, channel.USB, filepath.Join(t.TempDir(), "a.g")); err != nil {
		t.Fatalf("Begin() err=%v", err)
	}

	captured, err := table.Append(ctx, channel.HTTP, "G28")
	if err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if captured {
		t.Fatal("other channels must not capture")
	}

	if _, err := table.End(ctx, channel.HTTP); err == nil {
		t.Fatal("End() on an idle channel must fail")
	}
	if _, err := table.End(ctx, channel.USB); err != nil {
		t.Fatalf("End() err=%v", err)
	}
}

func TestTable_DoubleBeginFails(t *testing.T) {
	table := NewTable()
	ctx := context.Background()
	dir := t.TempDir()

	if err := table.Begin(ctx, channel.Telnet, filepath.Join(dir, "a.g")); err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if err := table.Begin(ctx, channel.Telnet, filepath.Join(dir, "b.g")); err == nil {
		t.Fatal("second Begin on the same channel must fail")
	}
}
