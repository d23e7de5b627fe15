// internal/macro/runner_test.go
package macro

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
)

// ---- fake executor ----

type fakeExecutor struct {
	codes  []*gcode.Code
	failAt int // 1-based index to fail at; 0 = never
}

func (f *fakeExecutor) Execute(ctx context.Context, c *gcode.Code) (gcode.Result, error) {
	f.codes = append(f.codes, c)
	if f.failAt > 0 && len(f.codes) == f.failAt {
		return nil, gcode.ErrCancelled
	}
	return gcode.SuccessResult(c.ShortForm()), nil
}

func writeMacro(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.g")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---- tests ----

func TestRunner_ExecutesInOrder(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(NewArena(), zerolog.Nop())
	r.Bind(exec)

	path := writeMacro(t, "G28\nG1 X10\nM400\n")

	res, err := r.Run(context.Background(), path, channel.File)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	if len(exec.codes) != 3 {
		t.Fatalf("expected 3 codes, got %d", len(exec.codes))
	}
	for i, want := range []string{"G28", "G1", "M400"} {
		c := exec.codes[i]
		if c.ShortForm() != want {
			t.Fatalf("code %d = %s, want %s", i, c.ShortForm(), want)
		}
		if !c.Flags.Has(gcode.FromMacro) {
			t.Fatalf("code %d is missing the macro flag", i)
		}
		if c.Macro == 0 {
			t.Fatalf("code %d carries no macro handle", i)
		}
		if c.Channel != channel.File {
			t.Fatalf("code %d channel=%v", i, c.Channel)
		}
		if c.LineNumber == nil || *c.LineNumber != int64(i+1) {
			t.Fatalf("code %d line number=%v", i, c.LineNumber)
		}
	}

	if res.String() != "G28\nG1\nM400" {
		t.Fatalf("combined result=%q", res.String())
	}
}

func TestRunner_FilePositions(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(NewArena(), zerolog.Nop())
	r.Bind(exec)

	path := writeMacro(t, "G28\nG1 X10\n")
	if _, err := r.Run(context.Background(), path, channel.File); err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	if pos := exec.codes[0].FilePosition; pos == nil || *pos != 0 {
		t.Fatalf("first code position=%v", pos)
	}
	if pos := exec.codes[1].FilePosition; pos == nil || *pos != 4 {
		t.Fatalf("second code position=%v", pos)
	}
}

func TestRunner_AbortsOnError(t *testing.T) {
	exec := &fakeExecutor{failAt: 2}
	r := NewRunner(NewArena(), zerolog.Nop())
	r.Bind(exec)

	path := writeMacro(t, "G28\nG1 X10\nM400\n")

	_, err := r.Run(context.Background(), path, channel.File)
	if !errors.Is(err, gcode.ErrCancelled) {
		t.Fatalf("Run() err=%v, want cancelled", err)
	}
	if len(exec.codes) != 2 {
		t.Fatalf("expected abort after 2 codes, got %d", len(exec.codes))
	}
}

func TestRunner_MissingFile(t *testing.T) {
	r := NewRunner(NewArena(), zerolog.Nop())
	r.Bind(&fakeExecutor{})

	if _, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "nope.g"), channel.File); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestArena_Handles(t *testing.T) {
	a := NewArena()

	m1 := a.Add("/sd/macros/a.g", channel.File)
	m2 := a.Add("/sd/macros/b.g", channel.File)

	if m1.Handle == m2.Handle {
		t.Fatal("handles must be unique")
	}
	if a.Get(m1.Handle) != m1 {
		t.Fatal("lookup by handle failed")
	}
	if m1.Gate() == m2.Gate() {
		t.Fatal("each macro needs its own gate")
	}

	a.Remove(m1.Handle)
	if a.Get(m1.Handle) != nil {
		t.Fatal("removed macro must not resolve")
	}
	if a.Get(0) != nil {
		t.Fatal("the zero handle never resolves")
	}
}
