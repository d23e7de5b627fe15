// internal/expr/expr.go
package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
	"github.com/tamzrod/gcode-dispatcher/internal/model"
)

// Evaluator runs object-model expressions for echo codes and inline
// {...} parameter values. Evaluation is a declared suspension point:
// it honors ctx cancellation via VM interrupts.
type Evaluator struct {
	store *model.Store
}

// New creates an evaluator over the object model store.
func New(store *model.Store) *Evaluator {
	return &Evaluator{store: store}
}

// model sections exposed to expressions.
var sectionNames = []string{"job", "inputs", "network", "state"}

// ContainsModelFields reports whether the expression contains a {...}
// expression or references host-side object model fields, and therefore
// needs a flush before evaluation. Any '{' counts, whatever it encloses.
func ContainsModelFields(s string) bool {
	if strings.ContainsRune(s, '{') {
		return true
	}
	for _, name := range sectionNames {
		idx := strings.Index(s, name)
		for idx >= 0 {
			before := idx == 0 || !isIdentByte(s[idx-1])
			afterIdx := idx + len(name)
			after := afterIdx >= len(s) || !isIdentByte(s[afterIdx])
			if before && after {
				return true
			}
			next := strings.Index(s[idx+1:], name)
			if next < 0 {
				break
			}
			idx += 1 + next
		}
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Evaluate runs one expression and renders its value as text.
func (e *Evaluator) Evaluate(ctx context.Context, expression string) (string, error) {
	vm := goja.New()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(gcode.ErrCancelled)
	})
	defer stop()

	e.store.Read(func(s *model.State) {
		_ = vm.Set("job", map[string]any{
			"file":         s.Job.File,
			"filePosition": s.Job.FilePosition,
			"isPrinting":   s.Job.IsPrinting,
			"isPaused":     s.Job.IsPaused,
			"isSimulating": s.Job.IsSimulating,
		})
		inputs := make(map[string]any, len(s.Inputs))
		for i := range s.Inputs {
			ch := chName(i)
			inputs[ch] = map[string]any{
				"compatibility":     s.Inputs[i].Compatibility.String(),
				"relativeExtrusion": s.Inputs[i].RelativeExtrusion,
			}
		}
		_ = vm.Set("inputs", inputs)
		_ = vm.Set("network", map[string]any{
			"hostname": s.Network.Hostname,
		})
		_ = vm.Set("state", map[string]any{
			"upTime": int64(time.Since(s.StartUp).Seconds()),
		})
	})

	v, err := vm.RunString(expression)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return "", gcode.ErrCancelled
		}
		return "", fmt.Errorf("expression %q: %w", expression, err)
	}
	return render(v.Export()), nil
}

// EvaluateParams substitutes every {...} parameter value in place.
func (e *Evaluator) EvaluateParams(ctx context.Context, c *gcode.Code) error {
	for i := range c.Parameters {
		p := &c.Parameters[i]
		if p.IsString || len(p.Raw) < 2 {
			continue
		}
		if p.Raw[0] != '{' || p.Raw[len(p.Raw)-1] != '}' {
			continue
		}
		out, err := e.Evaluate(ctx, p.Raw[1:len(p.Raw)-1])
		if err != nil {
			return err
		}
		p.Raw = out
	}
	return nil
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// chName keys the inputs section by lower-cased channel name.
func chName(i int) string {
	return strings.ToLower(channel.Channel(i).String())
}
