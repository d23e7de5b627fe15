// internal/intercept/bus_test.go
package intercept

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
)

type interceptorFunc func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error)

func (f interceptorFunc) Intercept(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
	return f(ctx, c)
}

func testCode(t *testing.T) *gcode.Code {
	t.Helper()
	c, err := gcode.Parse("M117 \"hi\"", channel.HTTP)
	require.NoError(t, err)
	return c
}

func TestBus_RegistrationOrder(t *testing.T) {
	bus := NewBus()

	var calls []string
	bus.Register(Pre, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		calls = append(calls, "first")
		return Ignore, nil, nil
	}))
	bus.Register(Pre, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		calls = append(calls, "second")
		return Ignore, nil, nil
	}))

	resolved, err := bus.Run(context.Background(), Pre, testCode(t))
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_ResolveShortCircuits(t *testing.T) {
	bus := NewBus()

	bus.Register(Pre, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		return Resolve, gcode.SuccessResult("handled upstream"), nil
	}))

	var reached bool
	bus.Register(Pre, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		reached = true
		return Ignore, nil, nil
	}))

	c := testCode(t)
	resolved, err := bus.Run(context.Background(), Pre, c)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.False(t, reached, "later interceptors must not see a resolved code")
	assert.True(t, c.ResolvedByInterceptor)
	assert.True(t, c.InternallyProcessed)
	assert.Equal(t, "handled upstream", c.Result.String())
}

func TestBus_CancelVerdict(t *testing.T) {
	bus := NewBus()
	bus.Register(Post, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		return Cancel, nil, nil
	}))

	_, err := bus.Run(context.Background(), Post, testCode(t))
	require.ErrorIs(t, err, gcode.ErrCancelled)
}

func TestBus_ExecutedIgnoresVerdicts(t *testing.T) {
	bus := NewBus()

	var notified int
	bus.Register(Executed, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		notified++
		return Cancel, nil, nil // must be ignored in Executed mode
	}))
	bus.Register(Executed, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		notified++
		return Resolve, gcode.ErrorResult("nope"), nil
	}))

	c := testCode(t)
	resolved, err := bus.Run(context.Background(), Executed, c)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, 2, notified)
	assert.False(t, c.ResolvedByInterceptor)
}

func TestBus_CodeBeingIntercepted(t *testing.T) {
	bus := NewBus()

	var (
		seenConn uuid.UUID
		seenCode *gcode.Code
	)
	id := bus.Register(Pre, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		conn, ok := ConnectionFromContext(ctx)
		require.True(t, ok)
		seenConn = conn
		seenCode = bus.CodeBeingIntercepted(conn)
		return Ignore, nil, nil
	}))

	c := testCode(t)
	_, err := bus.Run(context.Background(), Pre, c)
	require.NoError(t, err)

	assert.Equal(t, id, seenConn)
	assert.Same(t, c, seenCode, "the bus must expose the code during interception")
	assert.Nil(t, bus.CodeBeingIntercepted(id), "tracking must clear after the verdict")
}

func TestBus_Unregister(t *testing.T) {
	bus := NewBus()

	var calls int
	id := bus.Register(Pre, interceptorFunc(func(ctx context.Context, c *gcode.Code) (Verdict, gcode.Result, error) {
		calls++
		return Ignore, nil, nil
	}))

	_, err := bus.Run(context.Background(), Pre, testCode(t))
	require.NoError(t, err)
	bus.Unregister(id)
	_, err = bus.Run(context.Background(), Pre, testCode(t))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}
