// internal/firmware/serial_test.go
package firmware

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
)

// newTestClient wires a Client to one end of an in-memory connection.
// The test drives the firmware side through the other end.
func newTestClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientSide, firmwareSide := net.Pipe()

	c := &Client{
		log:     zerolog.Nop(),
		port:    clientSide,
		pending: make(map[uint32]chan Outcome),
	}
	go c.readLoop()

	t.Cleanup(func() {
		_ = c.Close()
		_ = firmwareSide.Close()
	})
	return c, firmwareSide
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	return line
}

func TestClient_ProcessCode(t *testing.T) {
	c, fwSide := newTestClient(t)
	reader := bufio.NewReader(fwSide)

	code, err := gcode.Parse("G28 X", channel.USB)
	if err != nil {
		t.Fatal(err)
	}

	futc := make(chan (<-chan Outcome), 1)
	go func() {
		fut, err := c.ProcessCode(context.Background(), code)
		if err != nil {
			t.Errorf("ProcessCode: %v", err)
		}
		futc <- fut
	}()

	if got := readLine(t, reader); got != "1 code 3 G28 X\n" {
		t.Fatalf("request=%q", got)
	}
	if _, err := fwSide.Write([]byte("1 ok homed\n")); err != nil {
		t.Fatal(err)
	}

	out := <-<-futc
	if out.Err != nil {
		t.Fatalf("outcome err=%v", out.Err)
	}
	if out.Result.String() != "homed" {
		t.Fatalf("result=%q", out.Result.String())
	}
}

func TestClient_ErrorReply(t *testing.T) {
	c, fwSide := newTestClient(t)
	reader := bufio.NewReader(fwSide)

	code, _ := gcode.Parse("G1 X999", channel.HTTP)
	futc := make(chan (<-chan Outcome), 1)
	go func() {
		fut, _ := c.ProcessCode(context.Background(), code)
		futc <- fut
	}()

	readLine(t, reader)
	fwSide.Write([]byte("1 error out of range\n"))

	out := <-<-futc
	if out.Err != nil {
		t.Fatalf("transport err=%v", out.Err)
	}
	if out.Result.IsSuccessful() {
		t.Fatal("error reply must produce an error result")
	}
	if out.Result.String() != "Error: out of range" {
		t.Fatalf("result=%q", out.Result.String())
	}
}

func TestClient_Flush(t *testing.T) {
	c, fwSide := newTestClient(t)
	reader := bufio.NewReader(fwSide)

	okc := make(chan bool, 1)
	go func() {
		ok, err := c.Flush(context.Background(), channel.File)
		if err != nil {
			t.Errorf("Flush: %v", err)
		}
		okc <- ok
	}()

	if got := readLine(t, reader); got != "1 flush 2\n" {
		t.Fatalf("request=%q", got)
	}
	fwSide.Write([]byte("1 ok\n"))
	if !<-okc {
		t.Fatal("flush must report true on ok")
	}

	go func() {
		ok, _ := c.Flush(context.Background(), channel.File)
		okc <- ok
	}()
	readLine(t, reader)
	fwSide.Write([]byte("2 fail\n"))
	if <-okc {
		t.Fatal("flush must report false on fail")
	}
}

func TestClient_MessageBoxNotification(t *testing.T) {
	c, fwSide := newTestClient(t)

	got := make(chan struct {
		ch   channel.Channel
		open bool
	}, 1)
	c.OnMessageBox = func(ch channel.Channel, open bool) {
		got <- struct {
			ch   channel.Channel
			open bool
		}{ch, open}
	}

	fwSide.Write([]byte("* msgbox 0 open\n"))

	select {
	case n := <-got:
		if n.ch != channel.HTTP || !n.open {
			t.Fatalf("notification=%+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestClient_UnknownSequenceIsDropped(t *testing.T) {
	c, fwSide := newTestClient(t)
	reader := bufio.NewReader(fwSide)

	// A stale reply must not disturb the next request/response pair.
	fwSide.Write([]byte("99 ok stale\n"))

	code, _ := gcode.Parse("M400", channel.Aux)
	futc := make(chan (<-chan Outcome), 1)
	go func() {
		fut, _ := c.ProcessCode(context.Background(), code)
		futc <- fut
	}()

	readLine(t, reader)
	fwSide.Write([]byte("1 ok\n"))

	out := <-<-futc
	if out.Err != nil || !out.Result.IsSuccessful() {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestClient_CloseFailsPending(t *testing.T) {
	c, fwSide := newTestClient(t)
	reader := bufio.NewReader(fwSide)

	code, _ := gcode.Parse("G4 S10", channel.USB)
	futc := make(chan (<-chan Outcome), 1)
	go func() {
		fut, err := c.ProcessCode(context.Background(), code)
		if err != nil {
			t.Errorf("ProcessCode: %v", err)
		}
		futc <- fut
	}()
	readLine(t, reader)

	fut := <-futc
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case out := <-fut:
		if out.Err == nil {
			t.Fatal("pending futures must fail on close")
		}
	case <-time.After(time.Second):
		t.Fatal("pending future not completed on close")
	}

	if _, err := c.ProcessCode(context.Background(), code); err == nil {
		t.Fatal("dispatch after close must fail")
	}
}
