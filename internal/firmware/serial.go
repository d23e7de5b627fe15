// internal/firmware/serial.go
package firmware

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/rs/zerolog"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
	"github.com/tamzrod/gcode-dispatcher/internal/gcode"
)

// Wire framing, line oriented:
//
//	request:  <seq> code <channel> <text>\n
//	          <seq> flush <channel>\n
//	reply:    <seq> ok [text]\n
//	          <seq> warn <text>\n
//	          <seq> error <text>\n
//	          <seq> fail\n            (flush rejected)
//	async:    * msgbox <channel> open|closed\n
//
// Replies are matched by sequence number; a reply for an unknown
// sequence is dropped with a warning, mirroring how stale transaction
// IDs are treated on other transports.

// Config is minimal transport config.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// Client implements Interface over a serial port. Writes are serialized
// by a mutex; a reader goroutine completes pending futures from replies.
type Client struct {
	log zerolog.Logger

	port io.ReadWriteCloser

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint32
	pending map[uint32]chan Outcome
	closed  bool

	// OnMessageBox is invoked for message-box notifications, with the
	// channel and whether a box is now awaiting acknowledgement.
	OnMessageBox func(ch channel.Channel, open bool)
}

// Open connects to the firmware over the configured serial device and
// starts the reply reader.
func Open(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Device == "" {
		return nil, errors.New("firmware: device required")
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("firmware: open %s: %w", cfg.Device, err)
	}

	c := &Client{
		log:     log,
		port:    port,
		pending: make(map[uint32]chan Outcome),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts the port down and fails every pending future.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]chan Outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Outcome{Err: errors.New("firmware: connection closed")}
	}
	return c.port.Close()
}

func (c *Client) nextSeq() uint32 {
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

// send registers a pending future and writes one request line.
func (c *Client) send(line string) (uint32, <-chan Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, nil, errors.New("firmware: connection closed")
	}
	seq := c.nextSeq()
	fut := make(chan Outcome, 1)
	c.pending[seq] = fut
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err := fmt.Fprintf(c.port, "%d %s\n", seq, line)
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return 0, nil, fmt.Errorf("firmware: write: %w", err)
	}
	return seq, fut, nil
}

// ProcessCode dispatches the textual form of a code. The future
// completes when the firmware replied.
func (c *Client) ProcessCode(ctx context.Context, code *gcode.Code) (<-chan Outcome, error) {
	_, fut, err := c.send(fmt.Sprintf("code %d %s", int(code.Channel), code.String()))
	if err != nil {
		return nil, err
	}
	return fut, nil
}

// Flush waits until the firmware drained outstanding work for the channel.
func (c *Client) Flush(ctx context.Context, ch channel.Channel) (bool, error) {
	_, fut, err := c.send(fmt.Sprintf("flush %d", int(ch)))
	if err != nil {
		return false, err
	}
	select {
	case out := <-fut:
		if out.Err != nil {
			return false, out.Err
		}
		return out.Result.IsSuccessful(), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// UpdateFirmware streams the IAP and firmware binaries with a length
// prefix each. The transfer bypasses the line protocol.
func (c *Client) UpdateFirmware(ctx context.Context, iap io.Reader, fw io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for i, blob := range []io.Reader{iap, fw} {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := io.ReadAll(blob)
		if err != nil {
			return fmt.Errorf("firmware: read update blob %d: %w", i, err)
		}
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(data)))
		if _, err := c.port.Write(size[:]); err != nil {
			return fmt.Errorf("firmware: update transfer: %w", err)
		}
		if _, err := c.port.Write(data); err != nil {
			return fmt.Errorf("firmware: update transfer: %w", err)
		}
	}
	return nil
}

// readLoop parses reply lines and completes pending futures.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.port)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "* ") {
			c.handleNotification(line[2:])
			continue
		}
		c.handleReply(line)
	}

	if err := scanner.Err(); err != nil {
		c.log.Error().Err(err).Msg("firmware reader stopped")
	}
	_ = c.Close()
}

func (c *Client) handleNotification(line string) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "msgbox" {
		c.log.Warn().Str("line", line).Msg("unknown firmware notification")
		return
	}
	idx, err := strconv.Atoi(fields[1])
	if err != nil || !channel.Channel(idx).Valid() {
		c.log.Warn().Str("line", line).Msg("bad channel in firmware notification")
		return
	}
	if c.OnMessageBox != nil {
		c.OnMessageBox(channel.Channel(idx), fields[2] == "open")
	}
}

func (c *Client) handleReply(line string) {
	seqStr, rest, _ := strings.Cut(line, " ")
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		c.log.Warn().Str("line", line).Msg("malformed firmware reply")
		return
	}

	c.mu.Lock()
	fut, ok := c.pending[uint32(seq)]
	delete(c.pending, uint32(seq))
	c.mu.Unlock()

	if !ok {
		// Stale or duplicate sequence: drop, as with a mismatched
		// transaction id.
		c.log.Warn().Uint64("seq", seq).Msg("reply for unknown sequence")
		return
	}

	status, text, _ := strings.Cut(rest, " ")
	switch status {
	case "ok":
		if text == "" {
			fut <- Outcome{Result: gcode.EmptyResult()}
		} else {
			fut <- Outcome{Result: gcode.SuccessResult(text)}
		}
	case "warn":
		fut <- Outcome{Result: gcode.WarningResult(text)}
	case "error":
		fut <- Outcome{Result: gcode.ErrorResult(text)}
	case "fail":
		fut <- Outcome{Result: gcode.ErrorResult("flush failed")}
	default:
		fut <- Outcome{Err: fmt.Errorf("firmware: unknown reply status %q", status)}
	}
}
