// conn.go - owns the TCP socket, serializes writes and runs the
// single reader goroutine that demultiplexes frames to either a
// pending request or the event router.

package wire

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-risco/risco/logger"
)

// Conn is a single full-duplex connection to a panel's local TCP
// listener. All writes are serialized by wmu; reads happen on the
// single goroutine that runs Conn.Serve.
type Conn struct {
	nc  net.Conn
	br  *bufio.Reader
	wmu sync.Mutex

	codec *Codec
	mux   *Multiplexer
	router *EventRouter
	m     *Metrics
}

// NewConn wraps nc with the given codec, multiplexer and event router.
// m may be nil, which disables instrumentation.
func NewConn(nc net.Conn, codec *Codec, mux *Multiplexer, router *EventRouter, m *Metrics) *Conn {
	return &Conn{
		nc:     nc,
		br:     bufio.NewReader(nc),
		codec:  codec,
		mux:    mux,
		router: router,
		m:      m,
	}
}

// Close tears down the underlying socket.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// WriteFrame writes a pre-encoded frame, serialized against any
// concurrent writer.
func (c *Conn) WriteFrame(raw []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.nc.Write(raw)
	if err != nil {
		return errors.Wrap(err, "wire: write frame")
	}
	c.m.incFramesSent()
	return nil
}

// readFrame reads one START..END delimited frame off the wire,
// respecting DLE-escaping of the END byte so an escaped 0x03 inside
// the payload doesn't terminate the frame early.
func (c *Conn) readFrame() ([]byte, error) {
	// Discard anything before the next START; the panel doesn't send
	// filler bytes in practice, but being defensive here costs nothing.
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == START {
			break
		}
	}

	buf := []byte{START}
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == END && !escapedTerminator(buf) {
			return buf, nil
		}
	}
}

// escapedTerminator reports whether the just-appended END byte in buf
// is actually an escaped literal 0x03 (preceded by an odd run of DLE
// bytes) rather than the frame terminator.
func escapedTerminator(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	dleRun := 0
	for i := len(buf) - 2; i >= 0 && buf[i] == DLE; i-- {
		dleRun++
	}
	return dleRun%2 == 1
}

// Serve runs the reader loop until the connection fails or ctx-like
// shutdown is requested via Close. Frames whose id is in the request
// range resolve a PendingRequest; frames with an id >= FirstPushID are
// ACKed and dispatched as classified Events via router.
func (c *Conn) Serve() error {
	for {
		raw, err := c.readFrame()
		if err != nil {
			if err == io.EOF || isClosedConnErr(err) {
				logger.LogDebug("wire: connection closed")
				return io.EOF
			}
			return errors.Wrap(err, "wire: read frame")
		}

		f, decodeErr := c.codec.Decode(raw)
		if decodeErr != nil {
			logger.LogDebug("wire: dropping unparseable frame: " + decodeErr.Error())
			continue
		}
		c.m.incFramesRecv()

		if f.Idless || f.ID >= FirstPushID {
			c.handlePush(f)
			continue
		}

		if !f.CRCValid {
			c.m.incCRCFailures()
		}
		c.mux.Dispatch(f)
	}
}

// handlePush ACKs an unsolicited push by its own id (idless pushes get
// no ACK, matching the N/B error-report convention) and forwards a
// classified Event to the router.
func (c *Conn) handlePush(f Frame) {
	if !f.Idless {
		ack, err := c.codec.EncodePush(f.ID, "ACK")
		if err == nil {
			_ = c.WriteFrame(ack)
		}
	}

	var dispatchErr error
	switch {
	case !f.CRCValid:
		dispatchErr = errors.New("wire: push frame failed CRC check")
	case f.Idless:
		dispatchErr = errors.Errorf("wire: panel error %q", f.Payload)
	}
	c.m.incPushesDispatched()
	c.router.Dispatch(Classify(f, dispatchErr))
}

func isClosedConnErr(err error) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte("use of closed network connection"))
}
