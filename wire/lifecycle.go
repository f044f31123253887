// lifecycle.go - connection setup: dial, RID/LCL/RMT handshake and
// the keep-alive goroutine that follows it.

package wire

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/go-risco/risco/logger"
)

// KeepAliveInterval is how often the session issues a CLOCK command to
// keep the panel's connection from idling out.
const KeepAliveInterval = 5 * time.Second

// DisconnectQuiescence is how long Disconnect waits after sending DCN
// before tearing down the socket, giving the panel time to flush any
// trailing pushes.
const DisconnectQuiescence = 5 * time.Second

var (
	// ErrUnauthorized is returned when the panel rejects the access code.
	ErrUnauthorized = errors.New("wire: panel rejected access code")
	// ErrCannotConnect is returned when the LCL handshake step fails.
	ErrCannotConnect = errors.New("wire: panel refused local connection")
	// ErrConnectionLost is the Cause of every error handed to in-flight
	// and future requests once the reader goroutine exits, whether from
	// a read error or the remote end closing the socket.
	ErrConnectionLost = errors.New("wire: connection lost")
)

// Options configures a Session.
type Options struct {
	Code                string        // the panel's access code, sent via RMT=<code>
	Concurrency         int           // max in-flight requests; <= 0 defaults to 4
	CommunicationDelay  time.Duration // optional pause after dialing, before the handshake
	DialTimeout         time.Duration // <= 0 disables the dial deadline
}

// Session is a connected, handshaken wire-level session: a Conn plus
// the multiplexer and event router it feeds.
type Session struct {
	conn    *Conn
	codec   *Codec
	mux     *Multiplexer
	router  *EventRouter
	metrics *Metrics

	panelID int

	keepAliveDone chan struct{}
	serveErr      chan error
}

// Dial opens a TCP connection to addr and hands it to NewSession.
func Dial(ctx context.Context, network, addr string, opts Options) (*Session, error) {
	dialer := net.Dialer{}
	if opts.DialTimeout > 0 {
		dialer.Timeout = opts.DialTimeout
	}
	nc, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrap(err, "wire: dial")
	}
	return NewSession(ctx, nc, opts)
}

// NewSession runs the RID/LCL/RMT handshake over an already-connected
// nc and starts the reader and keep-alive goroutines. The returned
// Session is ready for Send/SendAck/SendResult calls. Dial is the
// usual way to obtain nc; NewSession is exposed directly so callers
// (and tests) can supply their own net.Conn.
func NewSession(ctx context.Context, nc net.Conn, opts Options) (*Session, error) {
	if opts.CommunicationDelay > 0 {
		time.Sleep(opts.CommunicationDelay)
	}

	codec := NewCodec()
	mux := NewMultiplexer(opts.Concurrency)
	router := NewEventRouter()
	metrics := NewMetrics()
	conn := NewConn(nc, codec, mux, router, metrics)

	s := &Session{
		conn:          conn,
		codec:         codec,
		mux:           mux,
		router:        router,
		metrics:       metrics,
		keepAliveDone: make(chan struct{}),
		serveErr:      make(chan error, 1),
	}

	go func() {
		err := conn.Serve()
		s.serveErr <- err
		lost := errors.Wrap(ErrConnectionLost, err.Error())
		s.mux.Close(lost)
		select {
		case <-s.keepAliveDone:
			// Local shutdown, not a connection failure.
		default:
			s.router.Dispatch(Event{Kind: EventError, Err: lost})
		}
	}()

	if err := s.handshake(ctx, opts.Code); err != nil {
		s.shutdown()
		return nil, err
	}

	go s.keepAlive()
	return s, nil
}

// handshake runs RID (learn the panel id, sent as hex, and install its
// keystream), LCL (acknowledge local connection) and RMT=<code>
// (authorize).
func (s *Session) handshake(ctx context.Context, code string) error {
	panelID, err := s.SendResult(ctx, "RID")
	if err != nil {
		return errors.Wrap(err, "wire: RID")
	}
	id := 0
	if _, scanErr := fmt.Sscanf(panelID, "%x", &id); scanErr != nil {
		return errors.Wrap(scanErr, "wire: RID: malformed panel id")
	}
	s.panelID = id
	s.codec.SetKeyStream(DeriveKeyStream(uint32(id)))

	ok, err := s.SendAck(ctx, "LCL")
	if err != nil {
		return errors.Wrap(err, "wire: LCL")
	}
	if !ok {
		return ErrCannotConnect
	}
	s.codec.SetEncrypted(true)

	ok, err = s.SendAck(ctx, "RMT="+code)
	if err != nil {
		return errors.Wrap(err, "wire: RMT")
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// PanelID returns the panel id learned during the handshake.
func (s *Session) PanelID() int {
	return s.panelID
}

// Observe registers obs to receive dispatched events.
func (s *Session) Observe(obs Observer) Remove {
	return s.router.Observe(obs)
}

// Metrics returns the session's instrumentation set.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// Send writes command under a freshly allocated id and waits for the
// matching reply, bounded by the multiplexer's concurrency limit and
// ResponseTimeout.
func (s *Session) Send(ctx context.Context, command string) (string, error) {
	if err := s.mux.acquire(ctx); err != nil {
		return "", err
	}
	defer s.mux.release()

	pr, err := s.mux.allocate()
	if err != nil {
		return "", err
	}
	s.metrics.setRequestsInFlight(s.mux.PendingCount())

	raw, err := s.codec.Encode(pr.id, command, false)
	if err != nil {
		s.mux.rollback(pr.id)
		return "", err
	}
	if err := s.conn.WriteFrame(raw); err != nil {
		s.mux.rollback(pr.id)
		return "", err
	}

	f, err := pr.Wait(ctx)
	if err != nil {
		// Wait only returns early (timeout/ctx-done) without consuming
		// pr.result/pr.errc when Dispatch hasn't resolved the request
		// yet; the slot must still be cleared so the id can be reused.
		s.mux.forget(pr.id)
	}
	s.metrics.setRequestsInFlight(s.mux.PendingCount())
	if err != nil {
		return "", err
	}
	return f.Payload, nil
}

// SendAck sends command and reports whether the panel answered ACK.
func (s *Session) SendAck(ctx context.Context, command string) (bool, error) {
	reply, err := s.Send(ctx, command)
	if err != nil {
		return false, err
	}
	return reply == "ACK", nil
}

// SendResult sends command and returns the right-hand side of its
// "key=value" reply.
func (s *Session) SendResult(ctx context.Context, command string) (string, error) {
	reply, err := s.Send(ctx, command)
	if err != nil {
		return "", err
	}
	return SplitResult(reply), nil
}

func (s *Session) keepAlive() {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.keepAliveDone:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ResponseTimeout)
			_, err := s.SendResult(ctx, "CLOCK")
			cancel()
			if err != nil {
				s.metrics.incKeepAliveFailures()
				logger.LogWarning("wire: keep-alive CLOCK failed: " + err.Error())
				s.router.Dispatch(Event{Kind: EventError, Raw: "CLOCK", Err: err})
			}
		}
	}
}

func (s *Session) shutdown() {
	select {
	case <-s.keepAliveDone:
	default:
		close(s.keepAliveDone)
	}
	s.mux.Close(errors.New("wire: session closed"))
	s.conn.Close()
}

// Disconnect sends DCN, waits out DisconnectQuiescence for any
// trailing pushes, then tears the connection down.
func (s *Session) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ResponseTimeout)
	_, err := s.SendAck(ctx, "DCN")
	cancel()

	time.Sleep(DisconnectQuiescence)
	s.shutdown()
	return err
}
