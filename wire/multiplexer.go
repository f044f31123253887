// multiplexer.go - request/response bookkeeping for the single
// full-duplex connection: id allocation, in-flight futures and
// bounded concurrency.

package wire

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ResponseTimeout bounds how long a caller waits for a panel reply
// once a command has been written.
const ResponseTimeout = 10 * time.Second

// ErrOperation is the Cause of a request-level failure the panel
// itself reported (a corrupt reply or an N/B error code), as opposed
// to a transport-level failure like a timeout or a lost connection.
var ErrOperation = errors.New("wire: operation error")

// PendingRequest is the future a caller blocks on while its command
// id is outstanding.
type PendingRequest struct {
	id     int
	result chan Frame
	errc   chan error
}

func newPendingRequest(id int) *PendingRequest {
	return &PendingRequest{
		id:     id,
		result: make(chan Frame, 1),
		errc:   make(chan error, 1),
	}
}

// Multiplexer hands out command ids in [MinCommandID, MaxCommandID],
// tracks one PendingRequest per outstanding id and bounds the number
// of requests in flight at once, mirroring the panel's own small
// command-id space.
type Multiplexer struct {
	mu       sync.Mutex
	sem      chan struct{}
	nextID   int
	pending  map[int]*PendingRequest
	closed   bool
	closeErr error
}

// NewMultiplexer returns a Multiplexer allowing at most concurrency
// requests in flight simultaneously. concurrency <= 0 defaults to 4.
func NewMultiplexer(concurrency int) *Multiplexer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Multiplexer{
		sem:     make(chan struct{}, concurrency),
		nextID:  MinCommandID - 1,
		pending: make(map[int]*PendingRequest),
	}
}

// acquire blocks until a concurrency slot is free or ctx is done.
func (m *Multiplexer) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Multiplexer) release() {
	<-m.sem
}

// allocate picks the next command id, wrapping MaxCommandID back to
// MinCommandID, and registers a PendingRequest for it.
func (m *Multiplexer) allocate() (*PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.closeErr
	}

	id := m.nextID + 1
	if id > MaxCommandID {
		id = MinCommandID
	}
	m.nextID = id

	if _, busy := m.pending[id]; busy {
		return nil, errors.Errorf("wire: command id %d still in flight", id)
	}

	pr := newPendingRequest(id)
	m.pending[id] = pr
	return pr, nil
}

// rollback releases id without waiting for a reply, used when a frame
// could not be written at all (the panel never saw the id, so the
// slot must not count as consumed).
func (m *Multiplexer) rollback(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	if m.nextID == id {
		m.nextID--
		if m.nextID < MinCommandID-1 {
			m.nextID = MaxCommandID
		}
	}
}

// forget unconditionally clears id's pending slot without touching
// nextID, used when a caller stops waiting on a request that was
// already written to the wire (timeout or context cancellation): the
// panel did see the id, so it must not be reissued, but nextID has
// already moved past it.
func (m *Multiplexer) forget(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

// Dispatch resolves the PendingRequest for f.ID with the decoded
// frame, or with an error if the frame carries a bad CRC or an N/B
// error payload. It is called from the connection's single reader
// goroutine for every frame whose id falls in the request range.
func (m *Multiplexer) Dispatch(f Frame) {
	m.mu.Lock()
	pr, ok := m.pending[f.ID]
	if ok {
		delete(m.pending, f.ID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if !f.CRCValid {
		pr.errc <- errors.Wrapf(ErrOperation, "command id %d: bad CRC", f.ID)
		return
	}
	if len(f.Payload) > 0 && (f.Payload[0] == 'N' || f.Payload[0] == 'B') {
		pr.errc <- errors.Wrapf(ErrOperation, "command id %d: panel error %q", f.ID, f.Payload)
		return
	}
	pr.result <- f
}

// PendingCount returns the number of requests currently awaiting a
// reply.
func (m *Multiplexer) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close fails every still-pending request with err and prevents new
// ids from being allocated.
func (m *Multiplexer) Close(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.closeErr = err
	for id, pr := range m.pending {
		pr.errc <- err
		delete(m.pending, id)
	}
}

// Wait blocks until pr resolves, ctx is done, or ResponseTimeout
// elapses.
func (pr *PendingRequest) Wait(ctx context.Context) (Frame, error) {
	timer := time.NewTimer(ResponseTimeout)
	defer timer.Stop()
	select {
	case f := <-pr.result:
		return f, nil
	case err := <-pr.errc:
		return Frame{}, err
	case <-timer.C:
		return Frame{}, errors.Errorf("wire: command id %d: timed out waiting for reply", pr.id)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}
