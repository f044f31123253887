// panel.go - Panel ties a wire.Session to the higher-level
// partition/zone model and control commands.

package risco

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-risco/risco/wire"
)

// ConnectOptions configures Connect.
type ConnectOptions struct {
	// Code is the panel's access code, required.
	Code string
	// Concurrency bounds the number of in-flight wire requests;
	// <= 0 defaults to 4.
	Concurrency int
	// CommunicationDelay is an optional pause after dialing and before
	// the handshake, needed by some panel models/firmware combinations
	// that otherwise drop the connection.
	CommunicationDelay time.Duration
	// DialTimeout bounds the initial TCP dial; <= 0 disables it.
	DialTimeout time.Duration
}

// Panel is a connected alarm control panel: its capabilities, current
// partitions and zones, and the commands that act on them.
type Panel struct {
	session *wire.Session
	caps    Capabilities
	serial  string

	mu         sync.RWMutex
	partitions map[int]*Partition
	zones      map[int]*Zone

	zoneHandlers      []func(*Zone)
	partitionHandlers []func(*Partition)
	eventHandlers     []func(string)
	defaultHandlers   []func(command, result string, params ...string)
	errorHandlers     []func(error)
	handlersMu        sync.Mutex
}

// Connect dials addr (host:port), runs the panel handshake, reads the
// panel's capabilities and serial number, enumerates its zones and
// partitions and starts dispatching push events.
func Connect(ctx context.Context, addr string, opts ConnectOptions) (*Panel, error) {
	session, err := wire.Dial(ctx, "tcp", addr, wireOptions(opts))
	if err != nil {
		return nil, translateWireErr(err)
	}
	return connect(ctx, session)
}

// connectWithConn runs the same handshake as Connect over an
// already-established net.Conn, letting tests drive a fake panel
// through net.Pipe instead of a real TCP dial.
func connectWithConn(ctx context.Context, nc net.Conn, opts ConnectOptions) (*Panel, error) {
	session, err := wire.NewSession(ctx, nc, wireOptions(opts))
	if err != nil {
		return nil, translateWireErr(err)
	}
	return connect(ctx, session)
}

func wireOptions(opts ConnectOptions) wire.Options {
	return wire.Options{
		Code:               opts.Code,
		Concurrency:        opts.Concurrency,
		CommunicationDelay: opts.CommunicationDelay,
		DialTimeout:        opts.DialTimeout,
	}
}

func connect(ctx context.Context, session *wire.Session) (*Panel, error) {
	p := &Panel{
		session:    session,
		partitions: make(map[int]*Partition),
		zones:      make(map[int]*Zone),
	}

	panelType, err := session.SendResult(ctx, "PNLCNF")
	if err != nil {
		session.Disconnect(ctx)
		return nil, translateWireErr(err)
	}
	firmware := ""
	if strings.HasPrefix(panelType, "RP") {
		firmware, err = session.SendResult(ctx, "FSVER?")
		if err != nil {
			session.Disconnect(ctx)
			return nil, translateWireErr(err)
		}
	}
	p.caps, err = PanelCapabilities(panelType, firmware)
	if err != nil {
		session.Disconnect(ctx)
		return nil, err
	}

	p.serial, err = session.SendResult(ctx, "PNLSERD")
	if err != nil {
		session.Disconnect(ctx)
		return nil, translateWireErr(err)
	}

	if err := p.initZones(ctx); err != nil {
		session.Disconnect(ctx)
		return nil, err
	}
	if err := p.initPartitions(ctx); err != nil {
		session.Disconnect(ctx)
		return nil, err
	}

	session.Observe(p.dispatch)
	return p, nil
}

// Disconnect gracefully ends the session (DCN plus quiescence).
func (p *Panel) Disconnect(ctx context.Context) error {
	return translateWireErr(p.session.Disconnect(ctx))
}

// Capabilities returns the panel's type, model name and resource
// limits, as learned from PNLCNF/FSVER? during Connect.
func (p *Panel) Capabilities() Capabilities { return p.caps }

// Serial is the panel's PNLSERD identifier.
func (p *Panel) Serial() string { return p.serial }

// Zones returns the panel's zones keyed by zone id.
func (p *Panel) Zones() map[int]*Zone {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]*Zone, len(p.zones))
	for k, v := range p.zones {
		out[k] = v
	}
	return out
}

// Partitions returns the panel's partitions keyed by partition id.
func (p *Panel) Partitions() map[int]*Partition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]*Partition, len(p.partitions))
	for k, v := range p.partitions {
		out[k] = v
	}
	return out
}

// Disarm disarms partitionID.
func (p *Panel) Disarm(ctx context.Context, partitionID int) error {
	return p.sendAck(ctx, "DISARM="+strconv.Itoa(partitionID))
}

// Arm fully arms partitionID.
func (p *Panel) Arm(ctx context.Context, partitionID int) error {
	return p.sendAck(ctx, "ARM="+strconv.Itoa(partitionID))
}

// PartialArm arms partitionID in stay/home mode.
func (p *Panel) PartialArm(ctx context.Context, partitionID int) error {
	return p.sendAck(ctx, "STAY="+strconv.Itoa(partitionID))
}

// GroupArm arms a single group on partitionID, named by its letter
// (A-D) or its 1-based number (1-4).
func (p *Panel) GroupArm(ctx context.Context, partitionID int, group string) error {
	idx := groupIndex(group)
	if idx < 0 {
		return ErrOperationFailed
	}
	return p.sendAck(ctx, "GARM*"+strconv.Itoa(idx+1)+"="+strconv.Itoa(partitionID))
}

// BypassZone sets zoneID's bypass state to bypass, a no-op if the zone
// is already in the requested state.
func (p *Panel) BypassZone(ctx context.Context, zoneID int, bypass bool) error {
	p.mu.RLock()
	z, ok := p.zones[zoneID]
	p.mu.RUnlock()
	if ok && z.Bypassed() == bypass {
		return nil
	}
	return p.sendAck(ctx, "ZBYPAS="+strconv.Itoa(zoneID))
}

func (p *Panel) sendAck(ctx context.Context, command string) error {
	ok, err := p.session.SendAck(ctx, command)
	if err != nil {
		return translateWireErr(err)
	}
	if !ok {
		return ErrOperationFailed
	}
	return nil
}

func groupIndex(group string) int {
	for i, name := range GroupNames {
		if name == group {
			return i
		}
	}
	if n, err := strconv.Atoi(group); err == nil && n >= 1 && n <= len(GroupNames) {
		return n - 1
	}
	return -1
}

// AddZoneHandler registers a callback invoked whenever a zone's
// status changes, returning a func to unregister it.
func (p *Panel) AddZoneHandler(h func(*Zone)) func() {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.zoneHandlers = append(p.zoneHandlers, h)
	idx := len(p.zoneHandlers) - 1
	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		p.zoneHandlers[idx] = nil
	}
}

// AddPartitionHandler registers a callback invoked whenever a
// partition's status changes, returning a func to unregister it.
func (p *Panel) AddPartitionHandler(h func(*Partition)) func() {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.partitionHandlers = append(p.partitionHandlers, h)
	idx := len(p.partitionHandlers) - 1
	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		p.partitionHandlers[idx] = nil
	}
}

// AddEventHandler registers a callback invoked for every EVENT= push,
// receiving its payload with the "EVENT=" prefix stripped.
func (p *Panel) AddEventHandler(h func(string)) func() {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.eventHandlers = append(p.eventHandlers, h)
	idx := len(p.eventHandlers) - 1
	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		p.eventHandlers[idx] = nil
	}
}

// AddDefaultHandler registers a callback invoked for any push that
// doesn't match a recognized prefix. The push is split on "=": the
// first field is command, the second result, and params holds any
// fields after those two.
func (p *Panel) AddDefaultHandler(h func(command, result string, params ...string)) func() {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.defaultHandlers = append(p.defaultHandlers, h)
	idx := len(p.defaultHandlers) - 1
	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		p.defaultHandlers[idx] = nil
	}
}

// AddErrorHandler registers a callback invoked for every push the
// wire layer could not classify cleanly (bad CRC, N/B panel error).
func (p *Panel) AddErrorHandler(h func(error)) func() {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.errorHandlers = append(p.errorHandlers, h)
	idx := len(p.errorHandlers) - 1
	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		p.errorHandlers[idx] = nil
	}
}

// dispatch is the wire.Observer installed on the session; it
// classifies each push and fans it out to the matching handler set.
func (p *Panel) dispatch(ev wire.Event) {
	switch ev.Kind {
	case wire.EventError:
		p.callErrorHandlers(ev.Err)
	case wire.EventStatus:
		p.callEventHandlers(ev.Raw)
	case wire.EventZoneStatus:
		p.updateZoneStatus(ev.Index, ev.Raw)
	case wire.EventPartitionStatus:
		p.updatePartitionStatus(ev.Index, ev.Raw)
	case wire.EventOther:
		p.callDefaultHandlers(ev.Raw)
	}
}

func (p *Panel) updateZoneStatus(id int, status string) {
	p.mu.RLock()
	z, ok := p.zones[id]
	p.mu.RUnlock()
	if !ok {
		return
	}
	z.UpdateStatus(status)
	snapshot := z.snapshot()

	p.handlersMu.Lock()
	handlers := append([]func(*Zone){}, p.zoneHandlers...)
	p.handlersMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(snapshot)
		}
	}
}

func (p *Panel) updatePartitionStatus(id int, status string) {
	p.mu.RLock()
	part, ok := p.partitions[id]
	p.mu.RUnlock()
	if !ok {
		return
	}
	part.UpdateStatus(status)
	snapshot := part.snapshot()

	p.handlersMu.Lock()
	handlers := append([]func(*Partition){}, p.partitionHandlers...)
	p.handlersMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(snapshot)
		}
	}
}

func (p *Panel) callEventHandlers(raw string) {
	payload := strings.TrimPrefix(raw, "EVENT=")
	p.handlersMu.Lock()
	handlers := append([]func(string){}, p.eventHandlers...)
	p.handlersMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(payload)
		}
	}
}

func (p *Panel) callDefaultHandlers(raw string) {
	fields := strings.Split(raw, "=")
	command := fields[0]
	var result string
	var params []string
	if len(fields) > 1 {
		result = fields[1]
		params = fields[2:]
	}
	p.handlersMu.Lock()
	handlers := append([]func(string, string, ...string){}, p.defaultHandlers...)
	p.handlersMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(command, result, params...)
		}
	}
}

func (p *Panel) callErrorHandlers(err error) {
	p.handlersMu.Lock()
	handlers := append([]func(error){}, p.errorHandlers...)
	p.handlersMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(err)
		}
	}
}

func translateWireErr(err error) error {
	if err == nil {
		return nil
	}
	switch errors.Cause(err) {
	case wire.ErrUnauthorized:
		return ErrUnauthorized
	case wire.ErrCannotConnect:
		return ErrCannotConnect
	case wire.ErrConnectionLost:
		return ErrConnectionLost
	case wire.ErrOperation:
		return errors.Wrap(ErrOperationFailed, err.Error())
	default:
		return err
	}
}
