package blepad

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"dio.wtf/blepad/blepad/controller"
	"dio.wtf/blepad/blepad/log"
)

type LifecycleState uint8

const (
	Idle LifecycleState = iota
	Connecting
	Connected
	// Unsupported is terminal: the platform cannot provide Bluetooth.
	Unsupported
)

func (s LifecycleState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Unsupported:
		return "Unsupported"
	default:
		return "UNKNOWN"
	}
}

// Config is read at connect time.
type Config struct {
	Service        string
	Characteristic string
	WithResponse   bool
}

type Status struct {
	State      LifecycleState
	DeviceName string
	Err        error
}

// CanConnect and CanDisconnect drive the enabled state of the two actions.
func (s Status) CanConnect() bool {
	return s.State == Idle
}

func (s Status) CanDisconnect() bool {
	return s.State == Connected
}

type StatusListener interface {
	StatusChanged(status Status)
}

type StatusListenerFunc func(status Status)

func (f StatusListenerFunc) StatusChanged(status Status) {
	f(status)
}

type session struct {
	device     Device
	char       Characteristic
	unwatch    func()
	generation uint64
	dropped    bool
}

// Pad owns the input aggregator, the packed button state, the transport
// synchronizer and the connection that feeds them. All methods are safe for
// concurrent use.
type Pad struct {
	mu sync.Mutex

	platform    Platform
	unsupported error

	agg  *controller.Aggregator
	bits *controller.ButtonState
	sync *Synchronizer

	state        LifecycleState
	session      *session
	generation   uint64
	withResponse bool
	deviceName   string

	listeners []StatusListener
}

func NewPad(platform Platform, indicator controller.Indicator) *Pad {
	p := &Pad{
		platform: platform,
		agg:      controller.NewAggregator(indicator),
		bits:     controller.NewButtonState(),
		sync:     NewSynchronizer(),
	}
	if err := platform.Supported(); nil != err {
		p.unsupported = fmt.Errorf("%w: %v", ErrUnsupported, err)
		p.state = Unsupported
		log.Error(p.unsupported)
	}
	return p
}

func (p *Pad) AddListener(l StatusListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	status := p.statusLocked(nil)
	p.mu.Unlock()
	l.StatusChanged(status)
}

// Connect runs the whole handshake. It returns nil when the user cancelled
// device selection.
func (p *Pad) Connect(ctx context.Context, cfg Config) error {
	service := NormalizeIdentifier(cfg.Service)
	characteristic := NormalizeIdentifier(cfg.Characteristic)

	p.mu.Lock()
	if p.state == Unsupported {
		p.mu.Unlock()
		return p.unsupported
	}
	if p.state != Idle {
		p.mu.Unlock()
		return ErrBusy
	}
	if service.IsZero() || characteristic.IsZero() {
		p.mu.Unlock()
		log.Error("service and characteristic identifiers are required")
		return ErrEmptyIdentifier
	}
	p.generation++
	sess := &session{generation: p.generation}
	p.session = sess
	p.withResponse = cfg.WithResponse
	p.state = Connecting
	status := p.statusLocked(nil)
	p.mu.Unlock()
	p.notify(status)

	log.Info("opening device chooser")
	err := p.handshake(ctx, sess, service, characteristic)
	if nil == err {
		return nil
	}

	cancelled := errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
	if cancelled {
		log.Info("device selection cancelled")
	} else {
		log.ErrorF("connection failed: %v", err)
	}

	p.mu.Lock()
	if p.session != sess {
		p.mu.Unlock()
		return err
	}
	device := sess.device
	unwatch := p.cleanupLocked()
	if cancelled {
		status = p.statusLocked(nil)
	} else {
		status = p.statusLocked(err)
	}
	p.mu.Unlock()
	unwatch()

	if nil != device {
		if derr := device.Disconnect(); nil != derr {
			log.DebugF("release after failed handshake: %v", derr)
		}
	}
	p.notify(status)
	if cancelled {
		return nil
	}
	return err
}

func (p *Pad) handshake(ctx context.Context, sess *session, service, characteristic Identifier) error {
	device, err := p.platform.RequestDevice(ctx, service)
	if nil != err {
		return err
	}

	unwatch := device.OnDisconnect(func() { p.handleDisconnected(sess.generation) })
	p.mu.Lock()
	sess.device = device
	sess.unwatch = unwatch
	p.mu.Unlock()

	name := deviceLabel(device)
	log.InfoF("connecting to %q", name)

	server, err := device.Connect(ctx)
	if nil != err {
		return fmt.Errorf("gatt connect: %w", err)
	}
	svc, err := server.PrimaryService(ctx, service)
	if nil != err {
		return fmt.Errorf("primary service %s: %w", service, err)
	}
	char, err := svc.Characteristic(ctx, characteristic)
	if nil != err {
		return fmt.Errorf("characteristic %s: %w", characteristic, err)
	}

	p.mu.Lock()
	if p.session != sess {
		p.mu.Unlock()
		return ErrCancelled
	}
	if sess.dropped {
		p.mu.Unlock()
		return errDroppedHandshake
	}
	sess.char = char
	p.deviceName = name
	p.state = Connected

	// Every connection starts from a clean, transmitted zero state.
	p.agg.Reset()
	p.bits.Reset()
	p.sync.Attach(char, p.withResponse)
	p.sync.Update(0)
	p.sync.Flush(true)
	status := p.statusLocked(nil)
	p.mu.Unlock()

	log.Info("connected")
	p.notify(status)
	return nil
}

// Disconnect closes the active connection. Cleanup happens even if the
// platform disconnect call fails.
func (p *Pad) Disconnect() error {
	p.mu.Lock()
	if p.state != Connected || nil == p.session {
		p.mu.Unlock()
		return ErrNotConnected
	}
	device := p.session.device
	unwatch := p.cleanupLocked()
	status := p.statusLocked(nil)
	p.mu.Unlock()
	unwatch()

	log.Info("disconnecting")
	if err := device.Disconnect(); nil != err {
		log.ErrorF("disconnect: %v", err)
	}
	p.notify(status)
	return nil
}

func (p *Pad) handleDisconnected(generation uint64) {
	p.mu.Lock()
	if nil == p.session || p.session.generation != generation {
		p.mu.Unlock()
		return
	}
	if p.state == Connecting {
		p.session.dropped = true
		p.mu.Unlock()
		return
	}
	unwatch := p.cleanupLocked()
	status := p.statusLocked(nil)
	p.mu.Unlock()
	unwatch()

	log.Info("device disconnected")
	p.notify(status)
}

// cleanupLocked is shared by every exit path of a connection. The returned
// func drops the disconnect subscription and must be called without mu held.
func (p *Pad) cleanupLocked() (unwatch func()) {
	unwatch = func() {}
	if nil != p.session && nil != p.session.unwatch {
		unwatch = p.session.unwatch
	}
	p.session = nil
	p.generation++
	p.deviceName = ""
	p.sync.Detach()
	p.bits.Reset()
	p.agg.Reset()
	if p.state != Unsupported {
		p.state = Idle
	}
	return
}

// ReportInput feeds one input sample. Edges update the packed state and
// trigger a flush.
func (p *Pad) ReportInput(button, source string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	edge, ok := p.agg.Report(button, source, active)
	if !ok {
		return
	}
	if !p.bits.Apply(edge.Button, edge.Pressed) {
		return
	}
	p.sync.Update(p.bits.Value())
	p.sync.Flush(false)
}

// ReleaseAll drops every held input, as on focus loss. A single flush covers
// all released buttons.
func (p *Pad) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	for _, edge := range p.agg.ReleaseAll() {
		if p.bits.Apply(edge.Button, edge.Pressed) {
			changed = true
		}
	}
	if changed {
		p.sync.Update(p.bits.Value())
		p.sync.Flush(false)
	}
}

// Flush forces a transmission of the current state.
func (p *Pad) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sync.Flush(true)
}

func (p *Pad) SetWriteWithResponse(withResponse bool) {
	p.mu.Lock()
	p.withResponse = withResponse
	p.sync.SetWithResponse(withResponse)
	p.mu.Unlock()

	if withResponse {
		log.Info("write mode: with response")
	} else {
		log.Info("write mode: without response")
	}
}

func (p *Pad) WriteWithResponse() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withResponse
}

func (p *Pad) State() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bits.Value()
}

func (p *Pad) Pressed(button string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agg.Pressed(button)
}

func (p *Pad) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked(nil)
}

func (p *Pad) SyncStats() SyncStats {
	return p.sync.Stats()
}

func (p *Pad) statusLocked(err error) Status {
	if p.state == Unsupported {
		err = p.unsupported
	}
	return Status{
		State:      p.state,
		DeviceName: p.deviceName,
		Err:        err,
	}
}

func (p *Pad) notify(status Status) {
	p.mu.Lock()
	listeners := make([]StatusListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.StatusChanged(status)
	}
}

func deviceLabel(d Device) string {
	name := strings.TrimSpace(d.Name())
	if name == "" {
		return "unknown device"
	}
	return name
}
