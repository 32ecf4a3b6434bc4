// Package tinyble is a blepad platform backed by tinygo.org/x/bluetooth,
// usable where the BlueZ D-Bus backend is not.
package tinyble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/log"
	"tinygo.org/x/bluetooth"
)

const DefaultScanTimeout = 20 * time.Second

var (
	errServiceNotFound        = errors.New("primary service not found")
	errCharacteristicNotFound = errors.New("characteristic not found")
)

// link is the connected side of a bluetooth.Device.
type link interface {
	Disconnect() error
	DiscoverServices(uuids []bluetooth.UUID) ([]bluetooth.DeviceService, error)
}

type Platform struct {
	ScanTimeout time.Duration

	adapter *bluetooth.Adapter
	connect func(addr bluetooth.Address, params bluetooth.ConnectionParams) (link, error)

	mu       sync.Mutex
	enabled  bool
	nextId   int
	handlers map[string]map[int]func()
}

var _ blepad.Platform = (*Platform)(nil)

func NewPlatform() *Platform {
	p := &Platform{
		ScanTimeout: DefaultScanTimeout,
		adapter:     bluetooth.DefaultAdapter,
		handlers:    make(map[string]map[int]func()),
	}
	p.connect = func(addr bluetooth.Address, params bluetooth.ConnectionParams) (link, error) {
		dev, err := p.adapter.Connect(addr, params)
		if nil != err {
			return nil, err
		}
		return &dev, nil
	}
	return p
}

func (p *Platform) Supported() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return nil
	}
	if err := p.adapter.Enable(); nil != err {
		return fmt.Errorf("enable adapter: %w", err)
	}
	p.adapter.SetConnectHandler(p.connectionChanged)
	p.enabled = true
	return nil
}

func (p *Platform) connectionChanged(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()

	p.mu.Lock()
	handlers := make([]func(), 0, len(p.handlers[addr]))
	for _, fn := range p.handlers[addr] {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()

	log.DebugF("%s disconnected", addr)
	for _, fn := range handlers {
		fn()
	}
}

func (p *Platform) subscribe(addr string, fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextId
	p.nextId++
	if nil == p.handlers[addr] {
		p.handlers[addr] = make(map[int]func())
	}
	p.handlers[addr][id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[addr], id)
		if len(p.handlers[addr]) == 0 {
			delete(p.handlers, addr)
		}
	}
}

// RequestDevice scans until a peripheral advertising service shows up.
func (p *Platform) RequestDevice(ctx context.Context, service blepad.Identifier) (blepad.Device, error) {
	if err := p.Supported(); nil != err {
		return nil, err
	}
	uuid, err := toUUID(service)
	if nil != err {
		return nil, err
	}

	timeout := p.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- p.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(uuid) {
				return
			}
			select {
			case found <- result:
				a.StopScan()
			default:
			}
		})
	}()
	log.DebugF("scanning for %s", uuid.String())

	select {
	case result := <-found:
		<-scanDone
		return &Device{platform: p, result: result}, nil
	case err := <-scanDone:
		if nil != err {
			return nil, fmt.Errorf("scan: %w", err)
		}
		select {
		case result := <-found:
			return &Device{platform: p, result: result}, nil
		default:
			return nil, blepad.ErrCancelled
		}
	case <-ctx.Done():
		if err := p.adapter.StopScan(); nil != err {
			log.WarnF("stop scan: %v", err)
		}
		<-scanDone
		return nil, fmt.Errorf("%w: no device advertising %s", blepad.ErrCancelled, uuid.String())
	}
}

func toUUID(id blepad.Identifier) (bluetooth.UUID, error) {
	if id.IsNumeric() {
		if id.Numeric() <= 0xFFFF {
			return bluetooth.New16BitUUID(uint16(id.Numeric())), nil
		}
		return bluetooth.New32BitUUID(id.Numeric()), nil
	}
	return bluetooth.ParseUUID(id.UUID())
}

type Device struct {
	platform *Platform
	result   bluetooth.ScanResult

	mu     sync.Mutex
	device link
}

var _ blepad.Device = (*Device)(nil)

func (d *Device) Name() string {
	if name := d.result.LocalName(); name != "" {
		return name
	}
	return d.result.Address.String()
}

type connectResult struct {
	device link
	err    error
}

func (d *Device) Connect(ctx context.Context) (blepad.Server, error) {
	ch := make(chan connectResult, 1)
	go func() {
		dev, err := d.platform.connect(d.result.Address, bluetooth.ConnectionParams{})
		ch <- connectResult{dev, err}
	}()

	select {
	case <-ctx.Done():
		go d.abandon(ch)
		return nil, ctx.Err()
	case c := <-ch:
		if nil != c.err {
			return nil, c.err
		}
		d.mu.Lock()
		d.device = c.device
		d.mu.Unlock()
		return &server{device: c.device}, nil
	}
}

// abandon disconnects a link that came up after its caller gave up.
func (d *Device) abandon(ch <-chan connectResult) {
	c := <-ch
	if nil != c.err {
		return
	}
	log.InfoF("dropping connection to %s of an abandoned attempt", d.result.Address.String())
	if err := c.device.Disconnect(); nil != err {
		log.DebugF("disconnect: %v", err)
	}
}

func (d *Device) Disconnect() error {
	d.mu.Lock()
	dev := d.device
	d.device = nil
	d.mu.Unlock()
	if nil == dev {
		return nil
	}
	return dev.Disconnect()
}

func (d *Device) OnDisconnect(fn func()) func() {
	return d.platform.subscribe(d.result.Address.String(), func() {
		d.mu.Lock()
		d.device = nil
		d.mu.Unlock()
		fn()
	})
}

type server struct {
	device link
}

func (s *server) PrimaryService(ctx context.Context, id blepad.Identifier) (blepad.Service, error) {
	uuid, err := toUUID(id)
	if nil != err {
		return nil, err
	}
	services, err := s.device.DiscoverServices([]bluetooth.UUID{uuid})
	if nil != err {
		return nil, err
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: %s", errServiceNotFound, uuid.String())
	}
	return &service{svc: services[0]}, nil
}

type service struct {
	svc bluetooth.DeviceService
}

func (s *service) Characteristic(ctx context.Context, id blepad.Identifier) (blepad.Characteristic, error) {
	uuid, err := toUUID(id)
	if nil != err {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if nil != err {
		return nil, err
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", errCharacteristicNotFound, uuid.String())
	}
	return &characteristic{char: chars[0]}, nil
}

type characteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *characteristic) WriteValue(value []byte, withResponse bool) (err error) {
	if withResponse {
		_, err = c.char.Write(value)
	} else {
		_, err = c.char.WriteWithoutResponse(value)
	}
	return
}
