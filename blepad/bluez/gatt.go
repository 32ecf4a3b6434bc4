package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/log"
	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const (
	resolvePollInterval = 100 * time.Millisecond
	resolveTimeout      = 15 * time.Second
)

// peripheral is the part of device.Device1 the backend drives.
type peripheral interface {
	Connect() error
	Disconnect() error
	GetConnected() (bool, error)
	GetServicesResolved() (bool, error)
	WatchProperties() (chan *bluez.PropertyChanged, error)
	UnwatchProperties(ch chan *bluez.PropertyChanged) error
}

// Device is a selected BlueZ peripheral.
type Device struct {
	dev       peripheral
	candidate Candidate

	mu       sync.Mutex
	handlers map[int]func()
	nextId   int
	// propCh is the live property watch, nil while unwatched.
	propCh chan *bluez.PropertyChanged
}

var _ blepad.Device = (*Device)(nil)

func newDevice(c Candidate) (*Device, error) {
	dev, err := device.NewDevice1(c.Path)
	if nil != err {
		return nil, err
	}
	return wrapDevice(dev, c), nil
}

func wrapDevice(dev peripheral, c Candidate) *Device {
	return &Device{
		dev:       dev,
		candidate: c,
		handlers:  make(map[int]func()),
	}
}

func (d *Device) Name() string {
	return d.candidate.Label()
}

func (d *Device) logger() *logrus.Entry {
	return log.WithField("address", d.candidate.Address)
}

func (d *Device) Connect(ctx context.Context) (blepad.Server, error) {
	errCh := make(chan error, 1)
	go func() { errCh <- d.dev.Connect() }()

	select {
	case <-ctx.Done():
		go d.abandon(errCh)
		return nil, ctx.Err()
	case err := <-errCh:
		if nil != err {
			return nil, err
		}
	}

	// GATT objects show up on the bus only once services are resolved.
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()
	for {
		resolved, err := d.dev.GetServicesResolved()
		if nil != err {
			return nil, err
		}
		if resolved {
			return &server{path: d.candidate.Path}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("resolve services: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// abandon waits out a connect nobody is waiting for and drops the link if it
// came up anyway.
func (d *Device) abandon(errCh <-chan error) {
	if err := <-errCh; nil != err {
		return
	}
	d.logger().Info("dropping connection of an abandoned attempt")
	if err := d.dev.Disconnect(); nil != err {
		d.logger().Debugf("disconnect: %v", err)
	}
}

func (d *Device) Disconnect() error {
	connected, err := d.dev.GetConnected()
	if nil == err && !connected {
		return nil
	}
	return d.dev.Disconnect()
}

func (d *Device) OnDisconnect(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextId
	d.nextId++
	d.handlers[id] = fn
	if nil == d.propCh {
		ch, err := d.dev.WatchProperties()
		if nil != err {
			d.logger().Errorf("watch %s: %v", d.candidate.Path, err)
		} else {
			d.propCh = ch
			go d.dispatch(ch)
		}
	}

	return func() {
		d.mu.Lock()
		delete(d.handlers, id)
		var ch chan *bluez.PropertyChanged
		if len(d.handlers) == 0 {
			ch, d.propCh = d.propCh, nil
		}
		d.mu.Unlock()

		// UnwatchProperties hands nil to the dispatch goroutine, which may be
		// the caller, so it runs on its own.
		if nil != ch {
			go d.unwatch(ch)
		}
	}
}

func (d *Device) unwatch(ch chan *bluez.PropertyChanged) {
	if err := d.dev.UnwatchProperties(ch); nil != err {
		d.logger().Debugf("unwatch %s: %v", d.candidate.Path, err)
	}
}

// dispatch runs until the watch hands over nil or closes.
func (d *Device) dispatch(ch chan *bluez.PropertyChanged) {
	for ev := range ch {
		if nil == ev {
			return
		}
		if !isDisconnect(ev) {
			continue
		}
		d.logger().Debug("remote disconnect")
		d.mu.Lock()
		handlers := make([]func(), 0, len(d.handlers))
		for _, fn := range d.handlers {
			handlers = append(handlers, fn)
		}
		d.mu.Unlock()
		for _, fn := range handlers {
			fn()
		}
	}
}

func isDisconnect(ev *bluez.PropertyChanged) bool {
	if ev.Interface != device.Device1Interface || ev.Name != "Connected" {
		return false
	}
	connected, ok := ev.Value.(bool)
	return ok && !connected
}

type server struct {
	path dbus.ObjectPath
}

func (s *server) PrimaryService(ctx context.Context, id blepad.Identifier) (blepad.Service, error) {
	objects, err := getManagedObjects()
	if nil != err {
		return nil, err
	}
	path, ok := findService(objects, s.path, id.UUID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", errServiceNotFound, id.UUID())
	}
	return &service{path: path}, nil
}

type service struct {
	path dbus.ObjectPath
}

func (s *service) Characteristic(ctx context.Context, id blepad.Identifier) (blepad.Characteristic, error) {
	objects, err := getManagedObjects()
	if nil != err {
		return nil, err
	}
	path, flags, ok := findCharacteristic(objects, s.path, id.UUID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", errCharacteristicNotFound, id.UUID())
	}
	if !slices.Contains(flags, "write") && !slices.Contains(flags, "write-without-response") {
		return nil, fmt.Errorf("%w: %s", errNotWritable, id.UUID())
	}
	char, err := gatt.NewGattCharacteristic1(path)
	if nil != err {
		return nil, err
	}
	return &characteristic{char: char, flags: flags}, nil
}

type characteristic struct {
	char  *gatt.GattCharacteristic1
	flags []string
}

func (c *characteristic) WriteValue(value []byte, withResponse bool) error {
	options := map[string]interface{}{
		"type": writeType(withResponse, c.flags),
	}
	return c.char.WriteValue(value, options)
}

// writeType picks the BlueZ write type. An acknowledged write falls back to
// a command when the characteristic only supports that, and vice versa.
func writeType(withResponse bool, flags []string) string {
	canRequest := slices.Contains(flags, "write")
	canCommand := slices.Contains(flags, "write-without-response")
	if withResponse && canRequest || !canCommand {
		return "request"
	}
	return "command"
}
