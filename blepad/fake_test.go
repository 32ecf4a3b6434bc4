package blepad

import (
	"context"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

type write struct {
	payload      []byte
	withResponse bool
}

type fakeChar struct {
	mu      sync.Mutex
	writes  []write
	started chan []byte
	// gate, when set, holds every write until a result is sent on it.
	gate chan error
}

func newFakeChar(gated bool) *fakeChar {
	c := &fakeChar{started: make(chan []byte, 64)}
	if gated {
		c.gate = make(chan error)
	}
	return c
}

func (c *fakeChar) WriteValue(value []byte, withResponse bool) error {
	cp := append([]byte(nil), value...)
	c.mu.Lock()
	c.writes = append(c.writes, write{cp, withResponse})
	gate := c.gate
	c.mu.Unlock()

	c.started <- cp
	if nil != gate {
		return <-gate
	}
	return nil
}

func (c *fakeChar) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeChar) last() write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[len(c.writes)-1]
}

func (c *fakeChar) release(t *testing.T, err error) {
	t.Helper()
	select {
	case c.gate <- err:
	case <-time.After(waitTimeout):
		t.Fatal("no write waiting on the gate")
	}
}

func waitWrite(t *testing.T, c *fakeChar) []byte {
	t.Helper()
	select {
	case p := <-c.started:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a write")
	}
	return nil
}

func waitSyncIdle(t *testing.T, stats func() SyncStats) SyncStats {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s := stats(); s.State == SyncIdle {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("synchronizer never went idle")
	return SyncStats{}
}

func assertPayload(t *testing.T, got []byte, b0, b1 byte) {
	t.Helper()
	if len(got) != 2 || got[0] != b0 || got[1] != b1 {
		t.Fatalf("payload = % X; want %02X %02X", got, b0, b1)
	}
}

type fakeService struct {
	char    *fakeChar
	charErr error
	asked   Identifier
}

func (s *fakeService) Characteristic(ctx context.Context, id Identifier) (Characteristic, error) {
	s.asked = id
	if nil != s.charErr {
		return nil, s.charErr
	}
	return s.char, nil
}

type fakeServer struct {
	service *fakeService
	svcErr  error
	asked   Identifier
}

func (s *fakeServer) PrimaryService(ctx context.Context, id Identifier) (Service, error) {
	s.asked = id
	if nil != s.svcErr {
		return nil, s.svcErr
	}
	return s.service, nil
}

type fakeDevice struct {
	mu            sync.Mutex
	name          string
	server        *fakeServer
	connectErr    error
	disconnectErr error
	disconnects   int
	onDisconnect  func()
	// dropOnConnect fires the disconnect handler from inside Connect.
	dropOnConnect bool
	// onUnwatch runs when the subscription is cancelled, like a backend that
	// has to wait for its own watcher goroutine.
	onUnwatch func()
}

func (d *fakeDevice) Name() string {
	return d.name
}

func (d *fakeDevice) Connect(ctx context.Context) (Server, error) {
	if d.dropOnConnect {
		d.fire()
	}
	if nil != d.connectErr {
		return nil, d.connectErr
	}
	return d.server, nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	d.disconnects++
	d.mu.Unlock()
	return d.disconnectErr
}

func (d *fakeDevice) OnDisconnect(fn func()) func() {
	d.mu.Lock()
	d.onDisconnect = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.onDisconnect = nil
		hook := d.onUnwatch
		d.mu.Unlock()
		if nil != hook {
			hook()
		}
	}
}

func (d *fakeDevice) fire() {
	d.mu.Lock()
	fn := d.onDisconnect
	d.mu.Unlock()
	if nil != fn {
		fn()
	}
}

func (d *fakeDevice) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

type fakePlatform struct {
	supportedErr error
	requestErr   error
	device       *fakeDevice
	requests     int
	asked        Identifier
}

func (p *fakePlatform) Supported() error {
	return p.supportedErr
}

func (p *fakePlatform) RequestDevice(ctx context.Context, service Identifier) (Device, error) {
	p.requests++
	p.asked = service
	if nil != p.requestErr {
		return nil, p.requestErr
	}
	return p.device, nil
}

func newFakePlatform(char *fakeChar) *fakePlatform {
	return &fakePlatform{
		device: &fakeDevice{
			name: "Pad",
			server: &fakeServer{
				service: &fakeService{char: char},
			},
		},
	}
}

type statusRecorder struct {
	mu     sync.Mutex
	states []Status
}

func (r *statusRecorder) StatusChanged(s Status) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *statusRecorder) seen() []LifecycleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LifecycleState, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.State)
	}
	return out
}
