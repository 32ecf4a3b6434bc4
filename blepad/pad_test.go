package blepad

import (
	"context"
	"errors"
	"testing"
	"time"
)

func connectedPad(t *testing.T, c *fakeChar) (*Pad, *fakePlatform) {
	t.Helper()
	fp := newFakePlatform(c)
	p := NewPad(fp, nil)
	if err := p.Connect(context.Background(), Config{Service: "0x180A", Characteristic: "2a57"}); nil != err {
		t.Fatalf("Connect: %v", err)
	}
	if st := p.Status().State; st != Connected {
		t.Fatalf("state = %v; want Connected", st)
	}
	return p, fp
}

func TestConnectForcesZeroFlush(t *testing.T) {
	c := newFakeChar(false)
	rec := &statusRecorder{}
	fp := newFakePlatform(c)
	p := NewPad(fp, nil)
	p.AddListener(rec)

	if err := p.Connect(context.Background(), Config{Service: "0x180A", Characteristic: "2a57", WithResponse: true}); nil != err {
		t.Fatal(err)
	}
	assertPayload(t, waitWrite(t, c), 0x00, 0x00)
	waitSyncIdle(t, p.SyncStats)
	if c.count() != 1 || !c.last().withResponse {
		t.Fatalf("writes = %d, withResponse = %v", c.count(), c.last().withResponse)
	}

	if !fp.asked.IsNumeric() || fp.asked.Numeric() != 0x180A {
		t.Fatalf("service identifier = %v", fp.asked)
	}
	if svc := fp.device.server.service; !svc.asked.IsNumeric() || svc.asked.Numeric() != 0x2a57 {
		t.Fatalf("characteristic identifier = %v", svc.asked)
	}

	want := []LifecycleState{Idle, Connecting, Connected}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v; want %v", got, want)
		}
	}
	if s := p.Status(); !s.CanDisconnect() || s.CanConnect() || s.DeviceName != "Pad" {
		t.Fatalf("status = %+v", s)
	}
}

func TestConnectClearsPriorState(t *testing.T) {
	c := newFakeChar(false)
	fp := newFakePlatform(c)
	p := NewPad(fp, nil)

	p.ReportInput("a", "key-KeyZ", true)
	if p.State() != 1<<4 {
		t.Fatalf("state = %#x", p.State())
	}
	if err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"}); nil != err {
		t.Fatal(err)
	}
	assertPayload(t, waitWrite(t, c), 0x00, 0x00)
	if p.State() != 0 || p.Pressed("a") {
		t.Fatal("connect must start from a clean state")
	}
}

func TestConnectRequiresIdentifiers(t *testing.T) {
	fp := newFakePlatform(newFakeChar(false))
	p := NewPad(fp, nil)

	tcs := []Config{
		{Service: "", Characteristic: "2a57"},
		{Service: "0x180A", Characteristic: "  "},
	}
	for _, cfg := range tcs {
		if err := p.Connect(context.Background(), cfg); !errors.Is(err, ErrEmptyIdentifier) {
			t.Fatalf("Connect(%+v) = %v; want ErrEmptyIdentifier", cfg, err)
		}
	}
	if fp.requests != 0 || p.Status().State != Idle {
		t.Fatal("invalid config must not start a handshake")
	}
}

func TestConnectCancelled(t *testing.T) {
	fp := newFakePlatform(newFakeChar(false))
	fp.requestErr = ErrCancelled
	rec := &statusRecorder{}
	p := NewPad(fp, nil)
	p.AddListener(rec)

	if err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"}); nil != err {
		t.Fatalf("cancel should not be an error, got %v", err)
	}
	s := p.Status()
	if s.State != Idle || nil != s.Err {
		t.Fatalf("status = %+v", s)
	}
	for _, st := range rec.states {
		if nil != st.Err {
			t.Fatalf("cancel reported an error: %+v", st)
		}
	}
}

func TestConnectFailureRollsBack(t *testing.T) {
	c := newFakeChar(false)
	fp := newFakePlatform(c)
	fp.device.server.service.charErr = errors.New("not found")
	rec := &statusRecorder{}
	p := NewPad(fp, nil)
	p.AddListener(rec)

	err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"})
	if nil == err {
		t.Fatal("want error")
	}
	if p.Status().State != Idle {
		t.Fatalf("state = %v", p.Status().State)
	}
	if fp.device.disconnectCount() != 1 {
		t.Fatal("failed handshake must release the device")
	}
	last := rec.states[len(rec.states)-1]
	if last.State != Idle || nil == last.Err {
		t.Fatalf("last status = %+v; want Idle with error", last)
	}

	// A new attempt is possible afterwards.
	fp.device.server.service.charErr = nil
	if err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"}); nil != err {
		t.Fatal(err)
	}
	waitWrite(t, c)
}

func TestConnectDroppedDuringHandshake(t *testing.T) {
	fp := newFakePlatform(newFakeChar(false))
	fp.device.dropOnConnect = true
	p := NewPad(fp, nil)

	err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"})
	if !errors.Is(err, errDroppedHandshake) {
		t.Fatalf("err = %v; want errDroppedHandshake", err)
	}
	if p.Status().State != Idle {
		t.Fatalf("state = %v", p.Status().State)
	}
}

func TestConnectWhileConnected(t *testing.T) {
	p, _ := connectedPad(t, newFakeChar(false))
	if err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v; want ErrBusy", err)
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	fp := newFakePlatform(newFakeChar(false))
	fp.supportedErr = errors.New("no adapter")
	p := NewPad(fp, nil)

	s := p.Status()
	if s.State != Unsupported || s.CanConnect() || !errors.Is(s.Err, ErrUnsupported) {
		t.Fatalf("status = %+v", s)
	}
	if err := p.Connect(context.Background(), Config{Service: "180a", Characteristic: "2a57"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v; want ErrUnsupported", err)
	}
	if fp.requests != 0 {
		t.Fatal("unsupported platform was asked for a device")
	}
}

func TestMultiSourceReleaseKeepsBit(t *testing.T) {
	c := newFakeChar(false)
	p, _ := connectedPad(t, c)
	waitWrite(t, c)
	waitSyncIdle(t, p.SyncStats)

	p.ReportInput("a", "key-Z", true)
	assertPayload(t, waitWrite(t, c), 0x10, 0x00)
	waitSyncIdle(t, p.SyncStats)

	p.ReportInput("a", "pointer-1", true)
	p.ReportInput("a", "key-Z", false)
	waitSyncIdle(t, p.SyncStats)
	if !p.Pressed("a") || p.State() != 0x0010 {
		t.Fatalf("pressed=%v state=%#x", p.Pressed("a"), p.State())
	}
	if c.count() != 2 {
		t.Fatalf("writes = %d; want 2", c.count())
	}
}

func TestReleaseAllSingleFlush(t *testing.T) {
	c := newFakeChar(false)
	p, _ := connectedPad(t, c)
	waitWrite(t, c)
	waitSyncIdle(t, p.SyncStats)

	for _, btn := range []string{"up", "a", "start"} {
		p.ReportInput(btn, "key-"+btn, true)
		waitWrite(t, c)
		waitSyncIdle(t, p.SyncStats)
	}
	if p.State() != 0x0411 {
		t.Fatalf("state = %#x; want 0x0411", p.State())
	}
	before := c.count()

	p.Dispatch(Blur())
	assertPayload(t, waitWrite(t, c), 0x00, 0x00)
	waitSyncIdle(t, p.SyncStats)
	if c.count() != before+1 {
		t.Fatalf("writes = %d; want %d", c.count(), before+1)
	}
	for _, btn := range []string{"up", "a", "start"} {
		if p.Pressed(btn) {
			t.Fatalf("%s still pressed", btn)
		}
	}

	p.ReleaseAll()
	waitSyncIdle(t, p.SyncStats)
	if c.count() != before+1 {
		t.Fatal("releasing nothing must not write")
	}
}

func TestWriteFailureDoesNotStall(t *testing.T) {
	c := newFakeChar(true)
	p, _ := connectedPad(t, c)

	waitWrite(t, c)
	c.release(t, errors.New("gatt write failed"))
	if s := waitSyncIdle(t, p.SyncStats); s.Failures != 1 {
		t.Fatalf("stats = %+v", s)
	}

	p.ReportInput("b", "key-KeyX", true)
	assertPayload(t, waitWrite(t, c), 0x20, 0x00)
	c.release(t, nil)
	if s := waitSyncIdle(t, p.SyncStats); s.Writes != 1 || s.LastSent != 0x0020 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestRemoteDisconnectCleansUp(t *testing.T) {
	c := newFakeChar(false)
	rec := &statusRecorder{}
	p, fp := connectedPad(t, c)
	p.AddListener(rec)
	waitWrite(t, c)
	waitSyncIdle(t, p.SyncStats)

	p.ReportInput("up", "key-ArrowUp", true)
	waitWrite(t, c)
	waitSyncIdle(t, p.SyncStats)

	fp.device.fire()
	s := p.Status()
	if s.State != Idle || !s.CanConnect() {
		t.Fatalf("status = %+v", s)
	}
	if p.State() != 0 || p.Pressed("up") {
		t.Fatal("cleanup must zero state and sources")
	}
	if st := p.SyncStats(); st.Dirty || st.State != SyncIdle {
		t.Fatalf("sync stats = %+v", st)
	}

	// Not connected: state is tracked but nothing is written.
	before := c.count()
	p.ReportInput("down", "key-ArrowDown", true)
	if p.State() != 0x0002 || c.count() != before {
		t.Fatalf("state=%#x writes=%d", p.State(), c.count())
	}

	// A stale callback after cleanup is ignored.
	fp.device.fire()
	if got := rec.seen(); got[len(got)-1] != Idle {
		t.Fatalf("statuses = %v", got)
	}
}

func TestUnwatchRunsWithoutPadLock(t *testing.T) {
	tcs := []struct {
		name string
		drop func(p *Pad, d *fakeDevice)
	}{
		{"remote", func(p *Pad, d *fakeDevice) { d.fire() }},
		{"local", func(p *Pad, d *fakeDevice) { p.Disconnect() }},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			c := newFakeChar(false)
			p, fp := connectedPad(t, c)
			waitWrite(t, c)
			waitSyncIdle(t, p.SyncStats)

			unwatched := make(chan LifecycleState, 1)
			fp.device.mu.Lock()
			fp.device.onUnwatch = func() { unwatched <- p.Status().State }
			fp.device.mu.Unlock()

			done := make(chan struct{})
			go func() {
				tc.drop(p, fp.device)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("disconnect blocked on the pad lock")
			}
			if s := <-unwatched; s != Idle {
				t.Fatalf("state during unwatch = %s; want Idle", s)
			}
		})
	}
}

func TestDisconnectCleansUpOnError(t *testing.T) {
	c := newFakeChar(false)
	p, fp := connectedPad(t, c)
	fp.device.disconnectErr = errors.New("already gone")

	p.ReportInput("l", "key-KeyQ", true)
	if err := p.Disconnect(); nil != err {
		t.Fatal(err)
	}
	if fp.device.disconnectCount() != 1 {
		t.Fatal("disconnect not forwarded to the device")
	}
	if p.Status().State != Idle || p.State() != 0 || p.Pressed("l") {
		t.Fatalf("status=%+v state=%#x", p.Status(), p.State())
	}
	if err := p.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("second Disconnect = %v; want ErrNotConnected", err)
	}
}

func TestPump(t *testing.T) {
	c := newFakeChar(false)
	p, _ := connectedPad(t, c)
	waitWrite(t, c)

	events := make(chan InputEvent, 4)
	events <- Press("r", KeySource("KeyW"))
	events <- Press("r", PointerSource("7"))
	events <- Release("r", KeySource("KeyW"))
	close(events)

	p.Pump(context.Background(), events)
	if !p.Pressed("r") || p.State() != 1<<9 {
		t.Fatalf("pressed=%v state=%#x", p.Pressed("r"), p.State())
	}
}
