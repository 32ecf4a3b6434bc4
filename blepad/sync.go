package blepad

import (
	"sync"

	"dio.wtf/blepad/blepad/log"
	"dio.wtf/blepad/blepad/report"
	"github.com/loov/hrtime"
)

type SyncState uint8

const (
	SyncIdle SyncState = iota
	SyncInFlight
	// SyncInFlightDirty means the state changed while a write was pending and
	// exactly one follow-up write is owed.
	SyncInFlightDirty
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "Idle"
	case SyncInFlight:
		return "WriteInFlight"
	case SyncInFlightDirty:
		return "WriteInFlight+Dirty"
	default:
		return "UNKNOWN"
	}
}

type SyncStats struct {
	State    SyncState
	Dirty    bool
	Writes   uint64
	Failures uint64
	LastSent uint16
}

// Synchronizer pushes the button state to a characteristic with at most one
// write outstanding. Changes made while a write is pending are coalesced into
// a single follow-up write carrying the latest state.
type Synchronizer struct {
	mu sync.Mutex

	state SyncState
	live  uint16
	// dirty is true while live has not been handed to a write.
	dirty bool

	char         Characteristic
	withResponse bool
	// epoch changes on every Attach/Detach so completions of writes issued
	// to an older session are ignored.
	epoch uint64

	writes   uint64
	failures uint64
	lastSent uint16
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// Attach binds a characteristic. The live state is kept as is.
func (s *Synchronizer) Attach(char Characteristic, withResponse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.char = char
	s.withResponse = withResponse
	s.state = SyncIdle
}

// Detach drops the characteristic and every pending flag. A write still in
// progress settles without consequences.
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.char = nil
	s.withResponse = false
	s.state = SyncIdle
	s.dirty = false
	s.live = 0
}

// Update records a new live state and marks it as not yet transmitted.
func (s *Synchronizer) Update(state uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = state
	s.dirty = true
}

// SetWithResponse selects acknowledged or unacknowledged writes. A write
// already in progress keeps the mode it started with.
func (s *Synchronizer) SetWithResponse(withResponse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withResponse = withResponse
}

// Flush starts a write of the live state if one is due. Without an attached
// characteristic it does nothing and the state stays dirty.
func (s *Synchronizer) Flush(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nil == s.char {
		return
	}
	switch s.state {
	case SyncInFlight:
		s.state = SyncInFlightDirty
		return
	case SyncInFlightDirty:
		return
	}
	if !s.dirty && !force {
		return
	}

	snapshot := s.begin()
	go s.run(s.char, snapshot, s.withResponse, s.epoch)
}

func (s *Synchronizer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStats{
		State:    s.state,
		Dirty:    s.dirty,
		Writes:   s.writes,
		Failures: s.failures,
		LastSent: s.lastSent,
	}
}

// begin must be called with mu held. Dirty is cleared before the snapshot
// is taken so updates landing during the write are not lost.
func (s *Synchronizer) begin() uint16 {
	s.dirty = false
	s.state = SyncInFlight
	return s.live
}

func (s *Synchronizer) run(char Characteristic, snapshot uint16, withResponse bool, epoch uint64) {
	for {
		payload := report.Encode(snapshot)
		start := hrtime.Now()
		err := char.WriteValue(payload.Bytes(), withResponse)
		elapsed := hrtime.Since(start)

		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		if nil != err {
			s.failures++
			// Not retried right away; the next edge or flush sends it again.
			s.dirty = true
			log.ErrorF("send failed: %v", err)
		} else {
			s.writes++
			s.lastSent = snapshot
			log.InfoF("sent: %s", report.FormatState(snapshot))
			log.DebugF("%s written in %v (with response: %v)", payload, elapsed, withResponse)
		}

		followUp := s.state == SyncInFlightDirty || s.live != snapshot
		s.state = SyncIdle
		if !followUp {
			s.mu.Unlock()
			return
		}
		snapshot = s.begin()
		withResponse = s.withResponse
		s.mu.Unlock()
	}
}
