package bluez

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/log"
	"github.com/muka/go-bluetooth/api"
)

const (
	DefaultScanTimeout = 20 * time.Second
	scanPollInterval   = 250 * time.Millisecond
)

var (
	errNoAdapter              = errors.New("no bluetooth adapter found")
	errServiceNotFound        = errors.New("primary service not found")
	errCharacteristicNotFound = errors.New("characteristic not found")
	errNotWritable            = errors.New("characteristic is not writable")
)

// Chooser selects one of the discovered candidates. Returning false
// dismisses the selection.
type Chooser func(candidates []Candidate) (int, bool)

// FirstCandidate picks the strongest signal.
func FirstCandidate(candidates []Candidate) (int, bool) {
	return 0, len(candidates) > 0
}

// Platform talks to BlueZ over the system D-Bus.
type Platform struct {
	AdapterId   string
	Address     string
	ScanTimeout time.Duration
	Choose      Chooser

	adapter *Adapter
}

var _ blepad.Platform = (*Platform)(nil)

func NewPlatform(adapterId string) *Platform {
	return &Platform{
		AdapterId:   adapterId,
		ScanTimeout: DefaultScanTimeout,
		Choose:      FirstCandidate,
	}
}

func (p *Platform) Supported() error {
	if err := probeSocket(); nil != err {
		return err
	}
	if err := checkBluetoothService(); nil != err {
		return err
	}
	a, err := NewAdapter(p.AdapterId)
	if nil != err {
		return err
	}
	powered, err := a.GetPowered()
	if nil != err {
		return err
	}
	if !powered {
		log.DebugF("powering on %s", a.Id())
		if err = a.SetPowered(true); nil != err {
			return fmt.Errorf("power on %s: %w", a.Id(), err)
		}
	}
	p.adapter = a
	return nil
}

func (p *Platform) RequestDevice(ctx context.Context, service blepad.Identifier) (blepad.Device, error) {
	if nil == p.adapter {
		if err := p.Supported(); nil != err {
			return nil, err
		}
	}
	serviceUUID := service.UUID()

	filter := map[string]interface{}{
		"UUIDs":     []string{serviceUUID},
		"Transport": "le",
	}
	if err := p.adapter.SetDiscoveryFilter(filter); nil != err {
		log.DebugF("discovery filter: %v", err)
	}
	if err := p.adapter.StartDiscovery(); nil != err {
		return nil, fmt.Errorf("start discovery: %w", err)
	}
	defer func() {
		if err := p.adapter.StopDiscovery(); nil != err {
			log.DebugF("stop discovery: %v", err)
		}
	}()
	log.DebugF("scanning for %s on %s", serviceUUID, p.adapter.Id())

	timeout := p.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()

	choose := p.Choose
	if nil == choose {
		choose = FirstCandidate
	}

	for {
		objects, err := getManagedObjects()
		if nil != err {
			return nil, err
		}
		candidates, err := matchDevices(objects, p.adapter.adapterPath, serviceUUID, p.Address)
		if nil != err {
			return nil, err
		}
		if len(candidates) > 0 {
			idx, ok := choose(candidates)
			if !ok || idx < 0 || idx >= len(candidates) {
				return nil, blepad.ErrCancelled
			}
			log.WithField("address", candidates[idx].Address).Infof("selected %s", candidates[idx].Label())
			return newDevice(candidates[idx])
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: no device advertising %s", blepad.ErrCancelled, serviceUUID)
		case <-ticker.C:
		}
	}
}

// Close releases the D-Bus connection.
func (p *Platform) Close() {
	api.Exit()
}
