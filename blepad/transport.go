package blepad

import (
	"context"
	"errors"
)

var (
	// ErrCancelled is returned by a Platform when the device chooser was
	// dismissed or found nothing. It is not treated as a failure.
	ErrCancelled = errors.New("device selection cancelled")

	ErrUnsupported      = errors.New("bluetooth is not available on this system")
	ErrBusy             = errors.New("connection already in progress or established")
	ErrNotConnected     = errors.New("not connected")
	errDroppedHandshake = errors.New("device disconnected during handshake")
)

// Platform is the host Bluetooth stack.
type Platform interface {
	// Supported reports why the platform cannot be used, or nil.
	Supported() error
	// RequestDevice asks the host to select a peripheral advertising service.
	RequestDevice(ctx context.Context, service Identifier) (Device, error)
}

type Device interface {
	Name() string
	// Connect opens the GATT connection.
	Connect(ctx context.Context) (Server, error)
	Disconnect() error
	// OnDisconnect registers fn to run when the link drops, from either side.
	// The returned func removes the registration.
	OnDisconnect(fn func()) (cancel func())
}

type Server interface {
	PrimaryService(ctx context.Context, id Identifier) (Service, error)
}

type Service interface {
	Characteristic(ctx context.Context, id Identifier) (Characteristic, error)
}

// Characteristic is the writable endpoint the button report is sent to.
// A write in progress cannot be cancelled; it settles on its own.
type Characteristic interface {
	WriteValue(value []byte, withResponse bool) error
}
