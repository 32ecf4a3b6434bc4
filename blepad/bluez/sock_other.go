//go:build !linux

package bluez

import "errors"

func probeSocket() error {
	return errors.New("the bluez backend requires linux")
}
