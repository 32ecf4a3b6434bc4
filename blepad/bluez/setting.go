package bluez

import (
	"fmt"
	"strings"

	"dio.wtf/blepad/blepad/log"
	"github.com/muka/go-bluetooth/hw/linux/cmd"
)

// checkBluetoothService fails when systemd runs but bluetooth.service is not
// active. Hosts without systemd are not checked.
func checkBluetoothService() error {
	ret, err := cmd.Exec("ps", "--no-headers", "-o", "comm", "1")
	if nil != err || strings.TrimSpace(ret) != "systemd" {
		return nil
	}

	state, err := cmd.Exec("systemctl", "is-active", "bluetooth")
	state = strings.TrimSpace(state)
	if state == "active" {
		log.Debug("systemd found and bluetooth active")
		return nil
	}
	if state == "" && nil != err {
		state = err.Error()
	}
	return fmt.Errorf("bluetooth.service is %s", state)
}
