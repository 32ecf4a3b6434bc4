package bluez

import (
	"sort"
	"strings"

	"dio.wtf/blepad/blepad/log"
	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"golang.org/x/exp/slices"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Adapter is the local controller used for discovery.
type Adapter struct {
	*adapter.Adapter1
	adapterPath dbus.ObjectPath
	adapterId   string
}

// NewAdapter picks the adapter whose id (e.g. hci0) matches, or the first
// one found when id is empty.
func NewAdapter(id string) (a *Adapter, err error) {
	objects, err := getManagedObjects()
	if nil != err {
		return
	}

	paths := make([]string, 0)
	for path, ifaces := range objects {
		if _, ok := ifaces[adapter.Adapter1Interface]; ok {
			paths = append(paths, string(path))
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		s := strings.Split(path, "/")
		adapterId := s[len(s)-1]
		if id != "" && adapterId != id {
			continue
		}
		adapter1, err := adapter.NewAdapter1(dbus.ObjectPath(path))
		if nil != err {
			return nil, err
		}
		log.DebugF("Using adapter under object path: %s", path)
		return &Adapter{
			Adapter1:    adapter1,
			adapterPath: dbus.ObjectPath(path),
			adapterId:   adapterId,
		}, nil
	}
	return nil, errNoAdapter
}

func (a *Adapter) Id() string {
	return a.adapterId
}

// Candidate is a discovered peripheral offered to the chooser.
type Candidate struct {
	Path    dbus.ObjectPath
	Address string
	Name    string
	RSSI    int16
}

func (c Candidate) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address
}

// matchDevices returns the devices known to adapterPath that expose
// serviceUUID, strongest signal first.
func matchDevices(objects managedObjects, adapterPath dbus.ObjectPath, serviceUUID, address string) (candidates []Candidate, err error) {
	for path, ifaces := range objects {
		iface, ok := ifaces[device.Device1Interface]
		if !ok {
			continue
		}
		prop := new(device.Device1Properties)
		prop, err = prop.FromDBusMap(iface)
		if nil != err {
			return
		}
		if prop.Adapter != adapterPath {
			continue
		}
		if address != "" && !strings.EqualFold(prop.Address, address) {
			continue
		}
		if !slices.Contains(lowerAll(prop.UUIDs), serviceUUID) {
			continue
		}
		name := prop.Name
		if name == "" {
			name = prop.Alias
		}
		candidates = append(candidates, Candidate{
			Path:    path,
			Address: prop.Address,
			Name:    name,
			RSSI:    prop.RSSI,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RSSI != candidates[j].RSSI {
			return candidates[i].RSSI > candidates[j].RSSI
		}
		return candidates[i].Path < candidates[j].Path
	})
	return
}

// findService returns the GATT service of devicePath with the given UUID.
func findService(objects managedObjects, devicePath dbus.ObjectPath, serviceUUID string) (dbus.ObjectPath, bool) {
	for _, path := range sortedPaths(objects) {
		iface, ok := objects[path][gatt.GattService1Interface]
		if !ok {
			continue
		}
		if variantPath(iface["Device"]) != devicePath {
			continue
		}
		if primary, ok := iface["Primary"].Value().(bool); ok && !primary {
			continue
		}
		if strings.EqualFold(variantString(iface["UUID"]), serviceUUID) {
			return path, true
		}
	}
	return "", false
}

// findCharacteristic returns the characteristic of servicePath with the
// given UUID and its flags.
func findCharacteristic(objects managedObjects, servicePath dbus.ObjectPath, charUUID string) (dbus.ObjectPath, []string, bool) {
	for _, path := range sortedPaths(objects) {
		iface, ok := objects[path][gatt.GattCharacteristic1Interface]
		if !ok {
			continue
		}
		if variantPath(iface["Service"]) != servicePath {
			continue
		}
		if strings.EqualFold(variantString(iface["UUID"]), charUUID) {
			flags, _ := iface["Flags"].Value().([]string)
			return path, flags, true
		}
	}
	return "", nil, false
}

func getManagedObjects() (managedObjects, error) {
	om, err := bluez.GetObjectManager()
	if nil != err {
		return nil, err
	}
	objects, err := om.GetManagedObjects()
	if nil != err {
		return nil, err
	}
	return objects, nil
}

func sortedPaths(objects managedObjects) []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(objects))
	for path := range objects {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantPath(v dbus.Variant) dbus.ObjectPath {
	p, _ := v.Value().(dbus.ObjectPath)
	return p
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
