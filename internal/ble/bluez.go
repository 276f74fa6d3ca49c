package ble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// BlueZ D-Bus names.
const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	propertiesChanged = dbusProperties + ".PropertiesChanged"
)

const (
	connectTimeout         = 10 * time.Second
	servicesResolveTimeout = 15 * time.Second
	servicesResolvePoll    = 200 * time.Millisecond
	notifyBuffer           = 64
)

// Logger is the logging contract used by the BlueZ transport.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZAdapter drives a Linux Bluetooth adapter through the BlueZ D-Bus API.
//
// Thread Safety: all methods are safe for concurrent use.
type BlueZAdapter struct {
	conn   *dbus.Conn
	name   string
	path   dbus.ObjectPath
	logger Logger
}

// BlueZOpener returns an AdapterOpener for the named adapter. An empty
// name selects the first powered adapter on the system bus.
func BlueZOpener(name string, logger Logger) AdapterOpener {
	return func(ctx context.Context) (Adapter, error) {
		return OpenBlueZ(ctx, name, logger)
	}
}

// OpenBlueZ connects to the system bus and resolves a powered adapter.
func OpenBlueZ(ctx context.Context, name string, logger Logger) (*BlueZAdapter, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %w", ErrAdapterUnavailable, err)
	}

	objects, err := getManagedObjects(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}

	path, err := selectAdapter(objects, name)
	if err != nil {
		return nil, err
	}

	adapterName := strings.TrimPrefix(string(path), "/org/bluez/")
	logger.Info("bluetooth adapter acquired", "adapter", adapterName)

	return &BlueZAdapter{
		conn:   conn,
		name:   adapterName,
		path:   path,
		logger: logger,
	}, nil
}

// selectAdapter picks the named adapter, or the first powered one.
func selectAdapter(objects managedObjects, name string) (dbus.ObjectPath, error) {
	var candidates []dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[bluezAdapter1]
		if !ok {
			continue
		}
		if name != "" && string(path) != "/org/bluez/"+name {
			continue
		}
		if powered, _ := variantValue[bool](props, "Powered"); !powered {
			continue
		}
		candidates = append(candidates, path)
	}
	if len(candidates) == 0 {
		if name != "" {
			return "", fmt.Errorf("%w: %s not present or not powered", ErrAdapterUnavailable, name)
		}
		return "", ErrAdapterUnavailable
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return candidates[0], nil
}

// Name returns the adapter name, e.g. "hci0".
func (a *BlueZAdapter) Name() string {
	return a.name
}

// StartScan enables LE discovery.
func (a *BlueZAdapter) StartScan(ctx context.Context) error {
	obj := a.conn.Object(bluezBus, a.path)
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(false),
	}
	if call := obj.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("%w: set discovery filter: %w", ErrScanFailed, call.Err)
	}
	if call := obj.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("%w: start discovery: %w", ErrScanFailed, call.Err)
	}
	return nil
}

// StopScan disables discovery. Stopping an idle adapter is not an error.
func (a *BlueZAdapter) StopScan(ctx context.Context) error {
	obj := a.conn.Object(bluezBus, a.path)
	call := obj.CallWithContext(ctx, bluezAdapter1+".StopDiscovery", 0)
	if call.Err != nil && !isDBusError(call.Err, "org.bluez.Error.NotReady", "org.bluez.Error.Failed") {
		return fmt.Errorf("%w: stop discovery: %w", ErrScanFailed, call.Err)
	}
	return nil
}

// Peripherals lists devices BlueZ currently holds under this adapter.
func (a *BlueZAdapter) Peripherals(ctx context.Context) ([]Peripheral, error) {
	objects, err := getManagedObjects(ctx, a.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	prefix := string(a.path) + "/"
	var out []Peripheral
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		address, _ := variantValue[string](props, "Address")
		if address == "" {
			continue
		}
		name, _ := variantValue[string](props, "Name")
		if name == "" {
			name, _ = variantValue[string](props, "Alias")
		}
		rssi, _ := variantValue[int16](props, "RSSI")

		out = append(out, &bluezPeripheral{
			adapter: a,
			path:    path,
			address: address,
			name:    name,
			rssi:    rssi,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out, nil
}

// Close releases the adapter. The shared system bus connection stays open
// because other users in the process may hold it.
func (a *BlueZAdapter) Close() error {
	return nil
}

// bluezPeripheral is a Device1 object.
type bluezPeripheral struct {
	adapter *BlueZAdapter
	path    dbus.ObjectPath
	address string
	name    string
	rssi    int16
}

func (p *bluezPeripheral) Address() string { return p.address }
func (p *bluezPeripheral) Name() string    { return p.name }
func (p *bluezPeripheral) RSSI() int16     { return p.rssi }

func (p *bluezPeripheral) Connect(ctx context.Context) error {
	if connected, err := p.IsConnected(ctx); err == nil && connected {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	obj := p.adapter.conn.Object(bluezBus, p.path)
	if call := obj.CallWithContext(connectCtx, bluezDevice1+".Connect", 0); call.Err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, p.address, call.Err)
	}
	return nil
}

func (p *bluezPeripheral) Disconnect(ctx context.Context) error {
	obj := p.adapter.conn.Object(bluezBus, p.path)
	if call := obj.CallWithContext(ctx, bluezDevice1+".Disconnect", 0); call.Err != nil {
		return fmt.Errorf("disconnecting %s: %w", p.address, call.Err)
	}
	return nil
}

func (p *bluezPeripheral) IsConnected(ctx context.Context) (bool, error) {
	return getProperty[bool](ctx, p.adapter.conn, p.path, bluezDevice1, "Connected")
}

func (p *bluezPeripheral) DiscoverServices(ctx context.Context) error {
	deadline := time.NewTimer(servicesResolveTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(servicesResolvePoll)
	defer ticker.Stop()

	for {
		resolved, err := getProperty[bool](ctx, p.adapter.conn, p.path, bluezDevice1, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrServiceDiscovery, ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("%w: %s not resolved after %s", ErrServiceDiscovery, p.address, servicesResolveTimeout)
		case <-ticker.C:
		}
	}
}

func (p *bluezPeripheral) Characteristic(ctx context.Context, uuid string) (Characteristic, error) {
	objects, err := getManagedObjects(ctx, p.adapter.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceDiscovery, err)
	}

	path, flags, ok := findCharacteristic(objects, p.path, uuid)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrCharacteristicNotFound, uuid, p.address)
	}
	return &bluezCharacteristic{
		peripheral: p,
		path:       path,
		uuid:       strings.ToLower(uuid),
		props:      parseFlags(flags),
	}, nil
}

// findCharacteristic locates a GattCharacteristic1 below devicePath.
func findCharacteristic(objects managedObjects, devicePath dbus.ObjectPath, uuid string) (dbus.ObjectPath, []string, bool) {
	prefix := string(devicePath) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		charUUID, _ := variantValue[string](props, "UUID")
		if !strings.EqualFold(charUUID, uuid) {
			continue
		}
		flags, _ := variantValue[[]string](props, "Flags")
		return path, flags, true
	}
	return "", nil, false
}

// bluezCharacteristic is a GattCharacteristic1 object.
type bluezCharacteristic struct {
	peripheral *bluezPeripheral
	path       dbus.ObjectPath
	uuid       string
	props      Property

	mu     sync.Mutex
	stop   chan struct{}
	closed chan struct{}
}

func (c *bluezCharacteristic) UUID() string         { return c.uuid }
func (c *bluezCharacteristic) Properties() Property { return c.props }

func (c *bluezCharacteristic) Write(ctx context.Context, data []byte, withResponse bool) error {
	writeType := "command"
	if withResponse {
		writeType = "request"
	}
	obj := c.peripheral.adapter.conn.Object(bluezBus, c.path)
	call := obj.CallWithContext(ctx, bluezGattChar+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant(writeType),
	})
	if call.Err != nil {
		if isDBusError(call.Err, "org.bluez.Error.NotConnected") {
			return fmt.Errorf("%w: %w", ErrNotConnected, call.Err)
		}
		return fmt.Errorf("%w: %w", ErrWriteFailed, call.Err)
	}
	return nil
}

// Subscribe watches PropertiesChanged on the characteristic (Value) and on
// the device (Connected), so the stream closes when the link drops.
func (c *bluezCharacteristic) Subscribe(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		select {
		case <-c.closed:
			c.stop, c.closed = nil, nil
		default:
			return nil, fmt.Errorf("%w: already subscribed", ErrNotifyFailed)
		}
	}

	conn := c.peripheral.adapter.conn
	rules := []string{
		matchRule(c.path),
		matchRule(c.peripheral.path),
	}
	for _, rule := range rules {
		if call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			return nil, fmt.Errorf("%w: add match: %w", ErrNotifyFailed, call.Err)
		}
	}

	sigCh := make(chan *dbus.Signal, notifyBuffer)
	conn.Signal(sigCh)

	obj := conn.Object(bluezBus, c.path)
	if call := obj.CallWithContext(ctx, bluezGattChar+".StartNotify", 0); call.Err != nil {
		conn.RemoveSignal(sigCh)
		c.removeMatches(rules)
		return nil, fmt.Errorf("%w: %w", ErrNotifyFailed, call.Err)
	}

	out := make(chan []byte, notifyBuffer)
	c.stop = make(chan struct{})
	c.closed = make(chan struct{})

	go c.pump(ctx, sigCh, out, c.stop, c.closed, rules)
	return out, nil
}

func (c *bluezCharacteristic) pump(ctx context.Context, sigCh chan *dbus.Signal, out chan<- []byte, stop, closed chan struct{}, rules []string) {
	defer close(closed)
	defer close(out)
	defer c.removeMatches(rules)
	defer c.peripheral.adapter.conn.RemoveSignal(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			value, disconnected := interpretSignal(sig, c.path, c.peripheral.path)
			if disconnected {
				c.peripheral.adapter.logger.Debug("notification stream ended by disconnect",
					"address", c.peripheral.address)
				return
			}
			if value == nil {
				continue
			}
			select {
			case out <- value:
			default:
				c.peripheral.adapter.logger.Warn("notification buffer full, dropping chunk",
					"address", c.peripheral.address)
			}
		}
	}
}

func (c *bluezCharacteristic) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	stop, closed := c.stop, c.closed
	c.stop, c.closed = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-closed

	obj := c.peripheral.adapter.conn.Object(bluezBus, c.path)
	if call := obj.CallWithContext(ctx, bluezGattChar+".StopNotify", 0); call.Err != nil &&
		!isDBusError(call.Err, "org.bluez.Error.NotConnected", "org.bluez.Error.Failed") {
		return fmt.Errorf("stop notify: %w", call.Err)
	}
	return nil
}

func (c *bluezCharacteristic) removeMatches(rules []string) {
	conn := c.peripheral.adapter.conn
	for _, rule := range rules {
		conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
}

// interpretSignal extracts a notification value from a characteristic
// PropertiesChanged signal, or reports a device disconnect.
func interpretSignal(sig *dbus.Signal, charPath, devicePath dbus.ObjectPath) (value []byte, disconnected bool) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, false
	}

	switch sig.Path {
	case charPath:
		if v, ok := changed["Value"]; ok {
			if b, ok := v.Value().([]byte); ok {
				return b, false
			}
		}
	case devicePath:
		if v, ok := changed["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok && !connected {
				return nil, true
			}
		}
	}
	return nil, false
}

func matchRule(path dbus.ObjectPath) string {
	return fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, path,
	)
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var objects managedObjects
	call := conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decoding managed objects: %w", err)
	}
	return objects, nil
}

func getProperty[T any](ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	var variant dbus.Variant
	call := conn.Object(bluezBus, path).CallWithContext(ctx, dbusProperties+".Get", 0, iface, property)
	if call.Err != nil {
		return zero, call.Err
	}
	if err := call.Store(&variant); err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}

func isDBusError(err error, names ...string) bool {
	var name string
	var valErr dbus.Error
	var ptrErr *dbus.Error
	switch {
	case errors.As(err, &valErr):
		name = valErr.Name
	case errors.As(err, &ptrErr):
		name = ptrErr.Name
	default:
		return false
	}
	for _, n := range names {
		if name == n {
			return true
		}
	}
	return false
}

// DevicePath returns the BlueZ object path for an address on an adapter.
func DevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}
