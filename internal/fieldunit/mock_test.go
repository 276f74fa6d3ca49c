package fieldunit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/ble"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fieldlink/internal/trust"
)

const (
	testCommandUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	testTelemetryUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// mockAdapter implements ble.Adapter.
type mockAdapter struct {
	mu          sync.Mutex
	peripherals []ble.Peripheral
	scanning    bool
	listedWhile []bool // scanning state at each Peripherals call
	startErr    error
}

func (a *mockAdapter) Name() string { return "hci-mock" }

func (a *mockAdapter) StartScan(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.scanning = true
	return nil
}

func (a *mockAdapter) StopScan(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	return nil
}

func (a *mockAdapter) Peripherals(context.Context) ([]ble.Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listedWhile = append(a.listedWhile, a.scanning)
	return append([]ble.Peripheral(nil), a.peripherals...), nil
}

func (a *mockAdapter) Close() error { return nil }

// mockPeripheral implements ble.Peripheral with a command and a telemetry
// characteristic.
type mockPeripheral struct {
	address string
	name    string
	rssi    int16

	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	connectErr  error
	noTelemetry bool

	livenessErr    error
	livenessChecks int

	cmd *mockCharacteristic
	tel *mockCharacteristic
}

func newMockPeripheral(address, name string) *mockPeripheral {
	p := &mockPeripheral{address: address, name: name, rssi: -60}
	p.cmd = &mockCharacteristic{uuid: testCommandUUID, props: ble.PropWrite | ble.PropWriteWithoutResponse}
	p.tel = &mockCharacteristic{uuid: testTelemetryUUID, props: ble.PropNotify}
	return p
}

func (p *mockPeripheral) Address() string { return p.address }
func (p *mockPeripheral) Name() string    { return p.name }
func (p *mockPeripheral) RSSI() int16     { return p.rssi }

func (p *mockPeripheral) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	p.livenessErr = nil
	return nil
}

func (p *mockPeripheral) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	p.connected = false
	return nil
}

func (p *mockPeripheral) IsConnected(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.livenessChecks++
	if p.livenessErr != nil {
		return false, p.livenessErr
	}
	return p.connected, nil
}

// setLink changes what liveness checks report without touching the stream.
func (p *mockPeripheral) setLink(connected bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	p.livenessErr = err
}

func (p *mockPeripheral) livenessCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.livenessChecks
}

func (p *mockPeripheral) DiscoverServices(context.Context) error { return nil }

func (p *mockPeripheral) Characteristic(_ context.Context, uuid string) (ble.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case strings.EqualFold(uuid, p.cmd.uuid):
		return p.cmd, nil
	case strings.EqualFold(uuid, p.tel.uuid) && !p.noTelemetry:
		return p.tel, nil
	}
	return nil, ble.ErrCharacteristicNotFound
}

func (p *mockPeripheral) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// drop simulates the link going away: the stream closes and liveness
// checks report disconnected.
func (p *mockPeripheral) drop() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.tel.closeStream()
}

type mockWrite struct {
	data         []byte
	withResponse bool
}

// mockCharacteristic implements ble.Characteristic.
type mockCharacteristic struct {
	uuid  string
	props ble.Property

	mu         sync.Mutex
	writes     []mockWrite
	writeErr   error
	onWrite    func(data []byte, withResponse bool)
	stream     chan []byte
	subscribes int
}

func (c *mockCharacteristic) UUID() string             { return c.uuid }
func (c *mockCharacteristic) Properties() ble.Property { return c.props }

func (c *mockCharacteristic) Write(_ context.Context, data []byte, withResponse bool) error {
	c.mu.Lock()
	if c.writeErr != nil {
		c.mu.Unlock()
		return c.writeErr
	}
	c.writes = append(c.writes, mockWrite{data: append([]byte(nil), data...), withResponse: withResponse})
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(data, withResponse)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	c.stream = make(chan []byte, 64)
	return c.stream, nil
}

func (c *mockCharacteristic) Unsubscribe(context.Context) error { return nil }

// push delivers chunks on the current stream.
func (c *mockCharacteristic) push(chunks ...string) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	for _, chunk := range chunks {
		stream <- []byte(chunk)
	}
}

func (c *mockCharacteristic) closeStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		close(c.stream)
		c.stream = nil
	}
}

func (c *mockCharacteristic) getWrites() []mockWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mockWrite(nil), c.writes...)
}

func (c *mockCharacteristic) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

// replyOnWrite makes the peripheral answer its first acknowledged write
// (the capabilities request) with chunks.
func (p *mockPeripheral) replyOnWrite(chunks ...string) {
	p.cmd.mu.Lock()
	defer p.cmd.mu.Unlock()
	p.cmd.onWrite = func(_ []byte, withResponse bool) {
		if withResponse {
			go p.tel.push(chunks...)
		}
	}
}

// mockBus implements Bus.
type mockBus struct {
	mu        sync.Mutex
	published []mockPublish
}

type mockPublish struct {
	Topic   string
	Payload []byte
}

func (b *mockBus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, mockPublish{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (b *mockBus) onTopic(topic string) []mockPublish {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []mockPublish
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// mockTrust implements TrustStore in memory.
type mockTrust struct {
	mu       sync.Mutex
	seen     map[string]bool
	trusted  map[string]bool
	metadata map[string][2]string
	attempts []trust.RegistrationAttempt
}

func newMockTrust() *mockTrust {
	return &mockTrust{
		seen:     make(map[string]bool),
		trusted:  make(map[string]bool),
		metadata: make(map[string][2]string),
	}
}

func (t *mockTrust) RecordDiscovery(_ context.Context, mac, _ string, _ int16) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[mac] {
		return false, nil
	}
	t.seen[mac] = true
	return true, nil
}

func (t *mockTrust) IsTrusted(_ context.Context, mac string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trusted[mac], nil
}

func (t *mockTrust) Trust(_ context.Context, mac, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[mac] = true
	t.trusted[mac] = true
	return nil
}

func (t *mockTrust) Untrust(_ context.Context, mac string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen[mac] {
		return trust.ErrDeviceNotFound
	}
	t.trusted[mac] = false
	return nil
}

func (t *mockTrust) UpdateMetadata(_ context.Context, mac, deviceType, firmware string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata[mac] = [2]string{deviceType, firmware}
	return nil
}

func (t *mockTrust) RecordRegistrationAttempt(_ context.Context, a trust.RegistrationAttempt) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, a)
	return nil
}

func (t *mockTrust) getAttempts() []trust.RegistrationAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]trust.RegistrationAttempt(nil), t.attempts...)
}

// mockObserver implements TelemetryObserver.
type mockObserver struct {
	mu   sync.Mutex
	docs map[string][]string
}

func (o *mockObserver) ObserveTelemetry(_ context.Context, deviceID string, doc []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.docs == nil {
		o.docs = make(map[string][]string)
	}
	o.docs[deviceID] = append(o.docs[deviceID], string(doc))
}

func (o *mockObserver) count(deviceID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.docs[deviceID])
}

type testHarness struct {
	m        *Manager
	adapter  *mockAdapter
	bus      *mockBus
	trust    *mockTrust
	observer *mockObserver
}

// newTestManager builds a manager with the adapter already acquired and no
// background scan loop, so tests drive ScanOnce themselves.
func newTestManager(t *testing.T, peripherals ...ble.Peripheral) *testHarness {
	t.Helper()

	h := &testHarness{
		adapter:  &mockAdapter{peripherals: peripherals},
		bus:      &mockBus{},
		trust:    newMockTrust(),
		observer: &mockObserver{},
	}

	cfg := config.Default().BLE
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.SilenceTimeout = time.Second
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ModulesDir = t.TempDir()

	m, err := NewManager(ManagerOptions{
		OpenAdapter: func(context.Context) (ble.Adapter, error) { return h.adapter, nil },
		Trust:       h.trust,
		Bus:         h.bus,
		HubID:       "hub-test",
		Config:      cfg,
		Observer:    h.observer,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.adapter = h.adapter
	h.m = m
	t.Cleanup(m.Stop)
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errMock = errors.New("mock failure")
