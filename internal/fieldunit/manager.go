package fieldunit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/ble"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fieldlink/internal/trust"
)

// Timing defaults used when the configuration leaves a value unset.
const (
	DefaultScanDuration     = 10 * time.Second
	DefaultScanInterval     = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSilenceTimeout   = 15 * time.Second
	DefaultReconnectDelay   = 5 * time.Second
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// OpenAdapter acquires the radio. Required.
	OpenAdapter ble.AdapterOpener

	// Trust is the persistent trust store. Required.
	Trust TrustStore

	// Bus receives discovery, registration and telemetry events. Required.
	Bus Bus

	// HubID is sent in every capabilities request. Required.
	HubID string

	Config config.BLEConfig

	// Observer sees telemetry before it is republished (optional).
	Observer TelemetryObserver

	// Recorder stores telemetry readings (optional).
	Recorder TelemetryRecorder

	Metrics Metrics
	Logger  Logger
}

// Manager owns the radio adapter and every field unit it has seen. It
// scans, applies trust decisions, drives registration handshakes and
// supervises one listener per connected device.
type Manager struct {
	openAdapter ble.AdapterOpener
	trust       TrustStore
	bus         Bus
	hubID       string
	cfg         config.BLEConfig
	matcher     ble.NameMatcher
	observer    TelemetryObserver
	recorder    TelemetryRecorder
	metrics     Metrics
	logger      Logger
	now         func() time.Time

	adapter   ble.Adapter
	adapterMu sync.RWMutex
	scanMu    sync.Mutex

	mu    sync.RWMutex
	arena *arena

	// Manager-level context, cancelled on Stop. Listeners and background
	// handshakes run under it.
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewManager validates opts and creates a stopped manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.OpenAdapter == nil {
		return nil, fmt.Errorf("adapter opener is required")
	}
	if opts.Trust == nil {
		return nil, fmt.Errorf("trust store is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.HubID == "" {
		return nil, fmt.Errorf("hub id is required")
	}

	cfg := withDefaults(opts.Config)

	ctx, ctxCancel := context.WithCancel(context.Background())
	m := &Manager{
		openAdapter: opts.OpenAdapter,
		trust:       opts.Trust,
		bus:         opts.Bus,
		hubID:       opts.HubID,
		cfg:         cfg,
		matcher:     ble.NameMatcher(cfg.NamePatterns),
		observer:    opts.Observer,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         time.Now,
		arena:       newArena(),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m, nil
}

func withDefaults(cfg config.BLEConfig) config.BLEConfig {
	def := config.Default().BLE
	if len(cfg.NamePatterns) == 0 {
		cfg.NamePatterns = def.NamePatterns
	}
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = def.ServiceUUID
	}
	if cfg.CommandUUID == "" {
		cfg.CommandUUID = def.CommandUUID
	}
	if cfg.TelemetryUUID == "" {
		cfg.TelemetryUUID = def.TelemetryUUID
	}
	setDuration(&cfg.ScanDuration, DefaultScanDuration)
	setDuration(&cfg.ScanInterval, DefaultScanInterval)
	setDuration(&cfg.HandshakeTimeout, DefaultHandshakeTimeout)
	setDuration(&cfg.SilenceTimeout, DefaultSilenceTimeout)
	setDuration(&cfg.ReconnectDelay, DefaultReconnectDelay)
	setDuration(&cfg.ChunkGap, DefaultChunkGap)
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return cfg
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Start acquires the adapter and starts the periodic scan loop. A host
// without a usable radio is not an error: discovery is disabled, logged
// once, and Start returns nil. The loop also stops when ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	adapter, err := m.openAdapter(ctx)
	if err != nil {
		if errors.Is(err, ble.ErrAdapterUnavailable) {
			m.logger.Warn("no radio adapter available, field unit discovery disabled", "error", err)
			return nil
		}
		return fmt.Errorf("opening radio adapter: %w", err)
	}

	m.adapterMu.Lock()
	m.adapter = adapter
	m.adapterMu.Unlock()

	context.AfterFunc(ctx, m.ctxCancel)
	m.spawn(m.scanLoop)

	m.logger.Info("field unit discovery started",
		"adapter", adapter.Name(),
		"scan_duration", m.cfg.ScanDuration,
		"scan_interval", m.cfg.ScanInterval)
	return nil
}

// Stop cancels the scan loop, listeners and handshakes and waits for them.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.ctxCancel()
		m.wg.Wait()

		m.adapterMu.Lock()
		if m.adapter != nil {
			if err := m.adapter.Close(); err != nil {
				m.logger.Warn("closing radio adapter", "error", err)
			}
		}
		m.adapterMu.Unlock()

		m.logger.Info("field unit discovery stopped")
	})
}

// SetObserver installs the telemetry observer. The scheduler both sends
// through the manager and observes it, so it is attached after both exist.
// Call before Start.
func (m *Manager) SetObserver(o TelemetryObserver) {
	m.observer = o
}

// Enabled reports whether a radio adapter was acquired.
func (m *Manager) Enabled() bool {
	m.adapterMu.RLock()
	defer m.adapterMu.RUnlock()
	return m.adapter != nil
}

// spawn runs fn on a tracked goroutine under the manager context.
func (m *Manager) spawn(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

func (m *Manager) scanLoop(ctx context.Context) {
	for {
		if _, err := m.ScanOnce(ctx, m.cfg.ScanDuration); err != nil && ctx.Err() == nil {
			m.logger.Warn("scan failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ScanInterval):
		}
	}
}

// ScanOnce scans for duration and processes every matching peripheral. It
// returns the number of devices never seen before. Trusted devices that are
// not yet registered get a background handshake; new untrusted devices are
// announced on the bus for an operator decision.
func (m *Manager) ScanOnce(ctx context.Context, duration time.Duration) (int, error) {
	m.adapterMu.RLock()
	adapter := m.adapter
	m.adapterMu.RUnlock()
	if adapter == nil {
		return 0, ErrDiscoveryDisabled
	}

	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	peripherals, err := m.scan(ctx, adapter, duration)
	if err != nil {
		m.metrics.ScanCompleted(0, err)
		return 0, err
	}

	newCount := 0
	for _, p := range peripherals {
		if !m.matcher.Match(p.Name()) {
			continue
		}
		isNew, err := m.processSighting(ctx, p)
		if err != nil {
			m.logger.Warn("processing sighting", "address", p.Address(), "error", err)
			continue
		}
		if isNew {
			newCount++
		}
	}

	m.metrics.ScanCompleted(newCount, nil)
	m.logger.Debug("scan complete", "seen", len(peripherals), "new", newCount)
	return newCount, nil
}

// TriggerScan starts a ScanOnce in the background under the manager's
// lifetime, for callers that cannot block for the scan duration.
func (m *Manager) TriggerScan() error {
	if !m.Enabled() {
		return ErrDiscoveryDisabled
	}
	m.spawn(func(ctx context.Context) {
		n, err := m.ScanOnce(ctx, m.cfg.ScanDuration)
		if err != nil && ctx.Err() == nil {
			m.logger.Warn("requested scan failed", "error", err)
			return
		}
		m.logger.Info("requested scan complete", "new_devices", n)
	})
	return nil
}

// scan returns the peripherals known at the end of the scan window. The
// list is read before the scan is stopped because some stacks forget
// unconnected devices once scanning ends.
func (m *Manager) scan(ctx context.Context, adapter ble.Adapter, duration time.Duration) ([]ble.Peripheral, error) {
	if err := adapter.StartScan(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ble.ErrScanFailed, err)
	}

	timer := time.NewTimer(duration)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	peripherals, listErr := adapter.Peripherals(ctx)

	// The scan must be stopped even when ctx has ended.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := adapter.StopScan(stopCtx); err != nil {
		m.logger.Warn("stopping scan", "error", err)
	}

	if listErr != nil {
		return nil, fmt.Errorf("%w: %w", ble.ErrScanFailed, listErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return peripherals, nil
}

func (m *Manager) processSighting(ctx context.Context, p ble.Peripheral) (bool, error) {
	address, err := trust.NormalizeAddress(p.Address())
	if err != nil {
		return false, err
	}

	isNew, err := m.trust.RecordDiscovery(ctx, address, p.Name(), p.RSSI())
	if err != nil {
		return false, fmt.Errorf("recording discovery: %w", err)
	}

	m.mu.Lock()
	e := m.arena.sight(p, address, m.now())
	state := e.state
	device := e.device
	m.mu.Unlock()

	trusted, err := m.trust.IsTrusted(ctx, address)
	if err != nil {
		return isNew, fmt.Errorf("checking trust: %w", err)
	}

	switch {
	case trusted && state == StateDiscovered:
		m.spawn(func(ctx context.Context) {
			if err := m.register(ctx, address); err != nil && !errors.Is(err, ErrHandshakeInProgress) {
				m.logger.Warn("registration failed", "address", address, "error", err)
			}
		})
	case !trusted && isNew:
		m.logger.Info("new field unit discovered", "address", address, "name", device.Name, "rssi", device.RSSI)
		m.publishJSON(TopicDeviceDiscovered, DiscoveredEvent{
			RequiresTrustDecision: true,
			MACAddress:            address,
			Name:                  device.Name,
			RSSI:                  device.RSSI,
		})
	}
	return isNew, nil
}

// TrustDevice records an operator's trust decision and immediately
// attempts registration with the latest radio handle. Trusting a
// registered device is a no-op.
func (m *Manager) TrustDevice(ctx context.Context, address string) error {
	address, err := trust.NormalizeAddress(address)
	if err != nil {
		return err
	}

	m.mu.RLock()
	name := ""
	if e, ok := m.arena.byAddress[address]; ok {
		name = e.device.Name
	}
	m.mu.RUnlock()

	if err := m.trust.Trust(ctx, address, name); err != nil {
		return fmt.Errorf("recording trust: %w", err)
	}
	m.logger.Info("field unit trusted", "address", address)

	return m.register(ctx, address)
}

// UntrustDevice revokes trust. A live connection is left alone; the
// device simply won't be registered again.
func (m *Manager) UntrustDevice(ctx context.Context, address string) error {
	address, err := trust.NormalizeAddress(address)
	if err != nil {
		return err
	}
	if err := m.trust.Untrust(ctx, address); err != nil {
		return fmt.Errorf("revoking trust: %w", err)
	}
	m.logger.Info("field unit untrusted", "address", address)
	return nil
}

// register runs the handshake for a trusted, sighted device.
func (m *Manager) register(ctx context.Context, address string) error {
	trusted, err := m.trust.IsTrusted(ctx, address)
	if err != nil {
		return fmt.Errorf("checking trust: %w", err)
	}
	if !trusted {
		return fmt.Errorf("%w: %s", ErrNotTrusted, address)
	}

	m.mu.Lock()
	e, ok := m.arena.byAddress[address]
	if !ok || e.peripheral == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotSeen, address)
	}
	switch e.state {
	case StateRegistered:
		m.mu.Unlock()
		return nil
	case StateRegistering:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrHandshakeInProgress, address)
	}
	e.state = StateRegistering
	if e.session == nil {
		e.session = newSession(m, address, e.peripheral)
	}
	s := e.session
	m.mu.Unlock()

	m.logger.Info("registering field unit", "address", address)

	if _, err := m.handshake(ctx, s); err != nil {
		m.mu.Lock()
		if e.state == StateRegistering {
			e.state = StateDiscovered
		}
		m.mu.Unlock()

		stage := "error"
		var hsErr *HandshakeError
		if errors.As(err, &hsErr) {
			stage = string(hsErr.Stage)
		}
		m.metrics.HandshakeFinished(stage)
		m.recordAttempt(address, "", trust.OutcomeFailed, err.Error())
		return err
	}
	return nil
}

// completeRegistration is called by a listener when a registration reply
// arrives, whether or not a handshake is still waiting for it.
func (m *Manager) completeRegistration(ctx context.Context, s *session, caps Capabilities) {
	caps.normalise()

	m.mu.Lock()
	e, ok := m.arena.byAddress[s.address]
	if !ok {
		m.mu.Unlock()
		return
	}
	if owner, taken := m.arena.byID[caps.DeviceID]; taken && owner != s.address {
		m.mu.Unlock()
		m.refuseRegistration(s, fmt.Errorf("%w: %s is held by %s", ErrDuplicateDeviceID, caps.DeviceID, owner))
		return
	}
	if e.caps != nil && e.caps.DeviceID != caps.DeviceID {
		delete(m.arena.byID, e.caps.DeviceID)
	}
	stored := caps.Clone()
	e.caps = &stored
	e.state = StateRegistered
	m.arena.byID[caps.DeviceID] = s.address
	m.mu.Unlock()

	m.metrics.HandshakeFinished("registered")
	m.logger.Info("field unit registered",
		"address", s.address,
		"device_id", caps.DeviceID,
		"device_type", caps.DeviceType,
		"firmware", caps.FirmwareVersion)

	m.publishJSON(TopicDeviceRegistered, caps)

	if m.cfg.ModulesDir != "" {
		path, err := WriteModuleConfig(m.cfg.ModulesDir, caps)
		if err != nil {
			m.logger.Warn("writing module config", "device_id", caps.DeviceID, "error", err)
		} else {
			m.logger.Debug("module config written", "device_id", caps.DeviceID, "path", path)
		}
	}

	if err := m.trust.UpdateMetadata(ctx, s.address, caps.DeviceType, caps.FirmwareVersion); err != nil {
		m.logger.Warn("updating device metadata", "address", s.address, "error", err)
	}
	m.recordAttempt(s.address, caps.DeviceID, trust.OutcomeRegistered, "")

	// Last, so a waiting handshake returns with every side effect visible.
	s.resolveRegistration(caps)
}

// refuseRegistration fails the pending registration on s. A waiting
// handshake reports the failure itself; a late reply is recorded here.
func (m *Manager) refuseRegistration(s *session, err error) {
	m.logger.Warn("registration refused", "address", s.address, "error", err)
	if s.rejectRegistration(err) {
		return
	}
	m.metrics.HandshakeFinished(string(StageRejected))
	m.recordAttempt(s.address, "", trust.OutcomeFailed, err.Error())
}

func (m *Manager) recordAttempt(address, deviceID string, outcome trust.Outcome, detail string) {
	// The caller's context may already be gone after a timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 5*time.Second)
	defer cancel()

	err := m.trust.RecordRegistrationAttempt(ctx, trust.RegistrationAttempt{
		MAC:         address,
		AttemptedAt: m.now(),
		DeviceID:    deviceID,
		Outcome:     outcome,
		Detail:      detail,
	})
	if err != nil {
		m.logger.Warn("recording registration attempt", "address", address, "error", err)
	}
}

// telemetryReceived republishes a telemetry document on the device's own
// topic after handing it to the recorder and observer.
func (m *Manager) telemetryReceived(ctx context.Context, s *session, env telemetryEnvelope, doc []byte) {
	deviceID := s.registeredID()
	claimed := deviceID == ""
	if claimed {
		deviceID = telemetryDeviceID(env)
	}
	if deviceID == "" {
		m.logger.Debug("telemetry without device id", "address", s.address)
		return
	}
	// The id becomes a bus topic; one naming another topic must not pass.
	if !ValidDeviceID(deviceID) {
		m.metrics.ReassemblyDropped("device_id")
		err := fmt.Errorf("%w: %q", ErrInvalidDeviceID, deviceID)
		if s.registrationPending() {
			m.refuseRegistration(s, err)
			return
		}
		m.logger.Warn("dropping telemetry", "address", s.address, "error", err)
		return
	}
	if claimed {
		m.mu.RLock()
		owner, taken := m.arena.byID[deviceID]
		m.mu.RUnlock()
		if taken && owner != s.address {
			m.metrics.ReassemblyDropped("device_id")
			m.logger.Warn("dropping telemetry claiming another unit's id",
				"address", s.address, "device_id", deviceID, "owner", owner)
			return
		}
	}

	m.metrics.TelemetryReceived(deviceID)

	if m.recorder != nil {
		if fields := telemetryFields(env); len(fields) > 0 {
			if err := m.recorder.RecordTelemetry(deviceID, fields, m.now()); err != nil {
				m.logger.Debug("recording telemetry", "device_id", deviceID, "error", err)
			}
		}
	}
	if m.observer != nil {
		m.observer.ObserveTelemetry(ctx, deviceID, doc)
	}

	if err := m.bus.Publish(deviceID, doc); err != nil {
		m.logger.Warn("publishing telemetry", "device_id", deviceID, "error", err)
	}
}

// SendCommand writes a command frame to a registered device without
// waiting for a response.
func (m *Manager) SendCommand(ctx context.Context, deviceID string, frame []byte) error {
	m.mu.RLock()
	address, ok := m.arena.byID[deviceID]
	var s *session
	if ok {
		s = m.arena.byAddress[address].session
	}
	m.mu.RUnlock()

	if !ok || s == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, deviceID)
	}
	cmd := s.commandCharacteristic()
	if cmd == nil {
		return fmt.Errorf("%w: %s", ErrLinkDown, deviceID)
	}
	if err := cmd.Write(ctx, frame, false); err != nil {
		return fmt.Errorf("writing command to %s: %w", deviceID, err)
	}
	return nil
}

// DiscoveredDevices returns every sighted device not yet registered.
func (m *Manager) DiscoveredDevices() []DiscoveredDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena.unregistered()
}

// RegisteredDevices returns the capabilities of every registered device.
func (m *Manager) RegisteredDevices() []Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena.registered()
}

// Devices returns every device in the arena with its state.
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena.all()
}

// Device returns one device by address.
func (m *Manager) Device(address string) (DeviceInfo, error) {
	normalized, err := trust.NormalizeAddress(address)
	if err != nil {
		return DeviceInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.arena.byAddress[normalized]
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return e.info(), nil
}

func (m *Manager) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("encoding bus event", "topic", topic, "error", err)
		return
	}
	if err := m.bus.Publish(topic, payload); err != nil {
		m.logger.Warn("publishing bus event", "topic", topic, "error", err)
	}
}
