package fieldunit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/ble"
)

// session is the link to one field unit: its radio handle, the command
// characteristic while connected, and the listener that consumes the
// telemetry stream. A session is created on the first handshake and lives
// until the manager stops.
type session struct {
	m       *Manager
	address string
	reasm   *Reassembler // listener goroutine only

	mu         sync.Mutex
	peripheral ble.Peripheral
	cmdChar    ble.Characteristic
	listening  bool
	pending    bool
	waiter     chan registrationResult
	deviceID   string
}

// registrationResult is what a waiting handshake receives: capabilities,
// or the reason the reply was refused.
type registrationResult struct {
	caps Capabilities
	err  error
}

func newSession(m *Manager, address string, p ble.Peripheral) *session {
	return &session{
		m:          m,
		address:    address,
		peripheral: p,
		reasm:      NewReassembler(m.cfg.ChunkGap, m.cfg.MaxMessageSize),
	}
}

func (s *session) setPeripheral(p ble.Peripheral) {
	s.mu.Lock()
	s.peripheral = p
	s.mu.Unlock()
}

func (s *session) currentPeripheral() ble.Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peripheral
}

// linkUp reports whether the command characteristic is usable.
func (s *session) linkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening && s.cmdChar != nil
}

func (s *session) commandCharacteristic() ble.Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdChar
}

// armRegistration marks a registration reply as expected and returns the
// channel the listener will deliver it on.
func (s *session) armRegistration() <-chan registrationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
	s.waiter = make(chan registrationResult, 1)
	return s.waiter
}

func (s *session) registrationPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// resolveRegistration clears the pending flag and hands caps to a waiting
// handshake, if any is still waiting.
func (s *session) resolveRegistration(caps Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = caps.DeviceID
	s.finishRegistration(registrationResult{caps: caps})
}

// rejectRegistration clears the pending flag and fails a waiting
// handshake with err. It reports whether a handshake was waiting.
func (s *session) rejectRegistration(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishRegistration(registrationResult{err: err})
}

// finishRegistration must be called with s.mu held.
func (s *session) finishRegistration(res registrationResult) bool {
	s.pending = false
	if s.waiter == nil {
		return false
	}
	delivered := false
	select {
	case s.waiter <- res:
		delivered = true
	default:
	}
	s.waiter = nil
	return delivered
}

func (s *session) registeredID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// establish connects, resolves the GATT database, locates both
// characteristics and subscribes to telemetry. The stream is bound to
// runCtx so it outlives the caller's ctx.
func (s *session) establish(ctx, runCtx context.Context) (<-chan []byte, error) {
	p := s.currentPeripheral()
	cfg := s.m.cfg

	fail := func(stage Stage, err error) error {
		return &HandshakeError{Stage: stage, Address: s.address, Err: err}
	}
	// Failures after connect leave the link half set up; drop it.
	abandon := func(stage Stage, err error) error {
		if dErr := p.Disconnect(ctx); dErr != nil {
			s.m.logger.Debug("disconnect after failed handshake", "address", s.address, "error", dErr)
		}
		return fail(stage, err)
	}

	if err := p.Connect(ctx); err != nil {
		return nil, fail(StageConnect, err)
	}
	if err := p.DiscoverServices(ctx); err != nil {
		return nil, abandon(StageServiceDiscovery, err)
	}

	cmd, err := p.Characteristic(ctx, cfg.CommandUUID)
	if err != nil {
		return nil, abandon(StageCharacteristicMissing, err)
	}
	if !cmd.Properties().CanWrite() {
		return nil, abandon(StageCharacteristicMissing,
			fmt.Errorf("%w: %s is not writable", ble.ErrCharacteristicNotFound, cfg.CommandUUID))
	}

	tel, err := p.Characteristic(ctx, cfg.TelemetryUUID)
	if err != nil {
		return nil, abandon(StageCharacteristicMissing, err)
	}
	if !tel.Properties().CanNotify() {
		return nil, abandon(StageCharacteristicMissing,
			fmt.Errorf("%w: %s does not notify", ble.ErrCharacteristicNotFound, cfg.TelemetryUUID))
	}

	stream, err := tel.Subscribe(runCtx)
	if err != nil {
		return nil, abandon(StageSubscribe, err)
	}

	s.mu.Lock()
	s.cmdChar = cmd
	s.mu.Unlock()
	return stream, nil
}

// startListener launches the listener goroutine for stream. It must be
// called at most once per session.
func (s *session) startListener(stream <-chan []byte) {
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()

	s.m.spawn(func(ctx context.Context) {
		s.listen(ctx, stream)
	})
}

// listen consumes the stream and, whenever it ends, reconnects after the
// configured delay. It returns only when ctx is cancelled.
func (s *session) listen(ctx context.Context, stream <-chan []byte) {
	log := s.m.logger
	log.Debug("listener started", "address", s.address)
	defer log.Debug("listener stopped", "address", s.address)

	for {
		s.consume(ctx, stream)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.cmdChar = nil
		s.mu.Unlock()
		s.reasm.Reset()

		log.Warn("field unit link lost, reconnecting",
			"address", s.address,
			"device_id", s.registeredID(),
			"delay", s.m.cfg.ReconnectDelay)

		stream = s.reconnect(ctx)
		if stream == nil {
			return
		}
	}
}

// consume reads chunks until the stream closes or the peripheral is found
// disconnected after a silence period. Silence alone never drops the link.
func (s *session) consume(ctx context.Context, stream <-chan []byte) {
	silence := s.m.cfg.SilenceTimeout
	timer := time.NewTimer(silence)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-stream:
			if !ok {
				return
			}
			s.handleChunk(ctx, chunk)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(silence)

		case <-timer.C:
			connected, err := s.currentPeripheral().IsConnected(ctx)
			if err != nil {
				s.m.logger.Debug("liveness check failed", "address", s.address, "error", err)
			}
			if err != nil || !connected {
				return
			}
			timer.Reset(silence)
		}
	}
}

// reconnect retries establish with a fixed delay until it succeeds or ctx
// ends, in which case it returns nil.
func (s *session) reconnect(ctx context.Context) <-chan []byte {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.m.cfg.ReconnectDelay):
		}

		stream, err := s.establish(ctx, ctx)
		if err == nil {
			s.m.metrics.Reconnected(s.address)
			s.m.logger.Info("field unit reconnected", "address", s.address, "attempts", attempt)
			return stream
		}
		if ctx.Err() != nil {
			return nil
		}
		s.m.logger.Warn("reconnect failed", "address", s.address, "attempt", attempt, "error", err)
	}
}

func (s *session) handleChunk(ctx context.Context, chunk []byte) {
	res := s.reasm.Push(chunk, s.m.now())
	if res.StaleDiscarded {
		s.m.metrics.ReassemblyDropped("stale")
		s.m.logger.Debug("discarded stale partial message", "address", s.address)
	}
	if res.Overflow {
		s.m.metrics.ReassemblyDropped("overflow")
		s.m.logger.Warn("discarded oversized message", "address", s.address, "limit", s.m.cfg.MaxMessageSize)
	}
	if res.Document != nil {
		s.handleDocument(ctx, res.Document)
	}
}

// handleDocument interprets a complete buffer: a registration reply while
// one is pending, telemetry otherwise.
func (s *session) handleDocument(ctx context.Context, doc []byte) {
	if s.registrationPending() {
		if caps, ok := parseCompactRegistration(doc); ok {
			s.m.completeRegistration(ctx, s, caps)
			return
		}
		if caps, ok := parseVerboseRegistration(doc); ok {
			s.m.completeRegistration(ctx, s, caps)
			return
		}
	}

	var env telemetryEnvelope
	if err := json.Unmarshal(doc, &env); err != nil {
		s.m.metrics.ReassemblyDropped("parse")
		s.m.logger.Warn("dropping unreadable message",
			"address", s.address,
			"error", errors.Join(ErrReassemblyFailed, err))
		return
	}
	s.m.telemetryReceived(ctx, s, env, doc)
}
