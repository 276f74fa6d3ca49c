package fieldunit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/ble"
)

// handshake runs one registration attempt on s:
//
//	connect → discover services → locate characteristics → subscribe
//	→ send capabilities request → await reply
//
// The listener is started before the request is written so the reply
// cannot be missed. On timeout the listener keeps running and a late reply
// still completes registration.
func (m *Manager) handshake(ctx context.Context, s *session) (Capabilities, error) {
	s.mu.Lock()
	listening, cmd := s.listening, s.cmdChar
	s.mu.Unlock()

	switch {
	case !listening:
		stream, err := s.establish(ctx, m.ctx)
		if err != nil {
			return Capabilities{}, err
		}
		s.startListener(stream)
		cmd = s.commandCharacteristic()
	case cmd == nil:
		// The listener owns reconnection; don't race it.
		return Capabilities{}, &HandshakeError{Stage: StageConnect, Address: s.address, Err: ble.ErrNotConnected}
	}

	waiter := s.armRegistration()

	req, err := json.Marshal(newRegistrationRequest(m.hubID, m.now()))
	if err != nil {
		return Capabilities{}, &HandshakeError{Stage: StageWrite, Address: s.address, Err: err}
	}
	if err := cmd.Write(ctx, req, true); err != nil {
		return Capabilities{}, &HandshakeError{Stage: StageWrite, Address: s.address, Err: err}
	}
	m.logger.Debug("capabilities requested", "address", s.address)

	timer := time.NewTimer(m.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case res := <-waiter:
		if res.err != nil {
			return Capabilities{}, &HandshakeError{Stage: StageRejected, Address: s.address, Err: res.err}
		}
		return res.caps, nil
	case <-timer.C:
		return Capabilities{}, &HandshakeError{
			Stage:   StageRegistrationTimeout,
			Address: s.address,
			Err:     fmt.Errorf("no reply within %s", m.cfg.HandshakeTimeout),
		}
	case <-ctx.Done():
		return Capabilities{}, &HandshakeError{Stage: StageRegistrationTimeout, Address: s.address, Err: ctx.Err()}
	}
}
