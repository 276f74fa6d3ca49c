package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
)

type sentFrame struct {
	DeviceID string
	Frame    []byte
}

// mockSender implements Sender.
type mockSender struct {
	mu     sync.Mutex
	sent   []sentFrame
	failOn int // 1-based call number to fail, 0 = never
	calls  int

	// block, when set, holds sends to blockDevice until closed.
	block       chan struct{}
	blockDevice string
}

var errRadio = errors.New("radio write failed")

func (m *mockSender) SendCommand(_ context.Context, deviceID string, frame []byte) error {
	m.mu.Lock()
	block := m.block
	blockDevice := m.blockDevice
	m.mu.Unlock()
	if block != nil && deviceID == blockDevice {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn != 0 && m.calls == m.failOn {
		return errRadio
	}
	m.sent = append(m.sent, sentFrame{DeviceID: deviceID, Frame: append([]byte(nil), frame...)})
	return nil
}

// actions returns the action of every frame sent to deviceID, in order.
func (m *mockSender) actions(deviceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.DeviceID != deviceID {
			continue
		}
		var f commandFrame
		if err := json.Unmarshal(s.Frame, &f); err != nil {
			continue
		}
		action, _ := f.Data["action"].(string)
		out = append(out, action)
	}
	return out
}

// mockBus implements Bus and decodes scheduler events.
type mockBus struct {
	mu     sync.Mutex
	events []map[string]any
}

func (b *mockBus) Publish(topic string, payload []byte) error {
	if topic != Topic {
		return nil
	}
	var ev map[string]any
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *mockBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev["event"].(string))
	}
	return out
}

func (b *mockBus) ofKind(kind string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, ev := range b.events {
		if ev["event"] == kind {
			out = append(out, ev)
		}
	}
	return out
}

// fakeClock is a settable clock safe for use from actor goroutines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	s      *Scheduler
	sender *mockSender
	bus    *mockBus
	clock  *fakeClock
}

func newTestScheduler(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sender: &mockSender{},
		bus:    &mockBus{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg := config.Default().Scheduler
	cfg.InterCommandDelay = time.Millisecond

	s, err := New(Options{Sender: h.sender, Bus: h.bus, Config: cfg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.now = h.clock.Now
	h.s = s
	t.Cleanup(s.Stop)
	return h
}

func (h *harness) enqueue(t *testing.T, deviceID, action string, priority Priority) {
	t.Helper()
	if _, err := h.s.SendCommand(context.Background(), deviceID, action, nil, priority); err != nil {
		t.Fatalf("SendCommand(%s) error = %v", action, err)
	}
}

func (h *harness) telemetry(deviceID, doc string) {
	h.s.ObserveTelemetry(context.Background(), deviceID, []byte(doc))
}

const (
	windowOpen    = `{"i":"fu-1","d":{"t":20},"m":{"mode":"cmd","cmd_in":0,"cmd_dur":10}}`
	windowClosed  = `{"i":"fu-1","d":{"t":20},"m":{"mode":"data","cmd_in":120,"cmd_dur":10}}`
	windowOpening = `{"i":"fu-1","d":{"t":20},"m":{"mode":"data","cmd_in":0}}`
)
