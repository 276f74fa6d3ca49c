//go:build integration

package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
)

// Broker tests. They need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	return cfg
}

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(integrationConfig(clientID))
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_Connect(t *testing.T) {
	client := connect(t, "fieldlink-int-connect")
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestIntegration_BusRoundtrip(t *testing.T) {
	pub := connect(t, "fieldlink-int-pub")
	sub := connect(t, "fieldlink-int-sub")

	received := make(chan string, 1)
	err := sub.subscribe(Topics{}.FieldUnit("device_registered"), 1, func(_ string, p []byte) error {
		select {
		case received <- string(p):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	bus := NewBus(pub)
	if err := bus.Publish("device_registered", []byte(`{"device_id":"esp32-int"}`)); err != nil {
		t.Fatalf("bus.Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"device_id":"esp32-int"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for bus message")
	}
}

func TestIntegration_CommandIntake(t *testing.T) {
	pub := connect(t, "fieldlink-int-cmd-pub")
	sub := connect(t, "fieldlink-int-cmd-sub")

	devices := make(chan string, 1)
	err := sub.SubscribeCommands(func(deviceID string, _ []byte) error {
		devices <- deviceID
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeCommands() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(Topics{}.Command("esp32-int"), []byte(`{"action":"toggle"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-devices:
		if got != "esp32-int" {
			t.Errorf("device = %q, want esp32-int", got)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command")
	}
}

func TestIntegration_BrokerRefused(t *testing.T) {
	cfg := integrationConfig("fieldlink-int-refused")
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
