// Package mqtt connects the field unit core to the hub's MQTT broker.
//
// The broker is the hub message bus. Discovery, registration, telemetry
// and scheduler events are published under graylogic/fieldunit, and
// operator command requests arrive on graylogic/fieldunit/command/<id>.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bus := mqtt.NewBus(client)
//	bus.Publish("device_registered", payload)
//	// -> graylogic/fieldunit/device_registered
//
//	client.SubscribeCommands(func(deviceID string, body []byte) error { ... })
//
// The client reconnects on its own with exponential backoff, restores
// the command subscription and keeps a retained online/offline record
// (with an LWT) on graylogic/fieldunit/hub/status. Handler panics are
// recovered and logged.
//
// TLS should be enabled for anything but a local broker.
package mqtt
