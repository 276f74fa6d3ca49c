package mqtt

import "fmt"

// CommandHandler receives a command request addressed to deviceID.
type CommandHandler func(deviceID string, payload []byte) error

// SubscribeCommands routes operator command requests published on
// graylogic/fieldunit/command/<device_id> to handle.
//
// The subscription is tracked and restored after every reconnect, so it
// only needs to be made once at startup. handle runs on paho's delivery
// goroutine; an error it returns is logged and the message is dropped.
//
// Parameters:
//   - handle: Callback receiving the device id from the topic and the raw
//     request body
//
// Returns:
//   - error: nil on success; ErrNotConnected while the broker is down, or a
//     wrapped ErrSubscribeFailed
//
// Example:
//
//	err := client.SubscribeCommands(func(deviceID string, body []byte) error {
//	    req, err := scheduler.DecodeCommandRequest(body)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = sched.Submit(ctx, deviceID, req)
//	    return err
//	})
func (c *Client) SubscribeCommands(handle CommandHandler) error {
	if handle == nil {
		return fmt.Errorf("%w: command handler cannot be nil", ErrSubscribeFailed)
	}
	return c.subscribe(Topics{}.AllCommands(), c.qos(), commandRouter(handle))
}

// subscribe tracks the subscription before asking the broker so a
// reconnect racing the request still restores it.
func (c *Client) subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return err
	}
	return nil
}

func commandRouter(handle CommandHandler) MessageHandler {
	topics := Topics{}
	return func(topic string, payload []byte) error {
		deviceID, ok := topics.CommandDevice(topic)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
		}
		return handle(deviceID, payload)
	}
}
