package mqtt

import "fmt"

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends a message and waits for the broker acknowledgement.
//
// Use retained for state topics (scanner device state, node status), never
// for one-off events such as scans.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// PublishEvent publishes on the node's event topic with the default QoS.
func (c *Client) PublishEvent(eventType string, payload []byte, retained bool) error {
	return c.Publish(c.topics.Event(eventType), payload, byte(c.cfg.QoS), retained)
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
