package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot is the first level of every scanlink topic.
const TopicRoot = "scanlink"

// Topics builds MQTT topics scoped to one scanlink node. Node is normally
// the broker client ID so several hosts can share a broker.
//
//	topics := mqtt.Topics{Node: "bench-01"}
//	topics.Event("pairing.state")
//	// Returns: "scanlink/bench-01/event/pairing/state"
type Topics struct {
	Node string
}

func (t Topics) base() string {
	if t.Node == "" {
		return TopicRoot
	}
	return TopicRoot + "/" + t.Node
}

// Status is the retained online/offline topic, also used for the LWT.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Event returns the topic for an event type. Dots in the type become
// topic levels so subscribers can filter with wildcards.
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.base(), strings.ReplaceAll(eventType, ".", "/"))
}

// AllEvents matches every event topic for the node.
func (t Topics) AllEvents() string {
	return t.base() + "/event/#"
}

// Command returns the topic that carries one operation request.
//
// Example: scanlink/bench-01/command/discovery_start
func (t Topics) Command(op string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), op)
}

// AllCommands matches every command topic for the node.
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// CommandOp extracts the operation name from a command topic.
// Returns "" if the topic is not a command topic for this node.
func (t Topics) CommandOp(topic string) string {
	prefix := t.base() + "/command/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	op := strings.TrimPrefix(topic, prefix)
	if op == "" || strings.Contains(op, "/") {
		return ""
	}
	return op
}
