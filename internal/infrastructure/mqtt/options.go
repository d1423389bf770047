package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/scanlink/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	tlsMinVersion            = tls.VersionTLS12
)

// buildClientOptions maps the MQTT config section onto paho options.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// statusPayload is published retained on the node status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string) string {
	b, _ := json.Marshal(statusPayload{ //nolint:errcheck // plain struct of strings
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(b)
}

// configureLWT registers the retained offline message the broker publishes
// if the host drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.Status(), buildStatusPayload("offline", clientID, "unexpected_disconnect"), 1, true)
}

func buildOnlinePayload(clientID string) string {
	return buildStatusPayload("online", clientID, "")
}

func buildOfflinePayload(clientID string) string {
	return buildStatusPayload("offline", clientID, "graceful_shutdown")
}
