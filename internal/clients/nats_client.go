package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"collateral-backend/internal/config"
	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"

	"github.com/nats-io/nats.go"
)

// Subjects
const (
	SubjectOracleResponses = "risk.oracle.responses"
	bridgeInboundFormat    = "bridge.%d.inbound"
)

// BridgeInboundSubject subject peers publish envelopes for domain on
func BridgeInboundSubject(domain uint64) string {
	return fmt.Sprintf(bridgeInboundFormat, domain)
}

// OracleResponseMessage oracle answer delivered through the response queue
type OracleResponseMessage struct {
	RequestID uint64 `json:"request_id"`
	Payload   string `json:"payload"`
}

// NATSClient NATS client
type NATSClient struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	streamName    string
	subjectPrefix string
}

// NewNATSClient connects to NATS and, when enabled, prepares JetStream
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}
	log.Printf("🔌 Connecting to NATS %s (timeout: %v)", cfg.URL, connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "collateral"
	}
	client := &NATSClient{
		conn:          conn,
		streamName:    "COLLATERAL",
		subjectPrefix: prefix,
	}

	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return client, nil
}

// ensureStream makes sure the JetStream stream covering our subjects exists
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		log.Printf("Stream %s already exists", c.streamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name: c.streamName,
		Subjects: []string{
			SubjectOracleResponses,
			"bridge.*.inbound",
			c.subjectPrefix + ".events.>",
		},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.streamName, err)
	}
	log.Printf("✅ Stream %s created", c.streamName)
	return nil
}

// EventSubject subject a domain event kind is fanned out on
func (c *NATSClient) EventSubject(kind string) string {
	return fmt.Sprintf("%s.events.%s", c.subjectPrefix, kind)
}

// Publish sends data on subject, through JetStream when enabled
func (c *NATSClient) Publish(subject string, data []byte) error {
	if c.js != nil {
		if _, err := c.js.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
		return nil
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishEnvelope sends a bridge envelope to the destination domain's inbound subject
func (c *NATSClient) PublishEnvelope(ctx context.Context, env *models.BridgeEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge envelope: %w", err)
	}
	subject := BridgeInboundSubject(env.DestinationDomain)
	if err := c.Publish(subject, data); err != nil {
		return err
	}
	log.Printf("🌉 Published bridge envelope %s to %s", env.MessageID, subject)
	return nil
}

// PublishOracleResponse puts an oracle answer on the response queue
func (c *NATSClient) PublishOracleResponse(msg *OracleResponseMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal oracle response: %w", err)
	}
	return c.Publish(SubjectOracleResponses, data)
}

// QueueSubscribe subscribes handler to subject within a queue group
func (c *NATSClient) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	log.Printf("🔍 Subscribing to %s (queue: %s)", subject, queue)
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	log.Printf("✅ Subscribed to %s", subject)
	return sub, nil
}

// IsConnected reports the connection state
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
		c.conn.Close()
	}
}

// GetConnection returns the raw connection
func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
