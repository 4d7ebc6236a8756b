package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"
	"collateral-backend/internal/services"

	"github.com/nats-io/nats.go"
)

const queueGroup = "collateral-backend"

// OracleCallbackHandler consumes oracle answers
type OracleCallbackHandler interface {
	OnCallback(ctx context.Context, requestID uint64, payload string) (*services.CallbackResult, error)
}

// BridgeReceiver consumes inbound bridge envelopes
type BridgeReceiver interface {
	Receive(ctx context.Context, env *models.BridgeEnvelope) (*models.BridgeMessage, error)
	LocalDomain() uint64
}

// Consumer routes NATS messages into the coordinator and the bridge
type Consumer struct {
	client      *clients.NATSClient
	coordinator OracleCallbackHandler
	bridge      BridgeReceiver
	timeout     time.Duration

	once sync.Once
	subs []*nats.Subscription
}

// NewConsumer creates a consumer. client may be nil in tests that call the handlers directly.
func NewConsumer(client *clients.NATSClient, coordinator OracleCallbackHandler, bridge BridgeReceiver) *Consumer {
	return &Consumer{
		client:      client,
		coordinator: coordinator,
		bridge:      bridge,
		timeout:     30 * time.Second,
	}
}

// Start subscribes to the oracle response queue and this domain's bridge inbound subject
func (c *Consumer) Start() error {
	var startErr error
	c.once.Do(func() {
		if c.client == nil {
			log.Println("NATS not configured, skipping event subscriptions")
			return
		}

		sub, err := c.client.QueueSubscribe(clients.SubjectOracleResponses, queueGroup, c.wrap("oracle_response", c.HandleOracleResponse))
		if err != nil {
			startErr = fmt.Errorf("failed to subscribe to oracle responses: %w", err)
			return
		}
		c.subs = append(c.subs, sub)

		subject := clients.BridgeInboundSubject(c.bridge.LocalDomain())
		sub, err = c.client.QueueSubscribe(subject, queueGroup, c.wrap("bridge_inbound", c.HandleBridgeEnvelope))
		if err != nil {
			startErr = fmt.Errorf("failed to subscribe to bridge inbound: %w", err)
			return
		}
		c.subs = append(c.subs, sub)

		log.Printf("✅ NATS event subscriptions initialized")
	})
	return startErr
}

// Stop unsubscribes everything
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
}

func (c *Consumer) wrap(kind string, handle func(ctx context.Context, data []byte) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		metrics.NATSMessagesReceived.WithLabelValues(kind).Inc()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		if err := handle(ctx, msg.Data); err != nil {
			metrics.NATSMessagesFailed.WithLabelValues(kind, string(services.KindOf(err))).Inc()
			log.Printf("❌ [NATS] %s message on %s rejected: %v", kind, msg.Subject, err)
		}
	}
}

// HandleOracleResponse applies one oracle answer from the response queue
func (c *Consumer) HandleOracleResponse(ctx context.Context, data []byte) error {
	var msg clients.OracleResponseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("invalid oracle response message: %w", err)
	}
	if msg.RequestID == 0 {
		return fmt.Errorf("oracle response without request id")
	}
	result, err := c.coordinator.OnCallback(ctx, msg.RequestID, msg.Payload)
	if err != nil {
		return err
	}
	log.Printf("✅ [NATS] Oracle response applied: request=%d ratio=%d", msg.RequestID, result.Request.Ratio)
	return nil
}

// HandleBridgeEnvelope mints one inbound bridge message
func (c *Consumer) HandleBridgeEnvelope(ctx context.Context, data []byte) error {
	var env models.BridgeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("invalid bridge envelope: %w", err)
	}
	msg, err := c.bridge.Receive(ctx, &env)
	if err != nil {
		return err
	}
	log.Printf("✅ [NATS] Bridge message %s minted %s to %s", msg.MessageID, msg.Amount, msg.Recipient)
	return nil
}

// Publisher fans committed domain events out on NATS
type Publisher struct {
	client *clients.NATSClient
}

// NewPublisher creates a domain event publisher
func NewPublisher(client *clients.NATSClient) *Publisher {
	return &Publisher{client: client}
}

// PublishDomainEvent implements services.EventSink
func (p *Publisher) PublishDomainEvent(ev services.DomainEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("❌ [NATS] Failed to marshal %s event: %v", ev.Kind, err)
		return
	}
	if err := p.client.Publish(p.client.EventSubject(ev.Kind), data); err != nil {
		log.Printf("❌ [NATS] Failed to publish %s event: %v", ev.Kind, err)
	}
}
