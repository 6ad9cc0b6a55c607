// Package messaging bridges the engine to the RabbitMQ event bus.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/pkg/logger"
	"ride-dispatch/pkg/rabbitmq"
)

// Publisher implements ports.Publisher over the shared connection. Ride
// events go to the ride topic exchange, driver events to the driver topic.
type Publisher struct {
	conn *rabbitmq.Connection
	log  logger.Logger
}

func NewPublisher(conn *rabbitmq.Connection, log logger.Logger) *Publisher {
	return &Publisher{conn: conn, log: log}
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", routingKey, err)
	}

	exchange := rabbitmq.ExchangeRide
	switch {
	case strings.HasPrefix(routingKey, "driver."):
		exchange = rabbitmq.ExchangeDriver
	case strings.HasPrefix(routingKey, "location."):
		exchange = rabbitmq.ExchangeTracking
	}
	return p.conn.Publish(ctx, exchange, routingKey, body)
}

// StatusConsumer feeds driver status updates from the bus into the location
// store, so other services' view of a driver converges with this engine's.
type StatusConsumer struct {
	conn  *rabbitmq.Connection
	store location.Store
	log   logger.Logger
}

func NewStatusConsumer(conn *rabbitmq.Connection, store location.Store, log logger.Logger) *StatusConsumer {
	return &StatusConsumer{conn: conn, store: store, log: log}
}

// statusMessage is the wire shape on the driver_status queue.
type statusMessage struct {
	DriverID string  `json:"driver_id"`
	Status   string  `json:"status"`
	RideID   *string `json:"ride_id,omitempty"`
}

// Start begins consuming. Malformed or unknown-driver messages are logged
// and acknowledged; redelivery cannot fix them.
func (c *StatusConsumer) Start() error {
	return c.conn.Consume(rabbitmq.QueueDriverStatus, func(msg amqp.Delivery) {
		var update statusMessage
		if err := json.Unmarshal(msg.Body, &update); err != nil {
			c.log.Error("consumer.driver_status.unmarshal", err)
			msg.Ack(false)
			return
		}

		status := domain.DriverStatus(update.Status)
		if !status.IsValid() {
			c.log.Error("consumer.driver_status", fmt.Errorf("unknown status %q for driver %s", update.Status, update.DriverID))
			msg.Ack(false)
			return
		}

		ctx := context.Background()
		rec, err := c.store.Get(ctx, update.DriverID)
		if err != nil {
			if !domain.IsNotFound(err) {
				c.log.Error("consumer.driver_status.get", err)
				msg.Nack(false, true)
				return
			}
			// First sighting of this driver; status arrives before the
			// first location report.
			msg.Ack(false)
			return
		}

		rec.Status = status
		rec.CurrentRideID = update.RideID
		if _, err := c.store.Upsert(ctx, rec); err != nil {
			c.log.Error("consumer.driver_status.upsert", err)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
	})
}
