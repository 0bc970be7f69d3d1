package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/streadway/amqp"
)

const (
	// ActivityExchange is the topic exchange every activity event goes through.
	ActivityExchange = "kulit.activity"
	// ActivityQueue receives all activity events.
	ActivityQueue = "activity_queue"

	EventUserRegistered    = "user.registered"
	EventDetectionComplete = "detection.completed"
	EventDetectionDeleted  = "detection.deleted"
)

// Event is the JSON body of an activity message.
type Event struct {
	Username   string    `json:"username"`
	Activity   string    `json:"activity"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ, declares the activity exchange and queue,
// and binds them.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Printf("RabbitMQ client connected and %s declared.", ActivityQueue)

	return &Client{
		conn:    conn,
		channel: ch,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		ActivityExchange, // name
		"topic",          // kind
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", ActivityExchange, err)
	}

	_, err = ch.QueueDeclare(
		ActivityQueue, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", ActivityQueue, err)
	}

	if err := ch.QueueBind(ActivityQueue, "#", ActivityExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", ActivityQueue, err)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// Publish sends a persistent JSON message to the activity exchange.
func (c *Client) Publish(routingKey string, body []byte) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.channel.Publish(
		ActivityExchange, // exchange
		routingKey,       // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishEvent marshals v to JSON and publishes it under routingKey.
func (c *Client) PublishEvent(routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event to JSON: %w", routingKey, err)
	}
	if err := c.Publish(routingKey, body); err != nil {
		return err
	}
	log.Printf(" [x] Sent %s event: %s", routingKey, body)
	return nil
}

// ConsumeActivity starts a goroutine that hands every message on the
// activity queue to handler. Messages are acked when handler returns nil and
// dropped otherwise, since a malformed event will never succeed on retry.
func (c *Client) ConsumeActivity(handler func(msg amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	msgs, err := c.channel.Consume(
		ActivityQueue, // queue
		"",            // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Printf(" [*] Waiting for activity events on %s", ActivityQueue)

	go func() {
		for msg := range msgs {
			if err := handler(msg); err != nil {
				log.Printf("Error processing message %d: %v", msg.DeliveryTag, err)
				if nackErr := msg.Nack(false, false); nackErr != nil {
					log.Printf("Error nacking message %d: %v", msg.DeliveryTag, nackErr)
				}
				continue
			}
			if ackErr := msg.Ack(false); ackErr != nil {
				log.Printf("Error acking message %d: %v", msg.DeliveryTag, ackErr)
			}
		}
	}()

	return nil
}

// ActivityLine formats an event as a log line:
// "[YYYY-mm-dd HH:MM:SS] <user>: <activity> - <details>".
func ActivityLine(e Event) string {
	return fmt.Sprintf("[%s] %s: %s - %s", e.OccurredAt.Format("2006-01-02 15:04:05"), e.Username, e.Activity, e.Details)
}

// LogActivity is a ConsumeActivity handler that writes each event to the log.
func LogActivity(msg amqp.Delivery) error {
	var e Event
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return fmt.Errorf("failed to decode activity event: %w", err)
	}
	if e.Activity == "" {
		e.Activity = msg.RoutingKey
	}
	log.Println(ActivityLine(e))
	return nil
}
