// Package messaging wraps the AMQP client behind small interfaces so consumers can be tested
// without a broker.
package messaging

import (
	"fmt"
	"strings"

	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel used by the service.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Connection is the subset of *amqp.Connection used by the service.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(uri string) (Connection, error)

type connection struct {
	conn *amqp.Connection
}

// Dial connects to the broker at uri.
func Dial(uri string) (Connection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return &connection{conn: conn}, nil
}

func (c *connection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

func (c *connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *connection) Close() error {
	return c.conn.Close()
}

// Binding ties a durable queue to the routing keys it receives.
type Binding struct {
	Queue       string
	RoutingKeys []string
}

// RoutingKeyAliases returns the dotted event type and the underscore form publishers use.
func RoutingKeyAliases(eventType string) []string {
	underscored := strings.ReplaceAll(eventType, ".", "_")
	if underscored == eventType {
		return []string{eventType}
	}
	return []string{eventType, underscored}
}

// DeclareTopology declares a durable exchange and binds each queue to every alias of its keys.
func DeclareTopology(ch Channel, exchange, kind string, bindings []Binding) error {
	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.Queue, err)
		}
		for _, key := range b.RoutingKeys {
			for _, alias := range RoutingKeyAliases(key) {
				if err := ch.QueueBind(b.Queue, alias, exchange, false, nil); err != nil {
					return fmt.Errorf("bind queue %s to %s: %w", b.Queue, alias, err)
				}
			}
		}
	}
	return nil
}
