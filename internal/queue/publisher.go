// Package queue publishes ledger and session lifecycle events to RabbitMQ
// for downstream consumers (reporting, notifications). Publishing is best
// effort: failures are logged and returned, never fatal to the session flow.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	QueueSessionEnded = "session.ended"
	QueueTransaction  = "ledger.transaction"
)

type SessionEndedEvent struct {
	RequestID    string     `json:"request_id"`
	RoomName     string     `json:"room_name"`
	CustomerID   string     `json:"customer_id"`
	ConsultantID string     `json:"consultant_id"`
	Mode         string     `json:"mode"`
	Reason       string     `json:"reason"`
	Ticks        int64      `json:"ticks"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      time.Time  `json:"ended_at"`
}

type TransactionEvent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	RequestID    string    `json:"request_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Publisher interface {
	SessionEnded(ctx context.Context, ev SessionEndedEvent) error
	Transaction(ctx context.Context, ev TransactionEvent) error
}

type AMQPPublisher struct {
	conn *amqp.Connection
	log  *logrus.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPPublisher(conn *amqp.Connection, log *logrus.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	p := &AMQPPublisher{conn: conn, log: log, ch: ch}
	for _, q := range []string{QueueSessionEnded, QueueTransaction} {
		// durable so events survive broker restarts
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *AMQPPublisher) SessionEnded(ctx context.Context, ev SessionEndedEvent) error {
	return p.publish(ctx, QueueSessionEnded, ev)
}

func (p *AMQPPublisher) Transaction(ctx context.Context, ev TransactionEvent) error {
	return p.publish(ctx, QueueTransaction, ev)
}

func (p *AMQPPublisher) publish(ctx context.Context, queueName string, ev any) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.log.WithError(err).WithField("queue", queueName).Warn("event publish failed")
		// one reconnect attempt on a broken channel
		if ch, cerr := p.conn.Channel(); cerr == nil {
			p.ch = ch
		}
	}
	return err
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) SessionEnded(context.Context, SessionEndedEvent) error { return nil }
func (NopPublisher) Transaction(context.Context, TransactionEvent) error   { return nil }
