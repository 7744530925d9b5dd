package config

import (
	"errors"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
)

var RabbitConn *amqp.Connection

// InitRabbitMQ connects to the broker used for ledger and session lifecycle
// events. The connection is optional in development: when no URL is set the
// publisher runs in no-op mode.
func InitRabbitMQ() error {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	if url == "" {
		return errors.New("RABBITMQ_URL (or AMQP_URL) environment variable is not set")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	RabbitConn = conn
	return nil
}
