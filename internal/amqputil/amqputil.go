package amqputil

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
)

const component = "RabbitMQ"

// Dialer открывает AMQP-соединение; подменяется в тестах.
type Dialer func(uri string) (*amqp.Connection, error)

// ConnectRabbitMQ пытается установить соединение с RabbitMQ по указанному URI.
// Повторяет попытки до maxRetries раз с паузой RetryDelay, прерываясь при отмене ctx.
func ConnectRabbitMQ(ctx context.Context, uri string, maxRetries int) (*amqp.Connection, error) {
	return connect(ctx, amqp.Dial, uri, maxRetries, constants.RetryDelay)
}

func connect(ctx context.Context, dial Dialer, uri string, maxRetries int, delay time.Duration) (*amqp.Connection, error) {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var conn *amqp.Connection
		conn, err = dial(uri)
		if err == nil {
			logger.Log(component, "Соединение с RabbitMQ установлено")
			return conn, nil
		}
		logger.Logf(component, "Ошибка подключения (попытка %d/%d): %v", attempt, maxRetries, err)
		if attempt == maxRetries {
			break
		}
		if waitErr := wait(ctx, delay); waitErr != nil {
			return nil, waitErr
		}
	}
	return nil, fmt.Errorf("connect rabbitmq: %w", err)
}

// CreateChannel открывает канал на соединении, объявляет долговечную очередь queueName
// и применяет prefetch qos, если он больше нуля.
func CreateChannel(ctx context.Context, conn *amqp.Connection, queueName string, qos int) (*amqp.Channel, error) {
	var err error
	for attempt := 1; attempt <= constants.DefaultChannelRetries; attempt++ {
		var ch *amqp.Channel
		ch, err = openChannel(conn, queueName, qos)
		if err == nil {
			return ch, nil
		}
		logger.Logf(component, "Ошибка подготовки канала для очереди '%s': %v (попытка %d/%d)",
			queueName, err, attempt, constants.DefaultChannelRetries)
		if attempt == constants.DefaultChannelRetries {
			break
		}
		if waitErr := wait(ctx, constants.RetryDelay); waitErr != nil {
			return nil, waitErr
		}
	}
	return nil, fmt.Errorf("create channel for %s: %w", queueName, err)
}

func openChannel(conn *amqp.Connection, queueName string, qos int) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if qos > 0 {
		if err := ch.Qos(qos, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	return ch, nil
}

// Reconnect переподключается, если соединение закрыто или отсутствует,
// и создаёт на нём новый канал с объявлением очереди.
func Reconnect(ctx context.Context, connPtr **amqp.Connection, uri, queueName string, qos int) (*amqp.Channel, error) {
	if *connPtr == nil || (*connPtr).IsClosed() {
		conn, err := ConnectRabbitMQ(ctx, uri, constants.DefaultConnectRetries)
		if err != nil {
			return nil, err
		}
		*connPtr = conn
	}
	return CreateChannel(ctx, *connPtr, queueName, qos)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
