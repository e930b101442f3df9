package rabbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/ptrvsrg/crack-hash/internal/amqputil"
	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/metrics"
	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
)

// Reporter принимает отчёты воркеров.
type Reporter interface {
	ReportSubtaskProgress(ctx context.Context, taskID string, partNumber int, progress models.Progress) error
}

// ResultConsumer читает очередь "results" и передаёт отчёты оркестратору.
// Сообщение подтверждается, если отчёт обработан или заведомо не может быть обработан
// (битое сообщение, неизвестная задача, неверные данные); при внутренней ошибке
// сообщение возвращается в очередь.
type ResultConsumer struct {
	reporter   Reporter
	conn       *amqp.Connection
	uri        string
	prefetch   int
	retryDelay time.Duration
}

func NewResultConsumer(reporter Reporter, conn *amqp.Connection, uri string, prefetch int) *ResultConsumer {
	if prefetch <= 0 {
		prefetch = constants.DefaultResultsPrefetch
	}
	return &ResultConsumer{
		reporter:   reporter,
		conn:       conn,
		uri:        uri,
		prefetch:   prefetch,
		retryDelay: constants.RetryDelay,
	}
}

// Run регистрирует consumer и обрабатывает сообщения до отмены ctx,
// переподключаясь при закрытии канала.
func (c *ResultConsumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ch, err := amqputil.Reconnect(ctx, &c.conn, c.uri, constants.ResultsQueue, c.prefetch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Logf("Consumer", "Реконнект не удался: %v", err)
			return fmt.Errorf("connect results consumer: %w", err)
		}

		msgs, err := ch.Consume(constants.ResultsQueue, "", false, false, false, false, nil)
		if err != nil {
			logger.Logf("Consumer", "Ошибка регистрации consumer: %v", err)
			_ = ch.Close()
			_ = sleep(ctx, c.retryDelay)
			continue
		}
		logger.Log("Consumer", "Consumer для results зарегистрирован")

		c.consume(ctx, msgs)
		_ = ch.Close()
		if ctx.Err() == nil {
			logger.Log("Consumer", "Канал сообщений закрыт. Переподключаемся...")
		}
	}
}

func (c *ResultConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *ResultConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var res models.ResultMessage
	if err := models.UnmarshalResultMessage(d.Body, &res); err != nil {
		logger.Logf("Consumer", "Ошибка декодирования: %v", err)
		c.ack(d)
		return
	}

	reportCtx, cancel := context.WithTimeout(ctx, constants.ContextTimeout)
	err := c.reporter.ReportSubtaskProgress(reportCtx, res.RequestId, res.PartNumber, res.Progress())
	cancel()

	switch {
	case err == nil:
		c.ack(d)
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, orchestrator.ErrInvalidArgument),
		errors.Is(err, orchestrator.ErrConflict):
		logger.Logf("Consumer", "Отчёт %s(%d) отклонён: %v", res.RequestId, res.PartNumber, err)
		c.ack(d)
	default:
		logger.Logf("Consumer", "Ошибка обработки отчёта %s(%d): %v", res.RequestId, res.PartNumber, err)
		// повторная неудача: пауза, чтобы не крутить сообщение при недоступном хранилище
		if d.Redelivered {
			_ = sleep(ctx, c.retryDelay)
		}
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Logf("Consumer", "Ошибка nack: %v", nackErr)
		}
		metrics.MessagesConsumed.WithLabelValues("nack").Inc()
	}
}

func (c *ResultConsumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		logger.Logf("Consumer", "Ошибка ack: %v", err)
	}
	metrics.MessagesConsumed.WithLabelValues("ack").Inc()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
