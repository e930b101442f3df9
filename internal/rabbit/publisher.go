package rabbit

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/ptrvsrg/crack-hash/internal/amqputil"
	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/metrics"
	"github.com/ptrvsrg/crack-hash/internal/models"
)

type publishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher отправляет подзадачи воркерам через очередь "tasks".
type Publisher struct {
	mu        sync.Mutex
	ch        publishChannel
	reconnect func(ctx context.Context) (publishChannel, error)
	queue     string
	alphabet  string
}

// NewPublisher создаёт публикатор поверх уже открытого канала; при ошибке публикации
// соединение и канал восстанавливаются через amqputil.Reconnect.
func NewPublisher(conn *amqp.Connection, ch *amqp.Channel, uri, alphabet string) *Publisher {
	p := &Publisher{
		ch:       ch,
		queue:    constants.TasksQueue,
		alphabet: alphabet,
	}
	p.reconnect = func(ctx context.Context) (publishChannel, error) {
		newCh, err := amqputil.Reconnect(ctx, &conn, uri, p.queue, 0)
		if err != nil {
			return nil, err
		}
		return newCh, nil
	}
	return p
}

// Dispatch публикует по одному сообщению на подзадачу. Ошибка публикации приводит к одному
// переподключению и повтору; если и он не удался, возвращается ошибка.
func (p *Publisher) Dispatch(ctx context.Context, task *models.Task, subtasks []*models.Subtask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sub := range subtasks {
		body, err := models.MarshalTaskMessage(models.NewTaskMessage(task, sub, p.alphabet))
		if err != nil {
			return fmt.Errorf("marshal task message: %w", err)
		}
		if err := p.publish(ctx, task, sub, body); err != nil {
			return err
		}
		metrics.MessagesPublished.Inc()
		logger.Debugf("Publisher", "task %s part %d/%d: %s", task.ID, sub.PartNumber, task.PartCount, sub.Span(p.alphabet, task.MaxLength))
	}
	logger.LogHash("Publisher", task.Hash, fmt.Sprintf("Опубликовано %d подзадач задачи %s", len(subtasks), task.ID))
	return nil
}

func (p *Publisher) publish(ctx context.Context, task *models.Task, sub *models.Subtask, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	err := p.ch.Publish("", p.queue, false, false, msg)
	if err == nil {
		return nil
	}
	logger.LogTask("Publisher", task.ID, sub.PartNumber, task.PartCount, fmt.Sprintf("Ошибка публикации: %v", err))

	ch, recErr := p.reconnect(ctx)
	if recErr != nil {
		return fmt.Errorf("publish part %d: %w (reconnect: %v)", sub.PartNumber, err, recErr)
	}
	p.ch = ch
	if err := p.ch.Publish("", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish part %d after reconnect: %w", sub.PartNumber, err)
	}
	return nil
}
