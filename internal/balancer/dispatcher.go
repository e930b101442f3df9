package balancer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/metrics"
	"github.com/ptrvsrg/crack-hash/internal/models"
)

// TaskPath – путь приёма подзадач у воркера.
const TaskPath = "/internal/api/worker/hash/crack/task"

var ErrNoWorkers = errors.New("no workers registered")

// SendConfig – параметры повторных отправок.
type SendConfig struct {
	MaxRetries      int
	Delay           time.Duration
	RetryOnStatuses []int
}

func DefaultSendConfig() SendConfig {
	return SendConfig{
		MaxRetries:      3,
		Delay:           500 * time.Millisecond,
		RetryOnStatuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway},
	}
}

// Dispatcher отправляет подзадачи воркерам из RoundRobin. Неудачная попытка повторяется
// на следующем воркере; ответ со статусом вне RetryOnStatuses считается окончательным отказом.
type Dispatcher struct {
	workers  *RoundRobin
	client   *http.Client
	alphabet string
	cfg      SendConfig
}

func NewDispatcher(workers *RoundRobin, client *http.Client, alphabet string, cfg SendConfig) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Dispatcher{workers: workers, client: client, alphabet: alphabet, cfg: cfg}
}

func (d *Dispatcher) Dispatch(ctx context.Context, task *models.Task, subtasks []*models.Subtask) error {
	if d.workers.Len() == 0 {
		return ErrNoWorkers
	}
	for _, sub := range subtasks {
		body, err := models.MarshalTaskMessage(models.NewTaskMessage(task, sub, d.alphabet))
		if err != nil {
			return fmt.Errorf("marshal task message: %w", err)
		}
		if err := d.send(ctx, body); err != nil {
			metrics.WorkerSends.WithLabelValues("failed").Inc()
			return fmt.Errorf("send part %d: %w", sub.PartNumber, err)
		}
		metrics.WorkerSends.WithLabelValues("ok").Inc()
		logger.LogTask(component, task.ID, sub.PartNumber, task.PartCount,
			"Подзадача отправлена воркеру: "+sub.Span(d.alphabet, task.MaxLength))
	}
	return nil
}

// retryable – ошибка, после которой имеет смысл попробовать другого воркера.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

func (d *Dispatcher) send(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.WorkerSends.WithLabelValues("retry").Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.Delay):
			}
		}
		url, ok := d.workers.Next()
		if !ok {
			return ErrNoWorkers
		}
		err := d.post(ctx, url+TaskPath, body)
		if err == nil {
			return nil
		}
		var r retryable
		if !errors.As(err, &r) {
			return err
		}
		logger.Logf(component, "Воркер %s недоступен (попытка %d/%d): %v", url, attempt+1, d.cfg.MaxRetries, err)
		lastErr = err
	}
	return fmt.Errorf("failed after %d attempts: %w", d.cfg.MaxRetries, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retryable{fmt.Errorf("network error: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case slices.Contains(d.cfg.RetryOnStatuses, resp.StatusCode):
		return retryable{fmt.Errorf("worker returned retriable status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("worker returned non-retriable status %d", resp.StatusCode)
	}
}
