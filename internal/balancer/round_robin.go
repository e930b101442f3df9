// Package balancer раздаёт подзадачи воркерам по HTTP, когда RabbitMQ не используется:
// воркеры регистрируются у менеджера, а подзадачи отправляются им по кругу.
package balancer

import (
	"sync"

	"github.com/ptrvsrg/crack-hash/internal/logger"
)

const component = "Balancer"

// RoundRobin – список зарегистрированных воркеров с круговым выбором.
type RoundRobin struct {
	mu      sync.Mutex
	workers []string
	next    int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Register добавляет воркер; повторная регистрация того же адреса ничего не меняет.
func (rb *RoundRobin) Register(url string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, w := range rb.workers {
		if w == url {
			return
		}
	}
	rb.workers = append(rb.workers, url)
	logger.Logf(component, "Зарегистрирован воркер %s, всего воркеров: %d", url, len(rb.workers))
}

// Unregister удаляет воркер из ротации.
func (rb *RoundRobin) Unregister(url string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i, w := range rb.workers {
		if w == url {
			rb.workers = append(rb.workers[:i], rb.workers[i+1:]...)
			if rb.next > i {
				rb.next--
			}
			logger.Logf(component, "Воркер %s удалён из ротации", url)
			return
		}
	}
}

// Next возвращает следующего воркера по кругу; false, если воркеров нет.
func (rb *RoundRobin) Next() (string, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.workers) == 0 {
		return "", false
	}
	if rb.next >= len(rb.workers) {
		rb.next = 0
	}
	w := rb.workers[rb.next]
	rb.next = (rb.next + 1) % len(rb.workers)
	return w, true
}

// Len – число воркеров в ротации.
func (rb *RoundRobin) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.workers)
}
