// Package sweeper периодически пересчитывает незавершённые задачи, досчитывая агрегаты,
// запись которых была потеряна при конкурентных отчётах или сбоях.
package sweeper

import (
	"context"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/metrics"
)

// Reconciler пересчитывает до limit незавершённых задач.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

type Sweeper struct {
	reconciler Reconciler
	interval   time.Duration
	batch      int
}

func New(r Reconciler, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{reconciler: r, interval: interval, batch: batch}
}

// Run выполняет проход сверки раз в interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Logf("Sweeper", "Сверка задач каждые %s, до %d задач за проход", s.interval, s.batch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход сверки.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, constants.LongContextTimeout)
	defer cancel()

	start := time.Now()
	updated, err := s.reconciler.Reconcile(ctx, s.batch)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Logf("Sweeper", "Ошибка сверки: %v", err)
	}
	if updated > 0 {
		logger.Logf("Sweeper", "Обновлено задач: %d", updated)
	}
	return updated
}
