package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPercent    = errors.New("percent must be within [0, 100]")
	ErrInvalidStatus     = errors.New("status cannot be reported")
	ErrIncompleteSuccess = errors.New("SUCCESS requires percent 100")
	ErrMissingReason     = errors.New("ERROR requires a reason")
)

// Validate проверяет отчёт воркера до обращения к хранилищу.
func (p Progress) Validate() error {
	if p.Percent < 0 || p.Percent > 100 || p.Percent != p.Percent {
		return fmt.Errorf("%w: %v", ErrInvalidPercent, p.Percent)
	}
	switch p.Status {
	case SubtaskStatusPending, SubtaskStatusInProgress:
	case SubtaskStatusSuccess:
		if p.Percent != 100 {
			return ErrIncompleteSuccess
		}
	case SubtaskStatusError:
		if p.Reason == "" {
			return ErrMissingReason
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	return nil
}

// Supersedes сообщает, должен ли отчёт p заменить сохранённое состояние подзадачи.
// Терминальные подзадачи не меняются. Терминальный отчёт принимается всегда, процент при этом
// не опускается ниже сохранённого (см. Apply). Для остальных: статус не откатывается назад,
// процент не убывает, при равном проценте нужен более продвинутый статус.
func (p Progress) Supersedes(stored *Subtask) bool {
	if stored.Terminal() {
		return false
	}
	if p.Status.Terminal() {
		return true
	}
	if p.Status.Rank() < stored.Status.Rank() {
		return false
	}
	if p.Percent > stored.Percent {
		return true
	}
	return p.Percent == stored.Percent && p.Status.Rank() > stored.Status.Rank()
}

// Apply переносит принятый отчёт в подзадачу. Процент не уменьшается: отчёт об ошибке
// без процента оставляет сохранённый.
func (p Progress) Apply(s *Subtask) {
	s.Percent = max(s.Percent, p.Percent)
	s.Status = p.Status
	if p.Data != nil {
		s.Data = append([]string(nil), p.Data...)
	}
	if p.Reason != "" {
		reason := p.Reason
		s.Reason = &reason
	}
}

// TaskUpdate – результат агрегации, записываемый в кэшированные поля задачи.
type TaskUpdate struct {
	Status  TaskStatus
	Percent float64
	Data    []string
	Reason  *string
}

// Terminal сообщает, делает ли обновление задачу завершённой.
func (u TaskUpdate) Terminal() bool {
	return u.Status.Terminal()
}

// Advances сообщает, можно ли применить обновление к сохранённой задаче:
// завершённая задача неизменна, статус и процент не откатываются, а повтор без изменений отбрасывается.
func (u TaskUpdate) Advances(stored *Task) bool {
	if stored.Terminal() {
		return false
	}
	if u.Status.Rank() < stored.Status.Rank() || u.Percent < stored.Percent {
		return false
	}
	return u.Status != stored.Status || u.Percent != stored.Percent
}

// Apply переносит обновление в задачу; время завершения выставляется один раз.
func (u TaskUpdate) Apply(t *Task) {
	t.Status = u.Status
	t.Percent = u.Percent
	t.Data = append([]string{}, u.Data...)
	t.Reason = u.Reason
}
