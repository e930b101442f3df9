// Package aggregator вычисляет статус, процент и результат задачи по набору её подзадач.
//
// Aggregate – чистая функция снимка подзадач: один и тот же снимок всегда даёт один и тот же
// результат, а снимок с большим числом завершённых подзадач никогда не даёт менее продвинутый статус.
package aggregator

import (
	"math"
	"sort"
	"strings"

	"github.com/ptrvsrg/crack-hash/internal/models"
)

// Aggregate выводит обновление задачи из текущих подзадач. Порядок проверок важен:
// совпадение в любой подзадаче сразу завершает задачу со статусом READY.
func Aggregate(task *models.Task, subtasks []*models.Subtask) models.TaskUpdate {
	if len(subtasks) == 0 {
		return models.TaskUpdate{Status: models.TaskStatusUnknown, Data: []string{}}
	}

	ordered := byPartNumber(subtasks)
	update := models.TaskUpdate{
		Percent: Percent(task.PartCount, ordered),
		Data:    []string{},
	}

	var (
		success, successEmpty, failed, started int
		match                                  *models.Subtask
	)
	for _, s := range ordered {
		switch s.Status {
		case models.SubtaskStatusSuccess:
			success++
			started++
			if len(s.Data) > 0 {
				if match == nil {
					match = s
				}
			} else {
				successEmpty++
			}
		case models.SubtaskStatusError:
			failed++
			started++
		case models.SubtaskStatusInProgress:
			started++
		}
	}
	expected := max(task.PartCount, len(ordered))

	switch {
	case match != nil:
		update.Status = models.TaskStatusReady
		update.Data = append(update.Data, match.Data...)
	case success == expected:
		update.Status = models.TaskStatusReady
	case failed > 0 && failed+successEmpty == expected:
		update.Status = models.TaskStatusError
		update.Reason = joinReasons(ordered)
	case success > 0:
		update.Status = models.TaskStatusPartialReady
	case started > 0:
		update.Status = models.TaskStatusInProgress
	default:
		update.Status = models.TaskStatusPending
	}
	return update
}

// Percent – среднее арифметическое процентов подзадач; отсутствующие записи считаются нулевыми.
func Percent(partCount int, subtasks []*models.Subtask) float64 {
	n := max(partCount, len(subtasks))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, s := range subtasks {
		sum += s.Percent
	}
	return math.Min(100, sum/float64(n))
}

func joinReasons(subtasks []*models.Subtask) *string {
	reasons := make([]string, 0, len(subtasks))
	for _, s := range subtasks {
		if s.Status == models.SubtaskStatusError && s.Reason != nil && *s.Reason != "" {
			reasons = append(reasons, *s.Reason)
		}
	}
	reason := strings.Join(reasons, "; ")
	return &reason
}

func byPartNumber(subtasks []*models.Subtask) []*models.Subtask {
	ordered := make([]*models.Subtask, 0, len(subtasks))
	for _, s := range subtasks {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PartNumber < ordered[j].PartNumber
	})
	return ordered
}
