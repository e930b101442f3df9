package models

import (
	"fmt"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/partition"
)

// Task – основная задача подбора пароля по хэшу, разбитая на PartCount подзадач.
type Task struct {
	ID         string     `bson:"_id"`
	Hash       string     `bson:"hash"`
	MaxLength  int        `bson:"maxLength"`
	PartCount  int        `bson:"partCount"`
	Status     TaskStatus `bson:"status"`
	Reason     *string    `bson:"reason,omitempty"`
	Percent    float64    `bson:"percent"`
	Data       []string   `bson:"data"`
	FinishedAt *time.Time `bson:"finishedAt,omitempty"`
	CreatedAt  time.Time  `bson:"createdAt"`
	UpdatedAt  time.Time  `bson:"updatedAt"`
}

// Subtask – часть пространства поиска задачи: диапазон [RangeStart, RangeEnd) перебора.
// Data пуст до тех пор, пока воркер не сообщит о найденных совпадениях.
type Subtask struct {
	ID         string        `bson:"_id"`
	TaskID     string        `bson:"taskId"`
	PartNumber int           `bson:"partNumber"`
	RangeStart uint64        `bson:"rangeStart"`
	RangeEnd   uint64        `bson:"rangeEnd"`
	Data       []string      `bson:"data"`
	Percent    float64       `bson:"percent"`
	Status     SubtaskStatus `bson:"status"`
	Reason     *string       `bson:"reason,omitempty"`
	CreatedAt  time.Time     `bson:"createdAt"`
	UpdatedAt  time.Time     `bson:"updatedAt"`
}

// TaskWithSubtasks – задача вместе с подзадачами (представление hash_crack_tasks_with_subtasks).
type TaskWithSubtasks struct {
	Task     `bson:",inline"`
	Subtasks []*Subtask `bson:"subtasks"`
}

// Progress – отчёт воркера о ходе выполнения подзадачи.
type Progress struct {
	Percent float64
	Status  SubtaskStatus
	Data    []string
	Reason  string
}

// Terminal сообщает, завершена ли задача (READY или ERROR).
func (t *Task) Terminal() bool {
	return t.Status.Terminal()
}

// Terminal сообщает, завершена ли подзадача (SUCCESS или ERROR).
func (s *Subtask) Terminal() bool {
	return s.Status.Terminal()
}

// Size возвращает число кандидатов в диапазоне подзадачи.
func (s *Subtask) Size() uint64 {
	return s.RangeEnd - s.RangeStart
}

// Span описывает диапазон подзадачи для логов: число слов, первое и последнее слово.
func (s *Subtask) Span(alphabet string, maxLength int) string {
	p := partition.Partition{PartNumber: s.PartNumber, Start: s.RangeStart, End: s.RangeEnd}
	first, last, err := partition.Bounds(alphabet, maxLength, p)
	if err != nil {
		return fmt.Sprintf("%d слов (%v)", s.Size(), err)
	}
	return fmt.Sprintf("%d слов %q..%q", s.Size(), first, last)
}
