// Package store описывает хранилище задач и подзадач.
//
// Реализации: mongostore (основное хранилище), sqlitestore (одиночный узел) и memstore (тесты).
// Все реализации безопасны для конкурентного использования и обеспечивают одинаковые
// условные обновления: запись подзадачи принимается только если она продвигает состояние
// (models.Progress.Supersedes), запись агрегата задачи – только если она не откатывает
// статус и процент и задача ещё не завершена (models.TaskUpdate.Advances).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/models"
)

var (
	ErrTaskNotFound    = errors.New("crack task not found")
	ErrTaskExists      = errors.New("crack task already exists")
	ErrSubtaskNotFound = errors.New("crack subtask not found")
	ErrSubtaskExists   = errors.New("crack subtask already exists")
	// ErrStaleUpdate – запись устарела или повторяет уже применённую; состояние не изменено.
	ErrStaleUpdate = errors.New("stale update")
)

// TaskStore – операции над записями задач.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// FindActiveTask возвращает самую новую задачу с данными hash и maxLength не в статусе ERROR.
	FindActiveTask(ctx context.Context, hash string, maxLength int) (*models.Task, error)
	// ListTasks возвращает страницу задач по убыванию времени создания и общее количество задач.
	ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, int64, error)
	// ListUnfinishedTasks возвращает до limit незавершённых задач, самые старые первыми.
	ListUnfinishedTasks(ctx context.Context, limit int) ([]*models.Task, error)
	// ApplyAggregate условно записывает результат агрегации; при отказе возвращает ErrStaleUpdate.
	ApplyAggregate(ctx context.Context, id string, update models.TaskUpdate, now time.Time) error
	DeleteTask(ctx context.Context, id string) error
}

// SubtaskStore – операции над записями подзадач.
type SubtaskStore interface {
	// CreateSubtasks вставляет все подзадачи или ни одной; при дубликате (taskId, partNumber) – ErrSubtaskExists.
	CreateSubtasks(ctx context.Context, subtasks []*models.Subtask) error
	// ReportProgress условно обновляет подзадачу; устаревший отчёт даёт ErrStaleUpdate.
	ReportProgress(ctx context.Context, taskID string, partNumber int, progress models.Progress, now time.Time) error
	// ListSubtasks возвращает подзадачи по возрастанию номера части; ErrSubtaskNotFound, если их нет.
	ListSubtasks(ctx context.Context, taskID string) ([]*models.Subtask, error)
	DeleteSubtasks(ctx context.Context, taskID string) error
}

// Store объединяет оба хранилища над одним движком.
type Store interface {
	TaskStore
	SubtaskStore
	Close(ctx context.Context) error
}

// TaskWithSubtasksReader реализуется хранилищами, умеющими читать задачу вместе с подзадачами одним запросом.
type TaskWithSubtasksReader interface {
	GetTaskWithSubtasks(ctx context.Context, id string) (*models.TaskWithSubtasks, error)
}
