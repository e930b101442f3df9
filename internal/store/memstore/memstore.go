// Package memstore – хранилище задач в памяти процесса.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/store"
)

// Store хранит задачи и подзадачи в картах под одним мьютексом.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*models.Task
	subtasks map[string]map[int]*models.Subtask
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tasks:    make(map[string]*models.Task),
		subtasks: make(map[string]map[int]*models.Subtask),
	}
}

func (s *Store) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrTaskExists
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(task), nil
}

func (s *Store) FindActiveTask(_ context.Context, hash string, maxLength int) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Task
	for _, task := range s.tasks {
		if task.Hash != hash || task.MaxLength != maxLength || task.Status == models.TaskStatusError {
			continue
		}
		if found == nil || task.CreatedAt.After(found.CreatedAt) {
			found = task
		}
	}
	if found == nil {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(found), nil
}

func (s *Store) ListTasks(_ context.Context, limit, offset int) ([]*models.Task, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		all = append(all, task)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	page := make([]*models.Task, 0, limit)
	for i := offset; i < len(all) && len(page) < limit; i++ {
		page = append(page, copyTask(all[i]))
	}
	return page, int64(len(all)), nil
}

func (s *Store) ListUnfinishedTasks(_ context.Context, limit int) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]*models.Task, 0)
	for _, task := range s.tasks {
		if !task.Terminal() {
			res = append(res, copyTask(task))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) ApplyAggregate(_ context.Context, id string, update models.TaskUpdate, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if !update.Advances(task) {
		return store.ErrStaleUpdate
	}
	update.Apply(task)
	task.UpdatedAt = now
	if update.Terminal() {
		finished := now
		task.FinishedAt = &finished
	}
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}

func (s *Store) CreateSubtasks(_ context.Context, subtasks []*models.Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]map[int]bool)
	for _, sub := range subtasks {
		if _, ok := s.subtasks[sub.TaskID][sub.PartNumber]; ok || seen[sub.TaskID][sub.PartNumber] {
			return store.ErrSubtaskExists
		}
		if seen[sub.TaskID] == nil {
			seen[sub.TaskID] = make(map[int]bool)
		}
		seen[sub.TaskID][sub.PartNumber] = true
	}
	for _, sub := range subtasks {
		parts, ok := s.subtasks[sub.TaskID]
		if !ok {
			parts = make(map[int]*models.Subtask)
			s.subtasks[sub.TaskID] = parts
		}
		parts[sub.PartNumber] = copySubtask(sub)
	}
	return nil
}

func (s *Store) ReportProgress(_ context.Context, taskID string, partNumber int, progress models.Progress, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subtasks[taskID][partNumber]
	if !ok {
		return store.ErrSubtaskNotFound
	}
	if !progress.Supersedes(sub) {
		return store.ErrStaleUpdate
	}
	progress.Apply(sub)
	sub.UpdatedAt = now
	return nil
}

func (s *Store) ListSubtasks(_ context.Context, taskID string) ([]*models.Subtask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := s.subtasks[taskID]
	if len(parts) == 0 {
		return nil, store.ErrSubtaskNotFound
	}
	res := make([]*models.Subtask, 0, len(parts))
	for _, sub := range parts {
		res = append(res, copySubtask(sub))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PartNumber < res[j].PartNumber })
	return res, nil
}

func (s *Store) DeleteSubtasks(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subtasks, taskID)
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func copyTask(t *models.Task) *models.Task {
	c := *t
	c.Data = append([]string{}, t.Data...)
	if t.Reason != nil {
		reason := *t.Reason
		c.Reason = &reason
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	return &c
}

func copySubtask(s *models.Subtask) *models.Subtask {
	c := *s
	c.Data = append([]string{}, s.Data...)
	if s.Reason != nil {
		reason := *s.Reason
		c.Reason = &reason
	}
	return &c
}
