// Package storetest содержит общий набор проверок для реализаций store.Store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/store"
)

// Factory создаёт пустое хранилище для одного теста.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run прогоняет все проверки против хранилища, созданного newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGetTask", testCreateAndGetTask},
		{"CreateSubtasks", testCreateSubtasks},
		{"CreateSubtasksConflictIsAtomic", testCreateSubtasksConflict},
		{"ReportProgressRules", testReportProgressRules},
		{"ReportProgressTerminalKeepsPercent", testReportProgressTerminalKeepsPercent},
		{"ReportProgressFromUnknown", testReportProgressFromUnknown},
		{"ReportProgressNotFound", testReportProgressNotFound},
		{"ReportProgressConcurrent", testReportProgressConcurrent},
		{"ApplyAggregate", testApplyAggregate},
		{"ListTasks", testListTasks},
		{"FindActiveTask", testFindActiveTask},
		{"ListUnfinishedTasks", testListUnfinishedTasks},
		{"Delete", testDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close(context.Background()) })
			tt.fn(t, s)
		})
	}
}

// NewTask возвращает задачу в статусе PENDING, созданную в момент created.
func NewTask(id string, parts int, created time.Time) *models.Task {
	return &models.Task{
		ID:        id,
		Hash:      "5f4dcc3b5aa765d61d8327deb882cf99",
		MaxLength: 4,
		PartCount: parts,
		Status:    models.TaskStatusPending,
		Data:      []string{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// NewSubtasks возвращает parts подзадач задачи taskID с диапазонами по 10 кандидатов.
func NewSubtasks(taskID string, parts int, created time.Time) []*models.Subtask {
	res := make([]*models.Subtask, parts)
	for i := range res {
		res[i] = &models.Subtask{
			ID:         fmt.Sprintf("%s-%d", taskID, i),
			TaskID:     taskID,
			PartNumber: i,
			RangeStart: uint64(i * 10),
			RangeEnd:   uint64(i*10 + 10),
			Data:       []string{},
			Status:     models.SubtaskStatusPending,
			CreatedAt:  created,
			UpdatedAt:  created,
		}
	}
	return res
}

func mustCreate(t *testing.T, s store.Store, id string, parts int, created time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateTask(ctx, NewTask(id, parts, created)); err != nil {
		t.Fatalf("CreateTask(%s): %v", id, err)
	}
	if err := s.CreateSubtasks(ctx, NewSubtasks(id, parts, created)); err != nil {
		t.Fatalf("CreateSubtasks(%s): %v", id, err)
	}
}

func mustSubtask(t *testing.T, s store.Store, taskID string, part int) *models.Subtask {
	t.Helper()
	subs, err := s.ListSubtasks(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListSubtasks(%s): %v", taskID, err)
	}
	for _, sub := range subs {
		if sub.PartNumber == part {
			return sub
		}
	}
	t.Fatalf("part %d of %s not found", part, taskID)
	return nil
}

func testCreateAndGetTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := NewTask("task-1", 4, base)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.CreateTask(ctx, task); !errors.Is(err, store.ErrTaskExists) {
		t.Errorf("duplicate CreateTask err = %v, want ErrTaskExists", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Hash != task.Hash || got.MaxLength != 4 || got.PartCount != 4 || got.Status != models.TaskStatusPending {
		t.Errorf("GetTask = %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}

	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, store.ErrTaskNotFound) {
		t.Errorf("GetTask(missing) err = %v, want ErrTaskNotFound", err)
	}
}

func testCreateSubtasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.ListSubtasks(ctx, "task-1"); !errors.Is(err, store.ErrSubtaskNotFound) {
		t.Errorf("ListSubtasks before create err = %v, want ErrSubtaskNotFound", err)
	}

	subs := NewSubtasks("task-1", 5, base)
	// вставка в обратном порядке: выдача всё равно упорядочена по номеру части
	reversed := make([]*models.Subtask, len(subs))
	for i, sub := range subs {
		reversed[len(subs)-1-i] = sub
	}
	if err := s.CreateSubtasks(ctx, reversed); err != nil {
		t.Fatalf("CreateSubtasks: %v", err)
	}

	got, err := s.ListSubtasks(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListSubtasks: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, sub := range got {
		if sub.PartNumber != i {
			t.Errorf("got[%d].PartNumber = %d", i, sub.PartNumber)
		}
		if sub.RangeStart != uint64(i*10) || sub.RangeEnd != uint64(i*10+10) {
			t.Errorf("part %d range = [%d, %d)", i, sub.RangeStart, sub.RangeEnd)
		}
		if sub.Status != models.SubtaskStatusPending || sub.Percent != 0 || len(sub.Data) != 0 {
			t.Errorf("part %d = %+v, want fresh PENDING", i, sub)
		}
	}
}

func testCreateSubtasksConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := NewSubtasks("task-1", 1, base)
	if err := s.CreateSubtasks(ctx, first); err != nil {
		t.Fatalf("CreateSubtasks: %v", err)
	}

	batch := NewSubtasks("task-1", 3, base)
	for _, sub := range batch {
		sub.ID += "-retry"
	}
	err := s.CreateSubtasks(ctx, []*models.Subtask{batch[2], batch[1], batch[0]})
	if !errors.Is(err, store.ErrSubtaskExists) {
		t.Fatalf("CreateSubtasks with duplicate err = %v, want ErrSubtaskExists", err)
	}

	got, err := s.ListSubtasks(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListSubtasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != first[0].ID {
		t.Errorf("after conflict got %d subtasks, want only the original part", len(got))
	}
}

func testReportProgressRules(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "task-1", 1, base)

	steps := []struct {
		name     string
		progress models.Progress
		wantErr  error
	}{
		{"start", models.Progress{Percent: 10, Status: models.SubtaskStatusInProgress}, nil},
		{"replay", models.Progress{Percent: 10, Status: models.SubtaskStatusInProgress}, store.ErrStaleUpdate},
		{"older percent", models.Progress{Percent: 5, Status: models.SubtaskStatusInProgress}, store.ErrStaleUpdate},
		{"status regression", models.Progress{Percent: 50, Status: models.SubtaskStatusPending}, store.ErrStaleUpdate},
		{"advance", models.Progress{Percent: 60, Status: models.SubtaskStatusInProgress}, nil},
		{"terminal at equal percent", models.Progress{Percent: 60, Status: models.SubtaskStatusError, Reason: "oom"}, nil},
		{"after terminal", models.Progress{Percent: 100, Status: models.SubtaskStatusSuccess}, store.ErrStaleUpdate},
	}

	prevUpdated := base
	for i, step := range steps {
		now := base.Add(time.Duration(i+1) * time.Minute)
		err := s.ReportProgress(ctx, "task-1", 0, step.progress, now)
		if !errors.Is(err, step.wantErr) || (step.wantErr == nil && err != nil) {
			t.Fatalf("%s: err = %v, want %v", step.name, err, step.wantErr)
		}

		sub := mustSubtask(t, s, "task-1", 0)
		if step.wantErr == nil {
			if !sub.UpdatedAt.Equal(now) {
				t.Errorf("%s: UpdatedAt = %v, want %v", step.name, sub.UpdatedAt, now)
			}
			prevUpdated = now
		} else if !sub.UpdatedAt.Equal(prevUpdated) {
			t.Errorf("%s: rejected write touched UpdatedAt (%v)", step.name, sub.UpdatedAt)
		}
	}

	sub := mustSubtask(t, s, "task-1", 0)
	if sub.Status != models.SubtaskStatusError || sub.Percent != 60 {
		t.Errorf("final subtask = %s %.0f%%, want ERROR 60%%", sub.Status, sub.Percent)
	}
	if sub.Reason == nil || *sub.Reason != "oom" {
		t.Errorf("Reason = %v, want oom", sub.Reason)
	}
}

func testReportProgressTerminalKeepsPercent(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "task-1", 2, base)

	started := models.Progress{Percent: 40, Status: models.SubtaskStatusInProgress}
	if err := s.ReportProgress(ctx, "task-1", 0, started, base.Add(time.Minute)); err != nil {
		t.Fatalf("IN_PROGRESS 40: %v", err)
	}
	// отчёт об ошибке без процента
	failed := models.Progress{Status: models.SubtaskStatusError, Reason: "worker crashed"}
	if err := s.ReportProgress(ctx, "task-1", 0, failed, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("ERROR without percent: %v", err)
	}

	sub := mustSubtask(t, s, "task-1", 0)
	if sub.Status != models.SubtaskStatusError || sub.Percent != 40 {
		t.Errorf("subtask = %s %.0f%%, want ERROR 40%%", sub.Status, sub.Percent)
	}
	if sub.Reason == nil || *sub.Reason != "worker crashed" {
		t.Errorf("Reason = %v, want worker crashed", sub.Reason)
	}
	if !sub.UpdatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", sub.UpdatedAt, base.Add(2*time.Minute))
	}

	// сразу SUCCESS из PENDING
	done := models.Progress{Percent: 100, Status: models.SubtaskStatusSuccess, Data: []string{"abc"}}
	if err := s.ReportProgress(ctx, "task-1", 1, done, base.Add(3*time.Minute)); err != nil {
		t.Fatalf("SUCCESS from PENDING: %v", err)
	}
	if sub := mustSubtask(t, s, "task-1", 1); sub.Status != models.SubtaskStatusSuccess || sub.Percent != 100 {
		t.Errorf("part 1 = %s %.0f%%, want SUCCESS 100%%", sub.Status, sub.Percent)
	}
}

func testReportProgressFromUnknown(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateTask(ctx, NewTask("task-1", 1, base)); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	subs := NewSubtasks("task-1", 1, base)
	subs[0].Status = models.SubtaskStatusUnknown
	if err := s.CreateSubtasks(ctx, subs); err != nil {
		t.Fatalf("CreateSubtasks: %v", err)
	}

	progress := models.Progress{Percent: 10, Status: models.SubtaskStatusInProgress}
	if err := s.ReportProgress(ctx, "task-1", 0, progress, base.Add(time.Minute)); err != nil {
		t.Fatalf("IN_PROGRESS over UNKNOWN: %v", err)
	}
	if sub := mustSubtask(t, s, "task-1", 0); sub.Status != models.SubtaskStatusInProgress || sub.Percent != 10 {
		t.Errorf("subtask = %s %.0f%%, want IN_PROGRESS 10%%", sub.Status, sub.Percent)
	}
}

func testReportProgressNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "task-1", 4, base)

	progress := models.Progress{Percent: 10, Status: models.SubtaskStatusInProgress}
	if err := s.ReportProgress(ctx, "task-1", 5, progress, base); !errors.Is(err, store.ErrSubtaskNotFound) {
		t.Errorf("part 5 err = %v, want ErrSubtaskNotFound", err)
	}
	if err := s.ReportProgress(ctx, "other", 0, progress, base); !errors.Is(err, store.ErrSubtaskNotFound) {
		t.Errorf("unknown task err = %v, want ErrSubtaskNotFound", err)
	}
}

func testReportProgressConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "task-1", 2, base)

	var wg sync.WaitGroup
	for part := 0; part < 2; part++ {
		for p := 1; p <= 50; p++ {
			wg.Add(1)
			go func(part, p int) {
				defer wg.Done()
				progress := models.Progress{Percent: float64(p), Status: models.SubtaskStatusInProgress}
				err := s.ReportProgress(ctx, "task-1", part, progress, base.Add(time.Second))
				if err != nil && !errors.Is(err, store.ErrStaleUpdate) {
					t.Errorf("ReportProgress(%d, %d): %v", part, p, err)
				}
			}(part, p)
		}
	}
	wg.Wait()

	for part := 0; part < 2; part++ {
		if sub := mustSubtask(t, s, "task-1", part); sub.Percent != 50 {
			t.Errorf("part %d percent = %v, want 50", part, sub.Percent)
		}
	}
}

func testApplyAggregate(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "task-1", 2, base)

	inProgress := models.TaskUpdate{Status: models.TaskStatusInProgress, Percent: 20, Data: []string{}}
	if err := s.ApplyAggregate(ctx, "task-1", inProgress, base.Add(time.Minute)); err != nil {
		t.Fatalf("ApplyAggregate(IN_PROGRESS): %v", err)
	}
	if err := s.ApplyAggregate(ctx, "task-1", inProgress, base.Add(2*time.Minute)); !errors.Is(err, store.ErrStaleUpdate) {
		t.Errorf("replayed aggregate err = %v, want ErrStaleUpdate", err)
	}
	older := models.TaskUpdate{Status: models.TaskStatusPending, Percent: 30, Data: []string{}}
	if err := s.ApplyAggregate(ctx, "task-1", older, base.Add(2*time.Minute)); !errors.Is(err, store.ErrStaleUpdate) {
		t.Errorf("status regression err = %v, want ErrStaleUpdate", err)
	}
	lower := models.TaskUpdate{Status: models.TaskStatusInProgress, Percent: 10, Data: []string{}}
	if err := s.ApplyAggregate(ctx, "task-1", lower, base.Add(2*time.Minute)); !errors.Is(err, store.ErrStaleUpdate) {
		t.Errorf("percent regression err = %v, want ErrStaleUpdate", err)
	}

	ready := models.TaskUpdate{Status: models.TaskStatusReady, Percent: 60, Data: []string{"password"}}
	finishedAt := base.Add(3 * time.Minute)
	if err := s.ApplyAggregate(ctx, "task-1", ready, finishedAt); err != nil {
		t.Fatalf("ApplyAggregate(READY): %v", err)
	}
	reason := "late failure"
	failed := models.TaskUpdate{Status: models.TaskStatusError, Percent: 100, Data: []string{}, Reason: &reason}
	if err := s.ApplyAggregate(ctx, "task-1", failed, base.Add(4*time.Minute)); !errors.Is(err, store.ErrStaleUpdate) {
		t.Errorf("update after terminal err = %v, want ErrStaleUpdate", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskStatusReady || got.Percent != 60 {
		t.Errorf("task = %s %.0f%%, want READY 60%%", got.Status, got.Percent)
	}
	if len(got.Data) != 1 || got.Data[0] != "password" {
		t.Errorf("Data = %v, want [password]", got.Data)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finishedAt)
	}
	if got.Reason != nil {
		t.Errorf("Reason = %q, want nil", *got.Reason)
	}

	if err := s.ApplyAggregate(ctx, "missing", ready, base); !errors.Is(err, store.ErrTaskNotFound) {
		t.Errorf("ApplyAggregate(missing) err = %v, want ErrTaskNotFound", err)
	}
}

func testListTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreate(t, s, fmt.Sprintf("task-%d", i), 1, base.Add(time.Duration(i)*time.Minute))
	}

	page, count, err := s.ListTasks(ctx, 2, 1)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
	if len(page) != 2 || page[0].ID != "task-3" || page[1].ID != "task-2" {
		ids := make([]string, len(page))
		for i, task := range page {
			ids[i] = task.ID
		}
		t.Errorf("page = %v, want [task-3 task-2]", ids)
	}

	page, _, err = s.ListTasks(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(page) != 1 || page[0].ID != "task-0" {
		t.Errorf("last page = %d items, want [task-0]", len(page))
	}

	page, _, err = s.ListTasks(ctx, 10, 10)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("page past the end = %d items, want 0", len(page))
	}
}

func testFindActiveTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "old", 1, base)
	mustCreate(t, s, "new", 1, base.Add(time.Minute))

	reason := "boom"
	failed := models.TaskUpdate{Status: models.TaskStatusError, Data: []string{}, Reason: &reason}
	if err := s.ApplyAggregate(ctx, "new", failed, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("ApplyAggregate: %v", err)
	}

	got, err := s.FindActiveTask(ctx, "5f4dcc3b5aa765d61d8327deb882cf99", 4)
	if err != nil {
		t.Fatalf("FindActiveTask: %v", err)
	}
	if got.ID != "old" {
		t.Errorf("FindActiveTask = %s, want old (new is ERROR)", got.ID)
	}
	if _, err := s.FindActiveTask(ctx, "5f4dcc3b5aa765d61d8327deb882cf99", 5); !errors.Is(err, store.ErrTaskNotFound) {
		t.Errorf("FindActiveTask(maxLength 5) err = %v, want ErrTaskNotFound", err)
	}
}

func testListUnfinishedTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "a", 1, base)
	mustCreate(t, s, "b", 1, base.Add(time.Minute))
	mustCreate(t, s, "c", 1, base.Add(2*time.Minute))

	ready := models.TaskUpdate{Status: models.TaskStatusReady, Percent: 100, Data: []string{}}
	if err := s.ApplyAggregate(ctx, "b", ready, base.Add(3*time.Minute)); err != nil {
		t.Fatalf("ApplyAggregate: %v", err)
	}

	got, err := s.ListUnfinishedTasks(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnfinishedTasks: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("ListUnfinishedTasks = %d tasks, want [a c]", len(got))
	}

	got, err = s.ListUnfinishedTasks(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnfinishedTasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("ListUnfinishedTasks(1) = %d tasks, want [a]", len(got))
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "task-1", 3, base)
	mustCreate(t, s, "task-2", 1, base)

	if err := s.DeleteSubtasks(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteSubtasks: %v", err)
	}
	if err := s.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask(ctx, "task-1"); !errors.Is(err, store.ErrTaskNotFound) {
		t.Errorf("GetTask after delete err = %v, want ErrTaskNotFound", err)
	}
	if _, err := s.ListSubtasks(ctx, "task-1"); !errors.Is(err, store.ErrSubtaskNotFound) {
		t.Errorf("ListSubtasks after delete err = %v, want ErrSubtaskNotFound", err)
	}
	if _, err := s.ListSubtasks(ctx, "task-2"); err != nil {
		t.Errorf("sibling task subtasks lost: %v", err)
	}
}
