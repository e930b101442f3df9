package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/store"
	"github.com/ptrvsrg/crack-hash/internal/store/memstore"
)

const passwordHash = "5f4dcc3b5aa765d61d8327deb882cf99"

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// tickingClock возвращает строго возрастающее время, чтобы порядок записей был наблюдаем.
func tickingClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func newTestService(t *testing.T, st store.Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(tickingClock())}, opts...)
	return New(st, Config{}, opts...)
}

func mustCreate(t *testing.T, s *Service, parts int) string {
	t.Helper()
	id, err := s.CreateTask(context.Background(), passwordHash, 4, parts)
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	return id
}

func report(t *testing.T, s *Service, id string, part int, status models.SubtaskStatus, percent float64, data ...string) {
	t.Helper()
	p := models.Progress{Status: status, Percent: percent, Data: data}
	if status == models.SubtaskStatusError {
		p.Reason = fmt.Sprintf("part %d failed", part)
	}
	if err := s.ReportSubtaskProgress(context.Background(), id, part, p); err != nil {
		t.Fatalf("ReportSubtaskProgress(%d, %s, %v) error: %v", part, status, percent, err)
	}
}

func mustStatus(t *testing.T, s *Service, id string) *StatusView {
	t.Helper()
	view, err := s.GetTaskStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTaskStatus() error: %v", err)
	}
	return view
}

// ─── Сценарии ───────────────────────────────────────────────────────────────

func TestScenarioA_CreateTask(t *testing.T) {
	st := memstore.New()
	s := newTestService(t, st)
	id := mustCreate(t, s, 4)

	subtasks, err := st.ListSubtasks(context.Background(), id)
	if err != nil {
		t.Fatalf("ListSubtasks() error: %v", err)
	}
	if len(subtasks) != 4 {
		t.Fatalf("subtasks = %d, want 4", len(subtasks))
	}
	for i, sub := range subtasks {
		if sub.PartNumber != i || sub.Status != models.SubtaskStatusPending {
			t.Errorf("subtask %d = part %d %s", i, sub.PartNumber, sub.Status)
		}
		if i > 0 && sub.RangeStart != subtasks[i-1].RangeEnd {
			t.Errorf("part %d starts at %d, previous ends at %d", i, sub.RangeStart, subtasks[i-1].RangeEnd)
		}
	}

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusPending || view.Percent != 0 || len(view.Data) != 0 {
		t.Errorf("status = %s %.0f%% %v, want PENDING 0%% []", view.Status, view.Percent, view.Data)
	}
	if len(view.Subtasks) != 4 {
		t.Errorf("view subtasks = %d, want 4", len(view.Subtasks))
	}
}

func TestScenarioB_MatchShortCircuits(t *testing.T) {
	s := newTestService(t, memstore.New())
	id := mustCreate(t, s, 4)

	for _, part := range []int{0, 1, 3} {
		report(t, s, id, part, models.SubtaskStatusInProgress, 40)
	}
	report(t, s, id, 2, models.SubtaskStatusSuccess, 100, "password")

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusReady {
		t.Errorf("Status = %s, want READY", view.Status)
	}
	if !reflect.DeepEqual(view.Data, []string{"password"}) {
		t.Errorf("Data = %v, want [password]", view.Data)
	}
	if view.Percent != 55 {
		t.Errorf("Percent = %v, want 55", view.Percent)
	}
	if view.FinishedAt == nil {
		t.Error("FinishedAt is nil")
	}
}

func TestScenarioC_ExhaustiveSearch(t *testing.T) {
	s := newTestService(t, memstore.New())
	id := mustCreate(t, s, 4)

	for part := 0; part < 4; part++ {
		report(t, s, id, part, models.SubtaskStatusSuccess, 100)
	}

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusReady || len(view.Data) != 0 || view.Percent != 100 {
		t.Errorf("status = %s %v %.0f%%, want READY [] 100%%", view.Status, view.Data, view.Percent)
	}
}

func TestScenarioD_ErrorsExhaustCapacity(t *testing.T) {
	s := newTestService(t, memstore.New())
	id := mustCreate(t, s, 4)

	report(t, s, id, 0, models.SubtaskStatusError, 30)
	report(t, s, id, 1, models.SubtaskStatusError, 70)
	report(t, s, id, 2, models.SubtaskStatusSuccess, 100)

	if view := mustStatus(t, s, id); view.Status != models.TaskStatusPartialReady {
		t.Errorf("before last part Status = %s, want PARTIAL_READY", view.Status)
	}

	report(t, s, id, 3, models.SubtaskStatusSuccess, 100)

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusError {
		t.Fatalf("Status = %s, want ERROR", view.Status)
	}
	if view.Reason == nil || *view.Reason != "part 0 failed; part 1 failed" {
		t.Errorf("Reason = %v", view.Reason)
	}
}

func TestScenarioE_PartOutOfRange(t *testing.T) {
	s := newTestService(t, memstore.New())
	id := mustCreate(t, s, 4)

	p := models.Progress{Status: models.SubtaskStatusInProgress, Percent: 10}
	for _, part := range []int{5, 4, -1} {
		if err := s.ReportSubtaskProgress(context.Background(), id, part, p); !errors.Is(err, ErrNotFound) {
			t.Errorf("part %d err = %v, want ErrNotFound", part, err)
		}
	}
	if err := s.ReportSubtaskProgress(context.Background(), "missing", 0, p); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown task err = %v, want ErrNotFound", err)
	}
}

// ─── Свойства ───────────────────────────────────────────────────────────────

func TestReportSubtaskProgress_StaleIsSilent(t *testing.T) {
	st := memstore.New()
	s := newTestService(t, st)
	id := mustCreate(t, s, 2)

	report(t, s, id, 0, models.SubtaskStatusInProgress, 50)
	before, _ := st.ListSubtasks(context.Background(), id)

	report(t, s, id, 0, models.SubtaskStatusInProgress, 50)
	report(t, s, id, 0, models.SubtaskStatusInProgress, 20)
	report(t, s, id, 0, models.SubtaskStatusPending, 60)

	after, _ := st.ListSubtasks(context.Background(), id)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("stale reports changed state:\nbefore %+v\nafter  %+v", before[0], after[0])
	}
}

func TestReportSubtaskProgress_Invalid(t *testing.T) {
	s := newTestService(t, memstore.New())
	id := mustCreate(t, s, 2)

	invalid := []models.Progress{
		{Status: models.SubtaskStatusInProgress, Percent: 101},
		{Status: models.SubtaskStatusInProgress, Percent: -1},
		{Status: models.SubtaskStatusSuccess, Percent: 99},
		{Status: models.SubtaskStatusError, Percent: 10},
		{Status: models.SubtaskStatusUnknown, Percent: 10},
	}
	for _, p := range invalid {
		if err := s.ReportSubtaskProgress(context.Background(), id, 0, p); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ReportSubtaskProgress(%+v) err = %v, want ErrInvalidArgument", p, err)
		}
	}
}

func TestReportSubtaskProgress_TerminalIsSticky(t *testing.T) {
	st := memstore.New()
	s := newTestService(t, st)
	id := mustCreate(t, s, 3)

	report(t, s, id, 1, models.SubtaskStatusSuccess, 100, "abc")
	first := mustStatus(t, s, id)

	report(t, s, id, 0, models.SubtaskStatusError, 10)
	report(t, s, id, 2, models.SubtaskStatusSuccess, 100, "zzz")

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusReady || !reflect.DeepEqual(view.Data, []string{"abc"}) {
		t.Errorf("after late reports = %s %v, want READY [abc]", view.Status, view.Data)
	}
	if !view.FinishedAt.Equal(*first.FinishedAt) {
		t.Errorf("FinishedAt moved from %v to %v", first.FinishedAt, view.FinishedAt)
	}

	// поздние отчёты сохранены в подзадачах
	subtasks, _ := st.ListSubtasks(context.Background(), id)
	if subtasks[2].Status != models.SubtaskStatusSuccess || subtasks[0].Status != models.SubtaskStatusError {
		t.Errorf("late subtask reports not recorded: %s %s", subtasks[0].Status, subtasks[2].Status)
	}
}

func TestReportSubtaskProgress_ErrorWithoutPercent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	s := newTestService(t, st)
	id := mustCreate(t, s, 2)

	report(t, s, id, 0, models.SubtaskStatusInProgress, 40)
	report(t, s, id, 1, models.SubtaskStatusSuccess, 100)

	var msg models.ResultMessage
	body := `{"requestId":"` + id + `","partNumber":0,"status":"ERROR","error":"worker crashed"}`
	if err := models.UnmarshalResultMessage([]byte(body), &msg); err != nil {
		t.Fatalf("UnmarshalResultMessage() error: %v", err)
	}
	if err := s.ReportSubtaskProgress(ctx, id, msg.PartNumber, msg.Progress()); err != nil {
		t.Fatalf("ReportSubtaskProgress() error: %v", err)
	}

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusError {
		t.Errorf("task status = %s, want ERROR", view.Status)
	}
	if sub := view.Subtasks[0]; sub.Status != models.SubtaskStatusError || sub.Percent != 40 {
		t.Errorf("part 0 = %s %.0f%%, want ERROR 40%%", sub.Status, sub.Percent)
	}
	task, _ := st.GetTask(ctx, id)
	if task.Status != models.TaskStatusError || task.Reason == nil || *task.Reason != "worker crashed" {
		t.Errorf("stored task = %s %v, want ERROR with reason", task.Status, task.Reason)
	}
}

func TestReportSubtaskProgress_Concurrent(t *testing.T) {
	st := memstore.New()
	s := newTestService(t, st)
	id := mustCreate(t, s, 4)

	var wg sync.WaitGroup
	for part := 0; part < 4; part++ {
		for step := 1; step <= 10; step++ {
			wg.Add(1)
			go func(part, step int) {
				defer wg.Done()
				p := models.Progress{Status: models.SubtaskStatusInProgress, Percent: float64(step * 9)}
				if step == 10 {
					p = models.Progress{Status: models.SubtaskStatusSuccess, Percent: 100}
				}
				if err := s.ReportSubtaskProgress(context.Background(), id, part, p); err != nil {
					t.Errorf("ReportSubtaskProgress(%d, %d) error: %v", part, step, err)
				}
			}(part, step)
		}
	}
	wg.Wait()

	task, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if task.Status != models.TaskStatusReady || task.Percent != 100 {
		t.Errorf("task = %s %.0f%%, want READY 100%%", task.Status, task.Percent)
	}
}

func TestGetTaskStatus_RecomputesStaleCache(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	s := newTestService(t, st)
	id := mustCreate(t, s, 2)

	// запись мимо оркестратора: агрегат задачи не пересчитан
	p := models.Progress{Status: models.SubtaskStatusInProgress, Percent: 30}
	if err := st.ReportProgress(ctx, id, 1, p, base.Add(time.Hour)); err != nil {
		t.Fatalf("ReportProgress() error: %v", err)
	}

	view := mustStatus(t, s, id)
	if view.Status != models.TaskStatusInProgress || view.Percent != 15 {
		t.Errorf("view = %s %.0f%%, want IN_PROGRESS 15%%", view.Status, view.Percent)
	}
	task, _ := st.GetTask(ctx, id)
	if task.Status != models.TaskStatusInProgress || task.Percent != 15 {
		t.Errorf("cached task = %s %.0f%%, want write-back IN_PROGRESS 15%%", task.Status, task.Percent)
	}
}

type countingAggregates struct {
	*memstore.Store
	calls atomic.Int64
}

func (c *countingAggregates) ApplyAggregate(ctx context.Context, id string, update models.TaskUpdate, now time.Time) error {
	c.calls.Add(1)
	return c.Store.ApplyAggregate(ctx, id, update, now)
}

func TestGetTaskStatus_SkipsNoopWriteBack(t *testing.T) {
	st := &countingAggregates{Store: memstore.New()}
	s := newTestService(t, st)
	id := mustCreate(t, s, 2)

	report(t, s, id, 0, models.SubtaskStatusInProgress, 40)
	// ошибка не меняет агрегат: задача остаётся IN_PROGRESS 20%
	report(t, s, id, 0, models.SubtaskStatusError, 40)

	before := st.calls.Load()
	for range 3 {
		view := mustStatus(t, s, id)
		if view.Status != models.TaskStatusInProgress || view.Percent != 20 {
			t.Fatalf("view = %s %.0f%%, want IN_PROGRESS 20%%", view.Status, view.Percent)
		}
	}
	if got := st.calls.Load() - before; got != 0 {
		t.Errorf("ApplyAggregate calls on read = %d, want 0", got)
	}
}

func TestGetTaskStatus_NotFound(t *testing.T) {
	s := newTestService(t, memstore.New())
	if _, err := s.GetTaskStatus(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ─── Создание ───────────────────────────────────────────────────────────────

func TestCreateTask_InvalidArguments(t *testing.T) {
	s := newTestService(t, memstore.New())
	tests := []struct {
		name      string
		hash      string
		maxLength int
		partCount int
	}{
		{"empty hash", "", 4, 4},
		{"not hex", "zzzzcc3b5aa765d61d8327deb882cf99", 4, 4},
		{"short hash", "5f4dcc3b", 4, 4},
		{"zero max length", passwordHash, 0, 4},
		{"max length too large", passwordHash, 8, 4},
		{"zero parts", passwordHash, 4, 0},
		{"more parts than candidates", passwordHash, 1, 37},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateTask(context.Background(), tt.hash, tt.maxLength, tt.partCount)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCreateTask_NormalizesHash(t *testing.T) {
	st := memstore.New()
	s := newTestService(t, st)
	id, err := s.CreateTask(context.Background(), "  5F4DCC3B5AA765D61D8327DEB882CF99 ", 4, 1)
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	task, _ := st.GetTask(context.Background(), id)
	if task.Hash != passwordHash {
		t.Errorf("Hash = %q, want %q", task.Hash, passwordHash)
	}
}

func TestCreateTask_ReuseActive(t *testing.T) {
	st := memstore.New()
	s := New(st, Config{ReuseActive: true}, WithClock(tickingClock()))

	first := mustCreate(t, s, 2)
	second := mustCreate(t, s, 2)
	if first != second {
		t.Errorf("reuse returned %s, want %s", second, first)
	}

	report(t, s, first, 0, models.SubtaskStatusError, 10)
	report(t, s, first, 1, models.SubtaskStatusError, 10)
	third := mustCreate(t, s, 2)
	if third == first {
		t.Error("task in ERROR must not be reused")
	}
}

type failingSubtasks struct {
	*memstore.Store
	err error
}

func (f failingSubtasks) CreateSubtasks(context.Context, []*models.Subtask) error {
	return f.err
}

func TestCreateTask_RollsBackOnSubtaskFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"store failure", errors.New("connection reset"), ErrInternal},
		{"duplicate parts", store.ErrSubtaskExists, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := failingSubtasks{Store: memstore.New(), err: tt.err}
			s := New(st, Config{}, WithIDGenerator(func() string { return "fixed" }))

			if _, err := s.CreateTask(context.Background(), passwordHash, 4, 4); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if _, err := st.GetTask(context.Background(), "fixed"); !errors.Is(err, store.ErrTaskNotFound) {
				t.Errorf("task left behind after rollback: %v", err)
			}
		})
	}
}

type recordingDispatcher struct {
	mu       sync.Mutex
	subtasks int
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ *models.Task, subtasks []*models.Subtask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.subtasks += len(subtasks)
	return nil
}

func TestCreateTask_Dispatch(t *testing.T) {
	st := memstore.New()
	d := &recordingDispatcher{}
	s := newTestService(t, st, WithDispatcher(d))
	mustCreate(t, s, 3)
	if d.subtasks != 3 {
		t.Errorf("dispatched %d subtasks, want 3", d.subtasks)
	}

	d.err = errors.New("channel closed")
	s = newTestService(t, st, WithDispatcher(d), WithIDGenerator(func() string { return "lost" }))
	if _, err := s.CreateTask(context.Background(), passwordHash, 4, 2); !errors.Is(err, ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	if _, err := st.GetTask(context.Background(), "lost"); !errors.Is(err, store.ErrTaskNotFound) {
		t.Errorf("undispatched task left behind: %v", err)
	}
}

func TestSplitCount(t *testing.T) {
	s := New(memstore.New(), Config{Alphabet: "ab", MaxWordsPerPart: 4})
	// "ab" до длины 3: 2 + 4 + 8 = 14 кандидатов, по 4 на часть
	n, err := s.SplitCount(3)
	if err != nil {
		t.Fatalf("SplitCount() error: %v", err)
	}
	if n != 4 {
		t.Errorf("SplitCount(3) = %d, want 4", n)
	}
	if _, err := s.SplitCount(0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SplitCount(0) err = %v, want ErrInvalidArgument", err)
	}
}

// ─── Список и сверка ────────────────────────────────────────────────────────

func TestListTasks(t *testing.T) {
	s := newTestService(t, memstore.New())
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = mustCreate(t, s, 1)
	}

	page, err := s.ListTasks(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListTasks() error: %v", err)
	}
	if page.Count != 3 || len(page.Tasks) != 3 {
		t.Fatalf("page = %d of %d, want 3 of 3", len(page.Tasks), page.Count)
	}
	if page.Tasks[0].ID != ids[2] {
		t.Errorf("first task = %s, want newest %s", page.Tasks[0].ID, ids[2])
	}

	if _, err := s.ListTasks(context.Background(), -1, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative limit err = %v, want ErrInvalidArgument", err)
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	s := newTestService(t, st)
	done := mustCreate(t, s, 1)
	pending := mustCreate(t, s, 2)

	report(t, s, done, 0, models.SubtaskStatusSuccess, 100, "abc")

	// отчёт записан, но агрегат задачи потерян
	p := models.Progress{Status: models.SubtaskStatusSuccess, Percent: 100, Data: []string{"xyz"}}
	if err := st.ReportProgress(ctx, pending, 1, p, base.Add(time.Hour)); err != nil {
		t.Fatalf("ReportProgress() error: %v", err)
	}

	updated, err := s.Reconcile(ctx, 10)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
	task, _ := st.GetTask(ctx, pending)
	if task.Status != models.TaskStatusReady || !reflect.DeepEqual(task.Data, []string{"xyz"}) {
		t.Errorf("reconciled task = %s %v, want READY [xyz]", task.Status, task.Data)
	}

	updated, err = s.Reconcile(ctx, 10)
	if err != nil || updated != 0 {
		t.Errorf("second Reconcile() = %d, %v; want 0, nil", updated, err)
	}
}
