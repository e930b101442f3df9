// Package orchestrator связывает разбиение, хранилище и агрегатор в операции менеджера:
// создание задачи, приём отчётов воркеров, чтение статуса, список задач и сверку.
//
// Блокировок на задачу нет: каждая запись подзадачи – одно условное обновление, а пересчёт
// агрегата можно повторять сколько угодно раз, он только продвигает задачу вперёд.
package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ptrvsrg/crack-hash/internal/aggregator"
	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/metrics"
	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/partition"
	"github.com/ptrvsrg/crack-hash/internal/store"
)

const component = "Orchestrator"

// Источники пересчёта агрегата (метка метрики AggregateWrites).
const (
	triggerReport = "report"
	triggerRead   = "read"
	triggerSweep  = "sweep"
)

// Dispatcher доставляет созданные подзадачи воркерам.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.Task, subtasks []*models.Subtask) error
}

// Config – параметры разбиения и повторного использования задач.
type Config struct {
	Alphabet        string
	MaxWordsPerPart uint64
	// ReuseActive: повторный запрос с тем же (hash, maxLength) получает существующую задачу, если она не в ERROR.
	ReuseActive bool
}

// Option настраивает Service.
type Option func(*Service)

// WithDispatcher задаёт доставку подзадач; без него задачи только сохраняются.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов задач и подзадач.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service – оркестратор задач.
type Service struct {
	store      store.Store
	cfg        Config
	dispatcher Dispatcher
	now        func() time.Time
	newID      func() string
}

func New(st store.Store, cfg Config, opts ...Option) *Service {
	if cfg.Alphabet == "" {
		cfg.Alphabet = constants.Alphabet
	}
	if cfg.MaxWordsPerPart == 0 {
		cfg.MaxWordsPerPart = constants.MaxCandidatesPerSubTask
	}
	s := &Service{
		store: st,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubtaskSummary – состояние подзадачи для отображения клиенту.
type SubtaskSummary struct {
	PartNumber int
	Status     models.SubtaskStatus
	Data       []string
	Percent    float64
}

// StatusView – текущее состояние задачи вместе с подзадачами.
type StatusView struct {
	ID         string
	Hash       string
	MaxLength  int
	PartCount  int
	Status     models.TaskStatus
	Data       []string
	Percent    float64
	Reason     *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	Subtasks   []SubtaskSummary
}

// TaskPage – страница метаданных задач и общее их количество.
type TaskPage struct {
	Count int64
	Tasks []*models.Task
}

// SplitCount возвращает число подзадач по умолчанию: не более MaxWordsPerPart кандидатов на часть.
func (s *Service) SplitCount(maxLength int) (int, error) {
	if err := validateMaxLength(maxLength); err != nil {
		return 0, err
	}
	n, err := partition.PartCount(len(s.cfg.Alphabet), maxLength, s.cfg.MaxWordsPerPart)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// CreateTask разбивает пространство поиска на partCount частей, сохраняет задачу и подзадачи
// и передаёт подзадачи воркерам. При любой ошибке после записи задачи созданное удаляется.
func (s *Service) CreateTask(ctx context.Context, hash string, maxLength, partCount int) (string, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if err := validateHash(hash); err != nil {
		return "", err
	}
	if err := validateMaxLength(maxLength); err != nil {
		return "", err
	}
	if partCount < 1 || partCount > constants.MaxPartCount {
		return "", fmt.Errorf("%w: part count must be within [1, %d], got %d", ErrInvalidArgument, constants.MaxPartCount, partCount)
	}

	if s.cfg.ReuseActive {
		existing, err := s.store.FindActiveTask(ctx, hash, maxLength)
		switch {
		case err == nil:
			metrics.TasksReused.Inc()
			logger.LogHash(component, hash, fmt.Sprintf("Найдена активная задача %s", existing.ID))
			return existing.ID, nil
		case !errors.Is(err, store.ErrTaskNotFound):
			return "", classify(err)
		}
	}

	parts, err := partition.Split(s.cfg.Alphabet, maxLength, partCount)
	if err != nil {
		return "", classify(err)
	}

	now := s.now()
	task := &models.Task{
		ID:        s.newID(),
		Hash:      hash,
		MaxLength: maxLength,
		PartCount: partCount,
		Status:    models.TaskStatusPending,
		Data:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	subtasks := make([]*models.Subtask, len(parts))
	for i, p := range parts {
		subtasks[i] = &models.Subtask{
			ID:         s.newID(),
			TaskID:     task.ID,
			PartNumber: p.PartNumber,
			RangeStart: p.Start,
			RangeEnd:   p.End,
			Data:       []string{},
			Status:     models.SubtaskStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return "", classify(err)
	}
	if err := s.store.CreateSubtasks(ctx, subtasks); err != nil {
		s.rollback(task)
		if errors.Is(err, store.ErrSubtaskExists) {
			return "", classify(err)
		}
		return "", fmt.Errorf("%w: create subtasks: %w", ErrInternal, err)
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, task, subtasks); err != nil {
			s.rollback(task)
			return "", fmt.Errorf("%w: dispatch subtasks: %w", ErrInternal, err)
		}
	}

	metrics.TasksCreated.Inc()
	metrics.SubtasksCreated.Add(float64(len(subtasks)))
	logger.LogHash(component, hash, fmt.Sprintf("Создана задача %s: maxLength=%d, подзадач=%d", task.ID, maxLength, partCount))
	return task.ID, nil
}

// rollback удаляет частично созданную задачу. Контекст запроса мог быть отменён, поэтому используется свой.
func (s *Service) rollback(task *models.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ContextTimeout)
	defer cancel()

	if err := s.store.DeleteSubtasks(ctx, task.ID); err != nil {
		logger.LogHash(component, task.Hash, fmt.Sprintf("Ошибка удаления подзадач %s: %v", task.ID, err))
	}
	if err := s.store.DeleteTask(ctx, task.ID); err != nil {
		logger.LogHash(component, task.Hash, fmt.Sprintf("Ошибка удаления задачи %s: %v", task.ID, err))
	}
}

// ReportSubtaskProgress записывает отчёт воркера и пересчитывает задачу.
// Устаревший или повторный отчёт не является ошибкой. Завершённая задача не меняется,
// но отчёт о подзадаче всё равно сохраняется.
func (s *Service) ReportSubtaskProgress(ctx context.Context, taskID string, partNumber int, progress models.Progress) error {
	if err := progress.Validate(); err != nil {
		metrics.ProgressReports.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return classify(err)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			metrics.ProgressReports.WithLabelValues(metrics.OutcomeNotFound).Inc()
		}
		return classify(err)
	}
	if partNumber < 0 || partNumber >= task.PartCount {
		metrics.ProgressReports.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return fmt.Errorf("%w: part %d of task %s with %d parts", ErrNotFound, partNumber, taskID, task.PartCount)
	}

	err = s.store.ReportProgress(ctx, taskID, partNumber, progress, s.now())
	switch {
	case err == nil:
		metrics.ProgressReports.WithLabelValues(metrics.OutcomeAccepted).Inc()
		logger.LogTask(component, taskID, partNumber, task.PartCount,
			fmt.Sprintf("Прогресс %s %.2f%%", progress.Status, progress.Percent))
	case errors.Is(err, store.ErrStaleUpdate):
		metrics.ProgressReports.WithLabelValues(metrics.OutcomeStale).Inc()
		logger.Debugf(component, "stale report %s part %d: %s %.2f%%", taskID, partNumber, progress.Status, progress.Percent)
	case errors.Is(err, store.ErrSubtaskNotFound):
		metrics.ProgressReports.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return classify(err)
	default:
		metrics.ProgressReports.WithLabelValues(metrics.OutcomeFailed).Inc()
		return classify(err)
	}

	if task.Terminal() {
		return nil
	}
	// пересчёт выполняется и для повторных отчётов: повторная доставка досчитывает агрегат,
	// запись которого могла не пройти в первый раз
	if _, err := s.refresh(ctx, task, triggerReport); err != nil {
		return classify(err)
	}
	return nil
}

// GetTaskStatus возвращает задачу и её подзадачи. Для незавершённой задачи статус вычисляется
// по текущим подзадачам; если кэш задачи старше последнего изменения подзадач, он обновляется.
func (s *Service) GetTaskStatus(ctx context.Context, id string) (*StatusView, error) {
	task, subtasks, err := s.load(ctx, id)
	if err != nil {
		return nil, classify(err)
	}

	view := &StatusView{
		ID:         task.ID,
		Hash:       task.Hash,
		MaxLength:  task.MaxLength,
		PartCount:  task.PartCount,
		Status:     task.Status,
		Data:       append([]string{}, task.Data...),
		Percent:    aggregator.Percent(task.PartCount, subtasks),
		Reason:     task.Reason,
		CreatedAt:  task.CreatedAt,
		UpdatedAt:  task.UpdatedAt,
		FinishedAt: task.FinishedAt,
		Subtasks:   make([]SubtaskSummary, 0, len(subtasks)),
	}
	for _, sub := range subtasks {
		view.Subtasks = append(view.Subtasks, SubtaskSummary{
			PartNumber: sub.PartNumber,
			Status:     sub.Status,
			Data:       append([]string{}, sub.Data...),
			Percent:    sub.Percent,
		})
	}

	if task.Terminal() {
		return view, nil
	}
	update := aggregator.Aggregate(task, subtasks)
	if update.Status != models.TaskStatusUnknown && update.Status.Rank() >= task.Status.Rank() {
		view.Status = update.Status
		view.Data = update.Data
		view.Reason = update.Reason
	}
	if cacheStale(task, subtasks) && update.Advances(task) {
		s.apply(ctx, task, update, triggerRead)
	}
	return view, nil
}

// ListTasks возвращает страницу метаданных задач, новые первыми.
func (s *Service) ListTasks(ctx context.Context, limit, offset int) (*TaskPage, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidArgument)
	}
	if limit == 0 {
		limit = constants.DefaultListLimit
	}
	limit = min(limit, constants.MaxListLimit)

	tasks, count, err := s.store.ListTasks(ctx, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	return &TaskPage{Count: count, Tasks: tasks}, nil
}

// Reconcile пересчитывает до limit незавершённых задач и возвращает число обновлённых.
func (s *Service) Reconcile(ctx context.Context, limit int) (int, error) {
	tasks, err := s.store.ListUnfinishedTasks(ctx, limit)
	if err != nil {
		return 0, classify(err)
	}

	updated := 0
	var errs []error
	for _, task := range tasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		applied, err := s.refresh(ctx, task, triggerSweep)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}
		if applied {
			updated++
		}
	}
	if len(errs) > 0 {
		return updated, fmt.Errorf("%w: %w", ErrInternal, errors.Join(errs...))
	}
	return updated, nil
}

// refresh читает подзадачи, агрегирует и условно записывает результат в задачу.
func (s *Service) refresh(ctx context.Context, task *models.Task, trigger string) (bool, error) {
	subtasks, err := s.store.ListSubtasks(ctx, task.ID)
	if errors.Is(err, store.ErrSubtaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	update := aggregator.Aggregate(task, subtasks)
	if update.Status == models.TaskStatusUnknown {
		return false, nil
	}
	return s.applyErr(ctx, task, update, trigger)
}

// apply – запись агрегата без возврата ошибки; используется на пути чтения.
func (s *Service) apply(ctx context.Context, task *models.Task, update models.TaskUpdate, trigger string) {
	if update.Status == models.TaskStatusUnknown {
		return
	}
	if _, err := s.applyErr(ctx, task, update, trigger); err != nil {
		logger.Logf(component, "Ошибка обновления задачи %s: %v", task.ID, err)
	}
}

func (s *Service) applyErr(ctx context.Context, task *models.Task, update models.TaskUpdate, trigger string) (bool, error) {
	err := s.store.ApplyAggregate(ctx, task.ID, update, s.now())
	switch {
	case err == nil:
		metrics.AggregateWrites.WithLabelValues(trigger, "applied").Inc()
		if update.Terminal() {
			metrics.TasksFinished.WithLabelValues(update.Status.String()).Inc()
			logger.LogHash(component, task.Hash, fmt.Sprintf("Задача %s завершена: %s %v", task.ID, update.Status, update.Data))
		}
		return true, nil
	case errors.Is(err, store.ErrStaleUpdate):
		metrics.AggregateWrites.WithLabelValues(trigger, "stale").Inc()
		return false, nil
	default:
		metrics.AggregateWrites.WithLabelValues(trigger, "failed").Inc()
		return false, err
	}
}

// load читает задачу с подзадачами одним запросом, если хранилище это умеет.
// Отсутствие подзадач не ошибка: задача могла быть прочитана в момент создания.
func (s *Service) load(ctx context.Context, id string) (*models.Task, []*models.Subtask, error) {
	if reader, ok := s.store.(store.TaskWithSubtasksReader); ok {
		res, err := reader.GetTaskWithSubtasks(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		task := res.Task
		return &task, res.Subtasks, nil
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	subtasks, err := s.store.ListSubtasks(ctx, id)
	if errors.Is(err, store.ErrSubtaskNotFound) {
		return task, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return task, subtasks, nil
}

func cacheStale(task *models.Task, subtasks []*models.Subtask) bool {
	for _, sub := range subtasks {
		if sub.UpdatedAt.After(task.UpdatedAt) {
			return true
		}
	}
	return false
}

func validateHash(hash string) error {
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != 16 {
		return fmt.Errorf("%w: hash must be 32 hex characters of an MD5 digest", ErrInvalidArgument)
	}
	return nil
}

func validateMaxLength(maxLength int) error {
	if maxLength < constants.MinMaxLength || maxLength > constants.MaxMaxLength {
		return fmt.Errorf("%w: max length must be within [%d, %d], got %d",
			ErrInvalidArgument, constants.MinMaxLength, constants.MaxMaxLength, maxLength)
	}
	return nil
}
