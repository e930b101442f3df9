// Package mongostore – хранилище задач и подзадач в MongoDB.
//
// Задачи и подзадачи лежат в отдельных коллекциях; условные обновления выполняются одним
// UpdateOne с фильтром по текущему состоянию, поэтому конкурентные записи не теряются.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/store"
)

const component = "MongoStore"

// Store реализует store.Store поверх коллекций hash_crack_tasks и hash_crack_subtasks.
type Store struct {
	client   *mongo.Client
	tasks    *mongo.Collection
	subtasks *mongo.Collection
	view     *mongo.Collection
}

var (
	_ store.Store                  = (*Store)(nil)
	_ store.TaskWithSubtasksReader = (*Store)(nil)
)

// New создаёт хранилище над базой db. Запись и чтение идут с majority-гарантиями,
// чтобы принятое обновление не откатилось при смене primary.
func New(db *mongo.Database) *Store {
	opts := options.Collection().
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())

	return &Store{
		client:   db.Client(),
		tasks:    db.Collection(constants.TasksCollection, opts),
		subtasks: db.Collection(constants.SubtasksCollection, opts),
		view:     db.Collection(constants.TasksWithSubtasksView, opts),
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ─── Задачи ─────────────────────────────────────────────────────────────────

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	logger.Debugf(component, "create task %s", task.ID)

	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrTaskExists
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	logger.Debugf(component, "get task %s", id)

	return s.findTask(ctx, bson.M{"_id": id})
}

func (s *Store) FindActiveTask(ctx context.Context, hash string, maxLength int) (*models.Task, error) {
	logger.Debugf(component, "find active task hash=%s maxLength=%d", hash, maxLength)

	filter := bson.M{
		"hash":      hash,
		"maxLength": maxLength,
		"status":    bson.M{"$ne": models.TaskStatusError},
	}
	return s.findTask(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (s *Store) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, int64, error) {
	logger.Debugf(component, "list tasks limit=%d offset=%d", limit, offset)

	count, err := s.tasks.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	tasks, err := s.findTasks(ctx, bson.M{}, opts)
	return tasks, count, err
}

func (s *Store) ListUnfinishedTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	logger.Debugf(component, "list unfinished tasks limit=%d", limit)

	filter := bson.M{"status": bson.M{"$nin": models.TerminalTaskStatuses()}}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))
	return s.findTasks(ctx, filter, opts)
}

func (s *Store) ApplyAggregate(ctx context.Context, id string, update models.TaskUpdate, now time.Time) error {
	logger.Debugf(component, "apply aggregate %s: %s %.2f%%", id, update.Status, update.Percent)

	filter := bson.M{
		"_id":     id,
		"status":  bson.M{"$nin": models.TaskStatusesBlocking(update.Status)},
		"percent": bson.M{"$lte": update.Percent},
		"$nor":    bson.A{bson.M{"status": update.Status, "percent": update.Percent}},
	}
	data := update.Data
	if data == nil {
		data = []string{}
	}
	set := bson.M{
		"status":    update.Status,
		"percent":   update.Percent,
		"data":      data,
		"updatedAt": now,
	}
	if update.Terminal() {
		set["finishedAt"] = now
	}
	doc := bson.M{"$set": set}
	if update.Reason != nil {
		set["reason"] = *update.Reason
	} else {
		doc["$unset"] = bson.M{"reason": ""}
	}

	res, err := s.tasks.UpdateOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.staleOrMissing(ctx, s.tasks, bson.M{"_id": id}, store.ErrTaskNotFound)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	logger.Debugf(component, "delete task %s", id)

	if _, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// GetTaskWithSubtasks читает задачу из представления hash_crack_tasks_with_subtasks.
func (s *Store) GetTaskWithSubtasks(ctx context.Context, id string) (*models.TaskWithSubtasks, error) {
	logger.Debugf(component, "get task with subtasks %s", id)

	var res models.TaskWithSubtasks
	if err := s.view.FindOne(ctx, bson.M{"_id": id}).Decode(&res); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task with subtasks: %w", err)
	}
	sort.Slice(res.Subtasks, func(i, j int) bool { return res.Subtasks[i].PartNumber < res.Subtasks[j].PartNumber })
	return &res, nil
}

func (s *Store) findTask(ctx context.Context, filter any, opts ...*options.FindOneOptions) (*models.Task, error) {
	var task models.Task
	if err := s.tasks.FindOne(ctx, filter, opts...).Decode(&task); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

func (s *Store) findTasks(ctx context.Context, filter any, opts ...*options.FindOptions) ([]*models.Task, error) {
	cursor, err := s.tasks.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	defer closeCursor(ctx, cursor)

	tasks := make([]*models.Task, 0)
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// ─── Подзадачи ──────────────────────────────────────────────────────────────

// CreateSubtasks вставляет подзадачи упорядоченно; при дубликате уже вставленная часть пакета удаляется.
func (s *Store) CreateSubtasks(ctx context.Context, subtasks []*models.Subtask) error {
	logger.Debugf(component, "create %d subtasks", len(subtasks))

	if len(subtasks) == 0 {
		return nil
	}
	docs := make([]any, len(subtasks))
	for i, sub := range subtasks {
		docs[i] = sub
	}

	_, err := s.subtasks.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert subtasks: %w", err)
	}

	inserted := insertedBefore(err, len(subtasks))
	if inserted > 0 {
		ids := make([]string, 0, inserted)
		for _, sub := range subtasks[:inserted] {
			ids = append(ids, sub.ID)
		}
		if _, delErr := s.subtasks.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); delErr != nil {
			logger.Logf(component, "Ошибка отката вставленных подзадач: %v", delErr)
		}
	}
	return store.ErrSubtaskExists
}

func (s *Store) ReportProgress(ctx context.Context, taskID string, partNumber int, progress models.Progress, now time.Time) error {
	logger.Debugf(component, "report progress %s part %d: %s %.2f%%", taskID, partNumber, progress.Status, progress.Percent)

	filter := bson.M{
		"taskId":     taskID,
		"partNumber": partNumber,
		"status":     bson.M{"$nin": models.SubtaskStatusesBlocking(progress.Status, false)},
	}
	// терминальный отчёт не зависит от процента
	if !progress.Status.Terminal() {
		filter["$or"] = bson.A{
			bson.M{"percent": bson.M{"$lt": progress.Percent}},
			bson.M{
				"percent": progress.Percent,
				"status":  bson.M{"$nin": models.SubtaskStatusesBlocking(progress.Status, true)},
			},
		}
	}
	set := bson.M{
		"status":    progress.Status,
		"updatedAt": now,
	}
	if progress.Data != nil {
		set["data"] = progress.Data
	}
	if progress.Reason != "" {
		set["reason"] = progress.Reason
	}
	// процент не опускается ниже сохранённого
	update := bson.M{"$set": set, "$max": bson.M{"percent": progress.Percent}}

	res, err := s.subtasks.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update subtask: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.staleOrMissing(ctx, s.subtasks, bson.M{"taskId": taskID, "partNumber": partNumber}, store.ErrSubtaskNotFound)
}

func (s *Store) ListSubtasks(ctx context.Context, taskID string) ([]*models.Subtask, error) {
	logger.Debugf(component, "list subtasks %s", taskID)

	opts := options.Find().SetSort(bson.D{{Key: "partNumber", Value: 1}})
	cursor, err := s.subtasks.Find(ctx, bson.M{"taskId": taskID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find subtasks: %w", err)
	}
	defer closeCursor(ctx, cursor)

	subtasks := make([]*models.Subtask, 0)
	if err := cursor.All(ctx, &subtasks); err != nil {
		return nil, fmt.Errorf("failed to decode subtasks: %w", err)
	}
	if len(subtasks) == 0 {
		return nil, store.ErrSubtaskNotFound
	}
	return subtasks, nil
}

func (s *Store) DeleteSubtasks(ctx context.Context, taskID string) error {
	logger.Debugf(component, "delete subtasks %s", taskID)

	if _, err := s.subtasks.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return fmt.Errorf("failed to delete subtasks: %w", err)
	}
	return nil
}

// ─── Вспомогательные функции ────────────────────────────────────────────────

// staleOrMissing вызывается, когда условное обновление не нашло документ:
// документ либо есть, но запись устарела, либо его нет вовсе.
func (s *Store) staleOrMissing(ctx context.Context, coll *mongo.Collection, filter bson.M, notFound error) error {
	n, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return store.ErrStaleUpdate
}

// insertedBefore возвращает число документов упорядоченной вставки, записанных до первой ошибки.
func insertedBefore(err error, total int) int {
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) || len(bulkErr.WriteErrors) == 0 {
		return total
	}
	first := total
	for _, we := range bulkErr.WriteErrors {
		if we.Index < first {
			first = we.Index
		}
	}
	return first
}

func closeCursor(ctx context.Context, cursor *mongo.Cursor) {
	if err := cursor.Close(ctx); err != nil {
		logger.Logf(component, "Ошибка закрытия курсора: %v", err)
	}
}
