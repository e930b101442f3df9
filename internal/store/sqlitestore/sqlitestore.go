// Package sqlitestore – хранилище задач в SQLite для запуска менеджера на одном узле без MongoDB.
// Условные обновления выражены через WHERE: отклонённая запись не меняет ни одной строки.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/store"
)

// Store реализует store.Store поверх одного соединения SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open открывает (или создаёт) базу по пути path и применяет миграции.
// Путь ":memory:" открывает базу в памяти.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite допускает одного писателя; база в памяти живёт, пока открыто соединение
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS hash_crack_tasks (
			id          TEXT PRIMARY KEY,
			hash        TEXT NOT NULL,
			max_length  INTEGER NOT NULL,
			part_count  INTEGER NOT NULL,
			status      TEXT NOT NULL,
			reason      TEXT,
			percent     REAL NOT NULL DEFAULT 0,
			data        TEXT NOT NULL DEFAULT '[]',
			finished_at INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_hash ON hash_crack_tasks(hash, max_length)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON hash_crack_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON hash_crack_tasks(created_at)`,

		`CREATE TABLE IF NOT EXISTS hash_crack_subtasks (
			id          TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL,
			part_number INTEGER NOT NULL,
			range_start INTEGER NOT NULL,
			range_end   INTEGER NOT NULL,
			data        TEXT NOT NULL DEFAULT '[]',
			percent     REAL NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			reason      TEXT,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			UNIQUE (task_id, part_number)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// ─── Задачи ─────────────────────────────────────────────────────────────────

const taskColumns = `id, hash, max_length, part_count, status, reason, percent, data, finished_at, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	data, err := encodeData(task.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hash_crack_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Hash, task.MaxLength, task.PartCount, string(task.Status), nullableString(task.Reason),
		task.Percent, data, nullableTime(task.FinishedAt), task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano(),
	)
	if isConstraint(err) {
		return store.ErrTaskExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM hash_crack_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	return task, err
}

func (s *Store) FindActiveTask(ctx context.Context, hash string, maxLength int) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM hash_crack_tasks
		 WHERE hash = ? AND max_length = ? AND status != ?
		 ORDER BY created_at DESC LIMIT 1`,
		hash, maxLength, string(models.TaskStatusError),
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	return task, err
}

func (s *Store) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hash_crack_tasks`).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	tasks, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM hash_crack_tasks ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	return tasks, count, err
}

func (s *Store) ListUnfinishedTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM hash_crack_tasks WHERE status NOT IN (?, ?) ORDER BY created_at LIMIT ?`,
		string(models.TaskStatusReady), string(models.TaskStatusError), limit,
	)
}

func (s *Store) ApplyAggregate(ctx context.Context, id string, update models.TaskUpdate, now time.Time) error {
	data, err := encodeData(update.Data)
	if err != nil {
		return err
	}
	var finishedAt any
	if update.Terminal() {
		finishedAt = now.UnixNano()
	}

	statuses := models.TaskStatusesBlocking(update.Status)
	query := `UPDATE hash_crack_tasks
		SET status = ?, percent = ?, data = ?, reason = ?, updated_at = ?, finished_at = COALESCE(finished_at, ?)
		WHERE id = ? AND status NOT IN (` + placeholders(len(statuses)) + `) AND percent <= ?
		  AND NOT (status = ? AND percent = ?)`
	args := []any{string(update.Status), update.Percent, data, nullableString(update.Reason), now.UnixNano(), finishedAt, id}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, update.Percent, string(update.Status), update.Percent)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return s.checkUpdated(ctx, res, `SELECT 1 FROM hash_crack_tasks WHERE id = ?`, store.ErrTaskNotFound, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hash_crack_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ─── Подзадачи ──────────────────────────────────────────────────────────────

const subtaskColumns = `id, task_id, part_number, range_start, range_end, data, percent, status, reason, created_at, updated_at`

func (s *Store) CreateSubtasks(ctx context.Context, subtasks []*models.Subtask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hash_crack_subtasks (`+subtaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sub := range subtasks {
		data, err := encodeData(sub.Data)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			sub.ID, sub.TaskID, sub.PartNumber, sub.RangeStart, sub.RangeEnd, data, sub.Percent,
			string(sub.Status), nullableString(sub.Reason), sub.CreatedAt.UnixNano(), sub.UpdatedAt.UnixNano(),
		)
		if isConstraint(err) {
			return store.ErrSubtaskExists
		}
		if err != nil {
			return fmt.Errorf("insert subtask %d: %w", sub.PartNumber, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ReportProgress(ctx context.Context, taskID string, partNumber int, progress models.Progress, now time.Time) error {
	var data, reason any
	if progress.Data != nil {
		encoded, err := encodeData(progress.Data)
		if err != nil {
			return err
		}
		data = encoded
	}
	if progress.Reason != "" {
		reason = progress.Reason
	}

	blocking := models.SubtaskStatusesBlocking(progress.Status, false)
	query := `UPDATE hash_crack_subtasks
		SET percent = MAX(percent, ?), status = ?, data = COALESCE(?, data), reason = COALESCE(?, reason), updated_at = ?
		WHERE task_id = ? AND part_number = ? AND status NOT IN (` + placeholders(len(blocking)) + `)`
	args := []any{progress.Percent, string(progress.Status), data, reason, now.UnixNano(), taskID, partNumber}
	for _, st := range blocking {
		args = append(args, string(st))
	}
	// терминальный отчёт не зависит от процента
	if !progress.Status.Terminal() {
		equal := models.SubtaskStatusesBlocking(progress.Status, true)
		query += ` AND (percent < ? OR (percent = ? AND status NOT IN (` + placeholders(len(equal)) + `)))`
		args = append(args, progress.Percent, progress.Percent)
		for _, st := range equal {
			args = append(args, string(st))
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	return s.checkUpdated(ctx, res,
		`SELECT 1 FROM hash_crack_subtasks WHERE task_id = ? AND part_number = ?`,
		store.ErrSubtaskNotFound, taskID, partNumber,
	)
}

func (s *Store) ListSubtasks(ctx context.Context, taskID string) ([]*models.Subtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subtaskColumns+` FROM hash_crack_subtasks WHERE task_id = ? ORDER BY part_number`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	subtasks := make([]*models.Subtask, 0)
	for rows.Next() {
		sub, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subtasks) == 0 {
		return nil, store.ErrSubtaskNotFound
	}
	return subtasks, nil
}

func (s *Store) DeleteSubtasks(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hash_crack_subtasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete subtasks: %w", err)
	}
	return nil
}

// GetTaskWithSubtasks читает задачу и её подзадачи в одной транзакции.
func (s *Store) GetTaskWithSubtasks(ctx context.Context, id string) (*models.TaskWithSubtasks, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM hash_crack_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+subtaskColumns+` FROM hash_crack_subtasks WHERE task_id = ? ORDER BY part_number`, id)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	res := &models.TaskWithSubtasks{Task: *task, Subtasks: make([]*models.Subtask, 0, task.PartCount)}
	for rows.Next() {
		sub, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		res.Subtasks = append(res.Subtasks, sub)
	}
	return res, rows.Err()
}

// ─── Вспомогательные функции ────────────────────────────────────────────────

// checkUpdated различает отклонённую условием запись (ErrStaleUpdate) и отсутствующую строку.
func (s *Store) checkUpdated(ctx context.Context, res sql.Result, existsQuery string, notFound error, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	return store.ErrStaleUpdate
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		task       models.Task
		status     string
		reason     sql.NullString
		data       string
		finishedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&task.ID, &task.Hash, &task.MaxLength, &task.PartCount, &status, &reason,
		&task.Percent, &data, &finishedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	task.Status = models.ParseTaskStatus(status)
	if reason.Valid {
		task.Reason = &reason.String
	}
	if task.Data, err = decodeData(data); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := fromUnixNano(finishedAt.Int64)
		task.FinishedAt = &t
	}
	task.CreatedAt = fromUnixNano(createdAt)
	task.UpdatedAt = fromUnixNano(updatedAt)
	return &task, nil
}

func scanSubtask(row scanner) (*models.Subtask, error) {
	var (
		sub       models.Subtask
		status    string
		reason    sql.NullString
		data      string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&sub.ID, &sub.TaskID, &sub.PartNumber, &sub.RangeStart, &sub.RangeEnd, &data,
		&sub.Percent, &status, &reason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = models.ParseSubtaskStatus(status)
	if reason.Valid {
		sub.Reason = &reason.String
	}
	if sub.Data, err = decodeData(data); err != nil {
		return nil, err
	}
	sub.CreatedAt = fromUnixNano(createdAt)
	sub.UpdatedAt = fromUnixNano(updatedAt)
	return &sub, nil
}

func encodeData(data []string) (string, error) {
	if data == nil {
		data = []string{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode data: %w", err)
	}
	return string(b), nil
}

func decodeData(s string) ([]string, error) {
	data := make([]string, 0)
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return data, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
