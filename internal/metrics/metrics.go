// Package metrics – счётчики Prometheus менеджера.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crack_hash"

// Исходы отчёта о прогрессе подзадачи.
const (
	OutcomeAccepted = "accepted"
	OutcomeStale    = "stale"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// ─── Задачи ─────────────────────────────────────────────────────────────────

// TasksCreated – число созданных задач.
var TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_created_total",
	Help:      "Total crack tasks created.",
})

// TasksReused – число запросов, получивших уже существующую задачу.
var TasksReused = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_reused_total",
	Help:      "Total create requests answered with an existing active task.",
})

// TasksFinished – задачи, перешедшие в терминальный статус.
var TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_finished_total",
	Help:      "Total tasks that reached a terminal status.",
}, []string{"status"})

// SubtasksCreated – число созданных подзадач.
var SubtasksCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "subtasks_created_total",
	Help:      "Total subtasks created.",
})

// ─── Прогресс и агрегация ───────────────────────────────────────────────────

// ProgressReports – отчёты воркеров по исходу обработки.
var ProgressReports = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "progress_reports_total",
	Help:      "Worker progress reports by outcome.",
}, []string{"outcome"})

// AggregateWrites – записи агрегата задачи по источнику (report, read, sweep) и результату.
var AggregateWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "aggregate_writes_total",
	Help:      "Task aggregate write attempts by trigger and result.",
}, []string{"trigger", "result"})

// ─── Очереди ────────────────────────────────────────────────────────────────

// MessagesPublished – сообщения, отправленные в очередь задач.
var MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_published_total",
	Help:      "Subtask messages published to the tasks queue.",
})

// MessagesConsumed – сообщения из очереди результатов по действию (ack, nack).
var MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_consumed_total",
	Help:      "Result messages consumed by acknowledgement action.",
}, []string{"action"})

// SweepDuration – длительность одного прохода сверки.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "sweep_duration_seconds",
	Help:      "Duration of one reconciliation sweep.",
	Buckets:   prometheus.DefBuckets,
})

// WorkerSends – отправки подзадач воркерам по HTTP по результату (ok, retry, failed).
var WorkerSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "worker_sends_total",
	Help:      "Subtask deliveries to HTTP workers by result.",
}, []string{"result"})
