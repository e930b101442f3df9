package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/streadway/amqp"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
)

// ─── Publisher ──────────────────────────────────────────────────────────────

type fakeChannel struct {
	failures  int
	published []amqp.Publishing
	keys      []string
}

func (c *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	if c.failures > 0 {
		c.failures--
		return amqp.ErrClosed
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func testTask() (*models.Task, []*models.Subtask) {
	task := &models.Task{ID: "t1", Hash: "5f4dcc3b5aa765d61d8327deb882cf99", MaxLength: 2, PartCount: 2}
	subtasks := []*models.Subtask{
		{TaskID: "t1", PartNumber: 0, RangeStart: 0, RangeEnd: 3},
		{TaskID: "t1", PartNumber: 1, RangeStart: 3, RangeEnd: 6},
	}
	return task, subtasks
}

func TestPublisher_Dispatch(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, queue: "tasks", alphabet: "ab"}

	task, subtasks := testTask()
	if err := p.Dispatch(context.Background(), task, subtasks); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if len(ch.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(ch.published))
	}

	var msg models.TaskMessage
	if err := json.Unmarshal(ch.published[1].Body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.RequestId != "t1" || msg.PartNumber != 1 || msg.PartCount != 2 || msg.RangeStart != 3 || msg.RangeEnd != 6 {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Alphabet) != 2 || msg.Alphabet[0] != "a" {
		t.Errorf("Alphabet = %v, want [a b]", msg.Alphabet)
	}
	if ch.keys[0] != "tasks" || ch.published[0].DeliveryMode != amqp.Persistent {
		t.Errorf("published to %q with mode %d", ch.keys[0], ch.published[0].DeliveryMode)
	}
}

func TestPublisher_ReconnectsOnce(t *testing.T) {
	broken := &fakeChannel{failures: 1}
	healthy := &fakeChannel{}
	reconnects := 0
	p := &Publisher{ch: broken, queue: "tasks", alphabet: "ab"}
	p.reconnect = func(context.Context) (publishChannel, error) {
		reconnects++
		return healthy, nil
	}

	task, subtasks := testTask()
	if err := p.Dispatch(context.Background(), task, subtasks); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if reconnects != 1 || len(healthy.published) != 2 {
		t.Errorf("reconnects = %d, published after reconnect = %d; want 1, 2", reconnects, len(healthy.published))
	}
}

func TestPublisher_FailsWhenReconnectFails(t *testing.T) {
	p := &Publisher{ch: &fakeChannel{failures: 10}, queue: "tasks", alphabet: "ab"}
	p.reconnect = func(context.Context) (publishChannel, error) {
		return nil, errors.New("connection refused")
	}

	task, subtasks := testTask()
	if err := p.Dispatch(context.Background(), task, subtasks); err == nil {
		t.Fatal("Dispatch() error = nil, want failure")
	}
}

// ─── ResultConsumer ─────────────────────────────────────────────────────────

type fakeAcknowledger struct {
	acks, nacks int
	requeue     bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acks++; return nil }

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

type fakeReporter struct {
	err      error
	taskID   string
	part     int
	progress models.Progress
}

func (r *fakeReporter) ReportSubtaskProgress(_ context.Context, taskID string, part int, p models.Progress) error {
	r.taskID, r.part, r.progress = taskID, part, p
	return r.err
}

func TestResultConsumer_Handle(t *testing.T) {
	valid := `{"requestId":"t1","partNumber":2,"status":"SUCCESS","percent":100,"words":["password"]}`
	tests := []struct {
		name      string
		body      string
		err       error
		wantAcks  int
		wantNacks int
	}{
		{"accepted", valid, nil, 1, 0},
		{"unknown task", valid, fmt.Errorf("%w: task", orchestrator.ErrNotFound), 1, 0},
		{"invalid report", valid, fmt.Errorf("%w: percent", orchestrator.ErrInvalidArgument), 1, 0},
		{"store failure", valid, fmt.Errorf("%w: timeout", orchestrator.ErrInternal), 0, 1},
		{"malformed body", `{"requestId":`, nil, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &fakeReporter{err: tt.err}
			ack := &fakeAcknowledger{}
			c := &ResultConsumer{reporter: reporter}

			c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(tt.body)})

			if ack.acks != tt.wantAcks || ack.nacks != tt.wantNacks {
				t.Errorf("acks = %d, nacks = %d; want %d, %d", ack.acks, ack.nacks, tt.wantAcks, tt.wantNacks)
			}
			if tt.wantNacks > 0 && !ack.requeue {
				t.Error("nack without requeue")
			}
		})
	}
}

func TestResultConsumer_PassesProgress(t *testing.T) {
	reporter := &fakeReporter{}
	c := &ResultConsumer{reporter: reporter}
	body := `{"requestId":"t1","partNumber":3,"status":"ERROR","percent":42.5,"error":"worker crashed"}`

	c.handle(context.Background(), amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Body: []byte(body)})

	if reporter.taskID != "t1" || reporter.part != 3 {
		t.Errorf("reported %s(%d), want t1(3)", reporter.taskID, reporter.part)
	}
	want := models.Progress{Status: models.SubtaskStatusError, Percent: 42.5, Reason: "worker crashed"}
	if reporter.progress.Status != want.Status || reporter.progress.Percent != want.Percent || reporter.progress.Reason != want.Reason {
		t.Errorf("progress = %+v, want %+v", reporter.progress, want)
	}
}
