package amqputil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
)

func TestConnect_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	dial := func(string) (*amqp.Connection, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return &amqp.Connection{}, nil
	}

	conn, err := connect(context.Background(), dial, "amqp://test", 5, time.Millisecond)
	if err != nil {
		t.Fatalf("connect() error: %v", err)
	}
	if conn == nil || calls != 3 {
		t.Errorf("conn = %v after %d calls, want connection after 3", conn, calls)
	}
}

func TestConnect_GivesUp(t *testing.T) {
	calls := 0
	dial := func(string) (*amqp.Connection, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	if _, err := connect(context.Background(), dial, "amqp://test", 3, time.Millisecond); err == nil {
		t.Fatal("connect() error = nil, want failure")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestConnect_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(string) (*amqp.Connection, error) {
		cancel()
		return nil, errors.New("connection refused")
	}

	_, err := connect(ctx, dial, "amqp://test", 10, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
