package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/store"
	"github.com/ptrvsrg/crack-hash/internal/store/storetest"
)

const ns = "hash_cracker.hash_crack_tasks"

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create duplicate task", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "duplicate key error",
		}))
		err := New(mt.DB).CreateTask(context.Background(), storetest.NewTask("t", 2, now))
		if !errors.Is(err, store.ErrTaskExists) {
			mt.Errorf("err = %v, want ErrTaskExists", err)
		}
	})

	mt.Run("get task", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "t"},
			{Key: "hash", Value: "abc"},
			{Key: "maxLength", Value: 4},
			{Key: "partCount", Value: 2},
			{Key: "status", Value: "IN_PROGRESS"},
			{Key: "percent", Value: 12.5},
			{Key: "data", Value: bson.A{}},
			{Key: "createdAt", Value: now},
			{Key: "updatedAt", Value: now},
		}))
		task, err := New(mt.DB).GetTask(context.Background(), "t")
		if err != nil {
			mt.Fatalf("GetTask: %v", err)
		}
		if task.Status != models.TaskStatusInProgress || task.Percent != 12.5 || task.PartCount != 2 {
			mt.Errorf("task = %+v", task)
		}
	})

	mt.Run("get missing task", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		if _, err := New(mt.DB).GetTask(context.Background(), "t"); !errors.Is(err, store.ErrTaskNotFound) {
			mt.Errorf("err = %v, want ErrTaskNotFound", err)
		}
	})

	mt.Run("get task with corrupt statuses", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "hash_cracker.hash_crack_tasks_with_subtasks", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "t"},
			{Key: "partCount", Value: 1},
			{Key: "status", Value: "done"},
			{Key: "createdAt", Value: now},
			{Key: "updatedAt", Value: now},
			{Key: "subtasks", Value: bson.A{bson.D{
				{Key: "_id", Value: "t-0"},
				{Key: "taskId", Value: "t"},
				{Key: "partNumber", Value: 0},
				{Key: "status", Value: "finished"},
			}}},
		}))
		res, err := New(mt.DB).GetTaskWithSubtasks(context.Background(), "t")
		if err != nil {
			mt.Fatalf("GetTaskWithSubtasks: %v", err)
		}
		if res.Status != models.TaskStatusUnknown {
			mt.Errorf("task status = %q, want UNKNOWN", res.Status)
		}
		if len(res.Subtasks) != 1 || res.Subtasks[0].Status != models.SubtaskStatusUnknown {
			mt.Errorf("subtasks = %+v, want one UNKNOWN", res.Subtasks)
		}
	})

	progress := models.Progress{Percent: 40, Status: models.SubtaskStatusInProgress}

	mt.Run("report accepted", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		if err := New(mt.DB).ReportProgress(context.Background(), "t", 0, progress, now); err != nil {
			mt.Errorf("err = %v, want nil", err)
		}
	})

	mt.Run("report stale", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: 1}}),
		)
		err := New(mt.DB).ReportProgress(context.Background(), "t", 0, progress, now)
		if !errors.Is(err, store.ErrStaleUpdate) {
			mt.Errorf("err = %v, want ErrStaleUpdate", err)
		}
	})

	mt.Run("report unknown part", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch),
		)
		err := New(mt.DB).ReportProgress(context.Background(), "t", 9, progress, now)
		if !errors.Is(err, store.ErrSubtaskNotFound) {
			mt.Errorf("err = %v, want ErrSubtaskNotFound", err)
		}
	})

	mt.Run("create subtasks with duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 1, Code: 11000, Message: "duplicate key error"}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
		)
		err := New(mt.DB).CreateSubtasks(context.Background(), storetest.NewSubtasks("t", 3, now))
		if !errors.Is(err, store.ErrSubtaskExists) {
			mt.Errorf("err = %v, want ErrSubtaskExists", err)
		}
	})

	mt.Run("apply aggregate rejected", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: 1}}),
		)
		update := models.TaskUpdate{Status: models.TaskStatusInProgress, Percent: 10}
		if err := New(mt.DB).ApplyAggregate(context.Background(), "t", update, now); !errors.Is(err, store.ErrStaleUpdate) {
			mt.Errorf("err = %v, want ErrStaleUpdate", err)
		}
	})
}

func TestInsertedBefore(t *testing.T) {
	bulk := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 3, Code: 11000}},
		{WriteError: mongo.WriteError{Index: 2, Code: 11000}},
	}}
	if got := insertedBefore(bulk, 5); got != 2 {
		t.Errorf("insertedBefore = %d, want 2", got)
	}
	if got := insertedBefore(errors.New("boom"), 5); got != 5 {
		t.Errorf("insertedBefore(non-bulk) = %d, want 5", got)
	}
}
