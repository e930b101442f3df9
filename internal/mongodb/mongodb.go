package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
)

const codeNamespaceExists = 48

// ConnectMongo устанавливает подключение к MongoDB и возвращает клиента и базу данных.
func ConnectMongo(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.LongContextTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Log("MongoDB", "Соединение с MongoDB установлено")
	return client, client.Database(dbName), nil
}

// EnsureSchema создаёт индексы коллекций задач и подзадач и представление задач с подзадачами.
// Уникальный индекс (taskId, partNumber) обязателен: на нём держится запрет дубликатов подзадач.
func EnsureSchema(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, constants.LongContextTimeout)
	defer cancel()

	createIndex(ctx, db, constants.TasksCollection, bson.D{{Key: "hash", Value: 1}, {Key: "maxLength", Value: 1}})
	createIndex(ctx, db, constants.TasksCollection, bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}})
	createIndex(ctx, db, constants.TasksCollection, bson.D{{Key: "createdAt", Value: -1}})

	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "taskId", Value: 1}, {Key: "partNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection(constants.SubtasksCollection).Indexes().CreateOne(ctx, unique); err != nil {
		return fmt.Errorf("create unique subtask index: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: constants.SubtasksCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "taskId"},
			{Key: "as", Value: "subtasks"},
		}}},
	}
	err := db.CreateView(ctx, constants.TasksWithSubtasksView, constants.TasksCollection, pipeline)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasErrorCode(codeNamespaceExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create view %s: %w", constants.TasksWithSubtasksView, err)
	}
	return nil
}

func createIndex(ctx context.Context, db *mongo.Database, collName string, keys bson.D) {
	index := mongo.IndexModel{Keys: keys}
	if _, err := db.Collection(collName).Indexes().CreateOne(ctx, index); err != nil {
		logger.Logf("MongoDB", "Ошибка создания индекса %v в %s: %v", keys, collName, err)
	}
}
