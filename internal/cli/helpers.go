package cli

import (
	"context"
	"fmt"

	"github.com/ptrvsrg/crack-hash/internal/config"
	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/mongodb"
	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
	"github.com/ptrvsrg/crack-hash/internal/store"
	"github.com/ptrvsrg/crack-hash/internal/store/memstore"
	"github.com/ptrvsrg/crack-hash/internal/store/mongostore"
	"github.com/ptrvsrg/crack-hash/internal/store/sqlitestore"
)

// openStore открывает хранилище, выбранное в конфигурации.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		ctx, cancel := context.WithTimeout(ctx, constants.LongContextTimeout)
		defer cancel()
		client, db, err := mongodb.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureSchema(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		logger.Logf("Manager", "Подключено к MongoDB, база %s", cfg.Mongo.Database)
		return mongostore.New(db), nil
	case config.StoreSQLite:
		st, err := sqlitestore.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		logger.Logf("Manager", "Открыта база SQLite %s", cfg.SQLite.Path)
		return st, nil
	case config.StoreMemory:
		logger.Log("Manager", "Хранилище в памяти: состояние не переживёт перезапуск")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func serviceConfig(cfg config.Config) orchestrator.Config {
	return orchestrator.Config{
		Alphabet:        cfg.Task.Alphabet,
		MaxWordsPerPart: cfg.Task.MaxWordsPerPart,
		ReuseActive:     cfg.Task.ReuseActive,
	}
}

func closeStore(st store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ContextTimeout)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		logger.Logf("Manager", "Ошибка закрытия хранилища: %v", err)
	}
}
