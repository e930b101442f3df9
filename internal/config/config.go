// Package config загружает конфигурацию менеджера: TOML-файл, затем переменные окружения
// (в том числе из .env), затем значения по умолчанию для всего, что не задано.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/partition"
)

// Хранилища задач.
const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

const DefaultPath = "config.toml"

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Mongo   MongoConfig   `toml:"mongo"`
	SQLite  SQLiteConfig  `toml:"sqlite"`
	Rabbit  RabbitConfig  `toml:"rabbit"`
	Workers WorkersConfig `toml:"workers"`
	Task    TaskConfig    `toml:"task"`
	Sweeper SweeperConfig `toml:"sweeper"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig – HTTP API.
type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	// StatusPushInterval – период отправки статуса по websocket.
	StatusPushInterval time.Duration `toml:"status_push_interval"`
}

type StoreConfig struct {
	Driver string `toml:"driver"`
}

type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RabbitConfig – шина воркеров. При Enabled=false подзадачи только сохраняются,
// а отчёты принимаются по HTTP.
type RabbitConfig struct {
	Enabled         bool   `toml:"enabled"`
	URI             string `toml:"uri"`
	ResultsPrefetch int    `toml:"results_prefetch"`
}

// WorkersConfig – раздача подзадач зарегистрированным HTTP-воркерам вместо RabbitMQ.
type WorkersConfig struct {
	Enabled     bool          `toml:"enabled"`
	SendRetries int           `toml:"send_retries"`
	SendDelay   time.Duration `toml:"send_delay"`
}

type TaskConfig struct {
	Alphabet        string `toml:"alphabet"`
	MaxWordsPerPart uint64 `toml:"max_words_per_part"`
	ReuseActive     bool   `toml:"reuse_active"`
}

type SweeperConfig struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"`
	Batch    int           `toml:"batch"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			ShutdownTimeout:    constants.LongContextTimeout,
			StatusPushInterval: time.Second,
		},
		Store: StoreConfig{Driver: StoreMongo},
		Mongo: MongoConfig{
			URI:      constants.DefaultMongoURI,
			Database: constants.DefaultDBName,
		},
		SQLite: SQLiteConfig{Path: "data/state.db"},
		Rabbit: RabbitConfig{
			Enabled:         true,
			URI:             constants.DefaultRabbitURI,
			ResultsPrefetch: constants.DefaultResultsPrefetch,
		},
		Workers: WorkersConfig{
			SendRetries: 3,
			SendDelay:   500 * time.Millisecond,
		},
		Task: TaskConfig{
			Alphabet:        constants.Alphabet,
			MaxWordsPerPart: constants.MaxCandidatesPerSubTask,
			ReuseActive:     true,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Batch:    constants.DefaultPublishBatchSize,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load читает конфигурацию из path. Пустой path означает CONFIG_FILE или config.toml;
// отсутствие файла по умолчанию не ошибка, отсутствие явно указанного – ошибка.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("RABBITMQ_URI"); v != "" {
		c.Rabbit.URI = v
	}
	if v := os.Getenv("STORE"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	var errs []error
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case StoreMongo, StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if c.Server.StatusPushInterval <= 0 {
		errs = append(errs, errors.New("server.status_push_interval must be positive"))
	}
	if err := partition.ValidateAlphabet(c.Task.Alphabet); err != nil {
		errs = append(errs, fmt.Errorf("task.alphabet: %w", err))
	}
	if c.Task.MaxWordsPerPart == 0 {
		errs = append(errs, errors.New("task.max_words_per_part must be positive"))
	}
	if c.Sweeper.Enabled && (c.Sweeper.Interval <= 0 || c.Sweeper.Batch <= 0) {
		errs = append(errs, errors.New("sweeper.interval and sweeper.batch must be positive"))
	}
	if c.Rabbit.Enabled && c.Workers.Enabled {
		errs = append(errs, errors.New("rabbit and workers transports are mutually exclusive"))
	}
	if c.Workers.Enabled && c.Workers.SendRetries <= 0 {
		errs = append(errs, errors.New("workers.send_retries must be positive"))
	}
	if c.Store.Driver == StoreSQLite && c.SQLite.Path == "" {
		errs = append(errs, errors.New("sqlite.path must be set for the sqlite store"))
	}
	return errors.Join(errs...)
}

// Addr – адрес HTTP-сервера.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
