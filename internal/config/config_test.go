package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error: %v", err)
	}
	if cfg.Store.Driver != StoreMongo {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, StoreMongo)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
status_push_interval = "250ms"

[store]
driver = "SQLite"

[sqlite]
path = "/tmp/crack.db"

[task]
max_words_per_part = 1000
reuse_active = false

[sweeper]
interval = "1m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.StatusPushInterval != 250*time.Millisecond {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Store.Driver != StoreSQLite || cfg.SQLite.Path != "/tmp/crack.db" {
		t.Errorf("store = %q at %q", cfg.Store.Driver, cfg.SQLite.Path)
	}
	if cfg.Task.MaxWordsPerPart != 1000 || cfg.Task.ReuseActive {
		t.Errorf("Task = %+v", cfg.Task)
	}
	if cfg.Sweeper.Interval != time.Minute || cfg.Sweeper.Batch == 0 {
		t.Errorf("Sweeper = %+v", cfg.Sweeper)
	}
	// незаданные значения остаются по умолчанию
	if cfg.Mongo.Database != Default().Mongo.Database {
		t.Errorf("Mongo.Database = %q", cfg.Mongo.Database)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "[mongo]\nuri = \"mongodb://file:27017\"\n")
	t.Setenv("MONGODB_URI", "mongodb://env:27017")
	t.Setenv("RABBITMQ_URI", "amqp://env:5672/")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("STORE", "memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mongo.URI != "mongodb://env:27017" || cfg.Rabbit.URI != "amqp://env:5672/" {
		t.Errorf("URIs = %q, %q", cfg.Mongo.URI, cfg.Rabbit.URI)
	}
	if cfg.Server.Port != 7070 || cfg.Store.Driver != StoreMemory {
		t.Errorf("port = %d, store = %q", cfg.Server.Port, cfg.Store.Driver)
	}
}

func TestLoad_HTTPWorkers(t *testing.T) {
	path := writeConfig(t, "[rabbit]\nenabled = false\n\n[workers]\nenabled = true\nsend_delay = \"1s\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Workers.Enabled || cfg.Workers.SendDelay != time.Second || cfg.Workers.SendRetries != 3 {
		t.Errorf("Workers = %+v", cfg.Workers)
	}
}

func TestLoad_ConfigFileEnv(t *testing.T) {
	path := writeConfig(t, "[logging]\nlevel = \"debug\"\n")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(""); err != nil {
		t.Errorf("Load() without config.toml error: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		env  map[string]string
	}{
		{"missing explicit file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.toml") }, nil},
		{"malformed toml", func(t *testing.T) string { return writeConfig(t, "[server\nport = 1") }, nil},
		{"unknown driver", func(t *testing.T) string { return writeConfig(t, "[store]\ndriver = \"redis\"\n") }, nil},
		{"bad port env", func(t *testing.T) string { return writeConfig(t, "") }, map[string]string{"HTTP_PORT": "http"}},
		{"port out of range", func(t *testing.T) string { return writeConfig(t, "[server]\nport = 70000\n") }, nil},
		{"two transports", func(t *testing.T) string { return writeConfig(t, "[workers]\nenabled = true\n") }, nil},
		{"empty alphabet", func(t *testing.T) string { return writeConfig(t, "[task]\nalphabet = \"\"\n") }, nil},
		{"repeated alphabet", func(t *testing.T) string { return writeConfig(t, "[task]\nalphabet = \"abca\"\n") }, nil},
		{"non-ascii alphabet", func(t *testing.T) string { return writeConfig(t, "[task]\nalphabet = \"абв\"\n") }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tt.path(t)); err == nil {
				t.Error("Load() error = nil, want failure")
			}
		})
	}
}

func TestLoad_Example(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	if err != nil {
		t.Fatalf("Load(config.example.toml) error: %v", err)
	}
	if cfg.Store.Driver != StoreMongo || !cfg.Rabbit.Enabled || cfg.Workers.Enabled {
		t.Errorf("example config = %+v", cfg)
	}
}
