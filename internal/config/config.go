// Package config собирает конфигурацию процессов dagflow.
//
// Порядок: YAML файл (путь из DAGFLOW_CONFIG), затем переменные окружения,
// затем значения по умолчанию для незаполненных полей.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/dagflow/internal/mq"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// EnvConfigPath — переменная окружения с путём к YAML файлу.
const EnvConfigPath = "DAGFLOW_CONFIG"

// Режимы хранения.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"
)

// Бэкенды очереди повторов.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация движка и исполнителя.
type Config struct {
	Engine     EngineConfig            `yaml:"engine"`
	Storage    StorageConfig           `yaml:"storage"`
	RetryQueue RetryQueueConfig        `yaml:"retry_queue"`
	MQ         MQConfig                `yaml:"mq"`
	Log        LogConfig               `yaml:"log"`
	Tracing    telemetry.TracingConfig `yaml:"tracing"`
	Scheduler  SchedulerConfig         `yaml:"scheduler"`
	Registry   RegistryConfig          `yaml:"registry"`
	Executor   ExecutorConfig          `yaml:"executor"`
}

// EngineConfig — HTTP сервер движка.
type EngineConfig struct {
	Port int `yaml:"port"`

	// CallbackBaseURL — адрес API, по которому REST исполнители присылают результаты.
	CallbackBaseURL string `yaml:"callback_base_url"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig — хранилища runs, определений и истории.
type StorageConfig struct {
	// Mode — memory или postgres.
	Mode        string `yaml:"mode"`
	DatabaseURL string `yaml:"database_url"`

	// History — memory, postgres или badger. Пусто — как Mode.
	History string `yaml:"history"`

	// BadgerDir — каталог badger. Пусто — in-memory badger.
	BadgerDir string `yaml:"badger_dir"`
}

// RetryQueueConfig — очередь отложенных повторов.
type RetryQueueConfig struct {
	Backend   string `yaml:"backend"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MQConfig — RabbitMQ.
type MQConfig struct {
	// Enabled — подключаться к брокеру. Без брокера AMQP транспорт и события отключены.
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// LogConfig — уровень и формат логов.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig — параметры scheduler.
type SchedulerConfig struct {
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepBatch      int           `yaml:"sweep_batch"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Retention       time.Duration `yaml:"retention"`
	DispatchRate    float64       `yaml:"dispatch_rate"`
	DispatchBurst   int           `yaml:"dispatch_burst"`
}

// RegistryConfig — реестр исполнителей.
type RegistryConfig struct {
	Strategy         string        `yaml:"strategy"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	EvictAfter       time.Duration `yaml:"evict_after"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeConcurrency int           `yaml:"probe_concurrency"`
}

// ExecutorConfig — процесс dagflow-executor.
type ExecutorConfig struct {
	ID                string        `yaml:"id"`
	Type              string        `yaml:"type"`
	TenantID          string        `yaml:"tenant_id"`
	EngineURL         string        `yaml:"engine_url"`

	// Communication — как движок доставляет задачи: AMQP, GRPC или REST.
	Communication string `yaml:"communication"`

	// Endpoint — адрес, сообщаемый движку. Пусто — localhost и порт.
	Endpoint string `yaml:"endpoint"`

	// GRPCPort — gRPC сервер: health и Dispatch.
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort — HTTP сервер: /healthz, /metrics, POST /tasks.
	HTTPPort int `yaml:"http_port"`

	Prefetch          int           `yaml:"prefetch"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
}

// Default возвращает конфигурацию для локальной разработки.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Port:            8080,
			CallbackBaseURL: "http://localhost:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Mode:        StorageMemory,
			DatabaseURL: repo.DefaultDSN,
		},
		RetryQueue: RetryQueueConfig{
			Backend:   QueueMemory,
			RedisURL:  "redis://localhost:6379/0",
			KeyPrefix: repo.DefaultRetryKeyPrefix,
		},
		MQ: MQConfig{
			URL: mq.DefaultURL(),
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
		Tracing: telemetry.TracingConfig{
			ServiceName: "dagflow",
		},
		Scheduler: SchedulerConfig{
			SweepInterval:   5 * time.Second,
			SweepBatch:      100,
			CleanupInterval: time.Minute,
			Retention:       time.Hour,
		},
		Registry: RegistryConfig{
			Strategy:         "round_robin",
			HeartbeatTimeout: 30 * time.Second,
			ProbeInterval:    15 * time.Second,
			ProbeConcurrency: 8,
		},
		Executor: ExecutorConfig{
			Type:              "default",
			EngineURL:         "http://localhost:8080",
			Communication:     "AMQP",
			GRPCPort:          9090,
			HTTPPort:          8090,
			Prefetch:          5,
			HeartbeatInterval: 10 * time.Second,
			TaskTimeout:       5 * time.Minute,
		},
	}
}

// Load читает конфигурацию. Пустой path — путь из DAGFLOW_CONFIG;
// если и он пуст, файл не читается.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config file %s not found", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if cfg.Storage.History == "" {
		cfg.Storage.History = cfg.Storage.Mode
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет допустимые значения режимов.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("%w: storage.mode %q", ErrInvalidConfig, c.Storage.Mode)
	}

	switch c.Storage.History {
	case StorageMemory, StoragePostgres, StorageBadger:
	default:
		return fmt.Errorf("%w: storage.history %q", ErrInvalidConfig, c.Storage.History)
	}
	if c.Storage.History == StoragePostgres && c.Storage.Mode != StoragePostgres {
		return fmt.Errorf("%w: postgres history requires postgres storage", ErrInvalidConfig)
	}

	switch c.RetryQueue.Backend {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("%w: retry_queue.backend %q", ErrInvalidConfig, c.RetryQueue.Backend)
	}

	if c.Engine.Port <= 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("%w: engine.port %d", ErrInvalidConfig, c.Engine.Port)
	}
	switch strings.ToUpper(c.Executor.Communication) {
	case "AMQP", "GRPC", "REST":
	default:
		return fmt.Errorf("%w: executor.communication %q", ErrInvalidConfig, c.Executor.Communication)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate %v", ErrInvalidConfig, c.Tracing.SampleRate)
	}
	return nil
}

// Addr — адрес HTTP сервера движка.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Engine.Port)
}

// applyEnv переопределяет поля из переменных окружения.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("DB_URL", &cfg.Storage.DatabaseURL)
	str("STORAGE_MODE", &cfg.Storage.Mode)
	str("HISTORY_STORE", &cfg.Storage.History)
	str("HISTORY_BADGER_DIR", &cfg.Storage.BadgerDir)
	str("RETRY_QUEUE", &cfg.RetryQueue.Backend)
	str("REDIS_URL", &cfg.RetryQueue.RedisURL)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("CALLBACK_BASE_URL", &cfg.Engine.CallbackBaseURL)
	str("EXECUTOR_ID", &cfg.Executor.ID)
	str("EXECUTOR_TYPE", &cfg.Executor.Type)
	str("EXECUTOR_TENANT_ID", &cfg.Executor.TenantID)
	str("ENGINE_URL", &cfg.Executor.EngineURL)
	str("EXECUTOR_COMMUNICATION", &cfg.Executor.Communication)
	str("EXECUTOR_ENDPOINT", &cfg.Executor.Endpoint)

	// REDIS_URL без явного бэкенда включает redis
	if v, ok := lookup("REDIS_URL"); ok && v != "" && cfg.RetryQueue.Backend == "" {
		cfg.RetryQueue.Backend = QueueRedis
	}
	// HISTORY_BADGER_DIR без явного хранилища истории включает badger
	if v, ok := lookup("HISTORY_BADGER_DIR"); ok && v != "" && cfg.Storage.History == "" {
		cfg.Storage.History = StorageBadger
	}

	if v, ok := lookup("RABBITMQ_URL"); ok && v != "" {
		cfg.MQ.URL = v
		cfg.MQ.Enabled = true
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}

	for key, dst := range map[string]*int{
		"ENGINE_PORT":          &cfg.Engine.Port,
		"EXECUTOR_GRPC_PORT":   &cfg.Executor.GRPCPort,
		"EXECUTOR_HTTP_PORT":   &cfg.Executor.HTTPPort,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
		}
		*dst = n
	}
	return nil
}
