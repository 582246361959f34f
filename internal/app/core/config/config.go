// Package config 載入服務設定。
//
// 載入順序: config.yaml -> .env (godotenv，不覆寫既有環境變數) -> LEDGER_* 環境變數 -> 預設值。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/events"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
)

// StoreType 帳本儲存實作
type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreMySQL    StoreType = "mysql"
	StorePostgres StoreType = "postgres"
)

type Config struct {
	Server   ServerConfig        `yaml:"server"`
	Log      logger.Config       `yaml:"log"`
	Store    StoreConfig         `yaml:"store"`
	MySQL    mysql.Config        `yaml:"mysql"`
	Postgres postgres.Config     `yaml:"postgres"`
	Retry    usecase.RetryPolicy `yaml:"retry"`
	Events   events.Config       `yaml:"events"`
}

type ServerConfig struct {
	GrpcAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Type StoreType `yaml:"type"`
	// WALPath 記憶體帳本的 WAL 檔，空字串代表不落地
	WALPath string `yaml:"wal_path"`
	// AutoMigrate 啟動時建立資料表 (mysql / postgres)
	AutoMigrate bool `yaml:"auto_migrate"`
}

// Load 讀取設定檔，path 不存在時只使用環境變數與預設值
func Load(path string, envFiles ...string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// Validate 檢查設定是否可用
func (c Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			return errors.New("mysql store requires mysql.host and mysql.db_name")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres store requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.GrpcAddr == "" {
		c.Server.GrpcAddr = ":50051"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Env == "" {
		c.Log.Env = "development"
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	c.MySQL = c.MySQL.WithDefaults()
	if c.Retry == (usecase.RetryPolicy{}) {
		c.Retry = usecase.DefaultRetryPolicy()
	}
}

// applyEnv 以 LEDGER_* 環境變數覆寫設定
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LEDGER_GRPC_ADDR":      &c.Server.GrpcAddr,
		"LEDGER_HTTP_ADDR":      &c.Server.HTTPAddr,
		"LEDGER_LOG_ENV":        &c.Log.Env,
		"LEDGER_LOG_LEVEL":      &c.Log.Level,
		"LEDGER_LOG_FILE":       &c.Log.File,
		"LEDGER_STORE_WAL_PATH": &c.Store.WALPath,
		"LEDGER_MYSQL_HOST":     &c.MySQL.Host,
		"LEDGER_MYSQL_USER":     &c.MySQL.User,
		"LEDGER_MYSQL_PASSWORD": &c.MySQL.Password,
		"LEDGER_MYSQL_DB_NAME":  &c.MySQL.DBName,
		"LEDGER_POSTGRES_DSN":   &c.Postgres.DSN,
		"LEDGER_EVENTS_DRIVER":  &c.Events.Driver,
		"LEDGER_KAFKA_TOPIC":    &c.Events.Kafka.Topic,
		"LEDGER_REDIS_ADDR":     &c.Events.Redis.Addr,
		"LEDGER_REDIS_PASSWORD": &c.Events.Redis.Password,
		"LEDGER_REDIS_STREAM":   &c.Events.Redis.Stream,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("LEDGER_STORE_TYPE"); ok {
		c.Store.Type = StoreType(v)
	}
	if v, ok := os.LookupEnv("LEDGER_KAFKA_BROKERS"); ok {
		c.Events.Kafka.Brokers = splitList(v)
	}

	ints := map[string]*int{
		"LEDGER_MYSQL_PORT":         &c.MySQL.Port,
		"LEDGER_RETRY_MAX_ATTEMPTS": &c.Retry.MaxAttempts,
		"LEDGER_EVENTS_BUFFER_SIZE": &c.Events.BufferSize,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("LEDGER_STORE_AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEDGER_STORE_AUTO_MIGRATE: %w", err)
		}
		c.Store.AutoMigrate = b
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
