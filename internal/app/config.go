package app

import (
	"strings"

	"github.com/yungbote/neurobridge-struggle/internal/data/db"
	"github.com/yungbote/neurobridge-struggle/internal/http/middleware"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/lifecycle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/signals"
	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/gcp"
	"github.com/yungbote/neurobridge-struggle/internal/platform/kafka"
	"github.com/yungbote/neurobridge-struggle/internal/platform/redis"
)

const (
	KVMemory = "memory"
	KVRedis  = "redis"
	KVSQL    = "sql"
)

type Config struct {
	LogMode     string
	Port        string
	ServiceName string
	Environment string
	Version     string
	MetricsAddr string

	// KVBackend selects where session envelopes live: memory, redis or sql.
	KVBackend string
	// ArchiveSQL stores archived sessions in the SQL archive table.
	ArchiveSQL bool

	DB        db.Config
	Redis     redis.Config
	Kafka     kafka.Config
	GCS       gcp.ArchiveBucketConfig
	Auth      middleware.AuthConfig
	Store     sessionstore.Config
	Lifecycle lifecycle.Config
	Signals   signals.Config
}

func LoadConfig() Config {
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		Port:        envutil.String("PORT", "8080"),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "struggle-engine"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),
		KVBackend:   strings.ToLower(envutil.String("STRUGGLE_KV_BACKEND", "")),
		ArchiveSQL:  envutil.Bool("STRUGGLE_ARCHIVE_SQL", true),
		DB:          db.LoadConfigFromEnv(),
		Redis:       redis.LoadConfigFromEnv(),
		Kafka:       kafka.LoadConfigFromEnv(),
		GCS:         gcp.LoadArchiveBucketConfigFromEnv(),
		Auth:        middleware.LoadAuthConfigFromEnv(),
		Store:       sessionstore.LoadConfigFromEnv(),
		Lifecycle:   lifecycle.LoadConfigFromEnv(),
		Signals:     signals.LoadConfigFromEnv(),
	}
	if cfg.KVBackend == "" {
		switch {
		case cfg.Redis.Enabled():
			cfg.KVBackend = KVRedis
		case cfg.DB.Enabled:
			cfg.KVBackend = KVSQL
		default:
			cfg.KVBackend = KVMemory
		}
	}
	return cfg
}

// NeedsDB reports whether any configured component uses the SQL database.
func (c Config) NeedsDB() bool {
	return c.KVBackend == KVSQL || (c.ArchiveSQL && c.DB.Enabled)
}
