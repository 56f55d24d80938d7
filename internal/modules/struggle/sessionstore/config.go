package sessionstore

import (
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
)

type Config struct {
	MaxActiveSessions int

	RetentionWindow     time.Duration
	RetentionMaxSignals int

	// OperationBudget marks an operation as slow; it never cancels work.
	OperationBudget time.Duration
	PredictOnAppend bool

	Shards            int
	PersistWorkers    int
	PersistQueueSize  int
	PersistMaxElapsed time.Duration
	ArchiveMaxElapsed time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxActiveSessions:   1000,
		RetentionWindow:     30 * time.Minute,
		RetentionMaxSignals: 500,
		OperationBudget:     100 * time.Millisecond,
		PredictOnAppend:     true,
		Shards:              64,
		PersistWorkers:      8,
		PersistQueueSize:    1024,
		PersistMaxElapsed:   30 * time.Second,
		ArchiveMaxElapsed:   10 * time.Second,
	}
}

func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		MaxActiveSessions:   envutil.Int("STRUGGLE_MAX_ACTIVE_SESSIONS", d.MaxActiveSessions),
		RetentionWindow:     envutil.Duration("STRUGGLE_RETENTION_WINDOW", d.RetentionWindow),
		RetentionMaxSignals: envutil.Int("STRUGGLE_RETENTION_MAX_SIGNALS", d.RetentionMaxSignals),
		OperationBudget:     envutil.Duration("STRUGGLE_OPERATION_BUDGET", d.OperationBudget),
		PredictOnAppend:     envutil.Bool("STRUGGLE_PREDICT_ON_APPEND", d.PredictOnAppend),
		Shards:              envutil.Int("STRUGGLE_SHARDS", d.Shards),
		PersistWorkers:      envutil.Int("STRUGGLE_PERSIST_WORKERS", d.PersistWorkers),
		PersistQueueSize:    envutil.Int("STRUGGLE_PERSIST_QUEUE_SIZE", d.PersistQueueSize),
		PersistMaxElapsed:   envutil.Duration("STRUGGLE_PERSIST_MAX_ELAPSED", d.PersistMaxElapsed),
		ArchiveMaxElapsed:   envutil.Duration("STRUGGLE_ARCHIVE_MAX_ELAPSED", d.ArchiveMaxElapsed),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxActiveSessions <= 0 {
		c.MaxActiveSessions = d.MaxActiveSessions
	}
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.PersistWorkers <= 0 {
		c.PersistWorkers = 1
	}
	if c.PersistQueueSize <= 0 {
		c.PersistQueueSize = d.PersistQueueSize
	}
	if c.OperationBudget <= 0 {
		c.OperationBudget = d.OperationBudget
	}
	return c
}
