package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yungbote/neurobridge-struggle/internal/data/db"
	"github.com/yungbote/neurobridge-struggle/internal/platform/gcp"
	"github.com/yungbote/neurobridge-struggle/internal/platform/kafka"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/platform/redis"
)

// Clients holds connections to external systems. Every field is optional.
type Clients struct {
	DB            *db.PostgresService
	Redis         *goredis.Client
	KafkaConsumer *kgo.Client
	KafkaProducer *kgo.Client
	ArchiveBucket *gcp.ArchiveBucket
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...", "kv_backend", cfg.KVBackend)
	var c Clients

	if cfg.NeedsDB() {
		pg, err := db.NewPostgresService(log, cfg.DB)
		if err != nil {
			return c, fmt.Errorf("init database: %w", err)
		}
		if err := db.AutoMigrateAll(pg.DB()); err != nil {
			_ = pg.Close()
			return c, fmt.Errorf("database automigrate: %w", err)
		}
		c.DB = pg
	}

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, log, cfg.Redis)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
	} else if cfg.KVBackend == KVRedis {
		c.Close()
		return Clients{}, fmt.Errorf("STRUGGLE_KV_BACKEND=redis requires REDIS_ADDR")
	}

	if cfg.Kafka.Enabled() {
		consumer, err := kafka.NewConsumerClient(cfg.Kafka)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init kafka consumer: %w", err)
		}
		c.KafkaConsumer = consumer
		producer, err := kafka.NewProducerClient(cfg.Kafka)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init kafka producer: %w", err)
		}
		c.KafkaProducer = producer
	}

	if cfg.GCS.Enabled() {
		bucket, err := gcp.NewArchiveBucket(ctx, log, cfg.GCS)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init archive bucket: %w", err)
		}
		c.ArchiveBucket = bucket
	}
	return c, nil
}

func (c *Clients) Close() {
	if c.KafkaConsumer != nil {
		c.KafkaConsumer.Close()
	}
	if c.KafkaProducer != nil {
		c.KafkaProducer.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.ArchiveBucket != nil {
		_ = c.ArchiveBucket.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
