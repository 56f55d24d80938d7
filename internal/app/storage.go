package app

import (
	"fmt"

	"github.com/yungbote/neurobridge-struggle/internal/data/archive"
	"github.com/yungbote/neurobridge-struggle/internal/data/kv"
	strugglerepo "github.com/yungbote/neurobridge-struggle/internal/data/repos/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type Storage struct {
	KV          kv.Store
	Archive     *archive.Multi
	ArchiveRepo strugglerepo.SessionArchiveRepo
}

func wireStorage(log *logger.Logger, cfg Config, clients Clients) (Storage, error) {
	log.Info("Wiring storage...")
	var s Storage

	switch cfg.KVBackend {
	case KVRedis:
		store, err := kv.NewRedisStore(clients.Redis, cfg.Redis.EnvelopeTTL, log)
		if err != nil {
			return s, fmt.Errorf("init redis kv: %w", err)
		}
		s.KV = store
	case KVSQL:
		s.KV = kv.NewGormStore(clients.DB.DB(), log)
	case KVMemory:
		log.Warn("session envelopes kept in memory; state will not survive a restart")
		s.KV = kv.NewMemoryStore()
	default:
		return s, fmt.Errorf("unknown STRUGGLE_KV_BACKEND %q", cfg.KVBackend)
	}

	s.Archive = archive.NewMulti(log)
	if clients.DB != nil && cfg.ArchiveSQL {
		s.ArchiveRepo = strugglerepo.NewSessionArchiveRepo(clients.DB.DB(), log)
		s.Archive.Add("sql", s.ArchiveRepo)
	}
	if clients.ArchiveBucket != nil {
		s.Archive.Add("gcs", clients.ArchiveBucket)
	}
	if s.Archive.Len() == 0 {
		log.Warn("no archive sink configured; archived sessions are dropped")
	}
	return s, nil
}
