package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewGormStore stores records in struggle_session_envelope. Works on
// postgres and sqlite.
func NewGormStore(db *gorm.DB, log *logger.Logger) Store {
	return &gormStore{db: db, log: log.With("store", "GormKV")}
}

func (g *gormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row struggle.SessionEnvelopeRow
	err := g.tx(ctx).Where("storage_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope %s: %w", key, err)
	}
	return row.Payload, nil
}

func (g *gormStore) Put(ctx context.Context, key string, value []byte) error {
	row := struggle.SessionEnvelopeRow{Key: key, Payload: value, UpdatedAt: time.Now().UTC()}
	err := g.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put envelope %s: %w", key, err)
	}
	return nil
}

func (g *gormStore) Delete(ctx context.Context, key string) error {
	if err := g.tx(ctx).Where("storage_key = ?", key).Delete(&struggle.SessionEnvelopeRow{}).Error; err != nil {
		return fmt.Errorf("delete envelope %s: %w", key, err)
	}
	return nil
}

func (g *gormStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := g.tx(ctx).
		Model(&struggle.SessionEnvelopeRow{}).
		Where("storage_key LIKE ? ESCAPE '\\'", likePrefix(prefix)).
		Pluck("storage_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list envelopes %s: %w", prefix, err)
	}
	return keys, nil
}

func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "%"
}

func (g *gormStore) tx(ctx context.Context) *gorm.DB {
	return dbctx.Context{Ctx: ctx}.Pick(g.db)
}
