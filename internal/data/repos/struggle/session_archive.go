package struggle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type SessionArchiveRepo interface {
	// Archive inserts row; re-inserting the same id is a no-op so callers may retry.
	Archive(ctx context.Context, row *types.SessionArchive) error
	Create(dbc dbctx.Context, row *types.SessionArchive) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SessionArchive, error)
	ListByLearner(dbc dbctx.Context, tenantID, learnerID string, limit int) ([]*types.SessionArchive, error)
	CountByReason(dbc dbctx.Context) (map[string]int64, error)
}

type sessionArchiveRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionArchiveRepo(db *gorm.DB, baseLog *logger.Logger) SessionArchiveRepo {
	return &sessionArchiveRepo{db: db, log: baseLog.With("repo", "SessionArchiveRepo")}
}

func (r *sessionArchiveRepo) Archive(ctx context.Context, row *types.SessionArchive) error {
	return r.Create(dbctx.Context{Ctx: ctx}, row)
}

func (r *sessionArchiveRepo) Create(dbc dbctx.Context, row *types.SessionArchive) error {
	if row == nil || row.SessionKey == "" {
		return fmt.Errorf("archive row requires a session key")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return dbc.Pick(r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(row).Error
}

func (r *sessionArchiveRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SessionArchive, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.SessionArchive
	if err := dbc.Pick(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *sessionArchiveRepo) ListByLearner(dbc dbctx.Context, tenantID, learnerID string, limit int) ([]*types.SessionArchive, error) {
	if tenantID == "" || learnerID == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []*types.SessionArchive
	err := dbc.Pick(r.db).
		Where("tenant_id = ? AND learner_id = ?", tenantID, learnerID).
		Order("ended_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *sessionArchiveRepo) CountByReason(dbc dbctx.Context) (map[string]int64, error) {
	type row struct {
		Reason string
		N      int64
	}
	var rows []row
	err := dbc.Pick(r.db).
		Model(&types.SessionArchive{}).
		Select("reason, COUNT(*) AS n").
		Group("reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Reason] = rw.N
	}
	return out, nil
}
