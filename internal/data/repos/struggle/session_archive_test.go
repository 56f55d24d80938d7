package struggle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-struggle/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/dbctx"
)

func archiveRow(learner, reason string, ended time.Time) *types.SessionArchive {
	return &types.SessionArchive{
		SessionKey:   "acme/" + learner,
		TenantID:     "acme",
		LearnerID:    learner,
		Reason:       reason,
		FinalScore:   0.4,
		SignalCount:  12,
		StartedAt:    ended.Add(-time.Hour),
		EndedAt:      ended,
		EnvelopeJSON: []byte(`{"version":1}`),
	}
}

func TestSessionArchiveRepoSQLite(t *testing.T) {
	t.Parallel()
	db := testutil.SQLite(t)
	repo := NewSessionArchiveRepo(db, testutil.Logger(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := archiveRow("l1", string(types.ReasonEnded), base)
	if err := repo.Archive(ctx, first); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if first.ID == uuid.Nil {
		t.Fatalf("expected id to be assigned")
	}
	// retry with the same id must not duplicate
	if err := repo.Archive(ctx, first); err != nil {
		t.Fatalf("re-archive: %v", err)
	}
	if err := repo.Archive(ctx, archiveRow("l1", string(types.ReasonIdleTimeout), base.Add(time.Hour))); err != nil {
		t.Fatalf("archive second: %v", err)
	}
	if err := repo.Archive(ctx, archiveRow("l2", string(types.ReasonIdleTimeout), base)); err != nil {
		t.Fatalf("archive other learner: %v", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	rows, err := repo.ListByLearner(dbc, "acme", "l1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Reason != string(types.ReasonIdleTimeout) {
		t.Fatalf("expected newest first for l1, got %d rows", len(rows))
	}

	got, err := repo.GetByID(dbc, first.ID)
	if err != nil || got == nil || got.SessionKey != "acme/l1" {
		t.Fatalf("get by id: %+v %v", got, err)
	}

	counts, err := repo.CountByReason(dbc)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[string(types.ReasonEnded)] != 1 || counts[string(types.ReasonIdleTimeout)] != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestSessionArchiveRepoPostgres(t *testing.T) {
	db := testutil.Postgres(t)
	tx := testutil.Tx(t, db)
	repo := NewSessionArchiveRepo(tx, testutil.Logger(t))
	row := archiveRow(uuid.NewString(), string(types.ReasonCorrupt), time.Now().UTC())
	if err := repo.Archive(context.Background(), row); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, row.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
}
