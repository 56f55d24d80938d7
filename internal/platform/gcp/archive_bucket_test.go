package gcp

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

func TestArchiveObjectNameIsStable(t *testing.T) {
	id := uuid.MustParse("7f1d6c1e-2a8b-4a55-9a43-0d2c1b0e9f11")
	row := &struggle.SessionArchive{
		ID:        id,
		TenantID:  "acme",
		LearnerID: "l1",
		EndedAt:   time.Date(2026, 3, 2, 23, 30, 0, 0, time.FixedZone("x", -5*3600)),
	}
	got := ArchiveObjectName("struggle-archive", row)
	want := "struggle-archive/acme/2026/03/03/l1/" + id.String() + ".json"
	if got != want {
		t.Fatalf("object name: got=%s want=%s", got, want)
	}
}

func TestArchiveBucketRequiresBucket(t *testing.T) {
	if _, err := NewArchiveBucket(context.Background(), logger.Nop(), ArchiveBucketConfig{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestArchiveBucketEmulator(t *testing.T) {
	host := strings.TrimSpace(os.Getenv("TEST_GCS_EMULATOR_HOST"))
	bucket := strings.TrimSpace(os.Getenv("TEST_GCS_EMULATOR_BUCKET"))
	if host == "" || bucket == "" {
		t.Skip("set TEST_GCS_EMULATOR_HOST and TEST_GCS_EMULATOR_BUCKET to run emulator integration tests")
	}
	ctx := context.Background()
	b, err := NewArchiveBucket(ctx, logger.Nop(), ArchiveBucketConfig{Bucket: bucket, Prefix: "it", EmulatorHost: host})
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	defer b.Close()
	row := &struggle.SessionArchive{ID: uuid.New(), SessionKey: "acme/l1", TenantID: "acme", LearnerID: "l1", Reason: "ended", EndedAt: time.Now().UTC()}
	if err := b.Archive(ctx, row); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := b.client.Bucket(bucket).Object(b.ObjectName(row)).Attrs(ctx); err != nil {
		t.Fatalf("object missing after archive: %v", err)
	}
}

func TestArchiveCredentialsPreferScopedVar(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/gcp/default.json")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("STRUGGLE_ARCHIVE_GCS_CREDENTIALS", "/etc/gcp/archive.json")
	if got := archiveCredentialsFromEnv(); got != "/etc/gcp/archive.json" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("STRUGGLE_ARCHIVE_GCS_CREDENTIALS", "")
	if got := archiveCredentialsFromEnv(); got != "/etc/gcp/default.json" {
		t.Fatalf("fallback: got %q", got)
	}
	if opts := credentialOptions("  "); opts != nil {
		t.Fatalf("blank credentials should defer to ADC")
	}
	if opts := credentialOptions(`{"type":"service_account"}`); len(opts) != 1 {
		t.Fatalf("inline json: %d options", len(opts))
	}
}
