package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type ArchiveBucketConfig struct {
	Bucket string
	Prefix string
	// Credentials is inline JSON or a key file path; empty uses ADC.
	Credentials string
	// EmulatorHost switches to an unauthenticated fake-gcs endpoint.
	EmulatorHost string
}

func LoadArchiveBucketConfigFromEnv() ArchiveBucketConfig {
	return ArchiveBucketConfig{
		Bucket:       envutil.String("STRUGGLE_ARCHIVE_GCS_BUCKET", ""),
		Prefix:       envutil.String("STRUGGLE_ARCHIVE_GCS_PREFIX", "struggle-archive"),
		Credentials:  archiveCredentialsFromEnv(),
		EmulatorHost: strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
	}
}

func (c ArchiveBucketConfig) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

// ArchiveBucket writes archived session envelopes to GCS as JSON objects.
type ArchiveBucket struct {
	log    *logger.Logger
	client *storage.Client
	cfg    ArchiveBucketConfig
}

func NewArchiveBucket(ctx context.Context, log *logger.Logger, cfg ArchiveBucketConfig) (*ArchiveBucket, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing env var STRUGGLE_ARCHIVE_GCS_BUCKET")
	}
	var opts []option.ClientOption
	if cfg.EmulatorHost != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		opts = append(opts, option.WithoutAuthentication(), option.WithEndpoint(cfg.EmulatorHost+"/storage/v1/"))
	} else {
		opts = append(credentialOptions(cfg.Credentials), option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	l := log.With("service", "ArchiveBucket", "bucket", cfg.Bucket)
	l.Info("archive bucket initialized", "emulator", cfg.EmulatorHost != "")
	return &ArchiveBucket{log: l, client: client, cfg: cfg}, nil
}

// ObjectName is stable per archive id, so retries overwrite the same object.
func (b *ArchiveBucket) ObjectName(row *struggle.SessionArchive) string {
	return ArchiveObjectName(b.cfg.Prefix, row)
}

func ArchiveObjectName(prefix string, row *struggle.SessionArchive) string {
	day := row.EndedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, row.TenantID, day, row.LearnerID, row.ID.String()+".json")
}

func (b *ArchiveBucket) Archive(ctx context.Context, row *struggle.SessionArchive) error {
	if row == nil {
		return nil
	}
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	name := b.ObjectName(row)
	w := b.client.Bucket(b.cfg.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{"reason": row.Reason, "session_key": row.SessionKey}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	b.log.Debug("session archived to bucket", "object", name, "reason", row.Reason)
	return nil
}

func (b *ArchiveBucket) Close() error { return b.client.Close() }
