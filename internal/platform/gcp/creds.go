package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
)

// archiveCredentialsFromEnv prefers archive-scoped credentials over the
// process-wide Google ones.
func archiveCredentialsFromEnv() string {
	for _, name := range []string{
		"STRUGGLE_ARCHIVE_GCS_CREDENTIALS",
		"GOOGLE_APPLICATION_CREDENTIALS_JSON",
		"GOOGLE_APPLICATION_CREDENTIALS",
	} {
		if v := envutil.String(name, ""); v != "" {
			return v
		}
	}
	return ""
}

// credentialOptions accepts inline service-account JSON or a file path. Empty
// input falls back to application default credentials.
func credentialOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	switch {
	case creds == "":
		return nil
	case strings.HasPrefix(creds, "{"):
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	default:
		return []option.ClientOption{option.WithCredentialsFile(creds)}
	}
}
