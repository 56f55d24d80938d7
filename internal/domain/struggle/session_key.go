package struggle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SessionKey partitions all struggle state. Its string form is
// "tenant/learner" or "tenant/learner/course".
type SessionKey struct {
	TenantID  string `json:"tenant_id"`
	LearnerID string `json:"learner_id"`
	CourseID  string `json:"course_id,omitempty"`
}

func (k SessionKey) String() string {
	if k.CourseID == "" {
		return k.TenantID + "/" + k.LearnerID
	}
	return k.TenantID + "/" + k.LearnerID + "/" + k.CourseID
}

// UnmarshalJSON accepts either the object form or the string form.
func (k *SessionKey) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		parsed, err := ParseSessionKey(raw)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	}
	type plain SessionKey
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*k = SessionKey(p)
	return nil
}

func (k SessionKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" || strings.TrimSpace(k.LearnerID) == "" {
		return fmt.Errorf("%w: tenant and learner are required", ErrInvalidSessionKey)
	}
	for _, part := range []string{k.TenantID, k.LearnerID, k.CourseID} {
		if strings.Contains(part, "/") {
			return fmt.Errorf("%w: %q contains '/'", ErrInvalidSessionKey, part)
		}
	}
	return nil
}

func ParseSessionKey(raw string) (SessionKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	var k SessionKey
	switch len(parts) {
	case 2:
		k = SessionKey{TenantID: parts[0], LearnerID: parts[1]}
	case 3:
		k = SessionKey{TenantID: parts[0], LearnerID: parts[1], CourseID: parts[2]}
		if k.CourseID == "" {
			return SessionKey{}, fmt.Errorf("%w: empty course in %q", ErrInvalidSessionKey, raw)
		}
	default:
		return SessionKey{}, fmt.Errorf("%w: %q", ErrInvalidSessionKey, raw)
	}
	if err := k.Validate(); err != nil {
		return SessionKey{}, err
	}
	return k, nil
}
