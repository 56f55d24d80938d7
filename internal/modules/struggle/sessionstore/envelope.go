package sessionstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

// KeyPrefix namespaces session envelopes in the key-value backend.
const KeyPrefix = "struggle:session:"

const envelopeVersion = 1

type envelope struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Session *struggle.Session `json:"session"`
}

func StorageKey(k struggle.SessionKey) string { return KeyPrefix + k.String() }

func KeyFromStorage(storageKey string) (struggle.SessionKey, error) {
	if !strings.HasPrefix(storageKey, KeyPrefix) {
		return struggle.SessionKey{}, fmt.Errorf("%w: missing prefix in %q", struggle.ErrInvalidSessionKey, storageKey)
	}
	return struggle.ParseSessionKey(strings.TrimPrefix(storageKey, KeyPrefix))
}

// EncodeEnvelope serializes s. Raw signals are only kept under full consent.
func EncodeEnvelope(s *struggle.Session, savedAt time.Time) ([]byte, error) {
	cp := *s
	if cp.Consent != struggle.ConsentFull {
		cp.Signals = []struggle.Signal{}
	}
	b, err := json.Marshal(envelope{Version: envelopeVersion, SavedAt: savedAt, Session: &cp})
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", s.Key, err)
	}
	return b, nil
}

// DecodeEnvelope parses and integrity-checks an envelope. Any failure wraps
// ErrCorruptSession.
func DecodeEnvelope(b []byte) (*struggle.Session, time.Time, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", struggle.ErrCorruptSession, err)
	}
	if env.Version != envelopeVersion {
		return nil, time.Time{}, fmt.Errorf("%w: envelope version %d", struggle.ErrCorruptSession, env.Version)
	}
	s := env.Session
	if s == nil {
		return nil, time.Time{}, fmt.Errorf("%w: empty envelope", struggle.ErrCorruptSession)
	}
	if s.Signals == nil {
		s.Signals = []struggle.Signal{}
	}
	if s.Predictions == nil {
		s.Predictions = []struggle.Prediction{}
	}
	if s.Interventions == nil {
		s.Interventions = []struggle.InterventionRecord{}
	}
	if s.NearMisses == nil {
		s.NearMisses = []struggle.NearMiss{}
	}
	if err := s.CheckIntegrity(); err != nil {
		return nil, time.Time{}, err
	}
	return s, env.SavedAt, nil
}

// rawArchivePayload keeps an undecodable envelope inspectable in the archive.
func rawArchivePayload(payload []byte) []byte {
	if json.Valid(payload) {
		return payload
	}
	b, _ := json.Marshal(map[string]string{"raw_base64": base64.StdEncoding.EncodeToString(payload)})
	return b
}
