package struggle

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SessionArchive is the cold-storage row written when a session leaves the
// active set.
type SessionArchive struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	SessionKey string `gorm:"column:session_key;type:text;not null;index" json:"session_key"`
	TenantID   string `gorm:"column:tenant_id;type:text;not null;index:idx_struggle_archive_learner,priority:1" json:"tenant_id"`
	LearnerID  string `gorm:"column:learner_id;type:text;not null;index:idx_struggle_archive_learner,priority:2" json:"learner_id"`
	CourseID   string `gorm:"column:course_id;type:text" json:"course_id,omitempty"`

	Reason            string  `gorm:"column:reason;type:text;not null;index" json:"reason"`
	FinalScore        float64 `gorm:"column:final_score;not null;default:0" json:"final_score"`
	HighWaterScore    float64 `gorm:"column:high_water_score;not null;default:0" json:"high_water_score"`
	SignalCount       int64   `gorm:"column:signal_count;not null;default:0" json:"signal_count"`
	InterventionCount int     `gorm:"column:intervention_count;not null;default:0" json:"intervention_count"`

	StartedAt time.Time `gorm:"column:started_at;not null" json:"started_at"`
	EndedAt   time.Time `gorm:"column:ended_at;not null;index" json:"ended_at"`

	EnvelopeJSON datatypes.JSON `gorm:"column:envelope_json" json:"envelope_json,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (SessionArchive) TableName() string { return "struggle_session_archive" }

// SessionEnvelopeRow holds the latest serialized envelope per active session
// for SQL-backed key-value storage.
type SessionEnvelopeRow struct {
	Key       string    `gorm:"column:storage_key;type:text;primaryKey" json:"storage_key"`
	Payload   []byte    `gorm:"column:payload;not null" json:"payload"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (SessionEnvelopeRow) TableName() string { return "struggle_session_envelope" }
