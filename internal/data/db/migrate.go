package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&struggle.SessionEnvelopeRow{},
		&struggle.SessionArchive{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
