package service

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gbpufscar/revfirst-social-sub001/internal/config"
	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
)

func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone)

	// TranslateError maps unique violations onto gorm.ErrDuplicatedKey,
	// which the store layer relies on for idempotency conflicts.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto migrate the schema
	if err := db.AutoMigrate(
		&models.Workspace{},
		&models.WorkspaceControlSettings{},
		&models.ApprovalQueueItem{},
		&models.PipelineRun{},
		&models.AdminAction{},
		&models.PublishCooldown{},
		&models.MediaJob{},
		&models.MediaAsset{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
