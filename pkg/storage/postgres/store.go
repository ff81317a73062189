package postgres

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

// PostgresStore is the GORM-backed implementation of every repository
// interface in pkg/storage -- tasks, executions, webhooks, integrations,
// notification sends, and the scheduler's own durable job rows all share
// one connection pool.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens the connection pool and migrates every domain
// table plus the scheduler's job table.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	cfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Task{},
		&models.TaskExecution{},
		&models.WebhookDelivery{},
		&models.OAuthIntegration{},
		&models.NotificationSend{},
		&models.SchedulerJob{},
	); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
