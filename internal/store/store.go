package store

import (
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/Himesh-29/GPUConnect/internal/payments"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides SQL persistence via GORM.
type Store struct {
	db *gorm.DB
}

// NewStore opens the database and auto-migrates schemas.
func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool for PostgreSQL
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates or updates every table the engine uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&auth.User{},
		&auth.AgentToken{},
		&registry.Node{},
		&job.Job{},
		&ledger.CreditLog{},
		&payments.Transaction{},
	)
}

// DB returns the underlying GORM database instance.
func (s *Store) DB() *gorm.DB {
	return s.db
}
