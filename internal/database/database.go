package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Database wraps the GORM database connection
type Database struct {
	*gorm.DB
	locks *keyedMutex
}

// NewDatabase creates a new database connection for the configured driver
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.PostgresDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	// Configure GORM logger
	logLevel := logger.Silent
	if cfg.LogQueries {
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return &Database{DB: db, locks: newKeyedMutex()}, nil
}

// AutoMigrate creates the collections and their indexes
func (db *Database) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.DataFrameMetadata{},
		&models.ModelMetadata{},
		&models.Report{},
		&models.BackgroundJob{},
	)
}

// Close closes the database connection
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks the database connection
func (db *Database) Health(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Repositories groups every collection repository
type Repositories struct {
	DataFrames *DataFrameRepository
	Models     *ModelRepository
	Reports    *ReportRepository
	Jobs       *JobRepository
}

// NewRepositories creates the repositories over one connection
func NewRepositories(db *Database) *Repositories {
	return &Repositories{
		DataFrames: NewDataFrameRepository(db),
		Models:     NewModelRepository(db),
		Reports:    NewReportRepository(db),
		Jobs:       NewJobRepository(db),
	}
}

// keyedMutex serialises updates of a single document id
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// translate maps driver errors onto the error taxonomy
func translate(err error, notFound apperrors.Code, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.New(notFound, "%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperrors.New(apperrors.FilenameExists, "%s filename already exists", what)
	default:
		return fmt.Errorf("%s query failed: %w", what, err)
	}
}
