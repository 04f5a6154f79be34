// Package runstore persists finished inference runs.
package runstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
	"github.com/opengraphlabs/layerinfer/pkg/metrics"
)

// Config selects the database backend and its pool.
type Config struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Store reads and writes runs.
type Store struct {
	db     *gorm.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.ConfigInvalid.Explain("unsupported store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	maxOpen, maxIdle, maxLife := cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime
	if maxOpen == 0 {
		maxOpen = 20
	}
	if maxIdle == 0 {
		maxIdle = 5
	}
	if maxLife == 0 {
		maxLife = time.Hour
	}
	if cfg.Driver != "postgres" {
		// every sqlite connection to :memory: opens a separate database
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLife)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.AutoMigrate(&Run{}, &LayerRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run store: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	log.Info("Run store opened", zap.String("driver", driver))
	return &Store{db: db, driver: driver, logger: log}, nil
}

// NewStore wraps an already opened database. The schema must be migrated.
func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, driver: db.Dialector.Name(), logger: log}
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Save inserts run together with its layers.
func (s *Store) Save(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	for i := range run.Layers {
		run.Layers[i].RunID = run.ID
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	s.reportPool()
	if err != nil {
		s.logger.Error("Failed to save run", zap.String("run_id", run.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

// Get loads a run and its layers in layer order.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("Layers", func(db *gorm.DB) *gorm.DB { return db.Order("layer_idx ASC, id ASC") }).
		Where("id = ?", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound.Explain("run %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByModel returns the most recent runs of a model, newest first, without layers.
func (s *Store) ListByModel(ctx context.Context, modelID string, limit int) ([]*Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []*Run
	err := s.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (s *Store) reportPool() {
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	stats := sqlDB.Stats()
	metrics.DBOpenConns.WithLabelValues(s.driver).Set(float64(stats.OpenConnections))
	metrics.DBInUseConns.WithLabelValues(s.driver).Set(float64(stats.InUse))
}
