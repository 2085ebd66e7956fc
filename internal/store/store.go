// Package store manages the fleetscope database layer.
// It lazily opens one shared GORM handle per process, with SQLite (default)
// or PostgreSQL, and exposes the agent and metric repositories over it.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/vesaa/fleetscope/internal/models"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config describes how to reach the store.
type Config struct {
	Driver string // "sqlite" or "postgres"
	DSN    string // file path for sqlite, connection string for postgres

	// Setup drops and recreates the schema on the first connect. Destructive;
	// only the setup command turns it on.
	Setup bool

	Logger zerolog.Logger
}

// Handle is the connected store: the shared GORM session plus the two
// repositories bound to it.
type Handle struct {
	DB     *gorm.DB
	Agent  *AgentStore
	Metric *MetricStore
}

// Service owns the process-wide Handle. Nothing is opened until the first
// call to Open.
type Service struct {
	cfg  Config
	log  zerolog.Logger
	dial func(Config) (gorm.Dialector, error)

	group singleflight.Group

	mu     sync.RWMutex
	handle *Handle
	// setupDone is set once the destructive setup has run; reconnects
	// after Close only migrate.
	setupDone bool
}

// New returns a Service for cfg without touching the database.
func New(cfg Config) *Service {
	return &Service{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("component", "db").Logger(),
		dial: dialector,
	}
}

// Open returns the shared Handle, connecting on first use. Concurrent
// callers share a single in-flight attempt; a caller whose ctx ends stops
// waiting without failing the attempt for the others. A failed attempt
// caches nothing, so the next call starts over.
func (s *Service) Open(ctx context.Context) (*Handle, error) {
	if h := s.current(); h != nil {
		return h, nil
	}

	ch := s.group.DoChan("open", func() (any, error) {
		if h := s.current(); h != nil {
			return h, nil
		}
		s.mu.RLock()
		setup := s.cfg.Setup && !s.setupDone
		s.mu.RUnlock()

		h, err := s.connect(context.WithoutCancel(ctx), setup)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.handle = h
		if setup {
			s.setupDone = true
		}
		s.mu.Unlock()
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

// Close releases the shared handle. A later Open reconnects.
func (s *Service) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Service) current() *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

func (s *Service) connect(ctx context.Context, setup bool) (*Handle, error) {
	d, err := s.dial(s.cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driverName(s.cfg.Driver) == DriverSQLite {
		// SQLite serializes writers anyway; one connection keeps
		// concurrent upserts from tripping SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate(ctx, db, setup); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s.log.Info().
		Str("driver", driverName(s.cfg.Driver)).
		Bool("setup", setup).
		Msg("database opened")

	return &Handle{
		DB:     db,
		Agent:  NewAgentStore(db),
		Metric: NewMetricStore(db),
	}, nil
}

// migrate creates the agents and metrics tables. With setup set, both
// tables are dropped first.
func migrate(ctx context.Context, db *gorm.DB, setup bool) error {
	tx := db.WithContext(ctx)
	if setup {
		if err := tx.Migrator().DropTable(&models.Metric{}, &models.Agent{}); err != nil {
			return fmt.Errorf("dropping schema: %w", err)
		}
	}
	if err := tx.AutoMigrate(&models.Agent{}, &models.Metric{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func driverName(driver string) string {
	if driver == "" {
		return DriverSQLite
	}
	return strings.ToLower(driver)
}

func dialector(cfg Config) (gorm.Dialector, error) {
	switch driverName(cfg.Driver) {
	case DriverSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db_dsn is required for sqlite")
		}
		return sqlite.Open(sqliteDSN(cfg.DSN)), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db_dsn is required for postgres")
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite' or 'postgres')", cfg.Driver)
	}
}

// sqliteDSN turns on foreign keys, WAL and a busy timeout unless the DSN
// already sets pragmas of its own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
