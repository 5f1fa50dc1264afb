package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"churn-insight/internal/logger"
	"churn-insight/internal/models"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	DefaultScoreTable = "stg_churn_score"
	RFMScoreView      = "vw_rfm_for_app"

	batchSize = 1000
)

// Options describes how to reach the table store.
type Options struct {
	Driver   string
	URL      string
	ReadURLs []string
	// ScoreTable overrides the churn score table name.
	ScoreTable string
	LogSQL     bool
}

type DBManager struct {
	WriteDB      *gorm.DB
	ReadDBs      []*gorm.DB
	CurrentShard int
	shardMutex   sync.Mutex

	scoreTable string
	log        *logger.Logger
}

// Open connects the write database and any read replicas, then migrates the
// schema. A replica that cannot be reached is skipped with a warning.
func Open(opts Options, log *logger.Logger) (*DBManager, error) {
	log = log.With("component", "database")
	m := &DBManager{
		ReadDBs:    make([]*gorm.DB, 0, len(opts.ReadURLs)),
		scoreTable: opts.ScoreTable,
		log:        log,
	}
	if m.scoreTable == "" {
		m.scoreTable = DefaultScoreTable
	}

	writeDB, err := connect(opts.Driver, opts.URL, opts.LogSQL)
	if err != nil {
		return nil, fmt.Errorf("connect write database: %w", err)
	}
	m.WriteDB = writeDB

	if err := m.migrate(); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	sqlDB, err := m.WriteDB.DB()
	if err == nil {
		if opts.Driver == DriverSQLite {
			// one connection keeps shared in-memory databases consistent
			sqlDB.SetMaxOpenConns(1)
		} else {
			sqlDB.SetMaxIdleConns(10)
			sqlDB.SetMaxOpenConns(100)
			sqlDB.SetConnMaxLifetime(time.Hour)
		}
	}

	for i, url := range opts.ReadURLs {
		readDB, err := connect(opts.Driver, url, opts.LogSQL)
		if err != nil {
			log.Warn("read replica unavailable", "replica", i, "error", err)
			continue
		}
		m.ReadDBs = append(m.ReadDBs, readDB)
	}

	log.Info("database connection established", "driver", opts.Driver, "read_replicas", len(m.ReadDBs))
	return m, nil
}

func connect(driver, url string, logSQL bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverMySQL, "":
		dialector = mysql.Open(url)
	case DriverSQLite:
		dialector = sqlite.Open(url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	level := gormlogger.Warn
	if logSQL {
		level = gormlogger.Info
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
}

func (m *DBManager) migrate() error {
	if err := m.WriteDB.AutoMigrate(
		&models.Customer{},
		&models.RFMResult{},
		&models.PipelineRun{},
	); err != nil {
		return err
	}
	return m.WriteDB.Table(m.scoreTable).AutoMigrate(&models.ChurnScore{})
}

// GetReadDB returns a read replica using round-robin
func (m *DBManager) GetReadDB() *gorm.DB {
	m.shardMutex.Lock()
	defer m.shardMutex.Unlock()

	if len(m.ReadDBs) == 0 {
		return m.WriteDB
	}

	db := m.ReadDBs[m.CurrentShard]
	m.CurrentShard = (m.CurrentShard + 1) % len(m.ReadDBs)
	return db
}

func (m *DBManager) ScoreTable() string { return m.scoreTable }

// Ping checks the write connection.
func (m *DBManager) Ping(ctx context.Context) error {
	sqlDB, err := m.WriteDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *DBManager) Close() error {
	var errs []error
	for _, db := range append([]*gorm.DB{m.WriteDB}, m.ReadDBs...) {
		if db == nil {
			continue
		}
		if sqlDB, err := db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
