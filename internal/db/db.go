package db

import (
	"fmt"

	"bulksend/internal/auth"
	"bulksend/internal/jobs"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens dsn with the named driver: postgres, mysql or sqlite.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch driver {
	case "", "postgres":
		dial = postgres.Open(dsn)
	case "mysql":
		dial = mysql.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer; concurrent writers only produce SQLITE_BUSY
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

type index struct {
	table, name, sql string
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&jobs.Job{},
		&jobs.JobItem{},
		&auth.User{},
	); err != nil {
		return err
	}

	// FIFO pick of the next queued job, and the reconciler's status scan.
	// Created through the migrator check because mysql has no
	// "create index if not exists".
	idx := []index{
		{"jobs", "idx_jobs_status_created", `create index idx_jobs_status_created on jobs(status, created_at, id)`},
		{"jobs", "idx_jobs_user_created", `create index idx_jobs_user_created on jobs(user_id, created_at)`},
	}
	m := gdb.Migrator()
	for _, ix := range idx {
		if m.HasIndex(ix.table, ix.name) {
			continue
		}
		if err := gdb.Exec(ix.sql).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, ix.sql)
		}
	}

	return nil
}
