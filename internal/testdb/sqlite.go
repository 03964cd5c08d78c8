// Package testdb opens throwaway databases carrying the metering schema.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteSchema mirrors the postgres migrations with sqlite column types.
// Amounts are TEXT so decimals round-trip without float affinity.
var sqliteSchema = []string{
	`CREATE TABLE plans (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE features (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		unit TEXT NOT NULL,
		description TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE plan_features (
		id INTEGER PRIMARY KEY,
		plan_id INTEGER NOT NULL,
		feature_id INTEGER NOT NULL,
		usage_limit TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (plan_id, feature_id)
	)`,
	`CREATE TABLE route_feature_mappings (
		id INTEGER PRIMARY KEY,
		operation_id TEXT NOT NULL,
		method TEXT NOT NULL,
		feature_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (operation_id, method)
	)`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		workspace_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ends_at DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_active_workspace ON subscriptions (workspace_id) WHERE is_active`,
	`CREATE TABLE usage_containers (
		id INTEGER PRIMARY KEY,
		workspace_id INTEGER NOT NULL,
		subscription_id INTEGER NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		extra_credit TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (workspace_id, period_start, period_end)
	)`,
	`CREATE TABLE feature_usage_counters (
		id INTEGER PRIMARY KEY,
		container_id INTEGER NOT NULL,
		feature_id INTEGER NOT NULL,
		used TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (container_id, feature_id)
	)`,
}

// OpenSQLite returns an in-memory database private to the test. The pool is
// pinned to one connection, which serializes transactions the way a row lock
// would on postgres.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = conn.Exec("PRAGMA busy_timeout = 5000").Error

	for _, stmt := range sqliteSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return conn
}
