package database

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// Migrate 按文件名顺序执行 migrationsDir 下未应用的 .sql 脚本, 版本记在 schema_version。
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) error {
	if pool == nil {
		return apperrors.New("Migrate", "pool is required")
	}

	if err := ensureVersionTable(ctx, pool); err != nil {
		return err
	}

	files, err := migrationFiles(migrationsDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Info("migrate: no migration files", logger.FieldPath, migrationsDir)
		return nil
	}

	applied, err := loadAppliedVersions(ctx, pool)
	if err != nil {
		return err
	}
	todo := pendingMigrations(files, applied)
	if len(todo) > 0 {
		logger.Infow("migrate: applying pending migrations", logger.FieldCount, len(todo))
	}
	for _, name := range todo {
		if err := applyOneMigration(ctx, pool, migrationsDir, name); err != nil {
			return err
		}
		logger.Infow("migration applied", logger.FieldVersion, name)
	}
	return nil
}

// Pending 返回尚未应用的迁移文件名, 不执行。
func Pending(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) ([]string, error) {
	if pool == nil {
		return nil, apperrors.New("Migrate.Pending", "pool is required")
	}
	if err := ensureVersionTable(ctx, pool); err != nil {
		return nil, err
	}
	files, err := migrationFiles(migrationsDir)
	if err != nil {
		return nil, err
	}
	applied, err := loadAppliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}
	return pendingMigrations(files, applied), nil
}

func ensureVersionTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		logger.Error("migrate: create schema_version table failed", logger.FieldError, err)
		return apperrors.Wrap(err, "Migrate", "create schema_version table")
	}
	return nil
}

// migrationFiles 目录不存在视为空。
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "Migrate", "read migrations dir")
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	return files, nil
}

func loadAppliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	if pool == nil {
		return nil, apperrors.New("Migrate", "pool is required")
	}
	rows, err := pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyOneMigration(ctx context.Context, pool *pgxpool.Pool, migrationsDir, name string) error {
	if pool == nil {
		return apperrors.New("Migrate", "pool is required")
	}
	sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, name))
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "read migration %s", name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "begin tx for %s", name)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return apperrors.Wrapf(err, "Migrate", "exec migration %s", name)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, name); err != nil {
		return apperrors.Wrapf(err, "Migrate", "record migration %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrapf(err, "Migrate", "commit migration %s", name)
	}
	return nil
}

func pendingMigrations(files []string, applied map[string]bool) []string {
	var todo []string
	for _, name := range files {
		if !applied[name] {
			todo = append(todo, name)
		}
	}
	return todo
}
