// Package database PostgreSQL 连接池与迁移。
//
// 会话归档与界面偏好共用一个 pgxpool, 裸写 SQL。未配置连接串时整个持久层降级为内存。
package database

import (
	"context"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/deepinsight-client/internal/config"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// NewPool 创建连接池并 Ping 校验。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.PostgresConnStr == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "NewPool", "POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, apperrors.Wrap(err, "NewPool", "parse postgres config")
	}
	poolCfg.MinConns = safeInt32(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	poolCfg.MaxConns = safeInt32(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")

	// search_path 用 Identifier 转义
	schema := cfg.PostgresSchema
	if schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperrors.Wrap(err, "NewPool", "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, "NewPool", "ping postgres")
	}

	logger.Infow("postgres pool created",
		logger.FieldComponent, "database",
		"min_conns", poolCfg.MinConns,
		"max_conns", poolCfg.MaxConns,
		"schema", schema,
	)
	return pool, nil
}

// Open 连接并执行迁移; 未配置连接串返回 (nil, nil), 调用方走内存降级。
func Open(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.PostgresConnStr == "" {
		logger.Info("postgres not configured, archive and preferences stay in memory")
		return nil, nil
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// safeInt32 超出 int32 范围时 clamp 并告警。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("pool config overflow, clamped to MaxInt32", logger.FieldKey, name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("pool config negative, clamped to 0", logger.FieldKey, name, "value", v)
		return 0
	}
	return int32(v)
}
