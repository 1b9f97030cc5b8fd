// crud_helpers.go: 通用删除操作。
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeleteByKey 按单列删除。
func DeleteByKey(ctx context.Context, pool *pgxpool.Pool, table, keyCol, keyVal string) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{keyCol}.Sanitize())
	tag, err := pool.Exec(ctx, sql, keyVal)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteScopedKeys 在 scopeCol = scopeVal 范围内按 keyCol 批量删除。
func DeleteScopedKeys(ctx context.Context, pool *pgxpool.Pool, table, scopeCol, scopeVal, keyCol string, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = ANY($2::text[])",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{scopeCol}.Sanitize(),
		pgx.Identifier{keyCol}.Sanitize())
	tag, err := pool.Exec(ctx, sql, scopeVal, keys)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
