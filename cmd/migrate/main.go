// cmd/migrate: 独立执行 Postgres 迁移 (归档与偏好表)。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/database"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list pending migrations without applying them")
	dir := flag.String("dir", "", "migrations directory (default MIGRATIONS_DIR)")
	flag.Parse()

	if wd, err := os.Getwd(); err == nil {
		config.LoadEnvFile(wd, 5)
	}
	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	if *dir != "" {
		cfg.MigrationsDir = *dir
	}
	if cfg.PostgresConnStr == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_CONNECTION_STRING not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *dryRun {
		pending, err := database.Pending(ctx, pool, cfg.MigrationsDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pending: %v\n", err)
			os.Exit(1)
		}
		if len(pending) == 0 {
			fmt.Println("schema is up to date")
		}
		for _, name := range pending {
			fmt.Println("pending", name)
		}
		return
	}

	if err := database.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migration complete")
}
