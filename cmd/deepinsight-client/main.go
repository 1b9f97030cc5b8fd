// cmd/deepinsight-client: 渲染层 HTTP 服务: 会话、流式组装、视图快照与 SSE 推送。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/buildinfo"
	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/database"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/httpapi"
	"github.com/multi-agent/deepinsight-client/internal/prefs"
	"github.com/multi-agent/deepinsight-client/internal/session"
	"github.com/multi-agent/deepinsight-client/internal/store"
	"github.com/multi-agent/deepinsight-client/internal/thumbnail"
	"github.com/multi-agent/deepinsight-client/internal/timeline"
	"github.com/multi-agent/deepinsight-client/internal/transport"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
	"github.com/multi-agent/deepinsight-client/pkg/util"
)

func main() {
	if wd, err := os.Getwd(); err == nil {
		config.LoadEnvFile(wd, 5)
	}
	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging unavailable", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	info := buildinfo.Current()
	logger.Info("build info",
		logger.FieldVersion, info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"runtime", info.Runtime,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", logger.Any(logger.FieldError, err))
	}
	var (
		archive  session.Archive
		prefRepo *store.UIPreferenceStore
	)
	if pool != nil {
		defer pool.Close()
		archive = store.NewMessageArchiveStore(pool)
		prefRepo = store.NewUIPreferenceStore(pool)
	}

	registry, err := config.LoadToolRegistry(cfg.ToolRegistryPath)
	if err != nil {
		logger.Fatal("tool registry load failed", logger.Any(logger.FieldError, err))
	}

	client := backend.New(cfg, nil)
	preferences := prefs.NewManager(prefRepo, cfg.DefaultDataSources)
	bus := httpapi.NewEventBus()

	sessions := session.NewManager(session.Deps{
		Transport:   transport.New(cfg),
		Archive:     archive,
		Backend:     client,
		Preferences: preferences,
		Timeline: timeline.NewBuilder(timeline.Options{
			Registry:     registry,
			SnippetWidth: cfg.SnippetWidth,
			AnomalyWidth: cfg.AnomalyWidth,
		}),
		MergeMode: history.ParseMergeMode(cfg.MergeMode),
		OnChange:  bus.PublishView,
		OnNotice:  bus.PublishNotice,
	})

	if cfg.AppEnv != "development" && cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := httpapi.NewServer(httpapi.Deps{
		Sessions:   sessions,
		Backend:    client,
		Thumbnails: thumbnail.New(client, cfg.ThumbnailCacheSize),
		Prefs:      preferences,
		Bus:        bus,
		Keepalive:  cfg.SSEKeepalive(),
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Infow("deepinsight-client starting",
		logger.FieldAddr, cfg.ListenAddr,
		logger.FieldTransport, cfg.StreamTransport,
		"merge_mode", cfg.MergeMode,
	)
	util.SafeGo(func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", logger.Any(logger.FieldError, err))
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	sessions.Close(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logger.FieldError, err)
	}
}
