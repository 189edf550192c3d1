// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"geolayer/internal/api"
	"geolayer/internal/boundary"
	"geolayer/internal/layercache"
	"geolayer/internal/logger"
	"geolayer/internal/metrics"
	"geolayer/internal/middleware"
	"geolayer/internal/migrate"
	"geolayer/internal/utils"
	"geolayer/internal/viewport"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	// 文档注释：边界数据源选择
	// 背景：本地 GeoJSON 目录适合开发与小数据集；生产从数据库整表加载。
	// 约束：启动加载失败不退出——关联调用在重载成功前一律快速失败。
	source := os.Getenv("BOUNDARY_SOURCE")
	if source == "" {
		source = "dir"
	}
	dir := os.Getenv("BOUNDARY_DIR")
	if dir == "" {
		dir = filepath.Join("data", "boundaries")
	}
	var db *sql.DB
	if source == "db" {
		var err error
		db, err = utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
	}
	var store boundary.DynamicStore
	reload := func() error {
		var c *boundary.Collection
		var err error
		if source == "db" {
			c, err = boundary.LoadDB(db)
		} else {
			c, err = boundary.LoadDir(dir)
		}
		if err != nil {
			return err
		}
		store.Set(c)
		return nil
	}
	if err := reload(); err != nil {
		// 旧快照（若有）继续服务；从未加载成功时关联调用快速失败
		l.Error("boundary_load_error", "source", source, "err", err)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(context.Background()).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
	} else {
		l.Info("redis_ping_ok")
	}
	snap := layercache.NewSnapshotStore(rc)
	sessions := api.NewSessions(snap)
	defer sessions.CloseAll()

	vp := viewport.NewFromEnv()
	defer vp.Close()

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(&store, sessions, vp, reload)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	l.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("serve_error", "err", err)
		os.Exit(1)
	}
}
