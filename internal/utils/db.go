// 包 utils：Postgres 连接工具，统一环境变量读取与连接池配置
package utils

import (
	"database/sql"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// BuildPostgresDSNFromEnv：由 PG_* 环境变量拼装 DSN
// 约束：未配置项使用本地默认值；密码为空时省略
func BuildPostgresDSNFromEnv() string {
	host := envDefault("PG_HOST", "localhost")
	port := envDefault("PG_PORT", "5432")
	user := envDefault("PG_USER", "postgres")
	db := envDefault("PG_DB", "geolayer")
	ssl := envDefault("PG_SSLMODE", "disable")
	dsn := "postgres://" + user
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		dsn += ":" + pass
	}
	return dsn + "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
}

// OpenPostgresFromEnv：打开数据库并配置连接池
// 背景：边界加载为整表批量读取，连接数需求低；池参数可经环境变量覆盖
func OpenPostgresFromEnv() (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	maxOpen := 10
	maxIdle := 5
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			maxOpen = n
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n >= 0 {
			maxIdle = n
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	return db, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
