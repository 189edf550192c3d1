package migrate

import (
	"database/sql"

	"geolayer/internal/logger"
)

// 背景：首次运行自动创建边界表与索引，保障导入工具与服务端加载
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _map_boundaries (
            area_id TEXT PRIMARY KEY,
            display_name TEXT NOT NULL DEFAULT '',
            kind TEXT NOT NULL DEFAULT 'polygon',
            geometry JSONB NOT NULL,
            attributes JSONB,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_boundaries_kind ON _map_boundaries(kind)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
