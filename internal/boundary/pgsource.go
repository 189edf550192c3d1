package boundary

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"geolayer/internal/logger"
)

// 文档注释：从数据库加载边界集合
// 背景：边界由离线导入工具写入 _map_boundaries，服务启动或热重载时整表拉取构建快照；
// 常驻内存后查询路径不再访问数据库。
// 约束：geometry 列存 GeoJSON geometry 对象文本；attributes 列存 JSON 对象，可为空。
func LoadDB(db *sql.DB) (*Collection, error) {
	rows, err := db.Query("SELECT area_id, display_name, geometry, attributes FROM _map_boundaries")
	if err != nil {
		return nil, fmt.Errorf("boundary query: %w", err)
	}
	defer rows.Close()
	var gs []Geometry
	for rows.Next() {
		var id, name string
		var geomRaw []byte
		var attrRaw sql.NullString
		if err := rows.Scan(&id, &name, &geomRaw, &attrRaw); err != nil {
			return nil, fmt.Errorf("boundary scan: %w", err)
		}
		var geom map[string]any
		if err := json.Unmarshal(geomRaw, &geom); err != nil {
			logger.L().Error("boundary_row_parse_error", "id", id, "err", err)
			continue
		}
		g := Geometry{AreaID: id, DisplayName: name}
		if g.DisplayName == "" {
			g.DisplayName = id
		}
		if attrRaw.Valid && attrRaw.String != "" {
			_ = json.Unmarshal([]byte(attrRaw.String), &g.Attributes)
		}
		if !parseGeometry(&g, geom) {
			logger.L().Debug("boundary_row_skip", "reason", "no_geometry", "id", id)
			continue
		}
		gs = append(gs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(gs) == 0 {
		return nil, ErrUnavailable
	}
	c := NewCollection(gs)
	logger.L().Info("boundary_load_ok", "source", "db", "areas", c.Len())
	return c, nil
}
