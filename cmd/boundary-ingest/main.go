// 边界导入工具：将 GeoJSON 边界文件批量写入数据库，供服务端按 db 源加载
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"geolayer/internal/boundary"
	"geolayer/internal/logger"
	"geolayer/internal/migrate"
	"geolayer/internal/utils"
)

// 文档注释：单行 upsert 写入边界
// 背景：以 area_id 为主键幂等导入，重复运行只更新内容；geometry/attributes 以 JSON 文本入列。
func upsertBoundary(ctx context.Context, db *sql.DB, g *boundary.Geometry) error {
	geom, err := json.Marshal(geometryDoc(g))
	if err != nil {
		return err
	}
	var attrs []byte
	if g.Attributes != nil {
		attrs, _ = json.Marshal(g.Attributes)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO _map_boundaries(area_id, display_name, kind, geometry, attributes, updated_at)
        VALUES($1,$2,$3,$4,$5,now())
        ON CONFLICT (area_id) DO UPDATE SET display_name=EXCLUDED.display_name, kind=EXCLUDED.kind, geometry=EXCLUDED.geometry, attributes=EXCLUDED.attributes, updated_at=now()`,
		g.AreaID, g.DisplayName, g.Kind.String(), geom, nullable(attrs),
	)
	return err
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// 将内存几何还原为 GeoJSON geometry 对象（写库格式与加载格式一致）
func geometryDoc(g *boundary.Geometry) map[string]any {
	if g.Kind == boundary.KindPoint {
		return map[string]any{"type": "Point", "coordinates": []float64{g.Point.Lon, g.Point.Lat}}
	}
	var parts [][][][]float64
	for _, p := range g.Polys {
		var rings [][][]float64
		for _, r := range p.Rings {
			var ring [][]float64
			for _, pt := range r {
				ring = append(ring, []float64{pt.Lon, pt.Lat})
			}
			rings = append(rings, ring)
		}
		parts = append(parts, rings)
	}
	if len(parts) == 1 {
		return map[string]any{"type": "Polygon", "coordinates": parts[0]}
	}
	return map[string]any{"type": "MultiPolygon", "coordinates": parts}
}

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	dir := flag.String("dir", "data/boundaries", "GeoJSON 边界目录")
	flag.Parse()

	coll, err := boundary.LoadDir(*dir)
	if err != nil {
		l.Error("boundary_load_error", "dir", *dir, "err", err)
		os.Exit(1)
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	ctx := context.Background()
	ok, fail := 0, 0
	for _, g := range coll.All() {
		if err := upsertBoundary(ctx, db, g); err != nil {
			l.Error("boundary_upsert_error", "id", g.AreaID, "err", err)
			fail++
			continue
		}
		ok++
	}
	l.Info("boundary_ingest_done", "ok", ok, "fail", fail)
	if fail > 0 {
		os.Exit(1)
	}
}
