package boundary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"geolayer/internal/logger"
)

// 文档注释：从数据目录加载边界集合
// 背景：支持 GeoJSON FeatureCollection（*.geojson）与约定的 boundaries.json；每个要素需携带可识别的区域标识。
// 约束：标识字段按 area_id → id → GEOID → code 优先取值；展示名按 display_name → name → label；均缺失的要素被跳过并记日志。
func LoadDir(dir string) (*Collection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("boundary dir: %w", err)
	}
	var gs []Geometry
	for _, ent := range entries {
		name := strings.ToLower(ent.Name())
		if name != "boundaries.json" && !strings.HasSuffix(name, ".geojson") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			logger.L().Error("boundary_file_read_error", "file", ent.Name(), "err", err)
			continue
		}
		var gj map[string]any
		if err := json.Unmarshal(b, &gj); err != nil {
			logger.L().Error("boundary_file_parse_error", "file", ent.Name(), "err", err)
			continue
		}
		n := appendFromGeoJSON(&gs, gj)
		logger.L().Debug("boundary_file_loaded", "file", ent.Name(), "features", n)
	}
	if len(gs) == 0 {
		return nil, ErrUnavailable
	}
	c := NewCollection(gs)
	logger.L().Info("boundary_load_ok", "source", "dir", "areas", c.Len())
	return c, nil
}

// 解析 FeatureCollection/Feature，返回追加的要素数
func appendFromGeoJSON(gs *[]Geometry, gj map[string]any) int {
	switch strings.ToLower(getStr(gj, "type")) {
	case "featurecollection":
		n := 0
		if arr, ok := gj["features"].([]any); ok {
			for _, it := range arr {
				if f, ok := it.(map[string]any); ok {
					if g, ok := parseFeature(f); ok {
						*gs = append(*gs, g)
						n++
					}
				}
			}
		}
		return n
	case "feature":
		if g, ok := parseFeature(gj); ok {
			*gs = append(*gs, g)
			return 1
		}
	}
	return 0
}

func parseFeature(f map[string]any) (Geometry, bool) {
	var g Geometry
	props, _ := f["properties"].(map[string]any)
	g.AreaID = firstStr(props, "area_id", "id", "GEOID", "geoid", "code")
	g.DisplayName = firstStr(props, "display_name", "name", "label")
	if g.AreaID == "" {
		logger.L().Debug("boundary_feature_skip", "reason", "no_id", "name", g.DisplayName)
		return g, false
	}
	if g.DisplayName == "" {
		g.DisplayName = g.AreaID
	}
	g.Attributes = props
	geom, _ := f["geometry"].(map[string]any)
	if !parseGeometry(&g, geom) {
		logger.L().Debug("boundary_feature_skip", "reason", "no_geometry", "id", g.AreaID)
		return g, false
	}
	return g, true
}

// 解析 GeoJSON geometry 对象（Point/Polygon/MultiPolygon）
func parseGeometry(g *Geometry, geom map[string]any) bool {
	if geom == nil {
		return false
	}
	switch strings.ToLower(getStr(geom, "type")) {
	case "point":
		if vv, ok := geom["coordinates"].([]any); ok && len(vv) >= 2 {
			g.Kind = KindPoint
			g.Point = Point{Lat: toFloat(vv[1]), Lon: toFloat(vv[0])}
			return true
		}
	case "polygon":
		if coords, ok := geom["coordinates"].([]any); ok {
			if p, ok := parseRings(coords); ok {
				g.Kind = KindPolygon
				g.Polys = append(g.Polys, p)
				return true
			}
		}
	case "multipolygon":
		if coords, ok := geom["coordinates"].([]any); ok {
			for _, part := range coords {
				if rings, ok := part.([]any); ok {
					if p, ok := parseRings(rings); ok {
						g.Polys = append(g.Polys, p)
					}
				}
			}
			if len(g.Polys) > 0 {
				g.Kind = KindPolygon
				return true
			}
		}
	}
	return false
}

func parseRings(coords []any) (Polygon, bool) {
	var poly Polygon
	for _, ring := range coords {
		arr, ok := ring.([]any)
		if !ok {
			continue
		}
		var rr []Point
		for _, p := range arr {
			if vv, ok := p.([]any); ok && len(vv) >= 2 {
				rr = append(rr, Point{Lat: toFloat(vv[1]), Lon: toFloat(vv[0])})
			}
		}
		if len(rr) >= 3 {
			poly.Rings = append(poly.Rings, rr)
		}
	}
	if len(poly.Rings) == 0 {
		return poly, false
	}
	poly.BBox = computeBBox(poly)
	return poly, true
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

// 按优先级取第一个非空字符串字段；数字型标识容错转为字符串
func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return trimFloat(v)
		}
	}
	return ""
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.0f", f)
	if float64(int64(f)) != f {
		s = fmt.Sprintf("%g", f)
	}
	return s
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
