package boundary

import (
	"errors"
	"strings"
	"time"
)

// 文档注释：边界几何的最小数据结构
// 背景：统一承载点/面两类区域几何与展示元数据；会话内一次加载、只读共享，供关联与合成层借用引用。
// 约束：几何仅支持 GeoJSON 的 Point/Polygon/MultiPolygon；多面与洞以环列表表达，第一环为外环，其余为洞。
type Geometry struct {
	AreaID      string
	DisplayName string
	Kind        Kind
	Polys       []Polygon
	Point       Point
	Attributes  map[string]any
}

// 几何类别：点或面
type Kind int

const (
	KindPoint Kind = iota
	KindPolygon
)

func (k Kind) String() string {
	if k == KindPoint {
		return "point"
	}
	return "polygon"
}

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]Point
	BBox  [4]float64 // minLon, minLat, maxLon, maxLat
}

// 点坐标（WGS84）
type Point struct{ Lat, Lon float64 }

// ErrUnavailable：边界集合未加载或为空，关联调用应快速失败而非合成占位几何
var ErrUnavailable = errors.New("boundary unavailable")

// 文档注释：边界集合快照
// 背景：按规范化区域标识组织的只读索引；加载成功后整体替换，查询期共享且不可变。
type Collection struct {
	byID     map[string]*Geometry
	list     []*Geometry
	LoadedAt time.Time
}

// NewCollection：由几何切片构建集合；标识冲突时保留先到者
func NewCollection(gs []Geometry) *Collection {
	c := &Collection{byID: make(map[string]*Geometry, len(gs)), LoadedAt: time.Now()}
	for i := range gs {
		g := &gs[i]
		id := CanonicalID(g.AreaID)
		if id == "" {
			continue
		}
		g.AreaID = id
		if _, ok := c.byID[id]; ok {
			continue
		}
		c.byID[id] = g
		c.list = append(c.list, g)
	}
	return c
}

// Get：按规范化标识查找几何
func (c *Collection) Get(id string) (*Geometry, bool) {
	g, ok := c.byID[CanonicalID(id)]
	return g, ok
}

func (c *Collection) Len() int          { return len(c.list) }
func (c *Collection) All() []*Geometry  { return c.list }
func (c *Collection) IDs() []string {
	out := make([]string, 0, len(c.list))
	for _, g := range c.list {
		out = append(out, g.AreaID)
	}
	return out
}

// CanonicalID：区域标识的规范化形式（裁剪空白并统一大写）
// 约束：记录侧的候选标识必须经同一函数规范化后再查询索引
func CanonicalID(raw string) string { return strings.ToUpper(strings.TrimSpace(raw)) }

// 计算环集合的包围盒
func computeBBox(p Polygon) [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, r := range p.Rings {
		for _, pt := range r {
			if pt.Lon < b[0] { b[0] = pt.Lon }
			if pt.Lat < b[1] { b[1] = pt.Lat }
			if pt.Lon > b[2] { b[2] = pt.Lon }
			if pt.Lat > b[3] { b[3] = pt.Lat }
		}
	}
	return b
}

// BBox：几何整体包围盒；点几何返回零尺寸盒
func (g *Geometry) BBox() [4]float64 {
	if g.Kind == KindPoint {
		return [4]float64{g.Point.Lon, g.Point.Lat, g.Point.Lon, g.Point.Lat}
	}
	b := [4]float64{180, 90, -180, -90}
	for _, p := range g.Polys {
		if p.BBox[0] < b[0] { b[0] = p.BBox[0] }
		if p.BBox[1] < b[1] { b[1] = p.BBox[1] }
		if p.BBox[2] > b[2] { b[2] = p.BBox[2] }
		if p.BBox[3] > b[3] { b[3] = p.BBox[3] }
	}
	return b
}
