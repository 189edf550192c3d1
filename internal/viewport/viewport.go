// 包 viewport：按客户端 IP 推导新会话的初始地图视野
package viewport

import (
	"net"
	"os"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	"geolayer/internal/logger"
)

// 文档注释：初始视野
// 背景：新会话尚无已挂载图层时，前端需要一个合理的地图中心与缩放；
// 按客户端 IP 查 GeoLite2-City 推导，查不到时回落到配置的默认视野。
type Viewport struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Zoom   int     `json:"zoom"`
	City   string  `json:"city,omitempty"`
	Approx bool    `json:"approx"`
}

type Service struct {
	db  *geoip2.Reader
	def Viewport
}

// NewFromEnv：打开 VIEWPORT_MMDB_PATH 指向的城市库；缺失或打开失败时仅提供默认视野
// 约束：默认中心取 VIEWPORT_DEFAULT_LAT/LON（浮点），未配置时为 0,0 / zoom 2
func NewFromEnv() *Service {
	def := Viewport{Zoom: 2, Approx: true}
	if s := os.Getenv("VIEWPORT_DEFAULT_LAT"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			def.Lat = f
		}
	}
	if s := os.Getenv("VIEWPORT_DEFAULT_LON"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			def.Lon = f
		}
	}
	svc := &Service{def: def}
	path := os.Getenv("VIEWPORT_MMDB_PATH")
	if path == "" {
		logger.L().Info("viewport_mmdb_disabled")
		return svc
	}
	db, err := geoip2.Open(path)
	if err != nil {
		logger.L().Error("viewport_mmdb_open_error", "path", path, "err", err)
		return svc
	}
	logger.L().Info("viewport_mmdb_ok", "path", path)
	svc.db = db
	return svc
}

// Close：释放 mmdb 句柄
func (s *Service) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// 文档注释：按 IP 推导视野
// 背景：城市级命中用较高缩放，只到国家级用低缩放；解析失败一律返回默认视野。
func (s *Service) Lookup(ip string) Viewport {
	if s.db == nil {
		return s.def
	}
	p := net.ParseIP(ip)
	if p == nil {
		return s.def
	}
	rec, err := s.db.City(p)
	if err != nil || rec == nil {
		return s.def
	}
	v := Viewport{
		Lat: rec.Location.Latitude,
		Lon: rec.Location.Longitude,
	}
	switch {
	case rec.City.GeoNameID != 0:
		v.Zoom = 10
		v.City = rec.City.Names["en"]
	case rec.Country.GeoNameID != 0:
		v.Zoom = 5
		v.Approx = true
	default:
		return s.def
	}
	if v.Lat == 0 && v.Lon == 0 {
		return s.def
	}
	return v
}
