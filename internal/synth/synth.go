// 包 synth：将关联结果与外部渲染描述合成为可挂载的图层蓝图
package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"geolayer/internal/boundary"
	"geolayer/internal/join"
	"geolayer/internal/logger"
	"geolayer/internal/metrics"
)

// ErrEmpty：几何过滤后无记录存活，本次构建失败且不产出部分图层
var ErrEmpty = errors.New("synthesis empty: no records with geometry")

// 文档注释：分级体量上限
// 背景：限制宿主渲染成本；只影响渲染子集，不影响其他消费方可见的分析数据。
// 规则：低于 fullLimit 全量；不超过 midCeiling 时截到 midCap；再往上截到 hardCap。
const (
	fullLimit  = 4000
	midCeiling = 8000
	midCap     = 6000
	hardCap    = 4000
)

// 文档注释：图层要素
// 背景：Geometry 为对边界快照的借用引用，合成与渲染期间均不修改。
type Feature struct {
	AreaID      string
	DisplayName string
	Score       float64
	Geometry    *boundary.Geometry
}

// 文档注释：图层蓝图（合成输出）
// 背景：携带渲染所需的全部输入：要素子集、目标变量、不透明渲染描述与整体范围；
// 所有权在产出句柄后转移给图层管理器。
type Layer struct {
	ID             string
	TargetVariable string
	Renderer       json.RawMessage
	Features       []Feature
	Extent         [4]float64 // minLon, minLat, maxLon, maxLat
	FilteredOut    int        // 无几何或无分数被过滤的记录数
	Truncated      int        // 体量上限截断的记录数
}

var layerSeq atomic.Uint64

// 文档注释：合成图层
// 背景：过滤无几何/无分数记录并上报数量，应用分级体量上限后装配蓝图；
// 渲染描述原样折叠进蓝图，由宿主符号化，合成器不展开其内容。
// 返回：全部记录被过滤时返回 ErrEmpty，不产出部分图层。
func Synthesize(records []join.Joined, renderer json.RawMessage, targetVariable string) (*Layer, error) {
	valid := make([]*join.Joined, 0, len(records))
	for i := range records {
		r := &records[i]
		if r.Geometry == nil || !r.HasScore {
			continue
		}
		valid = append(valid, r)
	}
	filtered := len(records) - len(valid)
	if filtered > 0 {
		metrics.SynthFilteredTotal.Add(float64(filtered))
	}
	if len(valid) == 0 {
		return nil, ErrEmpty
	}
	limit := volumeCap(len(valid))
	truncated := 0
	if len(valid) > limit {
		truncated = len(valid) - limit
		valid = valid[:limit] // 记录按排名有序，保留头部
		metrics.SynthTruncatedTotal.Add(float64(truncated))
	}
	l := &Layer{
		ID:             layerID(targetVariable),
		TargetVariable: targetVariable,
		Renderer:       renderer,
		Features:       make([]Feature, 0, len(valid)),
		FilteredOut:    filtered,
		Truncated:      truncated,
	}
	ext := [4]float64{180, 90, -180, -90}
	for _, r := range valid {
		l.Features = append(l.Features, Feature{
			AreaID:      r.AreaID,
			DisplayName: r.DisplayName,
			Score:       r.Score,
			Geometry:    r.Geometry,
		})
		b := r.Geometry.BBox()
		if b[0] < ext[0] { ext[0] = b[0] }
		if b[1] < ext[1] { ext[1] = b[1] }
		if b[2] > ext[2] { ext[2] = b[2] }
		if b[3] > ext[3] { ext[3] = b[3] }
	}
	l.Extent = ext
	logger.L().Debug("synth_done",
		"layer", l.ID,
		"features", len(l.Features),
		"filtered", filtered,
		"truncated", truncated,
	)
	return l, nil
}

// 分级体量上限：全量阈值以下不截断；中档截到 midCap；超大集合截到 hardCap
func volumeCap(n int) int {
	switch {
	case n < fullLimit:
		return n
	case n <= midCeiling:
		return midCap
	default:
		return hardCap
	}
}

// 图层标识：目标变量 + 进程内序号 + 时间戳，宿主集合内唯一
func layerID(targetVariable string) string {
	return fmt.Sprintf("layer-%s-%s-%s",
		targetVariable,
		strconv.FormatUint(layerSeq.Add(1), 10),
		strconv.FormatInt(time.Now().UnixNano(), 36))
}
