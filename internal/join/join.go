// 包 join：将分析记录与边界几何按规范化标识配对
package join

import (
	"geolayer/internal/boundary"
	"geolayer/internal/logger"
	"geolayer/internal/metrics"
)

// 文档注释：分析记录（关联输入）
// 背景：由上游排序分析引擎产出，收到后不可变；RawAreaID 为任一可识别的标识字段原文。
// 约束：缺失分数的记录照常参与关联，但不进入专题渲染；HasScore 区分零分与无分。
type Record struct {
	RawAreaID      string
	Score          float64
	HasScore       bool
	TargetVariable string
	Attributes     map[string]any
}

// 文档注释：关联结果
// 背景：Geometry 为对边界快照的借用引用，绝不修改；未命中时显式置 nil 并以原始标识兜底展示名。
// 约束：输入多少条记录输出多少条，未命中不丢行——其他消费方仍可能需要该行的分析数据。
type Joined struct {
	AreaID      string
	DisplayName string
	Geometry    *boundary.Geometry
	Score       float64
	HasScore    bool
	Attributes  map[string]any
}

// 文档注释：规范化键索引
// 背景：对边界集合一次性展开全部策略候选键，查询期 O(1) 命中；索引随快照共享只读。
// 约束：键冲突时保留先注册者（集合序即优先序）；strategy 维度仅用于指标与排障。
type Index struct {
	byKey map[string]*boundary.Geometry
	n     int
}

// NewIndex：由边界集合构建索引
// 返回：集合为 nil 或空时返回 nil，关联调用将以 ErrUnavailable 快速失败
func NewIndex(c *boundary.Collection) *Index {
	if c == nil || c.Len() == 0 {
		return nil
	}
	idx := &Index{byKey: make(map[string]*boundary.Geometry, c.Len()), n: c.Len()}
	// 策略为外层循环：高优先策略的键先注册，派生键不得遮蔽其他几何的精确键
	for _, st := range Strategies {
		for _, g := range c.All() {
			for _, k := range st.Candidates(g.AreaID) {
				if _, ok := idx.byKey[k]; !ok {
					idx.byKey[k] = g
				}
			}
		}
	}
	return idx
}

// lookup：按策略表顺序尝试候选键，首个命中即返回
func (idx *Index) lookup(raw string) (*boundary.Geometry, string) {
	for _, st := range Strategies {
		for _, k := range st.Candidates(raw) {
			if g, ok := idx.byKey[k]; ok {
				return g, st.Name
			}
		}
	}
	return nil, ""
}

// 文档注释：关联（纯函数）
// 背景：对每条记录按策略表匹配边界；未命中降级为无几何行而非丢弃。
// 返回：与输入等长的关联结果；索引不可用时返回 boundary.ErrUnavailable。
func Join(records []Record, idx *Index) ([]Joined, error) {
	if idx == nil || idx.n == 0 {
		return nil, boundary.ErrUnavailable
	}
	out := make([]Joined, 0, len(records))
	unmatched := 0
	for i := range records {
		r := &records[i]
		j := Joined{Score: r.Score, HasScore: r.HasScore, Attributes: r.Attributes}
		if g, st := idx.lookup(r.RawAreaID); g != nil {
			j.AreaID = g.AreaID
			j.DisplayName = g.DisplayName
			j.Geometry = g
			metrics.JoinMatchedTotal.WithLabelValues(st).Inc()
		} else {
			j.AreaID = boundary.CanonicalID(r.RawAreaID)
			j.DisplayName = r.RawAreaID
			unmatched++
			metrics.JoinUnmatchedTotal.Inc()
		}
		out = append(out, j)
	}
	if unmatched > 0 {
		logger.L().Debug("join_unmatched", "count", unmatched, "total", len(records))
	}
	return out, nil
}
