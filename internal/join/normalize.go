package join

import (
	"regexp"
	"strings"

	"geolayer/internal/boundary"
)

// 文档注释：标识规范化策略表
// 背景：分析记录携带的区域标识格式不一（裸数字、补零编码、含编码的描述性标签），
// 以声明式的有序策略表逐个生成候选键查询边界索引，首个命中即胜出，不做打分回退。
// 约束：新增标识格式只需追加表项，不改动关联控制流；策略名用于命中指标归档。
type Strategy struct {
	Name       string
	Candidates func(raw string) []string
}

// 编码宽度：边界数据以五位补零编码为主（如县级码），与数字型标识对齐
const padWidth = 5

var codeRe = regexp.MustCompile(`\d{3,}`)

// Strategies：默认策略表，按优先级排列
// 顺序：原样规范化 → 数字补零/去零变体 → 标签中提取编码
var Strategies = []Strategy{
	{Name: "exact", Candidates: func(raw string) []string {
		id := boundary.CanonicalID(raw)
		if id == "" {
			return nil
		}
		return []string{id}
	}},
	{Name: "zero_pad", Candidates: func(raw string) []string {
		id := boundary.CanonicalID(raw)
		if id == "" || !isDigits(id) {
			return nil
		}
		var out []string
		if len(id) < padWidth {
			out = append(out, strings.Repeat("0", padWidth-len(id))+id)
		}
		if t := strings.TrimLeft(id, "0"); t != "" && t != id {
			out = append(out, t)
		}
		return out
	}},
	{Name: "label_code", Candidates: func(raw string) []string {
		m := codeRe.FindString(raw)
		if m == "" {
			return nil
		}
		out := []string{m}
		if len(m) < padWidth {
			out = append(out, strings.Repeat("0", padWidth-len(m))+m)
		}
		return out
	}},
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
