package boundary

import "sync/atomic"

// 文档注释：动态边界存储
// 背景：通过 atomic.Value 提供无锁读写切换，支持热重载新快照而不中断查询路径；
// 读侧拿到的集合永远是某个完整加载成功的快照。
// 约束：加载失败时不得调用 Set，保持旧快照继续服务；从未成功加载时 Current 返回 nil。
type DynamicStore struct{ v atomic.Value }

// Current：读路径，返回当前快照；未加载时返回 nil
func (d *DynamicStore) Current() *Collection {
	x := d.v.Load()
	if x == nil {
		return nil
	}
	return x.(*Collection)
}

// Set：写路径，整体替换当前快照；写入后立即对后续查询生效
// WARNING: c 为 nil 会 panic；上层必须仅在加载成功后调用
func (d *DynamicStore) Set(c *Collection) {
	if c == nil {
		panic("boundary: Set(nil)")
	}
	d.v.Store(c)
}
