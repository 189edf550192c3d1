// 包 maphost：进程内图层集合，实现 layercache.Host 契约
package maphost

import (
	"fmt"
	"sync"

	"geolayer/internal/synth"
)

// 文档注释：内存宿主
// 背景：服务端会话与测试使用的图层集合实现；真实地图运行时在前端，经契约保持同构行为。
// 约束：重复挂载同一标识或卸载不存在的图层都视为契约违反并返回错误。
type MemHost struct {
	mu     sync.Mutex
	id     string
	layers map[string]*synth.Layer
	order  []string
}

func New(id string) *MemHost {
	return &MemHost{id: id, layers: make(map[string]*synth.Layer)}
}

func (h *MemHost) ID() string { return h.id }

func (h *MemHost) AddLayer(l *synth.Layer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.layers[l.ID]; ok {
		return fmt.Errorf("maphost: duplicate layer %s", l.ID)
	}
	h.layers[l.ID] = l
	h.order = append(h.order, l.ID)
	return nil
}

func (h *MemHost) RemoveLayer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.layers[id]; !ok {
		return fmt.Errorf("maphost: no such layer %s", id)
	}
	delete(h.layers, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return nil
}

// Layers：当前图层标识（挂载序）
func (h *MemHost) Layers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Len：当前图层数
func (h *MemHost) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.layers)
}
