package layercache

import (
	"errors"

	"geolayer/internal/synth"
)

// 文档注释：构建结局（带标签）
// 背景：同一构建可被多个等待者共享，所有等待者收到完全相同的结局；
// 标签让调用方区分“被更新请求取代”与“构建本身失败”。
type OutcomeKind int

const (
	// Attached：构建成功且图层已挂载
	Attached OutcomeKind = iota
	// Superseded：后到的不同签名赢得槽位，本次请求的结果被放弃
	Superseded
	// TimedOut：构建超过期限，等待者被解除关注；构建例程本身不保证停止
	TimedOut
	// Failed：构建或挂载失败；当前已挂载图层不受影响
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Attached:
		return "attached"
	case Superseded:
		return "superseded"
	case TimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// 文档注释：图层句柄
// 背景：已挂载图层的不透明所有权凭据；挂载后归管理器独占，调用方仅读取。
type Handle struct {
	LayerID   string
	Signature string
	Layer     *synth.Layer
}

// Outcome：每个等待者收到的共享结局
type Outcome struct {
	Kind      OutcomeKind
	Handle    *Handle
	Signature string
	Err       error
}

var (
	// ErrClosed：管理器已随宿主销毁，不再接受任何操作
	ErrClosed = errors.New("layer manager closed")
	// ErrHostAttach：宿主拒绝挂载；槽位清空，之前的图层保持不动
	ErrHostAttach = errors.New("host attach failed")
)
