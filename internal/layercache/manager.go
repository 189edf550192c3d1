// 包 layercache：按签名单航道构建与图层生命周期管理
package layercache

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"geolayer/internal/logger"
	"geolayer/internal/metrics"
	"geolayer/internal/synth"
)

// 文档注释：宿主契约（外部图层集合）
// 背景：管理器是宿主集合唯一的可变共享资源写入方；本子系统在任一时刻至多拥有一个已挂载图层。
// 约束：AddLayer/RemoveLayer 仅由持有槽位锁的调用路径触达，实现方无需内部去重。
type Host interface {
	ID() string
	AddLayer(l *synth.Layer) error
	RemoveLayer(id string) error
}

// BuildFunc：构建例程；ctx 取消仅为建议性，晚到结果由代数校验丢弃
type BuildFunc func(ctx context.Context) (*synth.Layer, error)

// 文档注释：图层管理器（每宿主一个槽位）
// 背景：保证同签名并发请求只执行一次构建（单航道）、新签名后到即胜（supersede）、
// 构建超时解除等待并丢弃晚到结果；挂载/卸载经由槽位锁严格串行。
// 约束：通过 Attach 显式创建并由宿主生命周期持有者传递，不走环境查找；
// 任一时刻至多一个在途构建，晚到结果按代数丢弃。
type Manager struct {
	mu   sync.Mutex
	host Host
	ttl  time.Duration
	snap *SnapshotStore

	closed bool

	// 已挂载状态
	cur    *Handle
	curSig string

	// 在途构建槽位；gen 每次开启/作废构建时递增，用于丢弃晚到结果
	gen         uint64
	inFlightSig string
	inFlightAt  time.Time
	cancelBuild context.CancelFunc
	expireTimer *time.Timer
	waiters     []chan Outcome
}

// Option：管理器可选配置
type Option func(*Manager)

// WithTTL：覆盖构建期限
func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

// WithSnapshots：启用挂载成功后的快照落盘（redis）
func WithSnapshots(s *SnapshotStore) Option { return func(m *Manager) { m.snap = s } }

// 文档注释：挂接宿主并返回显式管理器句柄
// 背景：每宿主一个槽位的不变量由“谁持有宿主谁持有管理器”保证，不依赖全局注册表。
// 约束：构建期限默认取 LAYER_BUILD_TTL_MS（毫秒），未配置时 30s。
func Attach(host Host, opts ...Option) *Manager {
	ttl := 30 * time.Second
	if s := os.Getenv("LAYER_BUILD_TTL_MS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Millisecond
		}
	}
	m := &Manager{host: host, ttl: ttl}
	for _, o := range opts {
		o(m)
	}
	return m
}

// 文档注释：获取图层（核心入口）
// 背景：命中已挂载签名直接返回；同签名在途则并入等待；异签名在途则取代之；
// 否则开启新构建并登记期限。所有路径对调用方表现为一次阻塞调用。
// 返回：带标签的共享结局；ctx 取消仅使本调用方退出等待，不影响构建与其他等待者。
func (m *Manager) Acquire(ctx context.Context, sig string, build BuildFunc) Outcome {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Outcome{Kind: Failed, Signature: sig, Err: ErrClosed}
	}
	// 缓存命中：同签名且已挂载，不做任何工作
	if m.cur != nil && m.curSig == sig {
		h := m.cur
		m.mu.Unlock()
		metrics.CacheHitsTotal.Inc()
		return Outcome{Kind: Attached, Handle: h, Signature: sig}
	}
	// 并入在途构建：同签名等待共享结局
	if m.inFlightSig == sig {
		ch := m.register()
		m.mu.Unlock()
		metrics.BuildsCoalescedTotal.Inc()
		return m.await(ctx, ch, sig)
	}
	// 取代：异签名在途，后到请求即胜
	if m.inFlightSig != "" {
		m.supersedeLocked()
	}
	ch := m.startBuildLocked(sig, build)
	m.mu.Unlock()
	return m.await(ctx, ch, sig)
}

// 文档注释：等待指定签名的结局
// 背景：供已知签名、不愿触发构建的调用方使用（如状态查询端）。
// 返回：已挂载同签名立即返回；同签名在途则限时等待；均不是时 ok=false。
func (m *Manager) WaitFor(ctx context.Context, sig string, timeout time.Duration) (Outcome, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Outcome{Kind: Failed, Signature: sig, Err: ErrClosed}, true
	}
	if m.cur != nil && m.curSig == sig {
		h := m.cur
		m.mu.Unlock()
		return Outcome{Kind: Attached, Handle: h, Signature: sig}, true
	}
	if m.inFlightSig != sig {
		m.mu.Unlock()
		return Outcome{}, false
	}
	ch := m.register()
	m.mu.Unlock()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case out := <-ch:
		return out, true
	case <-t.C:
		return Outcome{Kind: TimedOut, Signature: sig}, true
	case <-ctx.Done():
		return Outcome{Kind: Failed, Signature: sig, Err: ctx.Err()}, true
	}
}

// 文档注释：绕过构建管线直接替换图层
// 背景：调用方已持有完成的图层（如上个会话的快照），走与构建成功相同的原子换装序列。
// 约束：在途构建被取代；挂载失败时保持之前的图层不动并返回错误。
func (m *Manager) ForceReplace(layer *synth.Layer, sig string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.inFlightSig != "" {
		m.supersedeLocked()
	}
	return m.attachLocked(layer, sig)
}

// 文档注释：销毁槽位
// 背景：宿主销毁或硬复位时调用；卸载当前图层、作废在途构建并拒绝全部等待者。
// 约束：幂等；之后除查询外的操作均返回 ErrClosed。
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.inFlightSig != "" {
		m.clearInFlightLocked()
		m.resolveLocked(Outcome{Kind: Failed, Err: ErrClosed})
	}
	if m.cur != nil {
		if err := m.host.RemoveLayer(m.cur.LayerID); err != nil {
			logger.L().Error("layer_detach_error", "host", m.host.ID(), "layer", m.cur.LayerID, "err", err)
		}
		m.cur = nil
		m.curSig = ""
	}
	logger.L().Info("layer_slot_closed", "host", m.host.ID())
}

// Current：当前挂载的签名与句柄（排障与状态端点用）
func (m *Manager) Current() (string, *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curSig, m.cur
}

// InFlight：在途构建的签名与剩余期限；无在途时签名为空
func (m *Manager) InFlight() (string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlightSig, m.inFlightAt
}

// ---- 以下均要求持有 m.mu ----

// 开启新构建：登记槽位、期限定时器，并在独立协程执行构建例程
func (m *Manager) startBuildLocked(sig string, build BuildFunc) chan Outcome {
	m.gen++
	g := m.gen
	m.inFlightSig = sig
	m.inFlightAt = time.Now().Add(m.ttl)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelBuild = cancel
	ch := m.register()
	m.expireTimer = time.AfterFunc(m.ttl, func() { m.expire(g, sig) })
	metrics.BuildsStartedTotal.Inc()
	logger.L().Debug("layer_build_begin", "host", m.host.ID(), "sig", sig)
	go m.runBuild(ctx, g, sig, build)
	return ch
}

// 取代在途构建：立即解除其等待者并作废其代数；构建例程继续运行但结果会被丢弃
func (m *Manager) supersedeLocked() {
	sig := m.inFlightSig
	m.clearInFlightLocked()
	m.resolveLocked(Outcome{Kind: Superseded, Signature: sig})
	metrics.BuildsSupersededTotal.Inc()
	logger.L().Debug("layer_build_superseded", "host", m.host.ID(), "sig", sig)
}

// 清空在途槽位并作废当前代数；期限定时器与建议性取消一并触发
func (m *Manager) clearInFlightLocked() {
	m.gen++
	m.inFlightSig = ""
	m.inFlightAt = time.Time{}
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
	if m.cancelBuild != nil {
		m.cancelBuild()
		m.cancelBuild = nil
	}
}

// 以同一结局解除全部等待者；通道带缓冲，写入不阻塞
func (m *Manager) resolveLocked(out Outcome) {
	for _, ch := range m.waiters {
		ch <- out
	}
	m.waiters = nil
}

func (m *Manager) register() chan Outcome {
	ch := make(chan Outcome, 1)
	m.waiters = append(m.waiters, ch)
	return ch
}

// 原子换装：先挂新、成功后卸旧，整个序列在槽位锁内对外不可分割
// 约束：挂载失败时之前的图层保持不动；卸旧失败仅记日志，状态以新图层为准
func (m *Manager) attachLocked(layer *synth.Layer, sig string) (*Handle, error) {
	if err := m.host.AddLayer(layer); err != nil {
		logger.L().Error("layer_attach_error", "host", m.host.ID(), "sig", sig, "err", err)
		return nil, ErrHostAttach
	}
	if m.cur != nil {
		if err := m.host.RemoveLayer(m.cur.LayerID); err != nil {
			logger.L().Error("layer_detach_error", "host", m.host.ID(), "layer", m.cur.LayerID, "err", err)
		}
	}
	h := &Handle{LayerID: layer.ID, Signature: sig, Layer: layer}
	m.cur = h
	m.curSig = sig
	logger.L().Info("layer_attached", "host", m.host.ID(), "layer", layer.ID, "sig", sig, "features", len(layer.Features))
	if m.snap != nil {
		go m.snap.Save(context.Background(), m.host.ID(), sig, layer)
	}
	return h, nil
}

// ---- 以下在锁外运行 ----

// 构建例程承载协程：完成后按代数校验决定挂载还是丢弃
func (m *Manager) runBuild(ctx context.Context, g uint64, sig string, build BuildFunc) {
	t0 := time.Now()
	layer, err := build(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics.BuildDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if m.closed || g != m.gen {
		// 晚到结果：槽位已被取代、超时或销毁
		logger.L().Debug("layer_build_discarded", "host", m.host.ID(), "sig", sig)
		return
	}
	if err != nil {
		m.clearInFlightLocked()
		m.resolveLocked(Outcome{Kind: Failed, Signature: sig, Err: err})
		metrics.BuildsFailedTotal.Inc()
		logger.L().Error("layer_build_error", "host", m.host.ID(), "sig", sig, "err", err)
		return
	}
	waiters := len(m.waiters)
	m.clearInFlightLocked()
	h, aerr := m.attachLocked(layer, sig)
	if aerr != nil {
		m.resolveLocked(Outcome{Kind: Failed, Signature: sig, Err: aerr})
		metrics.BuildsFailedTotal.Inc()
		return
	}
	m.resolveLocked(Outcome{Kind: Attached, Handle: h, Signature: sig})
	logger.L().Debug("layer_build_done", "host", m.host.ID(), "sig", sig, "waiters", waiters, "ms", time.Since(t0).Milliseconds())
}

// 期限触发：代数未变且签名仍在途时强制清槽并以超时解除等待者
func (m *Manager) expire(g uint64, sig string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || g != m.gen || m.inFlightSig != sig {
		return
	}
	m.clearInFlightLocked()
	m.resolveLocked(Outcome{Kind: TimedOut, Signature: sig})
	metrics.BuildsTimeoutTotal.Inc()
	logger.L().Warn("layer_build_timeout", "host", m.host.ID(), "sig", sig, "ttl_ms", m.ttl.Milliseconds())
}

// 等待构建结局；ctx 取消仅解除本调用方
func (m *Manager) await(ctx context.Context, ch chan Outcome, sig string) Outcome {
	select {
	case out := <-ch:
		return out
	case <-ctx.Done():
		return Outcome{Kind: Failed, Signature: sig, Err: ctx.Err()}
	}
}
