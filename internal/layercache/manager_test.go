package layercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geolayer/internal/maphost"
	"geolayer/internal/synth"
)

func mkLayer(id string) *synth.Layer {
	return &synth.Layer{ID: id, TargetVariable: "score"}
}

// gatedBuild：可控构建例程，started 在进入时关闭，release 关闭后才返回
type gatedBuild struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	layer   *synth.Layer
	err     error
}

func newGatedBuild(layer *synth.Layer, err error) *gatedBuild {
	return &gatedBuild{started: make(chan struct{}), release: make(chan struct{}), layer: layer, err: err}
}

func (g *gatedBuild) fn(ctx context.Context) (*synth.Layer, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.layer, g.err
}

func instantBuild(layer *synth.Layer, err error) (BuildFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (*synth.Layer, error) {
		calls.Add(1)
		return layer, err
	}, &calls
}

func TestConcurrentAcquireSingleFlight(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))
	gb := newGatedBuild(mkLayer("L1"), nil)

	const n = 8
	outs := make([]Outcome, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outs[0] = m.Acquire(context.Background(), "S1", gb.fn)
	}()
	<-gb.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = m.Acquire(context.Background(), "S1", gb.fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gb.release)
	wg.Wait()

	// 构建恰好执行一次，所有调用方拿到同一句柄，宿主恰好挂一层
	require.Equal(t, int32(1), gb.calls.Load())
	for i := 0; i < n; i++ {
		require.Equal(t, Attached, outs[i].Kind, "caller %d", i)
		require.Same(t, outs[0].Handle, outs[i].Handle, "caller %d", i)
	}
	require.Equal(t, 1, host.Len())
	require.Equal(t, []string{"L1"}, host.Layers())
}

func TestCacheHitNoWork(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host)
	fn, calls := instantBuild(mkLayer("L1"), nil)
	out := m.Acquire(context.Background(), "S1", fn)
	require.Equal(t, Attached, out.Kind)
	out2 := m.Acquire(context.Background(), "S1", fn)
	require.Equal(t, Attached, out2.Kind)
	require.Same(t, out.Handle, out2.Handle)
	require.Equal(t, int32(1), calls.Load())
}

func TestSequentialBuildsReplace(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host)
	fn1, _ := instantBuild(mkLayer("L1"), nil)
	fn2, _ := instantBuild(mkLayer("L2"), nil)

	out1 := m.Acquire(context.Background(), "S1", fn1)
	require.Equal(t, Attached, out1.Kind)
	out2 := m.Acquire(context.Background(), "S2", fn2)
	require.Equal(t, Attached, out2.Kind)

	// 新签名的图层替换旧图层，宿主恰好一层
	require.Equal(t, []string{"L2"}, host.Layers())
	sig, cur := m.Current()
	require.Equal(t, "S2", sig)
	require.Equal(t, "L2", cur.LayerID)
}

func TestSupersedeLastRequestWins(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))
	gb := newGatedBuild(mkLayer("L1"), nil)

	var out1 Outcome
	done := make(chan struct{})
	go func() {
		out1 = m.Acquire(context.Background(), "S1", gb.fn)
		close(done)
	}()
	<-gb.started

	fn2, _ := instantBuild(mkLayer("L2"), nil)
	out2 := m.Acquire(context.Background(), "S2", fn2)
	require.Equal(t, Attached, out2.Kind)

	<-done
	// 先到的等待者被取代，而非失败
	require.Equal(t, Superseded, out1.Kind)
	require.Equal(t, "S1", out1.Signature)

	// 旧构建晚到的结果被丢弃，宿主仍只挂新图层
	close(gb.release)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"L2"}, host.Layers())
	sig, _ := m.Current()
	require.Equal(t, "S2", sig)
}

func TestBuildTTLExpiry(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(40*time.Millisecond))
	gb := newGatedBuild(mkLayer("L1"), nil)

	out := m.Acquire(context.Background(), "S1", gb.fn)
	require.Equal(t, TimedOut, out.Kind)

	// 期限触发后在途字段立即清空
	sig, _ := m.InFlight()
	require.Empty(t, sig)
	require.Equal(t, 0, host.Len())

	// 同签名再次请求开启全新构建
	fn2, calls2 := instantBuild(mkLayer("L2"), nil)
	out2 := m.Acquire(context.Background(), "S1", fn2)
	require.Equal(t, Attached, out2.Kind)
	require.Equal(t, int32(1), calls2.Load())
	require.Equal(t, []string{"L2"}, host.Layers())
}

func TestBuildFailureLeavesStateUntouched(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host)
	fn1, _ := instantBuild(mkLayer("L1"), nil)
	require.Equal(t, Attached, m.Acquire(context.Background(), "S1", fn1).Kind)

	boom := errors.New("boom")
	fn2, _ := instantBuild(nil, boom)
	out := m.Acquire(context.Background(), "S2", fn2)
	require.Equal(t, Failed, out.Kind)
	require.ErrorIs(t, out.Err, boom)

	// 失败构建不得留下半挂载图层：宿主与当前状态保持原值
	require.Equal(t, []string{"L1"}, host.Layers())
	sig, cur := m.Current()
	require.Equal(t, "S1", sig)
	require.Equal(t, "L1", cur.LayerID)
}

func TestFailureSharedByAllWaiters(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))
	boom := errors.New("boom")
	gb := newGatedBuild(nil, boom)

	const n = 4
	outs := make([]Outcome, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outs[0] = m.Acquire(context.Background(), "S1", gb.fn)
	}()
	<-gb.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = m.Acquire(context.Background(), "S1", gb.fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gb.release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, Failed, outs[i].Kind, "caller %d", i)
		require.ErrorIs(t, outs[i].Err, boom, "caller %d", i)
		require.Nil(t, outs[i].Handle, "caller %d", i)
	}
	require.Equal(t, 0, host.Len())
}

func TestForceReplace(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host)
	fn1, calls := instantBuild(mkLayer("L1"), nil)
	require.Equal(t, Attached, m.Acquire(context.Background(), "S1", fn1).Kind)

	h, err := m.ForceReplace(mkLayer("L2"), "S2")
	require.NoError(t, err)
	require.Equal(t, "L2", h.LayerID)

	// 不触发构建，旧图层被移除
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []string{"L2"}, host.Layers())
	sig, cur := m.Current()
	require.Equal(t, "S2", sig)
	require.Equal(t, "L2", cur.LayerID)

	// 随后的同签名请求直接缓存命中
	fnX, callsX := instantBuild(mkLayer("LX"), nil)
	out := m.Acquire(context.Background(), "S2", fnX)
	require.Equal(t, Attached, out.Kind)
	require.Equal(t, int32(0), callsX.Load())
}

func TestForceReplaceSupersedesInFlight(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))
	gb := newGatedBuild(mkLayer("L1"), nil)

	var out1 Outcome
	done := make(chan struct{})
	go func() {
		out1 = m.Acquire(context.Background(), "S1", gb.fn)
		close(done)
	}()
	<-gb.started

	_, err := m.ForceReplace(mkLayer("L2"), "S2")
	require.NoError(t, err)
	<-done
	require.Equal(t, Superseded, out1.Kind)

	close(gb.release)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"L2"}, host.Layers())
}

func TestWaitFor(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))

	// 未知签名：既无挂载也无在途
	_, known := m.WaitFor(context.Background(), "S1", 10*time.Millisecond)
	require.False(t, known)

	gb := newGatedBuild(mkLayer("L1"), nil)
	go m.Acquire(context.Background(), "S1", gb.fn)
	<-gb.started

	// 在途构建：等待者超时独立于构建期限
	out, known := m.WaitFor(context.Background(), "S1", 20*time.Millisecond)
	require.True(t, known)
	require.Equal(t, TimedOut, out.Kind)

	// 放行后挂载，WaitFor 立即返回
	close(gb.release)
	require.Eventually(t, func() bool {
		out, known := m.WaitFor(context.Background(), "S1", 10*time.Millisecond)
		return known && out.Kind == Attached
	}, time.Second, 10*time.Millisecond)
}

func TestCleanup(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host)
	fn1, _ := instantBuild(mkLayer("L1"), nil)
	require.Equal(t, Attached, m.Acquire(context.Background(), "S1", fn1).Kind)

	m.Cleanup()
	require.Equal(t, 0, host.Len())
	sig, cur := m.Current()
	require.Empty(t, sig)
	require.Nil(t, cur)

	out := m.Acquire(context.Background(), "S1", fn1)
	require.Equal(t, Failed, out.Kind)
	require.ErrorIs(t, out.Err, ErrClosed)

	// 幂等
	m.Cleanup()
}

func TestCleanupRejectsInFlight(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))
	gb := newGatedBuild(mkLayer("L1"), nil)

	var out Outcome
	done := make(chan struct{})
	go func() {
		out = m.Acquire(context.Background(), "S1", gb.fn)
		close(done)
	}()
	<-gb.started
	m.Cleanup()
	<-done
	require.Equal(t, Failed, out.Kind)
	require.ErrorIs(t, out.Err, ErrClosed)

	close(gb.release)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, host.Len())
}

func TestHostAttachFailureKeepsPrevious(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host)
	fn1, _ := instantBuild(mkLayer("L1"), nil)
	require.Equal(t, Attached, m.Acquire(context.Background(), "S1", fn1).Kind)

	// 重复的图层标识使宿主拒绝挂载
	fn2, _ := instantBuild(mkLayer("L1"), nil)
	out := m.Acquire(context.Background(), "S2", fn2)
	require.Equal(t, Failed, out.Kind)
	require.ErrorIs(t, out.Err, ErrHostAttach)

	// 之前的图层保持不动，在途槽位已清空
	require.Equal(t, []string{"L1"}, host.Layers())
	sig, _ := m.Current()
	require.Equal(t, "S1", sig)
	inSig, _ := m.InFlight()
	require.Empty(t, inSig)
}

func TestAcquireCallerContextCancel(t *testing.T) {
	host := maphost.New("h1")
	m := Attach(host, WithTTL(5*time.Second))
	gb := newGatedBuild(mkLayer("L1"), nil)

	go m.Acquire(context.Background(), "S1", gb.fn)
	<-gb.started

	ctx, cancel := context.WithCancel(context.Background())
	var out Outcome
	done := make(chan struct{})
	go func() {
		out = m.Acquire(ctx, "S1", gb.fn)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done
	// 调用方退出等待不影响构建本身
	require.Equal(t, Failed, out.Kind)
	require.ErrorIs(t, out.Err, context.Canceled)

	close(gb.release)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"L1"}, host.Layers())
}
