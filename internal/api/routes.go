// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"geolayer/internal/boundary"
	"geolayer/internal/join"
	"geolayer/internal/layercache"
	"geolayer/internal/logger"
	"geolayer/internal/metrics"
	"geolayer/internal/synth"
	"geolayer/internal/viewport"
)

// 文档注释：图层请求（对外）
// 背景：由对话式前端代为提交；记录的标识字段按 area_id → id → label 优先取值，
// 渲染描述原样透传给合成器并折叠进签名。
type layerRequest struct {
	Session        string          `json:"session"`
	TargetVariable string          `json:"target_variable"`
	Renderer       json.RawMessage `json:"renderer"`
	Records        []recordInput   `json:"records"`
}

type recordInput struct {
	AreaID     string         `json:"area_id"`
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Score      *float64       `json:"score"`
	Attributes map[string]any `json:"attributes"`
}

// 图层响应：结局标签 + 挂载摘要
type layerResponse struct {
	Outcome   string `json:"outcome"`
	Signature string `json:"signature"`
	LayerID   string `json:"layer_id,omitempty"`
	Features  int    `json:"features,omitempty"`
	Filtered  int    `json:"filtered,omitempty"`
	Truncated int    `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// 文档注释：边界索引缓存
// 背景：规范化键索引对同一快照只构建一次；快照热重载后按指针比较重建。
type indexCache struct {
	mu   sync.Mutex
	coll *boundary.Collection
	idx  *join.Index
}

func (c *indexCache) get(coll *boundary.Collection) *join.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coll != coll {
		c.coll = coll
		c.idx = join.NewIndex(coll)
	}
	return c.idx
}

// 解析访问者 IP：优先参数，其次常见反向代理头
func getClientIP(r *http.Request) string {
	if q := r.URL.Query().Get("ip"); q != "" {
		return q
	}
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	if x := h.Get("x-real-ip"); x != "" {
		return x
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到前缀下
// 参数：store 为边界动态存储；sess 为会话注册表；vp 可为 nil；reload 为边界热重载回调
func BuildRoutes(store *boundary.DynamicStore, sess *Sessions, vp *viewport.Service, reload func() error) *http.ServeMux {
	mux := http.NewServeMux()
	idxCache := &indexCache{}

	mux.HandleFunc("/layer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		t0 := time.Now()
		metrics.RequestsTotal.WithLabelValues("layer").Inc()
		defer func() {
			metrics.RequestDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
		}()
		var req layerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" {
			writeJSON(w, http.StatusBadRequest, layerResponse{Outcome: "failed", Error: "bad request"})
			return
		}
		coll := store.Current()
		if coll == nil {
			// 边界集合加载失败期间快速失败，不合成占位几何
			writeJSON(w, http.StatusServiceUnavailable, layerResponse{Outcome: "failed", Error: boundary.ErrUnavailable.Error()})
			return
		}
		records := toRecords(req.Records, req.TargetVariable)
		sig := layercache.Signature(req.TargetVariable, req.Renderer, records)
		s := sess.Get(r.Context(), req.Session)
		idx := idxCache.get(coll)
		out := s.Mgr.Acquire(r.Context(), sig, func(ctx context.Context) (*synth.Layer, error) {
			joined, err := join.Join(records, idx)
			if err != nil {
				return nil, err
			}
			return synth.Synthesize(joined, req.Renderer, req.TargetVariable)
		})
		writeOutcome(w, out)
	})

	mux.HandleFunc("/layer/status", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("layer_status").Inc()
		id := r.URL.Query().Get("session")
		s, ok := sess.Peek(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such session"})
			return
		}
		curSig, cur := s.Mgr.Current()
		inSig, deadline := s.Mgr.InFlight()
		resp := map[string]any{
			"attached_signature":  curSig,
			"in_flight_signature": inSig,
			"host_layers":         s.Host.Layers(),
		}
		if cur != nil {
			resp["layer_id"] = cur.LayerID
		}
		if inSig != "" {
			resp["deadline"] = deadline
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/layer/wait", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		metrics.RequestsTotal.WithLabelValues("layer_wait").Inc()
		var req struct {
			Session   string `json:"session"`
			Signature string `json:"signature"`
			TimeoutMs int    `json:"timeout_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" {
			writeJSON(w, http.StatusBadRequest, layerResponse{Outcome: "failed", Error: "bad request"})
			return
		}
		s, ok := sess.Peek(req.Session)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such session"})
			return
		}
		if req.TimeoutMs <= 0 {
			req.TimeoutMs = 5000
		}
		out, known := s.Mgr.WaitFor(r.Context(), req.Signature, time.Duration(req.TimeoutMs)*time.Millisecond)
		if !known {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no layer for signature"})
			return
		}
		writeOutcome(w, out)
	})

	mux.HandleFunc("/layer/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		metrics.RequestsTotal.WithLabelValues("layer_cleanup").Inc()
		var req struct {
			Session string `json:"session"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request"})
			return
		}
		sess.Remove(req.Session)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/viewport", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("viewport").Inc()
		if vp == nil {
			writeJSON(w, http.StatusOK, viewport.Viewport{Zoom: 2, Approx: true})
			return
		}
		writeJSON(w, http.StatusOK, vp.Lookup(getClientIP(r)))
	})

	mux.HandleFunc("/boundaries/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		t := r.Header.Get("x-admin-token")
		if t == "" || t != os.Getenv("ADMIN_TOKEN") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err := reload(); err != nil {
			logger.L().Error("boundary_reload_error", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

// 记录输入映射：标识字段按优先级取值，缺分数的记录保留但标记无分
func toRecords(in []recordInput, targetVariable string) []join.Record {
	out := make([]join.Record, 0, len(in))
	for _, r := range in {
		raw := r.AreaID
		if raw == "" {
			raw = r.ID
		}
		if raw == "" {
			raw = r.Label
		}
		rec := join.Record{RawAreaID: raw, TargetVariable: targetVariable, Attributes: r.Attributes}
		if r.Score != nil {
			rec.Score = *r.Score
			rec.HasScore = true
		}
		out = append(out, rec)
	}
	return out
}

func writeOutcome(w http.ResponseWriter, out layercache.Outcome) {
	resp := layerResponse{Outcome: out.Kind.String(), Signature: out.Signature}
	if out.Handle != nil {
		resp.LayerID = out.Handle.LayerID
		resp.Features = len(out.Handle.Layer.Features)
		resp.Filtered = out.Handle.Layer.FilteredOut
		resp.Truncated = out.Handle.Layer.Truncated
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
