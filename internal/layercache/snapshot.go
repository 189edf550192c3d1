package layercache

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"geolayer/internal/logger"
	"geolayer/internal/metrics"
	"geolayer/internal/synth"
)

// 文档注释：图层快照存储（redis）
// 背景：挂载成功后把蓝图与签名落入 redis，会话重连时经 ForceReplace 直接恢复上次图层，
// 免去一次完整构建；尽力而为，redis 不可用不影响主流程。
// 约束：键形如 layer:<hostID>；TTL 取 LAYER_SNAPSHOT_TTL_S（秒），默认 24h。
type SnapshotStore struct {
	rc  *redis.Client
	ttl time.Duration
}

// snapshotDoc：落盘文档；几何引用随蓝图序列化为值，恢复后的几何不再指向边界快照
type snapshotDoc struct {
	Signature string       `json:"signature"`
	Layer     *synth.Layer `json:"layer"`
	SavedAt   time.Time    `json:"saved_at"`
}

// NewSnapshotStore：构造快照存储；rc 为 nil 时返回 nil，上层视为未启用
func NewSnapshotStore(rc *redis.Client) *SnapshotStore {
	if rc == nil {
		return nil
	}
	ttl := 24 * time.Hour
	if s := os.Getenv("LAYER_SNAPSHOT_TTL_S"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Second
		}
	}
	return &SnapshotStore{rc: rc, ttl: ttl}
}

// Save：写入宿主当前图层快照；失败仅记日志与指标
func (s *SnapshotStore) Save(ctx context.Context, hostID, sig string, layer *synth.Layer) {
	b, err := json.Marshal(snapshotDoc{Signature: sig, Layer: layer, SavedAt: time.Now()})
	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("fail").Inc()
		return
	}
	if err := s.rc.Set(ctx, "layer:"+hostID, string(b), s.ttl).Err(); err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("fail").Inc()
		logger.L().Debug("layer_snapshot_save_error", "host", hostID, "err", err)
		return
	}
	metrics.SnapshotSavesTotal.WithLabelValues("ok").Inc()
	logger.L().Debug("layer_snapshot_saved", "host", hostID, "sig", sig)
}

// Load：读取宿主的上次图层快照；无快照或解码失败返回 nil 蓝图
func (s *SnapshotStore) Load(ctx context.Context, hostID string) (string, *synth.Layer) {
	v, err := s.rc.Get(ctx, "layer:"+hostID).Result()
	if err != nil || v == "" {
		return "", nil
	}
	var doc snapshotDoc
	if err := json.Unmarshal([]byte(v), &doc); err != nil || doc.Layer == nil {
		return "", nil
	}
	metrics.SnapshotRestoresTotal.Inc()
	return doc.Signature, doc.Layer
}
