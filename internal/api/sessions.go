package api

import (
	"context"
	"sync"

	"geolayer/internal/layercache"
	"geolayer/internal/logger"
	"geolayer/internal/maphost"
)

// 文档注释：会话注册表
// 背景：每个前端会话对应一个宿主与一个图层管理器，按需惰性创建；
// 管理器句柄由注册表持有并随会话销毁，杜绝隐藏的全局槽位。
// 约束：启用快照存储时，新会话创建即尝试恢复上次图层（尽力而为）。
type Sessions struct {
	mu   sync.Mutex
	m    map[string]*Session
	snap *layercache.SnapshotStore
}

// Session：一个会话的宿主与管理器对
type Session struct {
	Host *maphost.MemHost
	Mgr  *layercache.Manager
}

func NewSessions(snap *layercache.SnapshotStore) *Sessions {
	return &Sessions{m: make(map[string]*Session), snap: snap}
}

// Get：取会话，不存在则创建并尝试快照恢复
func (s *Sessions) Get(ctx context.Context, id string) *Session {
	s.mu.Lock()
	if sess, ok := s.m[id]; ok {
		s.mu.Unlock()
		return sess
	}
	host := maphost.New(id)
	var opts []layercache.Option
	if s.snap != nil {
		opts = append(opts, layercache.WithSnapshots(s.snap))
	}
	sess := &Session{Host: host, Mgr: layercache.Attach(host, opts...)}
	s.m[id] = sess
	s.mu.Unlock()
	logger.L().Info("session_created", "session", id)
	if s.snap != nil {
		if sig, layer := s.snap.Load(ctx, id); layer != nil {
			if _, err := sess.Mgr.ForceReplace(layer, sig); err != nil {
				logger.L().Debug("session_restore_error", "session", id, "err", err)
			} else {
				logger.L().Info("session_restored", "session", id, "sig", sig)
			}
		}
	}
	return sess
}

// Peek：只读取会话，不创建
func (s *Sessions) Peek(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	return sess, ok
}

// Remove：销毁会话的管理器并从注册表摘除
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	sess, ok := s.m[id]
	delete(s.m, id)
	s.mu.Unlock()
	if ok {
		sess.Mgr.Cleanup()
		logger.L().Info("session_removed", "session", id)
	}
}

// CloseAll：进程退出时销毁全部会话
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.m))
	for _, sess := range s.m {
		all = append(all, sess)
	}
	s.m = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range all {
		sess.Mgr.Cleanup()
	}
}
