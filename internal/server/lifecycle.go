package server

import (
	"context"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/protocol"
	"github.com/palemoky/bad-cards/internal/protocol/codec"
)

// monitorStats 定期输出服务器状态
func (s *Server) monitorStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		log.Printf("📊 [监控] 连接: %d/%d | 在线玩家: %d | Goroutines: %d | 内存: %.2f MB",
			s.GetOnlineCount(),
			s.maxConnections,
			s.registry.Players(),
			runtime.NumGoroutine(),
			float64(m.Alloc)/1024/1024)
	}
}

// EnterMaintenanceMode 进入维护模式：拒绝新连接并通知在线客户端
func (s *Server) EnterMaintenanceMode() {
	s.maintenanceMu.Lock()
	s.maintenanceMode = true
	s.maintenanceMu.Unlock()

	s.Broadcast(codec.ErrorMessage(protocol.ErrCodeServerMaintenance, "👷🏻‍♂️ 服务器即将停机维护"))
	log.Println("🔧 进入维护模式：停止接受新连接")
}

// IsMaintenanceMode 检查是否在维护模式
func (s *Server) IsMaintenanceMode() bool {
	s.maintenanceMu.RLock()
	defer s.maintenanceMu.RUnlock()
	return s.maintenanceMode
}

// Shutdown 优雅关闭：进入维护模式，停止 HTTP 服务，再关闭所有推送连接
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.EnterMaintenanceMode()
		close(s.done)

		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}

		// 被劫持的 WebSocket 连接不受 http.Server.Shutdown 管理
		s.clientsMu.RLock()
		for _, client := range s.clients {
			client.Close()
		}
		s.clientsMu.RUnlock()

		s.rateLimiter.Stop()
		log.Println("服务器已关闭")
	})
	return err
}
