package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/config"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
	"github.com/palemoky/bad-cards/internal/server/registry"
)

// Deps 服务器依赖
type Deps struct {
	Registry *registry.Registry
	Verifier identity.Verifier
	// API 动作接口，挂载在 /api/ 下，可为 nil
	API http.Handler
}

// Server WebSocket 推送服务器
type Server struct {
	config   *config.Config
	registry *registry.Registry
	verifier identity.Verifier
	api      http.Handler

	upgrader  websocket.Upgrader
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 安全组件
	rateLimiter    *RateLimiter
	originChecker  *OriginChecker
	messageLimiter *MessageRateLimiter

	// 连接控制
	maxConnections int
	semaphore      chan struct{}

	// 维护模式
	maintenanceMode bool
	maintenanceMu   sync.RWMutex

	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.Verifier == nil {
		deps.Verifier = identity.TrustAll{}
	}

	s := &Server{
		config:         cfg,
		registry:       deps.Registry,
		verifier:       deps.Verifier,
		api:            deps.API,
		clients:        make(map[string]*Client),
		rateLimiter:    NewRateLimiter(cfg.Security.RateLimit),
		originChecker:  NewOriginChecker(cfg.Security.AllowedOrigins),
		messageLimiter: NewMessageRateLimiter(cfg.Security.MessageLimit.MaxPerSecond),
		maxConnections: cfg.Server.MaxConnections,
		semaphore:      make(chan struct{}, cfg.Server.MaxConnections),
		done:           make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originChecker.Check,
	}

	log.Printf("🔒 安全配置: 连接限制=%d/s, 消息限制=%d/s, 最大连接数=%d",
		cfg.Security.RateLimit.MaxPerSecond, cfg.Security.MessageLimit.MaxPerSecond, cfg.Server.MaxConnections)
	return s
}

// Handler 返回服务器的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.api != nil {
		mux.Handle("/api/", s.limitRate(s.api))
	}
	return mux
}

// HandleUpdate 集群总线回调：把文档推送给本进程持有的参与者连接
func (s *Server) HandleUpdate(_ context.Context, doc *session.Session) {
	s.registry.Deliver(doc, s.config.Server.BuildVersion)
}

// Start 启动服务器，阻塞直到 Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	go s.monitorStats()

	log.Printf("🚀 服务器启动在 ws://%s/ws (CPU核心数: %d)", addr, runtime.NumCPU())
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second, // 防止 Slowloris 攻击
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// limitRate 对动作接口按 IP 限流
func (s *Server) limitRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := ClientIP(r); !s.rateLimiter.Allow(ip) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
