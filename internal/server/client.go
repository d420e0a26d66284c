package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/identity"
	"github.com/palemoky/bad-cards/internal/logger"
	"github.com/palemoky/bad-cards/internal/protocol"
	"github.com/palemoky/bad-cards/internal/protocol/codec"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 读取超时（pong 等待时间）
	pongWait = 60 * time.Second

	// ping 发送间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 客户端只发送身份声明，消息很小
	maxMessageSize = 2048

	sendBufferSize = 64

	// 超速警告超过该次数后断开
	maxRateWarnings = 5
)

// Client 一条推送连接
type Client struct {
	id string
	IP string

	server *Server
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.RWMutex
	guid   string
	closed bool
}

// NewClient 创建连接
func NewClient(s *Server, conn *websocket.Conn, ip string) *Client {
	return &Client{
		id:     uuid.NewString(),
		IP:     ip,
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID 连接标识
func (c *Client) ID() string {
	return c.id
}

// Guid 已声明的玩家 guid，未声明时为空
func (c *Client) Guid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guid
}

// Send 非阻塞投递，连接已关闭或缓冲区满时返回 false
func (c *Client) Send(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close 关闭发送通道，WritePump 随后发送关闭帧并退出
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump 读取客户端的身份声明
func (c *Client) ReadPump() {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
		}
		c.handleDisconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithField("conn", c.id).Warnf("读取错误: %v", err)
			}
			return
		}

		allowed, warning := c.server.messageLimiter.AllowMessage(c.id)
		if !allowed {
			c.Send(codec.ErrorMessage(protocol.ErrCodeRateLimit, "消息发送过于频繁"))
			if c.server.messageLimiter.Warnings(c.id) > maxRateWarnings {
				log.Printf("🚫 连接 %s (IP: %s) 因多次超速被断开", c.id, c.IP)
				return
			}
			continue
		}
		if warning {
			c.Send(codec.ErrorMessage(protocol.ErrCodeRateLimit, "请求过于频繁，请放慢速度"))
		}

		c.handleHello(message)
	}
}

// handleHello 校验身份声明并登记到注册表；重复声明会把连接移到新的 guid 下
func (c *Client) handleHello(message []byte) {
	var hello protocol.Hello
	if err := json.Unmarshal(message, &hello); err != nil || hello.PlayerGuid == "" {
		c.Send(codec.ErrorMessage(protocol.ErrCodeInvalidMsg, ""))
		return
	}

	player := identity.Player{Guid: hello.PlayerGuid, Token: hello.Token}
	if err := c.server.verifier.Verify(player); err != nil {
		log.WithField("conn", c.id).Warnf("🚫 身份校验失败: %s", hello.PlayerGuid)
		code := protocol.ErrCodeIdentity
		var ge *apperrors.GameError
		if errors.As(err, &ge) {
			code = ge.Code
		}
		c.Send(codec.ErrorMessage(code, err.Error()))
		return
	}

	c.mu.Lock()
	c.guid = hello.PlayerGuid
	c.mu.Unlock()
	c.server.registry.Announce(hello.PlayerGuid, c)
	log.Printf("✅ 玩家 %s 已接入推送 (连接 %s)", hello.PlayerGuid, c.id)
}

// WritePump 向 WebSocket 写入消息并定期 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDisconnect 注销连接
func (c *Client) handleDisconnect() {
	c.server.registry.Remove(c.id)
	c.server.messageLimiter.Remove(c.id)
	c.server.unregisterClient(c)
	c.Close()
}
