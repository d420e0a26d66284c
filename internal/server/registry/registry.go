package registry

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/protocol/codec"
)

// Conn 一条推送连接
type Conn interface {
	ID() string
	// Send 非阻塞投递，缓冲区满时返回 false
	Send(data []byte) bool
	Close()
}

// Registry 本进程的 guid -> 连接映射，由服务器持有
type Registry struct {
	mu     sync.RWMutex
	byGuid map[string]map[string]Conn // guid -> connID -> conn
	owner  map[string]string          // connID -> guid
}

// New 创建注册表
func New() *Registry {
	return &Registry{
		byGuid: make(map[string]map[string]Conn),
		owner:  make(map[string]string),
	}
}

// Announce 连接声明身份；同一连接再次声明会移到新身份下
func (r *Registry) Announce(guid string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c.ID())

	conns, ok := r.byGuid[guid]
	if !ok {
		conns = make(map[string]Conn)
		r.byGuid[guid] = conns
	}
	conns[c.ID()] = c
	r.owner[c.ID()] = guid
}

// Remove 连接关闭时注销
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) {
	guid, ok := r.owner[connID]
	if !ok {
		return
	}
	delete(r.owner, connID)
	conns := r.byGuid[guid]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byGuid, guid)
	}
}

// Connections 返回某个 guid 的全部连接
func (r *Registry) Connections(guid string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byGuid[guid]))
	for _, c := range r.byGuid[guid] {
		out = append(out, c)
	}
	return out
}

// Count 当前连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// Players 当前在线的 guid 数
func (r *Registry) Players() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byGuid)
}

// Deliver 把文档推送给本进程持有的所有参与者连接，返回投递的连接数
//
// 只编码一次；发送失败（缓冲区满）的连接会被关闭，客户端重连后重新拉取。
func (r *Registry) Deliver(doc *session.Session, buildVersion int) int {
	var targets []Conn
	for _, guid := range doc.Participants() {
		targets = append(targets, r.Connections(guid)...)
	}
	if len(targets) == 0 {
		return 0
	}

	data, err := codec.GameMessage(doc, buildVersion)
	if err != nil {
		log.Printf("⚠️ 编码游戏 %s 推送失败: %v", doc.ID, err)
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		log.Printf("⚠️ 连接 %s 发送缓冲区已满，关闭连接", c.ID())
		r.Remove(c.ID())
		c.Close()
	}
	return delivered
}
