package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/palemoky/bad-cards/internal/game/card"
)

// Player 玩家
type Player struct {
	Guid         string     `json:"guid"`
	Nickname     string     `json:"nickname"`
	Wins         int        `json:"wins"`
	Hand         []card.Ref `json:"hand"`
	IsSpectating bool       `json:"isSpectating"`
	IsRandom     bool       `json:"isRandom"` // 机器人
}

// PlayerMap 保持插入顺序的玩家表
//
// 序列化后的键顺序即插入顺序，裁判轮换依赖该顺序。
type PlayerMap struct {
	keys []string
	byID map[string]*Player
}

// Len 玩家数量
func (m *PlayerMap) Len() int {
	return len(m.keys)
}

// Get 获取玩家
func (m *PlayerMap) Get(guid string) (*Player, bool) {
	p, ok := m.byID[guid]
	return p, ok
}

// Has 是否包含玩家
func (m *PlayerMap) Has(guid string) bool {
	_, ok := m.byID[guid]
	return ok
}

// Set 写入玩家，新玩家追加到末尾
func (m *PlayerMap) Set(p *Player) {
	if m.byID == nil {
		m.byID = make(map[string]*Player)
	}
	if _, ok := m.byID[p.Guid]; !ok {
		m.keys = append(m.keys, p.Guid)
	}
	m.byID[p.Guid] = p
}

// Delete 移除玩家，返回被移除的玩家
func (m *PlayerMap) Delete(guid string) (*Player, bool) {
	p, ok := m.byID[guid]
	if !ok {
		return nil, false
	}
	delete(m.byID, guid)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == guid })
	return p, true
}

// Keys 按顺序返回所有 guid
func (m *PlayerMap) Keys() []string {
	return slices.Clone(m.keys)
}

// Values 按顺序返回所有玩家
func (m *PlayerMap) Values() []*Player {
	out := make([]*Player, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.byID[k])
	}
	return out
}

// Clear 清空
func (m *PlayerMap) Clear() {
	m.keys = nil
	m.byID = nil
}

// MarshalJSON 按插入顺序输出对象
func (m PlayerMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.byID[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按文档中的键顺序读取
func (m *PlayerMap) UnmarshalJSON(data []byte) error {
	m.Clear()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("玩家表必须是对象，实际为 %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		guid, ok := tok.(string)
		if !ok {
			return fmt.Errorf("无效的玩家键 %v", tok)
		}
		var p Player
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("解析玩家 %s 失败: %w", guid, err)
		}
		p.Guid = guid
		m.Set(&p)
	}

	_, err = dec.Token()
	return err
}
