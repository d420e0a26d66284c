package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/protocol"
)

// 编码方式
const (
	EncodingJSON     = "json"
	EncodingProtobuf = "protobuf"
)

// Envelope 集群总线上传递的一条文档更新
type Envelope struct {
	GameID   string          `json:"gameId"`
	Version  int64           `json:"version"`
	Origin   string          `json:"origin"`
	Document json.RawMessage `json:"document"`
}

// Seal 将文档封装为总线消息
func Seal(doc *session.Session, origin string) (Envelope, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Envelope{}, fmt.Errorf("序列化游戏文档失败: %w", err)
	}
	return Envelope{GameID: doc.ID, Version: doc.Version, Origin: origin, Document: raw}, nil
}

// Open 解出文档
func (e Envelope) Open() (*session.Session, error) {
	return session.Decode(e.Document)
}

// Codec 总线消息编解码
type Codec interface {
	Name() string
	Marshal(Envelope) ([]byte, error)
	Unmarshal([]byte) (Envelope, error)
}

// New 按名称创建编解码器
func New(encoding string) (Codec, error) {
	switch encoding {
	case "", EncodingJSON:
		return jsonCodec{}, nil
	case EncodingProtobuf:
		return protoCodec{}, nil
	default:
		return nil, fmt.Errorf("未知的编码方式: %s", encoding)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return EncodingJSON }

func (jsonCodec) Marshal(e Envelope) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(e); err != nil {
		return nil, err
	}
	return bytes.Clone(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func (jsonCodec) Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("解析总线消息失败: %w", err)
	}
	return e, nil
}

// protoCodec 用 structpb 承载信封，文档本身保持 JSON 以保留玩家顺序
type protoCodec struct{}

func (protoCodec) Name() string { return EncodingProtobuf }

func (protoCodec) Marshal(e Envelope) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"gameId":   e.GameID,
		"version":  float64(e.Version),
		"origin":   e.Origin,
		"document": string(e.Document),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func (protoCodec) Unmarshal(data []byte) (Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Envelope{}, fmt.Errorf("解析总线消息失败: %w", err)
	}
	fields := st.GetFields()
	return Envelope{
		GameID:   fields["gameId"].GetStringValue(),
		Version:  int64(fields["version"].GetNumberValue()),
		Origin:   fields["origin"].GetStringValue(),
		Document: json.RawMessage(fields["document"].GetStringValue()),
	}, nil
}

type gameView struct {
	*session.Session
	BuildVersion int `json:"buildVersion"`
}

// GameMessage 编码推送给客户端的 {"game": {...}}，去除密码哈希并附带 buildVersion
func GameMessage(doc *session.Session, buildVersion int) ([]byte, error) {
	raw, err := json.Marshal(gameView{Session: doc.Public(), BuildVersion: buildVersion})
	if err != nil {
		return nil, fmt.Errorf("序列化推送消息失败: %w", err)
	}
	return json.Marshal(protocol.GameMessage{Game: raw})
}

// ErrorMessage 编码推送给客户端的 {"error": {...}}
func ErrorMessage(code int, message string) []byte {
	data, _ := json.Marshal(protocol.NewErrorMessage(code, message))
	return data
}
