package apperrors

import (
	"errors"
	"fmt"

	"github.com/palemoky/bad-cards/internal/protocol"
)

// GameError 游戏错误（引擎与接入层共享）
type GameError struct {
	Code    int
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

// Is 按错误码比较，便于 Newf 构造的错误与预定义错误匹配
func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// Newf 构造带自定义文本的错误
func Newf(code int, format string, args ...any) *GameError {
	return &GameError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// 预定义错误
var (
	ErrGameNotFound     = &GameError{Code: protocol.ErrCodeGameNotFound, Message: "游戏不存在"}
	ErrGameFull         = &GameError{Code: protocol.ErrCodeGameFull, Message: "游戏人数已满"}
	ErrNotInGame        = &GameError{Code: protocol.ErrCodeNotInGame, Message: "您不在该游戏中"}
	ErrGameStarted      = &GameError{Code: protocol.ErrCodeGameStarted, Message: "游戏已开始"}
	ErrPlayerLimit      = &GameError{Code: protocol.ErrCodeLimitExceeded, Message: "人数上限超出允许范围"}
	ErrTooManyBots      = &GameError{Code: protocol.ErrCodeLimitExceeded, Message: "机器人数量已达上限"}
	ErrGameNotStart     = &GameError{Code: protocol.ErrCodeGameNotStart, Message: "游戏尚未开始"}
	ErrNotJudge         = &GameError{Code: protocol.ErrCodeNotJudge, Message: "您不是本轮裁判"}
	ErrJudgeCannotPlay  = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "裁判不能出牌"}
	ErrCardsNotInHand   = &GameError{Code: protocol.ErrCodeInvalidCards, Message: "所出的牌不在手牌中"}
	ErrAlreadySubmitted = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "本轮已经出过牌"}
	ErrRoundStarted     = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "本轮已开始"}
	ErrRoundNotStarted  = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "本轮尚未开始"}
	ErrNoSubmission     = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "该玩家本轮没有出牌"}
	ErrNotAllRevealed   = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "还有未揭晓的牌"}
	ErrWinnerChosen     = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "本轮已选出赢家"}
	ErrGameOver         = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "游戏已结束，请重新开始"}
	ErrNoPacks          = &GameError{Code: protocol.ErrCodeInvalidSettings, Message: "至少需要选择一个卡包"}
	ErrInvalidSettings  = &GameError{Code: protocol.ErrCodeInvalidSettings, Message: "无效的游戏设置"}
	ErrInvalidNickname  = &GameError{Code: protocol.ErrCodeInvalidAction, Message: "昵称不能为空"}
	ErrPackNotFound     = &GameError{Code: protocol.ErrCodePackNotFound, Message: "卡包不存在"}
	ErrNotEnoughCards   = &GameError{Code: protocol.ErrCodeNotEnoughCards, Message: "卡包中的牌不够发"}
	ErrNotOwner         = &GameError{Code: protocol.ErrCodeForbidden, Message: "只有房主可以执行该操作"}
	ErrKickForbidden    = &GameError{Code: protocol.ErrCodeForbidden, Message: "您没有踢人权限"}
	ErrIdentity         = &GameError{Code: protocol.ErrCodeIdentity, Message: "身份校验失败"}
	ErrWrongPassword    = &GameError{Code: protocol.ErrCodeWrongPassword, Message: "游戏密码错误"}
	ErrVersionConflict  = &GameError{Code: protocol.ErrCodeConflict, Message: "文档版本冲突"}
	ErrConflict         = &GameError{Code: protocol.ErrCodeConflict, Message: "游戏正忙，请稍后重试"}
)

// Kind 错误分类
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAuthorization
	KindCapacity
	KindIdentity
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindCapacity:
		return "capacity"
	case KindIdentity:
		return "identity"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// KindOf 将错误归类；非 GameError 一律视为内部错误（存储/网络故障）
func KindOf(err error) Kind {
	var gameErr *GameError
	if !errors.As(err, &gameErr) {
		return KindInternal
	}

	switch gameErr.Code {
	case protocol.ErrCodeGameNotFound, protocol.ErrCodeNotInGame, protocol.ErrCodePackNotFound:
		return KindNotFound
	case protocol.ErrCodeGameFull, protocol.ErrCodeLimitExceeded:
		return KindCapacity
	case protocol.ErrCodeForbidden, protocol.ErrCodeNotJudge, protocol.ErrCodeWrongPassword:
		return KindAuthorization
	case protocol.ErrCodeIdentity:
		return KindIdentity
	case protocol.ErrCodeConflict:
		return KindConflict
	case protocol.ErrCodeUnknown:
		return KindInternal
	default:
		return KindValidation
	}
}
