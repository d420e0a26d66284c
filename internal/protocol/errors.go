package protocol

// 错误码
const (
	ErrCodeUnknown    = 1000
	ErrCodeInvalidMsg = 1001
	ErrCodeRateLimit  = 1002 // 速率限制

	// 2xxx 对局与容量
	ErrCodeGameNotFound  = 2001
	ErrCodeGameFull      = 2002
	ErrCodeNotInGame     = 2003
	ErrCodeGameStarted   = 2004 // 游戏已开始
	ErrCodeLimitExceeded = 2005 // 超出人数/机器人上限
	ErrCodePackNotFound  = 2006

	// 3xxx 对局状态与输入校验
	ErrCodeGameNotStart    = 3001
	ErrCodeNotJudge        = 3002
	ErrCodeInvalidCards    = 3003
	ErrCodeInvalidAction   = 3004
	ErrCodeInvalidSettings = 3005
	ErrCodeNotEnoughCards  = 3006

	// 4xxx 权限与身份
	ErrCodeForbidden     = 4001
	ErrCodeIdentity      = 4002
	ErrCodeWrongPassword = 4003

	// 5xxx 服务端
	ErrCodeConflict          = 5001 // 并发写冲突
	ErrCodeServerMaintenance = 5003 // 服务器维护中
)

// ErrorMessages 错误码对应的消息
var ErrorMessages = map[int]string{
	ErrCodeUnknown:           "未知错误",
	ErrCodeInvalidMsg:        "无效的消息格式",
	ErrCodeRateLimit:         "请求过于频繁",
	ErrCodeGameNotFound:      "游戏不存在",
	ErrCodeGameFull:          "游戏人数已满",
	ErrCodeNotInGame:         "您不在该游戏中",
	ErrCodeGameStarted:       "游戏已开始",
	ErrCodeLimitExceeded:     "超出上限",
	ErrCodePackNotFound:      "卡包不存在",
	ErrCodeGameNotStart:      "游戏尚未开始",
	ErrCodeNotJudge:          "您不是本轮裁判",
	ErrCodeInvalidCards:      "无效的卡牌",
	ErrCodeInvalidAction:     "当前无法执行该操作",
	ErrCodeInvalidSettings:   "无效的游戏设置",
	ErrCodeNotEnoughCards:    "卡包中的牌不够发",
	ErrCodeForbidden:         "您没有权限执行该操作",
	ErrCodeIdentity:          "身份校验失败",
	ErrCodeWrongPassword:     "游戏密码错误",
	ErrCodeConflict:          "游戏正忙，请稍后重试",
	ErrCodeServerMaintenance: "服务器维护中",
}

// ErrorText 返回错误码对应的默认文本
func ErrorText(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return ErrorMessages[ErrCodeUnknown]
}
