package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/palemoky/bad-cards/internal/apperrors"
)

// Player 调用方声明的身份：guid 与其凭证
type Player struct {
	Guid  string `json:"guid"`
	Token string `json:"token,omitempty"`
}

// Verifier 校验调用方声明的 guid 是否属实
type Verifier interface {
	Verify(p Player) error
}

// TrustAll 不做凭证校验，只要求 guid 非空（未配置密钥时使用）
type TrustAll struct{}

// Verify 实现 Verifier
func (TrustAll) Verify(p Player) error {
	if p.Guid == "" {
		return apperrors.ErrIdentity
	}
	return nil
}

// Register 只生成 guid，不签发令牌
func (TrustAll) Register() (Player, error) {
	return Player{Guid: uuid.NewString()}, nil
}

const issuer = "bad-cards"

// Signer 使用 HS256 签发和校验玩家令牌
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner 创建签名器，ttl 为 0 表示令牌不过期
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register 生成新的 guid 并签发令牌
func (s *Signer) Register() (Player, error) {
	guid := uuid.NewString()
	token, err := s.Issue(guid)
	if err != nil {
		return Player{}, err
	}
	return Player{Guid: guid, Token: token}, nil
}

// Issue 为 guid 签发令牌
func (s *Signer) Issue(guid string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  guid,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}
	return token, nil
}

// Verify 校验令牌签名、有效期，并确认 subject 与声明的 guid 一致
func (s *Signer) Verify(p Player) error {
	if p.Guid == "" || p.Token == "" {
		return apperrors.ErrIdentity
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(p.Token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperrors.Newf(apperrors.ErrIdentity.Code, "令牌已过期")
		}
		return apperrors.ErrIdentity
	}
	if claims.Subject != p.Guid {
		return apperrors.ErrIdentity
	}
	return nil
}
