//go:build !production

package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/pack"
)

// MockCards 卡牌内容查询 mock
type MockCards struct {
	mock.Mock
}

func (m *MockCards) Summaries(typeID string) []pack.Summary {
	args := m.Called(typeID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]pack.Summary)
}

func (m *MockCards) PromptCard(ctx context.Context, ref card.Ref) (card.PromptCard, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(card.PromptCard), args.Error(1)
}

func (m *MockCards) ResponseCard(ctx context.Context, ref card.Ref) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}
