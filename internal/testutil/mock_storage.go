//go:build !production

package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/server/storage"
)

// MockLeaderboard 排行榜 mock
type MockLeaderboard struct {
	mock.Mock
}

func (m *MockLeaderboard) GetPlayerStats(ctx context.Context, guid string) (*storage.PlayerStats, error) {
	args := m.Called(ctx, guid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PlayerStats), args.Error(1)
}

func (m *MockLeaderboard) GetLeaderboard(ctx context.Context, limit int, weekly bool) ([]storage.LeaderboardEntry, error) {
	args := m.Called(ctx, limit, weekly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.LeaderboardEntry), args.Error(1)
}

// MockPackCache 远程卡包二级缓存 mock
type MockPackCache struct {
	mock.Mock
}

func (m *MockPackCache) LoadPack(ctx context.Context, id string) (*card.Pack, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*card.Pack), args.Error(1)
}

func (m *MockPackCache) SavePack(ctx context.Context, p *card.Pack) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
