//go:build !production

package testutil

import "github.com/stretchr/testify/mock"

// MockConn 推送连接 mock
type MockConn struct {
	mock.Mock
}

func (m *MockConn) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConn) Send(data []byte) bool {
	args := m.Called(data)
	return args.Bool(0)
}

func (m *MockConn) Close() {
	m.Called()
}
