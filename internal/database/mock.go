package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMatch(ctx context.Context, params CreateMatchParams) (Match, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Match), args.Error(1)
}
func (m *MockChatRepository) GetMatch(ctx context.Context, matchId string) (Match, error) {
	args := m.Called(ctx, matchId)
	return args.Get(0).(Match), args.Error(1)
}
func (m *MockChatRepository) ListMatchesForUser(ctx context.Context, userId string) ([]Match, error) {
	args := m.Called(ctx, userId)
	if matches, ok := args.Get(0).([]Match); ok {
		return matches, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) DeleteMatch(ctx context.Context, matchId string) error {
	args := m.Called(ctx, matchId)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, matchId, viewerId string) ([]Message, error) {
	args := m.Called(ctx, matchId, viewerId)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) MarkSeen(ctx context.Context, matchId, viewerId string) (int64, error) {
	args := m.Called(ctx, matchId, viewerId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockChatRepository) AddDeletedBy(ctx context.Context, messageId, userId string) error {
	args := m.Called(ctx, messageId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) AddDeletedByForMatch(ctx context.Context, matchId, userId string) (int64, error) {
	args := m.Called(ctx, matchId, userId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, messageId string) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}
