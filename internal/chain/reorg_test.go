package chain

import (
	"context"
	"io"
	"testing"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/core/ports/mocks"
	"chainpay-gateway/pkg/logger"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func testCursor(height uint64, hash string) *domain.PollerCursor {
	return &domain.PollerCursor{
		LastHeight:    height,
		LastBlockHash: hash,
		LastRunAt:     time.Now(),
	}
}

func TestDetectReorg_TipBelowCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	guard := NewReorgGuard(client, 10, logger.NewWithWriter("error", io.Discard))

	cursor := testCursor(500, "hash-500")
	assert.True(t, guard.DetectReorg(context.Background(), 501, 480, cursor),
		"tip dropping below the cursor is a certain reorg, no header fetch needed")
}

func TestDetectReorg_ParentHashMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	guard := NewReorgGuard(client, 10, logger.NewWithWriter("error", io.Discard))

	client.EXPECT().BlockHeader(gomock.Any(), uint64(501)).Return(&ports.BlockHeader{
		Height:     501,
		Hash:       "hash-501b",
		ParentHash: "hash-500-forked",
	}, nil)

	cursor := testCursor(500, "hash-500")
	assert.True(t, guard.DetectReorg(context.Background(), 501, 520, cursor))
}

func TestDetectReorg_ParentHashMatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	guard := NewReorgGuard(client, 10, logger.NewWithWriter("error", io.Discard))

	client.EXPECT().BlockHeader(gomock.Any(), uint64(501)).Return(&ports.BlockHeader{
		Height:     501,
		Hash:       "hash-501",
		ParentHash: "hash-500",
	}, nil)

	cursor := testCursor(500, "hash-500")
	assert.False(t, guard.DetectReorg(context.Background(), 501, 520, cursor))
}

func TestDetectReorg_HeaderUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	guard := NewReorgGuard(client, 10, logger.NewWithWriter("error", io.Discard))

	client.EXPECT().BlockHeader(gomock.Any(), uint64(501)).Return(nil, nil)

	cursor := testCursor(500, "hash-500")
	assert.False(t, guard.DetectReorg(context.Background(), 501, 520, cursor),
		"missing header must not be read as a reorg")
}

func TestDetectReorg_NilCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	guard := NewReorgGuard(client, 10, logger.NewWithWriter("error", io.Discard))

	assert.False(t, guard.DetectReorg(context.Background(), 1, 100, nil))
}

func TestRewindTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	guard := NewReorgGuard(client, 12, logger.NewWithWriter("error", io.Discard))

	assert.Equal(t, uint64(488), guard.RewindTarget(testCursor(500, "h")))
	assert.Equal(t, uint64(0), guard.RewindTarget(testCursor(5, "h")), "rewind floors at genesis")
	assert.Equal(t, uint64(0), guard.RewindTarget(nil))
}
