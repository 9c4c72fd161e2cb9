package chain

import (
	"context"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// ReorgGuard detects chain reorganizations against the persisted cursor and
// computes a safe replay height.
type ReorgGuard struct {
	client ports.ChainClient
	window uint64
	log    zerolog.Logger
}

// NewReorgGuard creates a guard with the configured rewind window.
func NewReorgGuard(client ports.ChainClient, windowBlocks uint64, log zerolog.Logger) *ReorgGuard {
	return &ReorgGuard{
		client: client,
		window: windowBlocks,
		log:    logger.Component(log, "reorg_guard"),
	}
}

// DetectReorg reports whether the canonical chain diverged from what the
// cursor recorded. Certain when the tip dropped below the cursor height;
// otherwise the parent hash of the block at fromHeight must match the
// cursor's recorded hash. A header fetch failure is treated as "no reorg" so
// transient RPC trouble does not force needless replays.
func (g *ReorgGuard) DetectReorg(ctx context.Context, fromHeight, tipHeight uint64, cursor *domain.PollerCursor) bool {
	if cursor == nil {
		return false
	}
	if tipHeight < cursor.LastHeight {
		g.log.Warn().
			Uint64("tip_height", tipHeight).
			Uint64("cursor_height", cursor.LastHeight).
			Msg("tip below cursor, reorg certain")
		return true
	}
	if cursor.LastBlockHash == "" || fromHeight == 0 {
		return false
	}

	header, err := g.client.BlockHeader(ctx, fromHeight)
	if err != nil || header == nil {
		g.log.Debug().Uint64("height", fromHeight).Msg("header unavailable, assuming no reorg")
		return false
	}
	if header.ParentHash != cursor.LastBlockHash {
		g.log.Warn().
			Uint64("height", fromHeight).
			Str("parent_hash", header.ParentHash).
			Str("cursor_hash", cursor.LastBlockHash).
			Msg("parent hash mismatch, reorg detected")
		return true
	}
	return false
}

// RewindTarget returns the height reconciliation should restart from after a
// reorg: the cursor height minus the configured window, floored at zero.
func (g *ReorgGuard) RewindTarget(cursor *domain.PollerCursor) uint64 {
	if cursor == nil || cursor.LastHeight <= g.window {
		return 0
	}
	return cursor.LastHeight - g.window
}
