package domain

import "time"

// PollerCursor is the singleton reconciliation checkpoint. It is rewritten
// only after a tick completes without detecting a reorg.
type PollerCursor struct {
	LastHeight    uint64    `json:"last_height"`
	LastTxID      string    `json:"last_tx_id"`
	LastBlockHash string    `json:"last_block_hash"`
	LastRunAt     time.Time `json:"last_run_at"`
}
