package service

import (
	"context"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// relayService forwards pre-signed transactions to the ledger RPC. It exists
// for merchants who cannot broadcast themselves; assembly stays unsigned and
// the gateway never holds payer keys.
type relayService struct {
	chainClient ports.ChainClient
	cfg         config.BroadcastConfig
	log         zerolog.Logger
}

// NewRelayService creates the broadcast relay.
func NewRelayService(chainClient ports.ChainClient, cfg config.BroadcastConfig, log zerolog.Logger) ports.RelayService {
	return &relayService{
		chainClient: chainClient,
		cfg:         cfg,
		log:         logger.Component(log, "relay_service"),
	}
}

// Broadcast submits one signed transaction and returns its id.
func (s *relayService) Broadcast(ctx context.Context, signedTx string) (string, error) {
	if !s.cfg.Auto {
		return "", apperror.ErrBroadcastDisabled()
	}
	if s.cfg.SignerKey == "" {
		return "", apperror.ErrSignerKeyMissing()
	}
	if signedTx == "" {
		return "", apperror.ErrBroadcastRejected("empty transaction")
	}

	txID, err := s.chainClient.Broadcast(ctx, signedTx)
	if err != nil {
		s.log.Error().Err(err).Msg("broadcast failed")
		return "", err
	}

	s.log.Info().Str("tx_id", txID).Msg("transaction relayed")
	return txID, nil
}
