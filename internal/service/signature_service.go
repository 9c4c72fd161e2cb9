package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
)

const signatureVersionPrefix = "v1="

// webhookSigner implements ports.WebhookSigner with HMAC-SHA256 over
// "<unixSeconds>.<rawBody>".
type webhookSigner struct {
	replayStore ports.ReplayStore
	maxSkew     time.Duration
	replayTTL   time.Duration
}

// NewWebhookSigner creates the signing/verification service. replayStore may
// be nil for outbound-only use; Verify then skips replay detection.
func NewWebhookSigner(replayStore ports.ReplayStore, maxSkew, replayTTL time.Duration) ports.WebhookSigner {
	return &webhookSigner{
		replayStore: replayStore,
		maxSkew:     maxSkew,
		replayTTL:   replayTTL,
	}
}

// Sign computes the v1 signature value for the timestamp and raw body.
func (s *webhookSigner) Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return signatureVersionPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the timestamp skew window, recomputes the signature with a
// constant-time comparison, and rejects a signature seen again within the
// replay TTL.
func (s *webhookSigner) Verify(ctx context.Context, secret, timestampHeader, signatureHeader string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return apperror.ErrWebhookSignature()
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > s.maxSkew {
		return apperror.ErrWebhookTimestampSkew()
	}

	if !strings.HasPrefix(signatureHeader, signatureVersionPrefix) {
		return apperror.ErrWebhookSignature()
	}
	expected := s.Sign(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return apperror.ErrWebhookSignature()
	}

	if s.replayStore != nil {
		fresh, err := s.replayStore.CheckAndSet(ctx, signatureHeader, s.replayTTL)
		if err != nil {
			return err
		}
		if !fresh {
			return apperror.ErrWebhookReplay()
		}
	}
	return nil
}
