package chain

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// IDChecker answers whether an invoice id exists locally. The normalizer
// drops invoice events for ids it has never issued, which shields the
// reconciler from unrelated contract noise.
type IDChecker interface {
	Exists(ctx context.Context, id domain.LedgerID) (bool, error)
}

// Normalizer turns raw ledger log entries into ordered, typed domain events.
type Normalizer struct {
	contractID string
	invoices   IDChecker
	log        zerolog.Logger
}

// NewNormalizer creates a normalizer scoped to one gateway contract.
func NewNormalizer(contractID string, invoices IDChecker, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		contractID: contractID,
		invoices:   invoices,
		log:        logger.Component(log, "event_normalizer"),
	}
}

// Normalize filters, parses and orders the raw entries. Malformed payloads
// are dropped with a log line, never an error; the caller gets only events
// it can act on, sorted by (height, tx index) ascending.
func (n *Normalizer) Normalize(ctx context.Context, raws []ports.RawEvent) []domain.ChainEvent {
	events := make([]domain.ChainEvent, 0, len(raws))
	for _, raw := range raws {
		if raw.EventType != "smart_contract_log" || raw.Height == 0 {
			continue
		}
		if n.contractID != "" && raw.ContractID != "" && raw.ContractID != n.contractID {
			continue
		}

		ev, ok := n.parse(raw)
		if !ok {
			n.log.Debug().
				Str("tx_id", raw.TxID).
				Uint64("height", raw.Height).
				Msg("unrecognized contract log dropped")
			continue
		}

		if ev.InvoiceEvent() && !n.knownInvoice(ctx, ev.InvoiceID) {
			n.log.Debug().
				Str("invoice_id", ev.InvoiceID.String()).
				Str("kind", string(ev.Kind)).
				Msg("event for unknown invoice dropped")
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Height != events[j].Height {
			return events[i].Height < events[j].Height
		}
		return events[i].TxIndex < events[j].TxIndex
	})
	return events
}

func (n *Normalizer) knownInvoice(ctx context.Context, id domain.LedgerID) bool {
	exists, err := n.invoices.Exists(ctx, id)
	if err != nil {
		// Store trouble is not grounds to discard a settlement event; the
		// applier re-checks before mutating anything.
		n.log.Warn().Err(err).Str("invoice_id", id.String()).Msg("invoice existence check failed")
		return true
	}
	return exists
}

// parse tries the structured tuple form first, then the textual repr.
func (n *Normalizer) parse(raw ports.RawEvent) (domain.ChainEvent, bool) {
	if ev, ok := parseStructured(raw); ok {
		return ev, true
	}
	return parseRepr(raw)
}

var eventKinds = map[string]domain.EventKind{
	"invoice-paid":        domain.EventKindInvoicePaid,
	"refund-invoice":      domain.EventKindRefundInvoice,
	"invoice-canceled":    domain.EventKindInvoiceCanceled,
	"create-subscription": domain.EventKindCreateSubscription,
	"pay-subscription":    domain.EventKindPaySubscription,
	"cancel-subscription": domain.EventKindCancelSubscription,
}

// parseStructured decodes the indexer's JSON tuple form. Fields arrive either
// as plain scalars or wrapped in {"value": ...} envelopes depending on the
// indexer version, so both are accepted.
func parseStructured(raw ports.RawEvent) (domain.ChainEvent, bool) {
	if len(raw.Value) == 0 {
		return domain.ChainEvent{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.Value, &fields); err != nil {
		return domain.ChainEvent{}, false
	}

	kindStr, ok := stringField(fields, "event")
	if !ok {
		return domain.ChainEvent{}, false
	}
	kind, ok := eventKinds[kindStr]
	if !ok {
		return domain.ChainEvent{}, false
	}

	ev := domain.ChainEvent{
		Kind:    kind,
		TxID:    raw.TxID,
		Height:  raw.Height,
		TxIndex: raw.TxIndex,
	}
	if s, ok := stringField(fields, "payer"); ok {
		ev.Payer = strings.TrimPrefix(s, "'")
	}
	if s, ok := stringField(fields, "subscriber"); ok && ev.Payer == "" {
		ev.Payer = strings.TrimPrefix(s, "'")
	}
	if s, ok := stringField(fields, "merchant"); ok {
		ev.Merchant = strings.TrimPrefix(s, "'")
	}
	if s, ok := stringField(fields, "amount"); ok {
		amount, err := parseUintValue(s)
		if err != nil {
			return domain.ChainEvent{}, false
		}
		ev.Amount = amount
	}

	if s, ok := stringField(fields, "invoice-id"); ok {
		id, err := parseHexID(s)
		if err != nil {
			return domain.ChainEvent{}, false
		}
		ev.InvoiceID = id
	}
	if s, ok := stringField(fields, "subscription-id"); ok {
		id, err := parseHexID(s)
		if err != nil {
			return domain.ChainEvent{}, false
		}
		ev.SubscriptionID = id
	}

	if ev.InvoiceEvent() && ev.InvoiceID.IsZero() {
		return domain.ChainEvent{}, false
	}
	if ev.SubscriptionEvent() && ev.SubscriptionID.IsZero() {
		return domain.ChainEvent{}, false
	}
	return ev, true
}

// stringField extracts a field that is either a JSON scalar or an envelope
// like {"value":"..."} carrying the scalar.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String(), true
	}
	var env struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Value) == 0 {
		return "", false
	}
	if err := json.Unmarshal(env.Value, &s); err == nil {
		return s, true
	}
	if err := json.Unmarshal(env.Value, &num); err == nil {
		return num.String(), true
	}
	return "", false
}

func parseUintValue(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "u")
	return strconv.ParseUint(s, 10, 64)
}

func parseHexID(s string) (domain.LedgerID, error) {
	return domain.ParseLedgerID(strings.TrimPrefix(s, "0x"))
}

// Textual source form, e.g.
//
//	(tuple (event "invoice-paid") (invoice-id 0x3f..) (amount u5000) (payer 'SP..))
var (
	reprEvent  = regexp.MustCompile(`\(event "([a-z-]+)"\)`)
	reprInvID  = regexp.MustCompile(`\(invoice-id 0x([0-9a-f]{64})\)`)
	reprSubID  = regexp.MustCompile(`\(subscription-id 0x([0-9a-f]{64})\)`)
	reprAmount = regexp.MustCompile(`\(amount u(\d+)\)`)
	reprPayer  = regexp.MustCompile(`\((?:payer|subscriber) '([A-Z0-9.\-]+)\)`)
	reprMerch  = regexp.MustCompile(`\(merchant '([A-Z0-9.\-]+)\)`)
)

func parseRepr(raw ports.RawEvent) (domain.ChainEvent, bool) {
	if raw.Repr == "" {
		return domain.ChainEvent{}, false
	}
	m := reprEvent.FindStringSubmatch(raw.Repr)
	if m == nil {
		return domain.ChainEvent{}, false
	}
	kind, ok := eventKinds[m[1]]
	if !ok {
		return domain.ChainEvent{}, false
	}

	ev := domain.ChainEvent{
		Kind:    kind,
		TxID:    raw.TxID,
		Height:  raw.Height,
		TxIndex: raw.TxIndex,
	}
	if m := reprInvID.FindStringSubmatch(raw.Repr); m != nil {
		id, err := domain.ParseLedgerID(m[1])
		if err != nil {
			return domain.ChainEvent{}, false
		}
		ev.InvoiceID = id
	}
	if m := reprSubID.FindStringSubmatch(raw.Repr); m != nil {
		id, err := domain.ParseLedgerID(m[1])
		if err != nil {
			return domain.ChainEvent{}, false
		}
		ev.SubscriptionID = id
	}
	if m := reprAmount.FindStringSubmatch(raw.Repr); m != nil {
		amount, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return domain.ChainEvent{}, false
		}
		ev.Amount = amount
	}
	if m := reprPayer.FindStringSubmatch(raw.Repr); m != nil {
		ev.Payer = m[1]
	}
	if m := reprMerch.FindStringSubmatch(raw.Repr); m != nil {
		ev.Merchant = m[1]
	}

	if ev.InvoiceEvent() && ev.InvoiceID.IsZero() {
		return domain.ChainEvent{}, false
	}
	if ev.SubscriptionEvent() && ev.SubscriptionID.IsZero() {
		return domain.ChainEvent{}, false
	}
	return ev, true
}
