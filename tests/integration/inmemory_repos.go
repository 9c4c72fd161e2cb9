package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"

	"github.com/google/uuid"
)

// --- In-Memory Invoice Repo ---

// inMemoryInvoiceRepo mirrors the conditional-write semantics of the SQL
// repo: every transition is guarded on the current status and reports
// applied=false on a guard miss.
type inMemoryInvoiceRepo struct {
	mu       sync.RWMutex
	invoices map[domain.LedgerID]*domain.Invoice
}

func newInMemoryInvoiceRepo() *inMemoryInvoiceRepo {
	return &inMemoryInvoiceRepo{invoices: make(map[domain.LedgerID]*domain.Invoice)}
}

func (r *inMemoryInvoiceRepo) Create(ctx context.Context, inv *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice already exists")
	}
	cp := *inv
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *inMemoryInvoiceRepo) GetByID(ctx context.Context, id domain.LedgerID) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (r *inMemoryInvoiceRepo) GetByRawID(ctx context.Context, storeID uuid.UUID, rawID string) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inv := range r.invoices {
		if inv.StoreID == storeID && inv.RawID == rawID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryInvoiceRepo) Exists(ctx context.Context, id domain.LedgerID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.invoices[id]
	return ok, nil
}

func (r *inMemoryInvoiceRepo) MarkPaid(ctx context.Context, id domain.LedgerID, payer, settlementTxID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || (inv.Status != domain.InvoiceStatusUnpaid && inv.Status != domain.InvoiceStatusExpired) {
		return false, nil
	}
	inv.Status = domain.InvoiceStatusPaid
	inv.PayerPrincipal = &payer
	inv.SettlementTxID = &settlementTxID
	return true, nil
}

func (r *inMemoryInvoiceRepo) MarkCanceled(ctx context.Context, id domain.LedgerID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || (inv.Status != domain.InvoiceStatusUnpaid && inv.Status != domain.InvoiceStatusExpired) {
		return false, nil
	}
	inv.Status = domain.InvoiceStatusCanceled
	return true, nil
}

func (r *inMemoryInvoiceRepo) ApplyRefund(ctx context.Context, id domain.LedgerID, totalRefunded uint64, refundTxID string, status domain.InvoiceStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || !inv.Refundable() || inv.RefundedAmount >= totalRefunded {
		return false, nil
	}
	inv.RefundedAmount = totalRefunded
	if refundTxID != "" {
		inv.RefundTxID = &refundTxID
	}
	inv.Status = status
	return true, nil
}

func (r *inMemoryInvoiceRepo) MarkExpired(ctx context.Context, now time.Time) ([]domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []domain.Invoice
	for _, inv := range r.invoices {
		if inv.Status == domain.InvoiceStatusUnpaid && now.After(inv.QuoteExpiresAt) {
			inv.Status = domain.InvoiceStatusExpired
			expired = append(expired, *inv)
		}
	}
	return expired, nil
}

func (r *inMemoryInvoiceRepo) FlagOnchainExpired(ctx context.Context, id domain.LedgerID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.Status != domain.InvoiceStatusUnpaid {
		return false, nil
	}
	inv.Status = domain.InvoiceStatusExpired
	inv.OnchainExpired = true
	return true, nil
}

// setQuoteExpiry rewrites an invoice's quote deadline, letting expiry tests
// move time instead of sleeping.
func (r *inMemoryInvoiceRepo) setQuoteExpiry(id domain.LedgerID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[id]; ok {
		inv.QuoteExpiresAt = at
	}
}

func (r *inMemoryInvoiceRepo) ListUnpaid(ctx context.Context, limit int) ([]domain.Invoice, error) {
	return r.listByStatus(limit, domain.InvoiceStatusUnpaid)
}

func (r *inMemoryInvoiceRepo) ListRefundable(ctx context.Context, limit int) ([]domain.Invoice, error) {
	return r.listByStatus(limit, domain.InvoiceStatusPaid, domain.InvoiceStatusPartiallyRefunded)
}

func (r *inMemoryInvoiceRepo) listByStatus(limit int, statuses ...domain.InvoiceStatus) ([]domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rows []domain.Invoice
	for _, inv := range r.invoices {
		for _, st := range statuses {
			if inv.Status == st {
				rows = append(rows, *inv)
				break
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// --- In-Memory Subscription Repo ---

type inMemorySubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[domain.LedgerID]*domain.Subscription
}

func newInMemorySubscriptionRepo() *inMemorySubscriptionRepo {
	return &inMemorySubscriptionRepo{subs: make(map[domain.LedgerID]*domain.Subscription)}
}

func (r *inMemorySubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *inMemorySubscriptionRepo) GetByID(ctx context.Context, id domain.LedgerID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (r *inMemorySubscriptionRepo) Exists(ctx context.Context, id domain.LedgerID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok, nil
}

func (r *inMemorySubscriptionRepo) ListDue(ctx context.Context, height uint64, limit int) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []domain.Subscription
	for _, sub := range r.subs {
		if sub.Active && sub.Mode == domain.SubscriptionModeInvoice && sub.NextDueHeight <= height {
			due = append(due, *sub)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueHeight < due[j].NextDueHeight })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *inMemorySubscriptionRepo) ListActive(ctx context.Context, limit int) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []domain.Subscription
	for _, sub := range r.subs {
		if sub.Active {
			active = append(active, *sub)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (r *inMemorySubscriptionRepo) RecordBilling(ctx context.Context, id domain.LedgerID, nextDueHeight, billedHeight uint64, invoiceID domain.LedgerID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || !sub.Active || sub.NextDueHeight >= nextDueHeight {
		return false, nil
	}
	sub.NextDueHeight = nextDueHeight
	sub.LastBilledHeight = &billedHeight
	sub.LastInvoiceID = &invoiceID
	return true, nil
}

func (r *inMemorySubscriptionRepo) RecordPayment(ctx context.Context, id domain.LedgerID, invoiceID *domain.LedgerID, height uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || !sub.Active {
		return false, nil
	}
	if invoiceID != nil {
		sub.LastInvoiceID = invoiceID
	}
	sub.LastBilledHeight = &height
	return true, nil
}

func (r *inMemorySubscriptionRepo) Deactivate(ctx context.Context, id domain.LedgerID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || !sub.Active {
		return false, nil
	}
	sub.Active = false
	return true, nil
}

// --- In-Memory Webhook Log Repo ---

type inMemoryWebhookLogRepo struct {
	mu       sync.RWMutex
	attempts []*domain.WebhookAttempt
}

func newInMemoryWebhookLogRepo() *inMemoryWebhookLogRepo {
	return &inMemoryWebhookLogRepo{}
}

func (r *inMemoryWebhookLogRepo) Create(ctx context.Context, att *domain.WebhookAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *att
	r.attempts = append(r.attempts, &cp)
	return nil
}

func (r *inMemoryWebhookLogRepo) Update(ctx context.Context, att *domain.WebhookAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.attempts {
		if existing.ID == att.ID {
			*existing = *att
			return nil
		}
	}
	return fmt.Errorf("attempt not found")
}

func (r *inMemoryWebhookLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, att := range r.attempts {
		if att.ID == id {
			cp := *att
			return &cp, nil
		}
	}
	return nil, nil
}

func sameLedgerRef(a, b *domain.LedgerID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *inMemoryWebhookLogRepo) HasSuccessful(ctx context.Context, storeID uuid.UUID, invoiceID, subscriptionID *domain.LedgerID, eventType string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, att := range r.attempts {
		if att.StoreID == storeID && att.EventType == eventType &&
			sameLedgerRef(att.InvoiceID, invoiceID) && sameLedgerRef(att.SubscriptionID, subscriptionID) &&
			att.Success {
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemoryWebhookLogRepo) MaxAttempt(ctx context.Context, storeID uuid.UUID, invoiceID, subscriptionID *domain.LedgerID, eventType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, att := range r.attempts {
		if att.StoreID == storeID && att.EventType == eventType &&
			sameLedgerRef(att.InvoiceID, invoiceID) && sameLedgerRef(att.SubscriptionID, subscriptionID) &&
			att.Attempt > max {
			max = att.Attempt
		}
	}
	return max, nil
}

func (r *inMemoryWebhookLogRepo) ListRetryCandidates(ctx context.Context, limit int) ([]domain.WebhookAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[string]*domain.WebhookAttempt)
	delivered := make(map[string]bool)
	for _, att := range r.attempts {
		key := att.EventKey()
		if att.Success {
			delivered[key] = true
			continue
		}
		if cur, ok := latest[key]; !ok || att.Attempt > cur.Attempt {
			latest[key] = att
		}
	}

	var out []domain.WebhookAttempt
	for key, att := range latest {
		if delivered[key] || att.Attempt >= domain.MaxWebhookAttempts {
			continue
		}
		out = append(out, *att)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// backdate shifts every attempt's timestamp into the past so ladder delays
// elapse without sleeping.
func (r *inMemoryWebhookLogRepo) backdate(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, att := range r.attempts {
		att.AttemptedAt = att.AttemptedAt.Add(-d)
	}
}

func (r *inMemoryWebhookLogRepo) all() []domain.WebhookAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WebhookAttempt, 0, len(r.attempts))
	for _, att := range r.attempts {
		out = append(out, *att)
	}
	return out
}

func (r *inMemoryWebhookLogRepo) count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, att := range r.attempts {
		if att.EventType == eventType {
			n++
		}
	}
	return n
}

// --- In-Memory Cursor Repo ---

type inMemoryCursorRepo struct {
	mu     sync.RWMutex
	cursor *domain.PollerCursor
}

func newInMemoryCursorRepo() *inMemoryCursorRepo {
	return &inMemoryCursorRepo{}
}

func (r *inMemoryCursorRepo) Get(ctx context.Context) (*domain.PollerCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cursor == nil {
		return nil, nil
	}
	cp := *r.cursor
	return &cp, nil
}

func (r *inMemoryCursorRepo) Save(ctx context.Context, cur *domain.PollerCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cur
	r.cursor = &cp
	return nil
}

// --- In-Memory Store Repo ---

type inMemoryStoreRepo struct {
	mu     sync.RWMutex
	stores map[uuid.UUID]*domain.Store
}

func newInMemoryStoreRepo() *inMemoryStoreRepo {
	return &inMemoryStoreRepo{stores: make(map[uuid.UUID]*domain.Store)}
}

func (r *inMemoryStoreRepo) Create(ctx context.Context, store *domain.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *store
	r.stores[store.ID] = &cp
	return nil
}

func (r *inMemoryStoreRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[id]
	if !ok {
		return nil, nil
	}
	cp := *store
	return &cp, nil
}

func (r *inMemoryStoreRepo) GetByAPIKeyID(ctx context.Context, apiKeyID string) (*domain.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, store := range r.stores {
		if store.APIKeyID == apiKeyID {
			cp := *store
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryStoreRepo) GetByPrincipal(ctx context.Context, principal string) (*domain.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, store := range r.stores {
		if store.Principal == principal {
			cp := *store
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryStoreRepo) Update(ctx context.Context, store *domain.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[store.ID]; !ok {
		return fmt.Errorf("store not found")
	}
	cp := *store
	r.stores[store.ID] = &cp
	return nil
}

func (r *inMemoryStoreRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[id]
	if !ok {
		return fmt.Errorf("store not found")
	}
	store.Active = active
	return nil
}

// --- Scriptable Chain Client ---

// fakeChainClient is a scriptable ports.ChainClient. Tests set the tip, feed
// raw contract events and plant on-chain read states.
type fakeChainClient struct {
	mu            sync.RWMutex
	tip           ports.ChainTip
	tipErr        error
	headers       map[uint64]ports.BlockHeader
	events        []ports.RawEvent
	invoiceStates map[domain.LedgerID]*ports.OnchainInvoice
	subStates     map[domain.LedgerID]*ports.OnchainSubscription
	balances      map[string]uint64
	broadcasts    []string
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{
		headers:       make(map[uint64]ports.BlockHeader),
		invoiceStates: make(map[domain.LedgerID]*ports.OnchainInvoice),
		subStates:     make(map[domain.LedgerID]*ports.OnchainSubscription),
		balances:      make(map[string]uint64),
	}
}

func (c *fakeChainClient) setTip(height uint64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = ports.ChainTip{Height: height, Hash: hash}
}

func (c *fakeChainClient) setHeader(height uint64, hash, parent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[height] = ports.BlockHeader{Height: height, Hash: hash, ParentHash: parent}
}

func (c *fakeChainClient) addEvent(ev ports.RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *fakeChainClient) setBalance(principal string, balance uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[principal] = balance
}

func (c *fakeChainClient) setInvoiceState(id domain.LedgerID, state *ports.OnchainInvoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invoiceStates[id] = state
}

func (c *fakeChainClient) setSubscriptionState(id domain.LedgerID, state *ports.OnchainSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subStates[id] = state
}

func (c *fakeChainClient) Tip(ctx context.Context) (ports.ChainTip, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tipErr != nil {
		return ports.ChainTip{}, c.tipErr
	}
	return c.tip, nil
}

func (c *fakeChainClient) BlockHeader(ctx context.Context, height uint64) (*ports.BlockHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.headers[height]
	if !ok {
		return nil, nil
	}
	cp := h
	return &cp, nil
}

func (c *fakeChainClient) ContractEvents(ctx context.Context, fromHeight uint64) ([]ports.RawEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ports.RawEvent
	for _, ev := range c.events {
		if ev.Height >= fromHeight {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeChainClient) InvoiceState(ctx context.Context, id domain.LedgerID) (*ports.OnchainInvoice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.invoiceStates[id]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (c *fakeChainClient) SubscriptionState(ctx context.Context, id domain.LedgerID) (*ports.OnchainSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.subStates[id]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (c *fakeChainClient) FungibleBalance(ctx context.Context, principal string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances[principal], nil
}

func (c *fakeChainClient) Broadcast(ctx context.Context, rawTx string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, rawTx)
	return fmt.Sprintf("0xtx%04d", len(c.broadcasts)), nil
}
