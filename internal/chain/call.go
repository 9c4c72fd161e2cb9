package chain

import (
	"strconv"
	"sync"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/pkg/apperror"
)

// Contract function names the gateway drives.
const (
	FnCreateInvoice      = "create-invoice"
	FnPayInvoice         = "pay-invoice"
	FnCancelInvoice      = "cancel-invoice"
	FnRefundInvoice      = "refund-invoice"
	FnCreateSubscription = "create-subscription"
	FnPaySubscription    = "pay-subscription"
	FnCancelSubscription = "cancel-subscription"
	FnRegisterMerchant   = "register-merchant"
	FnActivateMerchant   = "activate-merchant"
	FnSetToken           = "set-token"
	FnBootstrap          = "bootstrap"
)

// CallBuilder assembles typed unsigned contract calls. Every builder
// validates its inputs before constructing anything, and every call that
// moves the settlement asset ships deny-mode post-conditions so the ledger
// itself rejects transfers beyond the declared bounds.
type CallBuilder struct {
	contractAddress string
	contractName    string
	network         string

	// The asset and its factory are swapped together by the admin set-token
	// flow while request goroutines read them, so both live under one lock.
	mu             sync.RWMutex
	asset          AssetInfo
	postConditions *PostConditionFactory
}

// NewCallBuilder creates a builder for the given ledger contract.
func NewCallBuilder(contractAddress, contractName, network string, asset AssetInfo) *CallBuilder {
	return &CallBuilder{
		contractAddress: contractAddress,
		contractName:    contractName,
		network:         network,
		asset:           asset,
		postConditions:  NewPostConditionFactory(asset),
	}
}

// Asset exposes the configured settlement asset.
func (b *CallBuilder) Asset() AssetInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asset
}

// SetAsset swaps the settlement asset (admin set-token flow).
func (b *CallBuilder) SetAsset(asset AssetInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asset = asset
	b.postConditions = NewPostConditionFactory(asset)
}

// assetSnapshot returns a consistent asset/factory pair for one call build.
func (b *CallBuilder) assetSnapshot() (AssetInfo, *PostConditionFactory) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asset, b.postConditions
}

func (b *CallBuilder) call(fn string, args []domain.FunctionArg, conds []domain.PostCondition) *domain.ContractCall {
	return &domain.ContractCall{
		ContractAddress:   b.contractAddress,
		ContractName:      b.contractName,
		FunctionName:      fn,
		FunctionArgs:      args,
		Network:           b.network,
		AnchorMode:        domain.AnchorModeAny,
		PostConditionMode: domain.PostConditionModeDeny,
		PostConditions:    conds,
	}
}

func uintArg(v uint64) domain.FunctionArg {
	return domain.FunctionArg{Type: domain.ArgUint, Value: strconv.FormatUint(v, 10)}
}

func bufferArg(id domain.LedgerID) domain.FunctionArg {
	return domain.FunctionArg{Type: domain.ArgBuffer, Value: "0x" + id.String()}
}

func principalArg(p string) domain.FunctionArg {
	return domain.FunctionArg{Type: domain.ArgPrincipal, Value: p}
}

func memoArg(memo *string) domain.FunctionArg {
	if memo == nil || *memo == "" {
		return domain.FunctionArg{Type: domain.ArgNone, Value: ""}
	}
	return domain.FunctionArg{Type: domain.ArgStringASCII, Value: *memo}
}

func validateID(id domain.LedgerID) error {
	if id.IsZero() {
		return apperror.ErrInvalidLedgerID()
	}
	// Round-trip through the canonical form; a 64-hex string that does not
	// decode back to the same 32 bytes is unusable as a ledger key.
	parsed, err := domain.ParseLedgerID(id.String())
	if err != nil || parsed != id {
		return apperror.ErrInvalidLedgerID()
	}
	return nil
}

func validateAmount(amount uint64) error {
	if amount == 0 {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

func validatePrincipal(p string) error {
	if !domain.ValidPrincipal(p) {
		return apperror.ErrInvalidPrincipal(p)
	}
	return nil
}

// CreateInvoice registers an invoice on the ledger. No asset moves, so no
// post-conditions are attached; deny mode still blocks surprises.
func (b *CallBuilder) CreateInvoice(id domain.LedgerID, amount uint64, merchant string, expiryBlocks uint64, memo *string) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validatePrincipal(merchant); err != nil {
		return nil, err
	}
	args := []domain.FunctionArg{
		bufferArg(id),
		uintArg(amount),
		principalArg(merchant),
		uintArg(expiryBlocks),
		memoArg(memo),
	}
	return b.call(FnCreateInvoice, args, nil), nil
}

// PayInvoice builds the settlement call. The payer must send at least the
// invoice amount of the asset, and the merchant must send at most zero —
// any unexpected merchant-side transfer aborts the transaction on-chain.
func (b *CallBuilder) PayInvoice(id domain.LedgerID, amount uint64, payer, merchant string) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validatePrincipal(payer); err != nil {
		return nil, err
	}
	if err := validatePrincipal(merchant); err != nil {
		return nil, err
	}
	asset, factory := b.assetSnapshot()
	if !asset.Configured() {
		return nil, apperror.ErrAssetNotConfigured()
	}
	conds := []domain.PostCondition{
		factory.SendsAtLeast(payer, amount),
		factory.SendsAtMost(merchant, 0),
	}
	return b.call(FnPayInvoice, []domain.FunctionArg{bufferArg(id)}, conds), nil
}

// CancelInvoice voids an unpaid invoice.
func (b *CallBuilder) CancelInvoice(id domain.LedgerID) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return b.call(FnCancelInvoice, []domain.FunctionArg{bufferArg(id)}, nil), nil
}

// RefundInvoice returns funds to the payer, with the merchant's outbound
// transfer capped at exactly the refund amount.
func (b *CallBuilder) RefundInvoice(id domain.LedgerID, refundAmount uint64, merchant string) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validateAmount(refundAmount); err != nil {
		return nil, err
	}
	if err := validatePrincipal(merchant); err != nil {
		return nil, err
	}
	asset, factory := b.assetSnapshot()
	if !asset.Configured() {
		return nil, apperror.ErrAssetNotConfigured()
	}
	conds := []domain.PostCondition{
		factory.SendsAtMost(merchant, refundAmount),
	}
	args := []domain.FunctionArg{bufferArg(id), uintArg(refundAmount)}
	return b.call(FnRefundInvoice, args, conds), nil
}

// CreateSubscription registers a recurring billing agreement.
func (b *CallBuilder) CreateSubscription(id domain.LedgerID, amount, intervalBlocks uint64, merchant, subscriber string) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if intervalBlocks == 0 {
		return nil, apperror.ErrInvalidInterval()
	}
	if err := validatePrincipal(merchant); err != nil {
		return nil, err
	}
	if err := validatePrincipal(subscriber); err != nil {
		return nil, err
	}
	args := []domain.FunctionArg{
		bufferArg(id),
		uintArg(amount),
		uintArg(intervalBlocks),
		principalArg(merchant),
		principalArg(subscriber),
	}
	return b.call(FnCreateSubscription, args, nil), nil
}

// PaySubscription builds the direct-mode charge call, bounded like an
// invoice payment.
func (b *CallBuilder) PaySubscription(id domain.LedgerID, amount uint64, subscriber, merchant string) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := validatePrincipal(subscriber); err != nil {
		return nil, err
	}
	if err := validatePrincipal(merchant); err != nil {
		return nil, err
	}
	asset, factory := b.assetSnapshot()
	if !asset.Configured() {
		return nil, apperror.ErrAssetNotConfigured()
	}
	conds := []domain.PostCondition{
		factory.SendsAtLeast(subscriber, amount),
		factory.SendsAtMost(merchant, 0),
	}
	return b.call(FnPaySubscription, []domain.FunctionArg{bufferArg(id)}, conds), nil
}

// CancelSubscription deactivates a subscription on the ledger.
func (b *CallBuilder) CancelSubscription(id domain.LedgerID) (*domain.ContractCall, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return b.call(FnCancelSubscription, []domain.FunctionArg{bufferArg(id)}, nil), nil
}

// RegisterMerchant enrolls a merchant principal with the contract.
func (b *CallBuilder) RegisterMerchant(principal string) (*domain.ContractCall, error) {
	if err := validatePrincipal(principal); err != nil {
		return nil, err
	}
	return b.call(FnRegisterMerchant, []domain.FunctionArg{principalArg(principal)}, nil), nil
}

// ActivateMerchant flips a registered merchant to active.
func (b *CallBuilder) ActivateMerchant(principal string) (*domain.ContractCall, error) {
	if err := validatePrincipal(principal); err != nil {
		return nil, err
	}
	return b.call(FnActivateMerchant, []domain.FunctionArg{principalArg(principal)}, nil), nil
}

// SetToken points the contract at the settlement asset contract.
func (b *CallBuilder) SetToken(assetContract string) (*domain.ContractCall, error) {
	if err := validatePrincipal(assetContract); err != nil {
		return nil, err
	}
	return b.call(FnSetToken, []domain.FunctionArg{principalArg(assetContract)}, nil), nil
}

// Bootstrap initializes contract state after deployment.
func (b *CallBuilder) Bootstrap() (*domain.ContractCall, error) {
	return b.call(FnBootstrap, nil, nil), nil
}
