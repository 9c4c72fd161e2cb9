package chain

import (
	"fmt"
	"strconv"

	"chainpay-gateway/internal/core/domain"
)

// AssetInfo identifies the fungible settlement asset.
type AssetInfo struct {
	Address      string // issuing contract's address
	ContractName string
	TokenName    string // asset class name inside the contract
}

// Configured reports whether an asset has been set. Pay and refund calls
// cannot be built without one — their post-conditions would be unbounded.
func (a AssetInfo) Configured() bool {
	return a.Address != "" && a.ContractName != "" && a.TokenName != ""
}

// String returns the fully qualified asset identifier.
func (a AssetInfo) String() string {
	return fmt.Sprintf("%s.%s::%s", a.Address, a.ContractName, a.TokenName)
}

// PostConditionFactory builds spend-bounding predicates for one asset.
type PostConditionFactory struct {
	asset AssetInfo
}

// NewPostConditionFactory creates a factory for the configured asset.
func NewPostConditionFactory(asset AssetInfo) *PostConditionFactory {
	return &PostConditionFactory{asset: asset}
}

// SendsAtLeast requires the address to send no less than amount of the asset.
func (f *PostConditionFactory) SendsAtLeast(address string, amount uint64) domain.PostCondition {
	return f.condition(address, domain.CondSendsGTE, amount)
}

// SendsAtMost caps the address's outbound transfer of the asset at amount.
// SendsAtMost(addr, 0) blocks any transfer from that address entirely.
func (f *PostConditionFactory) SendsAtMost(address string, amount uint64) domain.PostCondition {
	return f.condition(address, domain.CondSendsLTE, amount)
}

// SendsExactly requires the address to send exactly amount of the asset.
func (f *PostConditionFactory) SendsExactly(address string, amount uint64) domain.PostCondition {
	return f.condition(address, domain.CondSendsEq, amount)
}

func (f *PostConditionFactory) condition(address, cond string, amount uint64) domain.PostCondition {
	return domain.PostCondition{
		Type:      domain.PostConditionTypeFT,
		Address:   address,
		Condition: cond,
		Amount:    strconv.FormatUint(amount, 10),
		Asset:     f.asset.String(),
	}
}
