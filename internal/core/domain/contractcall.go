package domain

// Wire shapes for unsigned contract calls, serialized for wallets to sign.
// Field names follow the ledger's connect conventions.

// FunctionArg is one typed argument of a contract call.
type FunctionArg struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Argument types understood by signing wallets.
const (
	ArgUint        = "uint"
	ArgBuffer      = "buffer"
	ArgPrincipal   = "principal"
	ArgStringASCII = "string-ascii"
	ArgBool        = "bool"
	ArgNone        = "none"
)

// Post-condition comparison codes.
const (
	CondSendsGTE = "gte"
	CondSendsLTE = "lte"
	CondSendsEq  = "eq"
)

// PostConditionModeDeny rejects any asset transfer the post-condition list
// does not explicitly allow.
const PostConditionModeDeny = "deny"

// AnchorModeAny lets the miner choose block anchoring.
const AnchorModeAny = "any"

// PostCondition is a ledger-enforced bound on how much of an asset an
// address may send in the transaction. It is the economic backstop: even a
// buggy contract or signing flow cannot move more than declared.
type PostCondition struct {
	Type      string `json:"type"` // "ft-postcondition"
	Address   string `json:"address"`
	Condition string `json:"condition"` // gte, lte, eq
	Amount    string `json:"amount"`    // decimal string, smallest unit
	Asset     string `json:"asset"`     // "ADDR.contract::token-name"
}

// PostConditionTypeFT marks a fungible-token post-condition.
const PostConditionTypeFT = "ft-postcondition"

// ContractCall is a fully assembled unsigned call, ready for a wallet.
type ContractCall struct {
	ContractAddress   string          `json:"contractAddress"`
	ContractName      string          `json:"contractName"`
	FunctionName      string          `json:"functionName"`
	FunctionArgs      []FunctionArg   `json:"functionArgs"`
	Network           string          `json:"network"`
	AnchorMode        string          `json:"anchorMode"`
	PostConditionMode string          `json:"postConditionMode"`
	PostConditions    []PostCondition `json:"postConditions"`
}
