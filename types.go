package q402gate

import (
	"context"
	"math/big"
	"strings"
	"time"
)

// Action types accepted by the gateway.
const (
	ActionTransfer = "transfer"
	ActionRegister = "register"
)

// ActionRequest is the action a caller wants executed. It is parsed from a
// single inbound request and never mutated afterwards.
type ActionRequest struct {
	// ActionType discriminates the variant: "transfer" or "register".
	ActionType string `json:"actionType"`

	// Transfer fields.
	To     string `json:"to,omitempty"`     // recipient address
	Amount string `json:"amount,omitempty"` // decimal token amount, e.g. "10" or "0.5"

	// Register fields.
	AgentID string `json:"agentId,omitempty"`
	Owner   string `json:"owner,omitempty"`

	// Network selects the target chain ("bsc-testnet" or "bsc-mainnet").
	Network string `json:"network"`

	// Wallet is the caller's claimed wallet address. It seeds the witness
	// payer field pre-signature; the authoritative payer comes from
	// signature recovery.
	Wallet string `json:"wallet,omitempty"`

	// USDEstimate is the caller-provided cost estimate used for guardrail
	// evaluation. Zero means no estimate was supplied.
	USDEstimate float64 `json:"usdEstimate,omitempty"`
}

// BuiltAction is the effector-level payload derived from an ActionRequest.
// Deterministic for a given request and network configuration.
type BuiltAction struct {
	// To is the contract the transaction targets.
	To string

	// Data is the ABI-encoded call data.
	Data []byte

	// Value is the native value attached to the transaction (usually zero).
	Value *big.Int

	// Description is a human-readable summary of the action.
	Description string

	// Economic terms the payment witness must match.
	Asset     string   // token contract the payment is denominated in
	PayAmount *big.Int // payment amount in atomic units
	PayTo     string   // payment recipient
}

// PolicySnapshot is a user's guardrail state, loaded fresh per request.
// A nil cap means unbounded for that dimension; an empty allow-list means
// "allow unless blocked". Addresses are compared case-insensitively.
type PolicySnapshot struct {
	PerOrderCapUSD    *float64 `json:"perOrderCapUsd,omitempty"`
	GlobalMaxSpendUSD *float64 `json:"globalMaxSpendUsd,omitempty"`
	AllowedTargets    []string `json:"allowedTargets,omitempty"`
	BlockedTargets    []string `json:"blockedTargets,omitempty"`
}

// RestrictivePolicy is the deny-by-default snapshot the gateway falls back to
// when the policy store is unavailable or has no record for the user. Zero
// caps reject any action with a nonzero cost estimate.
func RestrictivePolicy() PolicySnapshot {
	zero := 0.0
	return PolicySnapshot{
		PerOrderCapUSD:    &zero,
		GlobalMaxSpendUSD: &zero,
	}
}

// WitnessDomain is the EIP-712 domain separator of a payment witness. The
// fields are fixed per deployment and must match between challenge
// construction and signature verification.
type WitnessDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// WitnessField describes one typed-data field.
type WitnessField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// WitnessMessage is the signable payload of a payment witness. Integer
// values travel as decimal strings; paymentId is a 0x-prefixed bytes32.
type WitnessMessage struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	To        string `json:"to"`
	Deadline  string `json:"deadline"` // unix seconds
	PaymentID string `json:"paymentId"`
	Nonce     string `json:"nonce"`
}

// Witness is the typed structure a payer signs to authorize a payment.
type Witness struct {
	Domain      WitnessDomain             `json:"domain"`
	Types       map[string][]WitnessField `json:"types"`
	PrimaryType string                    `json:"primaryType"`
	Message     WitnessMessage            `json:"message"`
}

// PaymentChallenge is the 402 response body: the unsigned witness plus
// payment metadata.
type PaymentChallenge struct {
	Scheme    string  `json:"scheme"`
	NetworkID string  `json:"networkId"`
	Asset     string  `json:"asset"`
	Amount    string  `json:"amount"`
	Recipient string  `json:"recipient"`
	Witness   Witness `json:"witness"`
}

// SignedAuthorization is a witness plus the payer's signature. Consumed at
// most once per execution attempt.
type SignedAuthorization struct {
	Witness       Witness `json:"witness"`
	Signature     string  `json:"signature"`
	ClaimedSigner string  `json:"claimedSigner"`
}

// ExecutionResult is the outcome of relaying a built action.
type ExecutionResult struct {
	TxHash      string `json:"txHash,omitempty"`
	Simulated   bool   `json:"simulated,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
}

// PolicyLoader fetches a user's guardrail snapshot. Implementations must
// bound the call with a timeout; the gateway degrades to RestrictivePolicy
// when Load fails.
type PolicyLoader interface {
	Load(ctx context.Context, wallet string) (PolicySnapshot, error)
}

// Relay forwards an approved, built action to the execution backend.
type Relay interface {
	Execute(ctx context.Context, action BuiltAction) (ExecutionResult, error)
}

// SeenStore tracks consumed payment ids to prevent a signed witness from
// executing twice within its validity window. MarkIfNew returns false when
// the id was already present.
type SeenStore interface {
	MarkIfNew(ctx context.Context, paymentID string, ttl time.Duration) (bool, error)
}

// CanonicalAddress lowercases an address for comparison. Guardrail and
// witness checks never compare mixed-case addresses directly.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
