// Package witness constructs and verifies the EIP-712 payment witness a
// payer signs to authorize an action.
package witness

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"

	q402gate "github.com/field2fridge/q402gate"
)

// ZeroAddress is the payer placeholder used when a challenge is issued to a
// caller that has not identified a wallet. Only valid pre-signature.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// witnessFields is the canonical field order of the Witness type. Both the
// builder and the verifier derive their typed data from this list, so the
// two sides cannot drift apart.
var witnessFields = []q402gate.WitnessField{
	{Name: "owner", Type: "address"},
	{Name: "token", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "to", Type: "address"},
	{Name: "deadline", Type: "uint256"},
	{Name: "paymentId", Type: "bytes32"},
	{Name: "nonce", Type: "uint256"},
}

// Builder constructs payment challenges.
type Builder struct {
	cfg *q402gate.Config

	// now and newPaymentID are injectable for tests.
	now          func() time.Time
	newPaymentID func() (string, error)
}

// NewBuilder creates a challenge builder for the given deployment config.
func NewBuilder(cfg *q402gate.Config) *Builder {
	return &Builder{
		cfg:          cfg,
		now:          time.Now,
		newPaymentID: randomPaymentID,
	}
}

// randomPaymentID draws 128 bits of entropy and left-pads them into a
// bytes32 hex string.
func randomPaymentID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate payment id: %w", err)
	}
	var padded [32]byte
	copy(padded[16:], id[:])
	return hexutil.Encode(padded[:]), nil
}

// Build creates a fresh challenge binding the action's economic terms. Every
// call produces a new paymentId and deadline; challenges are never reused.
func (b *Builder) Build(req *q402gate.ActionRequest, action q402gate.BuiltAction) (q402gate.PaymentChallenge, error) {
	paymentID, err := b.newPaymentID()
	if err != nil {
		return q402gate.PaymentChallenge{}, q402gate.NewGatewayError(q402gate.ErrCodeConfig, "could not generate payment id", err)
	}

	payer := req.Wallet
	if payer == "" {
		payer = ZeroAddress
	}

	deadline := b.now().Add(b.cfg.ChallengeTTL).Unix()

	w := q402gate.Witness{
		Domain: q402gate.WitnessDomain{
			Name:              q402gate.WitnessDomainName,
			Version:           q402gate.WitnessDomainVersion,
			ChainID:           b.cfg.ChainID(),
			VerifyingContract: b.cfg.RecipientAddress,
		},
		Types: map[string][]q402gate.WitnessField{
			q402gate.WitnessPrimaryType: witnessFields,
		},
		PrimaryType: q402gate.WitnessPrimaryType,
		Message: q402gate.WitnessMessage{
			Owner:     payer,
			Token:     action.Asset,
			Amount:    action.PayAmount.String(),
			To:        action.PayTo,
			Deadline:  strconv.FormatInt(deadline, 10),
			PaymentID: paymentID,
			Nonce:     "0",
		},
	}

	return q402gate.PaymentChallenge{
		Scheme:    q402gate.ChallengeScheme,
		NetworkID: b.cfg.NetworkID(),
		Asset:     action.Asset,
		Amount:    action.PayAmount.String(),
		Recipient: action.PayTo,
		Witness:   w,
	}, nil
}

// typedData maps a witness onto go-ethereum's typed-data representation.
func typedData(w *q402gate.Witness) apitypes.TypedData {
	types := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
	}
	for name, fields := range w.Types {
		converted := make([]apitypes.Type, 0, len(fields))
		for _, f := range fields {
			converted = append(converted, apitypes.Type{Name: f.Name, Type: f.Type})
		}
		types[name] = converted
	}

	return apitypes.TypedData{
		Types:       types,
		PrimaryType: w.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              w.Domain.Name,
			Version:           w.Domain.Version,
			ChainId:           math.NewHexOrDecimal256(int64(w.Domain.ChainID)),
			VerifyingContract: w.Domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"owner":     w.Message.Owner,
			"token":     w.Message.Token,
			"amount":    w.Message.Amount,
			"to":        w.Message.To,
			"deadline":  w.Message.Deadline,
			"paymentId": w.Message.PaymentID,
			"nonce":     w.Message.Nonce,
		},
	}
}

// HashForSigning computes the canonical EIP-712 digest of a witness. Clients
// sign exactly this digest.
func HashForSigning(w *q402gate.Witness) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData(w))
	if err != nil {
		return nil, fmt.Errorf("failed to hash witness typed data: %w", err)
	}
	return hash, nil
}

// Deadline parses the witness deadline into a time.
func Deadline(w *q402gate.Witness) (time.Time, error) {
	secs, err := strconv.ParseInt(w.Message.Deadline, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q: %w", w.Message.Deadline, err)
	}
	return time.Unix(secs, 0), nil
}

// AmountValue parses the witness amount into atomic units.
func AmountValue(w *q402gate.Witness) (*big.Int, error) {
	value, ok := new(big.Int).SetString(w.Message.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", w.Message.Amount)
	}
	return value, nil
}
