package witness

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	q402gate "github.com/field2fridge/q402gate"
)

// ValidateShape rejects partial witness payloads before any cryptographic
// work. Shape failures map to validation errors, not signature errors, so
// clients can tell a malformed submission from a wrong key.
func ValidateShape(auth *q402gate.SignedAuthorization) error {
	w := &auth.Witness

	switch {
	case w.Domain.Name == "" || w.Domain.Version == "":
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "witness domain is incomplete", nil)
	case w.Domain.ChainID == 0:
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "witness domain chainId is missing", nil)
	case w.PrimaryType != q402gate.WitnessPrimaryType:
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, fmt.Sprintf("unexpected primaryType %q", w.PrimaryType), nil)
	case len(w.Types[q402gate.WitnessPrimaryType]) == 0:
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "witness types are missing", nil)
	}

	m := &w.Message
	if m.Owner == "" || m.Token == "" || m.Amount == "" || m.To == "" || m.Deadline == "" || m.PaymentID == "" || m.Nonce == "" {
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "witness message is incomplete", nil)
	}

	if auth.Signature == "" {
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "signature is required", nil)
	}
	if !common.IsHexAddress(auth.ClaimedSigner) {
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "claimedSigner is not a valid address", nil)
	}

	return nil
}

// Verify checks that the signature was produced by the claimed signer over
// the exact witness payload, and that the challenge has not expired. On
// success it returns the recovered signer address; downstream accounting
// must use this value and never the client-supplied one.
func Verify(auth *q402gate.SignedAuthorization, now time.Time) (common.Address, error) {
	if err := ValidateShape(auth); err != nil {
		return common.Address{}, err
	}

	deadline, err := Deadline(&auth.Witness)
	if err != nil {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeValidation, "witness deadline is not a number", err)
	}
	if !deadline.After(now) {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeExpiredChallenge,
			fmt.Sprintf("challenge expired at %s", deadline.UTC().Format(time.RFC3339)), nil)
	}

	hash, err := HashForSigning(&auth.Witness)
	if err != nil {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "witness could not be encoded", err)
	}

	sig, err := hexutil.Decode(auth.Signature)
	if err != nil {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "signature is not valid hex", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature,
			fmt.Sprintf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig)), nil)
	}

	// Wallets emit v as 27/28; recovery wants 0/1.
	recoverSig := make([]byte, len(sig))
	copy(recoverSig, sig)
	if recoverSig[64] >= 27 {
		recoverSig[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, recoverSig)
	if err != nil {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "signature recovery failed", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), auth.ClaimedSigner) {
		return common.Address{}, q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature,
			"signature does not match the claimed signer", nil)
	}

	return recovered, nil
}

// MatchesAction checks that the witness economic terms agree with the built
// action. The gateway must never execute an action whose terms diverge from
// what was signed.
func MatchesAction(w *q402gate.Witness, action q402gate.BuiltAction) error {
	amount, err := AmountValue(w)
	if err != nil {
		return q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "witness amount is not a number", err)
	}

	switch {
	case amount.Cmp(action.PayAmount) != 0:
		return q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature,
			fmt.Sprintf("witness amount %s does not match action amount %s", amount, action.PayAmount), nil)
	case q402gate.CanonicalAddress(w.Message.To) != q402gate.CanonicalAddress(action.PayTo):
		return q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "witness recipient does not match action", nil)
	case q402gate.CanonicalAddress(w.Message.Token) != q402gate.CanonicalAddress(action.Asset):
		return q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "witness asset does not match action", nil)
	}

	return nil
}
