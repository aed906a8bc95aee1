// Package relay forwards approved actions to the EVM execution backend and
// normalizes the outcome.
package relay

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	q402gate "github.com/field2fridge/q402gate"
)

// SimulatedTxHash is the placeholder hash reported in simulated mode. The
// Simulated flag on the result is the authoritative marker; the hash exists
// for callers that log it.
const SimulatedTxHash = "0xSIMULATED"

// EVMRelay submits built actions to a blockchain node. Without a signer key
// it runs in simulated mode: execution is acknowledged but nothing reaches
// the chain, and results say so explicitly.
type EVMRelay struct {
	client        *ethclient.Client
	key           *ecdsa.PrivateKey
	from          common.Address
	chainID       *big.Int
	confirmations uint64
	pollInterval  time.Duration
	log           *slog.Logger
}

// NewEVMRelay builds a relay from deployment config. A missing signer key
// switches the relay into simulated mode rather than failing; an invalid
// key is a configuration error.
func NewEVMRelay(ctx context.Context, cfg *q402gate.Config, log *slog.Logger) (*EVMRelay, error) {
	r := &EVMRelay{
		chainID:       new(big.Int).SetUint64(cfg.ChainID()),
		confirmations: cfg.Confirmations,
		pollInterval:  3 * time.Second,
		log:           log,
	}

	if cfg.SignerKey == "" {
		log.Warn("no signer key configured; relay running in simulated mode")
		return r, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, q402gate.NewGatewayError(q402gate.ErrCodeConfig, "signer key is not a valid private key", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, q402gate.NewGatewayError(q402gate.ErrCodeUpstream, "failed to dial execution backend", err)
	}

	r.key = key
	r.from = crypto.PubkeyToAddress(key.PublicKey)
	r.client = client
	return r, nil
}

// Simulated reports whether the relay has no signing capability.
func (r *EVMRelay) Simulated() bool {
	return r.key == nil
}

// Execute signs and submits the action. With confirmations configured it
// waits for the receipt to reach the requested depth before reporting
// success; otherwise it returns on submission acknowledgment.
//
// Once submitted, the transaction is not cancelable: caller disconnects do
// not abort an in-flight submission.
func (r *EVMRelay) Execute(ctx context.Context, action q402gate.BuiltAction) (q402gate.ExecutionResult, error) {
	if r.Simulated() {
		r.log.Warn("simulating execution", "to", action.To, "description", action.Description)
		return q402gate.ExecutionResult{TxHash: SimulatedTxHash, Simulated: true}, nil
	}

	to := common.HexToAddress(action.To)
	value := action.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return q402gate.ExecutionResult{}, upstream("failed to fetch account nonce", err)
	}

	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return q402gate.ExecutionResult{}, upstream("failed to fetch gas price", err)
	}

	gasLimit, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  r.from,
		To:    &to,
		Value: value,
		Data:  action.Data,
	})
	if err != nil {
		return q402gate.ExecutionResult{}, upstream("execution backend rejected the action during gas estimation", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     action.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return q402gate.ExecutionResult{}, q402gate.NewGatewayError(q402gate.ErrCodeConfig, "failed to sign transaction", err)
	}

	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return q402gate.ExecutionResult{}, upstream("failed to submit transaction", err)
	}

	hash := signed.Hash()
	r.log.Info("submitted transaction", "hash", hash.Hex(), "to", action.To, "description", action.Description)

	result := q402gate.ExecutionResult{TxHash: hash.Hex()}
	if r.confirmations == 0 {
		return result, nil
	}

	receipt, err := r.waitConfirmed(ctx, hash)
	if err != nil {
		return q402gate.ExecutionResult{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return q402gate.ExecutionResult{}, upstream(fmt.Sprintf("transaction %s reverted", hash.Hex()), nil)
	}

	result.BlockNumber = receipt.BlockNumber.Uint64()
	result.GasUsed = receipt.GasUsed
	return result, nil
}

// waitConfirmed polls for the receipt and then for the chain head to pass
// the configured confirmation depth.
func (r *EVMRelay) waitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		rec, err := r.client.TransactionReceipt(ctx, hash)
		if err == nil {
			receipt = rec
			break
		}
		if err != ethereum.NotFound {
			return nil, upstream("failed to fetch transaction receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, upstream("timed out waiting for transaction receipt", ctx.Err())
		case <-ticker.C:
		}
	}

	target := new(big.Int).Add(receipt.BlockNumber, new(big.Int).SetUint64(r.confirmations-1))
	for {
		head, err := r.client.BlockNumber(ctx)
		if err != nil {
			return nil, upstream("failed to fetch chain head", err)
		}
		if new(big.Int).SetUint64(head).Cmp(target) >= 0 {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, upstream("timed out waiting for confirmations", ctx.Err())
		case <-ticker.C:
		}
	}
}

func upstream(message string, cause error) *q402gate.GatewayError {
	return q402gate.NewGatewayError(q402gate.ErrCodeUpstream, message, cause)
}
