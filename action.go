package q402gate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// serviceTokenDecimals is the decimal precision of the service token.
const serviceTokenDecimals = 18

// registerFeeWei is the flat payment charged for agent registration, in
// atomic token units (0.001 tokens).
var registerFeeWei = big.NewInt(1_000_000_000_000_000)

const serviceTokenABIJSON = `[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

const agentRegistryABIJSON = `[{"type":"function","name":"registerAgent","inputs":[{"name":"agentId","type":"string"},{"name":"owner","type":"address"}],"outputs":[]}]`

var (
	serviceTokenABI  = mustParseABI(serviceTokenABIJSON)
	agentRegistryABI = mustParseABI(agentRegistryABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %v", err))
	}
	return parsed
}

// ValidateActionRequest fast-fails on incomplete action shapes before any
// policy or crypto work happens.
func ValidateActionRequest(req *ActionRequest) error {
	if _, ok := chainIDs[req.Network]; !ok {
		return NewGatewayError(ErrCodeValidation, fmt.Sprintf("unknown network %q", req.Network), nil)
	}

	switch req.ActionType {
	case ActionTransfer:
		if !common.IsHexAddress(req.To) {
			return NewGatewayError(ErrCodeValidation, "transfer requires a valid 'to' address", nil)
		}
		if req.Amount == "" {
			return NewGatewayError(ErrCodeValidation, "transfer requires an amount", nil)
		}
	case ActionRegister:
		if req.AgentID == "" {
			return NewGatewayError(ErrCodeValidation, "register requires an agentId", nil)
		}
		if !common.IsHexAddress(req.Owner) {
			return NewGatewayError(ErrCodeValidation, "register requires a valid owner address", nil)
		}
	default:
		return NewGatewayError(ErrCodeValidation, fmt.Sprintf("unknown actionType %q", req.ActionType), nil)
	}

	if req.Wallet != "" && !common.IsHexAddress(req.Wallet) {
		return NewGatewayError(ErrCodeValidation, "wallet is not a valid address", nil)
	}
	if req.USDEstimate < 0 {
		return NewGatewayError(ErrCodeValidation, "usdEstimate must not be negative", nil)
	}

	return nil
}

// BuildAction derives the effector-level payload for a validated request.
// The derivation is deterministic: the same request against the same config
// always produces the same call data and economic terms.
func BuildAction(req *ActionRequest, cfg *Config) (BuiltAction, error) {
	switch req.ActionType {
	case ActionTransfer:
		return buildServiceTokenTransfer(req, cfg)
	case ActionRegister:
		return buildRegisterAgent(req, cfg)
	default:
		return BuiltAction{}, NewGatewayError(ErrCodeValidation, fmt.Sprintf("unknown actionType %q", req.ActionType), nil)
	}
}

func buildServiceTokenTransfer(req *ActionRequest, cfg *Config) (BuiltAction, error) {
	if cfg.TokenAddress == "" {
		return BuiltAction{}, NewGatewayError(ErrCodeConfig, "service token address is not configured", nil)
	}

	value, err := ParseUnits(req.Amount, serviceTokenDecimals)
	if err != nil {
		return BuiltAction{}, NewGatewayError(ErrCodeValidation, fmt.Sprintf("invalid amount %q", req.Amount), err)
	}

	data, err := serviceTokenABI.Pack("transfer", common.HexToAddress(req.To), value)
	if err != nil {
		return BuiltAction{}, NewGatewayError(ErrCodeConfig, "failed to encode transfer call", err)
	}

	return BuiltAction{
		To:          cfg.TokenAddress,
		Data:        data,
		Value:       big.NewInt(0),
		Description: fmt.Sprintf("Transfer %s service tokens to %s", req.Amount, req.To),
		Asset:       cfg.TokenAddress,
		PayAmount:   value,
		PayTo:       req.To,
	}, nil
}

func buildRegisterAgent(req *ActionRequest, cfg *Config) (BuiltAction, error) {
	if cfg.RegistryAddress == "" {
		return BuiltAction{}, NewGatewayError(ErrCodeConfig, "agent registry address is not configured", nil)
	}
	if cfg.TokenAddress == "" {
		return BuiltAction{}, NewGatewayError(ErrCodeConfig, "service token address is not configured", nil)
	}

	data, err := agentRegistryABI.Pack("registerAgent", req.AgentID, common.HexToAddress(req.Owner))
	if err != nil {
		return BuiltAction{}, NewGatewayError(ErrCodeConfig, "failed to encode registerAgent call", err)
	}

	return BuiltAction{
		To:          cfg.RegistryAddress,
		Data:        data,
		Value:       big.NewInt(0),
		Description: fmt.Sprintf("Register agent %s for %s", req.AgentID, req.Owner),
		Asset:       cfg.TokenAddress,
		PayAmount:   new(big.Int).Set(registerFeeWei),
		PayTo:       cfg.RecipientAddress,
	}, nil
}

// ParseUnits converts a decimal token amount like "10" or "0.5" into atomic
// units at the given precision.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is not a valid decimal number", amount)
	}
	return value, nil
}
