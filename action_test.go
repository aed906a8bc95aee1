package q402gate

import (
	"strings"
	"testing"
)

const (
	testToken    = "0x1111111111111111111111111111111111111111"
	testRegistry = "0x2222222222222222222222222222222222222222"
	testTo       = "0x3333333333333333333333333333333333333333"
	testOwner    = "0x4444444444444444444444444444444444444444"
)

func testActionConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		TokenAddress:    testToken,
		RegistryAddress: testRegistry,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}
	return cfg
}

// --- ParseUnits tests ---

func TestParseUnitsWhole(t *testing.T) {
	v, err := ParseUnits("10", 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.String() != "10000000000000000000" {
		t.Errorf("expected 10e18, got %s", v)
	}
}

func TestParseUnitsFractional(t *testing.T) {
	v, err := ParseUnits("0.001", 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.String() != "1000000000000000" {
		t.Errorf("expected 1e15, got %s", v)
	}
}

func TestParseUnitsRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "abc", "1.2.3", "-5", "1e18"} {
		if _, err := ParseUnits(bad, 18); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseUnitsRejectsTooManyDecimals(t *testing.T) {
	if _, err := ParseUnits("0.1", 0); err == nil {
		t.Error("expected error for fraction at zero decimals")
	}
}

// --- Validation tests ---

func TestValidateActionRequestTransfer(t *testing.T) {
	req := &ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "10", Network: NetworkBSCTestnet}
	if err := ValidateActionRequest(req); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidateActionRequestIncomplete(t *testing.T) {
	tests := []struct {
		name string
		req  ActionRequest
	}{
		{"unknown type", ActionRequest{ActionType: "burn", Network: NetworkBSCTestnet}},
		{"unknown network", ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "1", Network: "solana"}},
		{"transfer missing to", ActionRequest{ActionType: ActionTransfer, Amount: "1", Network: NetworkBSCTestnet}},
		{"transfer bad to", ActionRequest{ActionType: ActionTransfer, To: "not-an-address", Amount: "1", Network: NetworkBSCTestnet}},
		{"transfer missing amount", ActionRequest{ActionType: ActionTransfer, To: testTo, Network: NetworkBSCTestnet}},
		{"register missing agent", ActionRequest{ActionType: ActionRegister, Owner: testOwner, Network: NetworkBSCTestnet}},
		{"register missing owner", ActionRequest{ActionType: ActionRegister, AgentID: "agent-1", Network: NetworkBSCTestnet}},
		{"bad wallet", ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "1", Network: NetworkBSCTestnet, Wallet: "xyz"}},
		{"negative estimate", ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "1", Network: NetworkBSCTestnet, USDEstimate: -1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateActionRequest(&tc.req)
			ge, ok := AsGatewayError(err)
			if !ok {
				t.Fatalf("expected GatewayError, got %v", err)
			}
			if ge.Code != ErrCodeValidation {
				t.Errorf("expected %s, got %s", ErrCodeValidation, ge.Code)
			}
		})
	}
}

// --- BuildAction tests ---

func TestBuildActionTransfer(t *testing.T) {
	cfg := testActionConfig(t)
	req := &ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "10", Network: NetworkBSCTestnet}

	action, err := BuildAction(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if action.To != testToken {
		t.Errorf("expected target %s, got %s", testToken, action.To)
	}
	if len(action.Data) == 0 {
		t.Error("expected encoded call data")
	}
	if action.Asset != testToken {
		t.Errorf("expected asset %s, got %s", testToken, action.Asset)
	}
	if action.PayAmount.String() != "10000000000000000000" {
		t.Errorf("expected pay amount 10e18, got %s", action.PayAmount)
	}
	if action.PayTo != testTo {
		t.Errorf("expected pay recipient %s, got %s", testTo, action.PayTo)
	}
	if !strings.Contains(action.Description, "Transfer 10 service tokens") {
		t.Errorf("unexpected description %q", action.Description)
	}
}

func TestBuildActionDeterministic(t *testing.T) {
	cfg := testActionConfig(t)
	req := &ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "10", Network: NetworkBSCTestnet}

	first, err := BuildAction(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildAction(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(first.Data) != string(second.Data) {
		t.Error("expected identical call data for identical requests")
	}
}

func TestBuildActionRegister(t *testing.T) {
	cfg := testActionConfig(t)
	req := &ActionRequest{ActionType: ActionRegister, AgentID: "agent-1", Owner: testOwner, Network: NetworkBSCTestnet}

	action, err := BuildAction(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if action.To != testRegistry {
		t.Errorf("expected target %s, got %s", testRegistry, action.To)
	}
	if action.PayAmount.Cmp(registerFeeWei) != 0 {
		t.Errorf("expected register fee %s, got %s", registerFeeWei, action.PayAmount)
	}
	// RecipientAddress defaults to the token address.
	if action.PayTo != testToken {
		t.Errorf("expected pay recipient %s, got %s", testToken, action.PayTo)
	}
}

func TestBuildActionMissingContractConfig(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}

	req := &ActionRequest{ActionType: ActionTransfer, To: testTo, Amount: "1", Network: NetworkBSCTestnet}
	_, err := BuildAction(req, cfg)
	ge, ok := AsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if ge.Code != ErrCodeConfig {
		t.Errorf("expected %s, got %s", ErrCodeConfig, ge.Code)
	}
}
