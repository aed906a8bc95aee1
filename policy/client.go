// Package policy loads per-user guardrail snapshots from the external
// policy store.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	q402gate "github.com/field2fridge/q402gate"
)

// Client fetches policy snapshots over HTTP. Every call is bounded by the
// configured timeout; the gateway must never hang on the policy store.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a policy store client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// storedPolicy is the store's wire format. The legacy field names
// (maxOnchainUsd, maxSpend, allowedContracts, blockedContracts) predate the
// snapshot model and are still emitted by older store deployments.
type storedPolicy struct {
	PerOrderCapUSD    *float64 `json:"perOrderCapUsd"`
	GlobalMaxSpendUSD *float64 `json:"globalMaxSpendUsd"`
	MaxOnchainUSD     *float64 `json:"maxOnchainUsd"`
	MaxSpend          *float64 `json:"maxSpend"`
	AllowedTargets    []string `json:"allowedTargets"`
	BlockedTargets    []string `json:"blockedTargets"`
	AllowedContracts  []string `json:"allowedContracts"`
	BlockedContracts  []string `json:"blockedContracts"`
}

// Load fetches the snapshot for a wallet via GET /policies/{wallet}.
// A missing record resolves to the most-restrictive snapshot rather than an
// open one; transport failures return an error so the caller can log and
// degrade the same way.
func (c *Client) Load(ctx context.Context, wallet string) (q402gate.PolicySnapshot, error) {
	endpoint := fmt.Sprintf("%s/policies/%s", c.baseURL, url.PathEscape(q402gate.CanonicalAddress(wallet)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return q402gate.RestrictivePolicy(), fmt.Errorf("failed to create policy request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return q402gate.RestrictivePolicy(), fmt.Errorf("failed to call policy store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return q402gate.RestrictivePolicy(), nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return q402gate.RestrictivePolicy(), fmt.Errorf("policy store returned status %d: %s", resp.StatusCode, string(body))
	}

	var stored storedPolicy
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return q402gate.RestrictivePolicy(), fmt.Errorf("failed to decode policy response: %w", err)
	}

	return stored.snapshot(), nil
}

func (s *storedPolicy) snapshot() q402gate.PolicySnapshot {
	snap := q402gate.PolicySnapshot{
		PerOrderCapUSD:    s.PerOrderCapUSD,
		GlobalMaxSpendUSD: s.GlobalMaxSpendUSD,
		AllowedTargets:    s.AllowedTargets,
		BlockedTargets:    s.BlockedTargets,
	}
	if snap.PerOrderCapUSD == nil {
		snap.PerOrderCapUSD = s.MaxOnchainUSD
	}
	if snap.GlobalMaxSpendUSD == nil {
		snap.GlobalMaxSpendUSD = s.MaxSpend
	}
	if len(snap.AllowedTargets) == 0 {
		snap.AllowedTargets = s.AllowedContracts
	}
	if len(snap.BlockedTargets) == 0 {
		snap.BlockedTargets = s.BlockedContracts
	}
	return snap
}
