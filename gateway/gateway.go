// Package gateway exposes the pay-gated execution flow over HTTP: a first
// unpaid call earns a 402 payment challenge, a second call carrying the
// signed witness is verified, policy-checked, and relayed.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	q402gate "github.com/field2fridge/q402gate"
	"github.com/field2fridge/q402gate/witness"
)

// HeaderPayment is the legacy sponsor-secret header.
const HeaderPayment = "X-Payment"

// Gateway orchestrates the two-phase execution protocol. It holds no
// mutable per-request state: every invocation loads policy and chain state
// from its collaborators, so handlers run request-parallel without locks.
type Gateway struct {
	cfg      *q402gate.Config
	log      *slog.Logger
	policies q402gate.PolicyLoader
	relay    q402gate.Relay
	seen     q402gate.SeenStore
	builder  *witness.Builder

	// now is injectable for tests.
	now func() time.Time
}

// New wires a gateway from its collaborators. All dependencies are explicit
// so tests can substitute fakes.
func New(cfg *q402gate.Config, log *slog.Logger, policies q402gate.PolicyLoader, relay q402gate.Relay, seen q402gate.SeenStore) *Gateway {
	return &Gateway{
		cfg:      cfg,
		log:      log,
		policies: policies,
		relay:    relay,
		seen:     seen,
		builder:  witness.NewBuilder(cfg),
		now:      time.Now,
	}
}

// Router builds the HTTP surface.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Post("/execute", g.handleExecute)
	r.Post("/api/execute", g.handleExecute) // legacy path

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// executeRequest is the body of POST /api/execute. Witness, signature and
// claimedSigner are absent on the first (unpaid) call.
type executeRequest struct {
	Action        q402gate.ActionRequest `json:"action"`
	Witness       *q402gate.Witness      `json:"witness,omitempty"`
	Signature     string                 `json:"signature,omitempty"`
	ClaimedSigner string                 `json:"claimedSigner,omitempty"`
}

type executeResponse struct {
	OK bool `json:"ok"`
	q402gate.ExecutionResult
}

func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := g.log.With("request_id", middleware.GetReqID(ctx))

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, q402gate.NewGatewayError(q402gate.ErrCodeValidation, "request body is not valid JSON", err))
		return
	}

	if err := q402gate.ValidateActionRequest(&req.Action); err != nil {
		writeError(w, log, err)
		return
	}
	if req.Action.Network != g.cfg.Network {
		writeError(w, log, q402gate.NewGatewayError(q402gate.ErrCodeValidation,
			"this gateway serves network "+g.cfg.Network, nil))
		return
	}

	log = log.With("action", req.Action.ActionType, "wallet", req.Action.Wallet, "network", req.Action.Network)

	action, err := q402gate.BuildAction(&req.Action, g.cfg)
	if err != nil {
		writeError(w, log, err)
		return
	}

	legacyAuthorized, err := g.checkSponsorSecret(r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	if req.Witness == nil && !legacyAuthorized {
		g.issueChallenge(ctx, w, log, &req, action)
		return
	}

	if !legacyAuthorized {
		auth := &q402gate.SignedAuthorization{
			Witness:       *req.Witness,
			Signature:     req.Signature,
			ClaimedSigner: req.ClaimedSigner,
		}
		if err := g.authorize(ctx, log, auth, action); err != nil {
			writeError(w, log, err)
			return
		}
	} else {
		log.Info("request authorized via sponsor secret")
	}

	// Authoritative guardrail pass. The phase-1 snapshot is never trusted
	// here: policy can change between the two calls.
	snap := g.loadPolicy(ctx, log, req.Action.Wallet)
	if err := q402gate.EvaluateGuardrails(req.Action.USDEstimate, snap, action.To); err != nil {
		writeError(w, log, err)
		return
	}

	result, err := g.relay.Execute(ctx, action)
	if err != nil {
		writeError(w, log, err)
		return
	}

	log.Info("action executed", "tx_hash", result.TxHash, "simulated", result.Simulated)
	writeJSON(w, http.StatusOK, executeResponse{OK: true, ExecutionResult: result})
}

// issueChallenge runs the cheap pre-challenge guardrail pass and emits a
// fresh 402 payment challenge.
func (g *Gateway) issueChallenge(ctx context.Context, w http.ResponseWriter, log *slog.Logger, req *executeRequest, action q402gate.BuiltAction) {
	snap := g.loadPolicy(ctx, log, req.Action.Wallet)
	if err := q402gate.EvaluateGuardrails(req.Action.USDEstimate, snap, action.To); err != nil {
		writeError(w, log, err)
		return
	}

	challenge, err := g.builder.Build(&req.Action, action)
	if err != nil {
		writeError(w, log, err)
		return
	}

	log.Info("issuing payment challenge", "payment_id", challenge.Witness.Message.PaymentID)
	writeJSON(w, http.StatusPaymentRequired, challenge)
}

// authorize verifies the signed witness against the rebuilt action and
// consumes its payment id.
func (g *Gateway) authorize(ctx context.Context, log *slog.Logger, auth *q402gate.SignedAuthorization, action q402gate.BuiltAction) error {
	if err := g.checkDomain(&auth.Witness); err != nil {
		return err
	}

	signer, err := witness.Verify(auth, g.now())
	if err != nil {
		return err
	}

	if err := witness.MatchesAction(&auth.Witness, action); err != nil {
		return err
	}

	deadline, err := witness.Deadline(&auth.Witness)
	if err != nil {
		return q402gate.NewGatewayError(q402gate.ErrCodeValidation, "witness deadline is not a number", err)
	}

	fresh, err := g.seen.MarkIfNew(ctx, auth.Witness.Message.PaymentID, time.Until(deadline))
	if err != nil {
		return q402gate.NewGatewayError(q402gate.ErrCodeUpstream, "replay store unavailable", err)
	}
	if !fresh {
		return q402gate.NewGatewayError(q402gate.ErrCodeReplay, "payment id has already been used", nil)
	}

	log.Info("witness verified", "signer", signer.Hex(), "payment_id", auth.Witness.Message.PaymentID)
	return nil
}

// checkDomain rejects witnesses signed against a different deployment. The
// domain is fixed server-side; a client cannot choose its own.
func (g *Gateway) checkDomain(w *q402gate.Witness) error {
	d := w.Domain
	if d.Name != q402gate.WitnessDomainName ||
		d.Version != q402gate.WitnessDomainVersion ||
		d.ChainID != g.cfg.ChainID() ||
		q402gate.CanonicalAddress(d.VerifyingContract) != q402gate.CanonicalAddress(g.cfg.RecipientAddress) {
		return q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "witness domain does not match this gateway", nil)
	}
	return nil
}

// checkSponsorSecret handles the legacy secret-header mode. Returns true
// only when the mode is enabled and the header matches in constant time.
func (g *Gateway) checkSponsorSecret(r *http.Request) (bool, error) {
	header := r.Header.Get(HeaderPayment)
	if g.cfg.SponsorSecret == "" || header == "" {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(g.cfg.SponsorSecret)) != 1 {
		return false, q402gate.NewGatewayError(q402gate.ErrCodeInvalidSignature, "payment header does not match sponsor secret", nil)
	}
	return true, nil
}

// loadPolicy fetches a fresh snapshot, degrading to the most-restrictive
// policy when the store cannot answer. A broken policy store must deny, not
// allow.
func (g *Gateway) loadPolicy(ctx context.Context, log *slog.Logger, wallet string) q402gate.PolicySnapshot {
	loadCtx, cancel := context.WithTimeout(ctx, g.cfg.PolicyTimeout)
	defer cancel()

	snap, err := g.policies.Load(loadCtx, wallet)
	if err != nil {
		log.Warn("policy store unavailable, using restrictive policy", "error", err)
		return q402gate.RestrictivePolicy()
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps a GatewayError code to an HTTP status and emits the
// structured error body. No failure leaves this handler as a silent 200.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	ge, ok := q402gate.AsGatewayError(err)
	if !ok {
		ge = q402gate.NewGatewayError(q402gate.ErrCodeConfig, "internal gateway error", err)
	}

	status := http.StatusInternalServerError
	switch {
	case ge.Code == q402gate.ErrCodeValidation:
		status = http.StatusBadRequest
	case ge.Code == q402gate.ErrCodeInvalidSignature,
		ge.Code == q402gate.ErrCodeExpiredChallenge,
		ge.Code == q402gate.ErrCodeReplay:
		status = http.StatusUnauthorized
	case q402gate.IsPolicyViolation(ge.Code):
		status = http.StatusForbidden
	case ge.Code == q402gate.ErrCodeUpstream:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		log.Error("request failed", "code", ge.Code, "error", ge.Error())
	} else {
		log.Info("request rejected", "code", ge.Code, "message", ge.Message)
	}

	// The Cause may carry backend detail; the message alone goes to the
	// caller so credentials and signer material never leak.
	writeJSON(w, status, map[string]string{
		"error": ge.Message,
		"code":  ge.Code,
	})
}
