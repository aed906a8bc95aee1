package q402gate

import "fmt"

// EvaluateGuardrails checks a proposed action against a policy snapshot.
// It returns nil to allow, or a *GatewayError with a policy violation code.
//
// Pure and synchronous: the handler runs it twice per exchange, once as a
// cheap pre-challenge fast-fail and once post-signature as the authoritative
// gate against a fresh snapshot.
//
// The deny-list is checked before the allow-list so an explicit block always
// wins even when the target is also allow-listed. A nil cap means unbounded,
// not zero; an empty allow-list admits any target that is not blocked.
func EvaluateGuardrails(estimatedCostUSD float64, policy PolicySnapshot, target string) error {
	if policy.PerOrderCapUSD != nil && estimatedCostUSD > *policy.PerOrderCapUSD {
		return NewGatewayError(ErrCodeCapExceeded,
			fmt.Sprintf("estimated cost $%.2f exceeds per-order cap of $%.2f", estimatedCostUSD, *policy.PerOrderCapUSD), nil)
	}

	if policy.GlobalMaxSpendUSD != nil && estimatedCostUSD > *policy.GlobalMaxSpendUSD {
		return NewGatewayError(ErrCodeSpendLimitExceeded,
			fmt.Sprintf("estimated cost $%.2f exceeds global max spend of $%.2f", estimatedCostUSD, *policy.GlobalMaxSpendUSD), nil)
	}

	canonical := CanonicalAddress(target)

	for _, blocked := range policy.BlockedTargets {
		if CanonicalAddress(blocked) == canonical {
			return NewGatewayError(ErrCodeTargetBlocked,
				fmt.Sprintf("target %s is on the block list", target), nil)
		}
	}

	if len(policy.AllowedTargets) > 0 {
		for _, allowed := range policy.AllowedTargets {
			if CanonicalAddress(allowed) == canonical {
				return nil
			}
		}
		return NewGatewayError(ErrCodeTargetNotAllowed,
			fmt.Sprintf("target %s is not on the allow list", target), nil)
	}

	return nil
}
