package activation

import (
	"keygate/internal/clock"
	"keygate/pkg/contracts/domain"
)

// Evaluate is the policy predicate. Device binding is checked first, then the
// time condition (a tampered clock counts as expired), then usage.
func Evaluate(code domain.ActivationCode, rec domain.ActivationRecord, obs clock.Observation, currentDevice string) domain.ActivationResult {
	if code.RequiresBinding() {
		if rec.DeviceID == nil || *rec.DeviceID != currentDevice {
			return domain.DeviceMismatch()
		}
	}

	if code.HasTimeLimit() {
		if obs.Tampered || obs.Elapsed >= *code.TimeLimit {
			return domain.Expired()
		}
	}

	if code.HasUsageLimit() && rec.UsageCount >= *code.UsageLimit {
		return domain.UsageExceeded()
	}

	return domain.Success()
}

// stateOf maps a predicate outcome onto the lifecycle state
func stateOf(result domain.ActivationResult) domain.ActivationState {
	switch result.Kind {
	case domain.ResultSuccess:
		return domain.StateActive
	case domain.ResultDeviceMismatch, domain.ResultInvalid:
		return domain.StateInvalid
	default:
		return domain.StateExpired
	}
}
