package activation

import (
	"context"
	"time"

	"keygate/internal/clock"
	"keygate/internal/identity"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

// Service derives the read-only activation status
type Service struct {
	registry Registry
	store    store.Store
	guard    *clock.Guard
	identity identity.Provider
	instrumentation
}

// NewService creates a status service over the same collaborators as the Validator
func NewService(reg Registry, st store.Store, guard *clock.Guard, id identity.Provider, opts ...Option) *Service {
	s := &Service{
		registry:        reg,
		store:           st,
		guard:           guard,
		identity:        id,
		instrumentation: newInstrumentation(nil, nil),
	}
	for _, opt := range opts {
		opt(&s.instrumentation)
	}
	return s
}

// Status returns the current status, or nil when nothing was activated.
// It never writes to the store.
func (s *Service) Status(ctx context.Context) (*domain.ActivationStatus, error) {
	var status *domain.ActivationStatus

	_, err := s.traced(ctx, OpStatus, "", func(ctx context.Context) (domain.ActivationResult, error) {
		rec, err := s.store.Get(ctx)
		if err != nil {
			return domain.ActivationResult{}, err
		}
		if rec == nil {
			return domain.Invalid(domain.ReasonNotActivated), nil
		}

		var code *domain.ActivationCode
		var deviceID string
		if c, ok := s.registry.Lookup(rec.Code); ok {
			code = &c
			if c.RequiresBinding() {
				if deviceID, err = s.identity.Current(ctx); err != nil {
					return domain.ActivationResult{}, err
				}
			}
		}

		st := BuildStatus(code, *rec, s.guard.Now(), s.guard.Tolerance(), deviceID)
		status = &st
		return st.Result, nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// BuildStatus is the pure status derivation. code is nil when the record's
// code is no longer in the registry.
func BuildStatus(code *domain.ActivationCode, rec domain.ActivationRecord, now clock.Instant, tolerance time.Duration, currentDevice string) domain.ActivationStatus {
	obs := clock.Observe(rec, now, tolerance)

	result := domain.Invalid(domain.ReasonCodeWithdrawn)
	if code != nil {
		result = Evaluate(*code, rec, obs, currentDevice)
	}

	st := domain.ActivationStatus{
		IsActivated:   true,
		IsValid:       result.OK(),
		State:         stateOf(result),
		Result:        result,
		ActivatedTime: rec.ActivatedAtWall,
		UsageCount:    rec.UsageCount,
	}
	if rec.DeviceID != nil {
		id := *rec.DeviceID
		st.DeviceID = &id
	}
	if code == nil {
		return st
	}
	st.CodeType = code.Type

	if code.HasTimeLimit() {
		left := *code.TimeLimit - obs.Elapsed
		expire := now.Wall.Add(left)
		if obs.Tampered {
			left = 0
			if expire.After(now.Wall) {
				expire = now.Wall
			}
		}
		if left < 0 {
			left = 0
		}
		ms := left.Milliseconds()
		st.RemainingTimeMs = &ms
		st.ExpireTime = &expire
	}

	if code.HasUsageLimit() {
		limit := *code.UsageLimit
		left := limit - rec.UsageCount
		if left < 0 {
			left = 0
		}
		st.UsageLimit = &limit
		st.RemainingUsage = &left
	}

	return st
}
