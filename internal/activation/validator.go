package activation

import (
	"context"
	"log/slog"

	"keygate/internal/clock"
	"keygate/internal/identity"
	"keygate/internal/registry"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

// Registry looks up bundled activation codes by any formatting of the code
type Registry interface {
	Lookup(code string) (domain.ActivationCode, bool)
}

// Option configures a Validator or Service
type Option func(*instrumentation)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(in *instrumentation) {
		if l != nil {
			in.logger = l.With(slog.String("component", "activation"))
		}
	}
}

// WithMetrics enables metrics recording
func WithMetrics(m *Metrics) Option {
	return func(in *instrumentation) { in.metrics = m }
}

// Validator answers activate, recordUsage and check
type Validator struct {
	registry Registry
	store    store.Store
	guard    *clock.Guard
	identity identity.Provider
	instrumentation
}

// NewValidator wires the validator to its collaborators
func NewValidator(reg Registry, st store.Store, guard *clock.Guard, id identity.Provider, opts ...Option) *Validator {
	v := &Validator{
		registry:        reg,
		store:           st,
		guard:           guard,
		identity:        id,
		instrumentation: newInstrumentation(nil, nil),
	}
	for _, opt := range opts {
		opt(&v.instrumentation)
	}
	return v
}

// Activate binds candidate to this installation.
//
// An empty code yields Empty and an unknown one Invalid, both without
// touching the store. A live activation of a different code is never
// overwritten; an expired or invalid one is terminal and its failure is
// returned instead.
func (v *Validator) Activate(ctx context.Context, candidate string) (domain.ActivationResult, error) {
	return v.traced(ctx, OpActivate, candidate, func(ctx context.Context) (domain.ActivationResult, error) {
		if registry.Normalize(candidate) == "" {
			return domain.Empty(), nil
		}

		code, ok := v.registry.Lookup(candidate)
		if !ok {
			return domain.Invalid(domain.ReasonNotRecognized), nil
		}

		var result domain.ActivationResult
		err := v.store.Update(ctx, func(tx store.Tx) error {
			rec, err := tx.Get()
			if err != nil {
				return err
			}
			if rec == nil {
				created := domain.ActivationRecord{Code: code.Code}
				if code.RequiresBinding() {
					deviceID, err := v.identity.Current(ctx)
					if err != nil {
						return err
					}
					created.DeviceID = &deviceID
				}
				result = domain.Success()
				return tx.Put(clock.Stamp(created, v.guard.Now()))
			}

			current, obs, err := v.evaluate(ctx, *rec)
			if err != nil {
				return err
			}

			switch {
			case rec.Code == code.Code:
				result = current
			case current.OK():
				result = domain.AlreadyActivated()
			default:
				result = current
			}
			return tx.Put(clock.Advance(*rec, obs))
		})
		if err != nil {
			return domain.ActivationResult{}, err
		}
		return result, nil
	})
}

// RecordUsage consumes one unit of use. The unit is granted only if the
// record is valid before the increment, so a code limited to N uses
// succeeds exactly N times. Codes without a usage limit are re-validated
// and nothing is counted.
func (v *Validator) RecordUsage(ctx context.Context) (domain.ActivationResult, error) {
	return v.traced(ctx, OpRecordUsage, "", func(ctx context.Context) (domain.ActivationResult, error) {
		var (
			result  domain.ActivationResult
			counted bool
		)
		err := v.store.Update(ctx, func(tx store.Tx) error {
			rec, err := tx.Get()
			if err != nil {
				return err
			}
			if rec == nil {
				result = domain.Invalid(domain.ReasonNotActivated)
				return nil
			}

			current, obs, err := v.evaluate(ctx, *rec)
			if err != nil {
				return err
			}
			result = current

			if err := tx.Put(clock.Advance(*rec, obs)); err != nil {
				return err
			}

			code, known := v.registry.Lookup(rec.Code)
			if !current.OK() || !known || !code.HasUsageLimit() {
				return nil
			}
			if _, err := tx.IncrementUsage(); err != nil {
				return err
			}
			counted = true
			return nil
		})
		if err != nil {
			return domain.ActivationResult{}, err
		}
		if counted {
			v.metrics.usageRecorded(ctx)
		}
		return result, nil
	})
}

// Check re-validates the current activation, typically at launch, and
// persists the clock observation so later checks measure from it.
func (v *Validator) Check(ctx context.Context) (domain.ActivationResult, error) {
	return v.traced(ctx, OpCheck, "", func(ctx context.Context) (domain.ActivationResult, error) {
		var result domain.ActivationResult
		err := v.store.Update(ctx, func(tx store.Tx) error {
			rec, err := tx.Get()
			if err != nil {
				return err
			}
			if rec == nil {
				result = domain.Invalid(domain.ReasonNotActivated)
				return nil
			}

			current, obs, err := v.evaluate(ctx, *rec)
			if err != nil {
				return err
			}
			result = current
			return tx.Put(clock.Advance(*rec, obs))
		})
		if err != nil {
			return domain.ActivationResult{}, err
		}
		return result, nil
	})
}

// evaluate runs the clock guard against rec and applies the predicate for
// the record's own code
func (v *Validator) evaluate(ctx context.Context, rec domain.ActivationRecord) (domain.ActivationResult, clock.Observation, error) {
	obs := v.guard.Check(rec)
	if obs.Tampered && !rec.ClockTampered {
		v.metrics.tamperDetected(ctx, obs.Reboot)
		v.logAction(ctx, slog.LevelWarn, "clock_guard", "tamper_detected",
			slog.Bool("reboot", obs.Reboot),
			slog.Time("last_seen_wall", rec.LastSeenWall),
			slog.Time("wall", obs.Now.Wall),
		)
	}

	code, known := v.registry.Lookup(rec.Code)
	if !known {
		return domain.Invalid(domain.ReasonCodeWithdrawn), obs, nil
	}

	var deviceID string
	if code.RequiresBinding() {
		id, err := v.identity.Current(ctx)
		if err != nil {
			return domain.ActivationResult{}, obs, err
		}
		deviceID = id
	}

	return Evaluate(code, rec, obs, deviceID), obs, nil
}
