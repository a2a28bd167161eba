package app

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"keygate/internal/activation"
	"keygate/internal/clock"
	"keygate/internal/config"
	"keygate/internal/identity"
	"keygate/internal/registry"
	"keygate/internal/security"
	"keygate/internal/store"
)

// DefaultBundle is the registry compiled into the binary
//
//go:embed codes.yaml
var DefaultBundle []byte

// Stack is the activation core wired against the configured persistence
type Stack struct {
	Registry  *registry.Registry
	Store     store.Store
	Guard     *clock.Guard
	Identity  identity.Provider
	Validator *activation.Validator
	Status    *activation.Service
}

type stackOptions struct {
	source   clock.Source
	identity identity.Provider
	metrics  *activation.Metrics
	bundle   []byte
}

// StackOption overrides one collaborator of the stack
type StackOption func(*stackOptions)

// WithClockSource replaces the system clock
func WithClockSource(src clock.Source) StackOption {
	return func(o *stackOptions) { o.source = src }
}

// WithIdentity replaces the device identity chain
func WithIdentity(p identity.Provider) StackOption {
	return func(o *stackOptions) { o.identity = p }
}

// WithActivationMetrics records activation outcomes on m
func WithActivationMetrics(m *activation.Metrics) StackOption {
	return func(o *stackOptions) { o.metrics = m }
}

// WithBundle replaces the embedded registry bundle. RegistryPath in the
// config still takes precedence.
func WithBundle(data []byte) StackOption {
	return func(o *stackOptions) { o.bundle = data }
}

// LoadRegistry reads the bundle at path, or parses the fallback when path is empty
func LoadRegistry(path string, fallback []byte) (*registry.Registry, error) {
	if path != "" {
		return registry.LoadFile(path)
	}
	if len(fallback) == 0 {
		return nil, errors.New("no registry bundle configured")
	}
	return registry.LoadYAML(fallback)
}

// NewStack opens the store in cfg.StateDir and builds the validator and
// status service over it. The caller owns Close.
func NewStack(cfg config.ActivationConfig, logger *slog.Logger, opts ...StackOption) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := stackOptions{bundle: DefaultBundle}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := LoadRegistry(cfg.RegistryPath, o.bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	signer, err := security.NewSigner([]byte(cfg.SigningSecret), security.RecordContext)
	if err != nil {
		return nil, err
	}

	var sealer store.Sealer
	if cfg.EncryptionPassphrase != "" {
		if sealer, err = security.NewPassphraseSealer(cfg.EncryptionPassphrase, security.DefaultSealerConfig()); err != nil {
			return nil, err
		}
	}

	st, err := store.Open(cfg.Store, cfg.StateDir, signer, sealer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	if o.source == nil {
		o.source = clock.NewSystemSource()
	}
	if o.identity == nil {
		o.identity = identity.NewChain(logger, identity.Default(cfg.DeviceID, cfg.StateDir)...)
	}

	guard := clock.NewGuard(o.source, cfg.ClockTolerance)
	actOpts := []activation.Option{activation.WithLogger(logger), activation.WithMetrics(o.metrics)}

	logger.Info("Activation stack ready",
		slog.String("store", cfg.Store),
		slog.String("state_dir", cfg.StateDir),
		slog.Int("codes", reg.Len()),
		slog.Bool("sealed", sealer != nil),
		slog.Duration("clock_tolerance", guard.Tolerance()))

	return &Stack{
		Registry:  reg,
		Store:     st,
		Guard:     guard,
		Identity:  o.identity,
		Validator: activation.NewValidator(reg, st, guard, o.identity, actOpts...),
		Status:    activation.NewService(reg, st, guard, o.identity, actOpts...),
	}, nil
}

// Close releases the store
func (s *Stack) Close() error {
	return s.Store.Close()
}
