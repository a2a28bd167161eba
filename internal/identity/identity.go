// Package identity supplies a stable pseudo-unique device id.
//
// The id is resolved from a chain of sources: an explicitly configured id,
// the operating system machine id, a hardware fingerprint, and finally a
// random id persisted next to the activation state. The first source that
// yields a value wins and the result is cached for the life of the process.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	apperrors "keygate/internal/errors"
)

// Provider returns the current device id
type Provider interface {
	Current(ctx context.Context) (string, error)
}

// Source is one step of the resolution chain. A source that cannot produce
// an id on this machine returns ErrUnavailable so the chain moves on.
type Source interface {
	Name() string
	Lookup(ctx context.Context) (string, error)
}

// ErrUnavailable signals that a source has nothing to offer here
var ErrUnavailable = errors.New("identity source unavailable")

// Static is a fixed device id, used for configured ids and tests
type Static string

// Current returns the static id
func (s Static) Current(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty static device id", apperrors.ErrIdentity)
	}
	return string(s), nil
}

// Chain resolves the device id from its sources in order
type Chain struct {
	sources []Source
	logger  *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	id    string
}

// NewChain builds a resolver over the given sources
func NewChain(logger *slog.Logger, sources ...Source) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{sources: sources, logger: logger}
}

// Current returns the cached id or resolves it once. Concurrent first calls
// share one resolution.
func (c *Chain) Current(ctx context.Context) (string, error) {
	c.mu.RLock()
	id := c.id
	c.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	v, err, _ := c.group.Do("device-id", func() (interface{}, error) {
		return c.resolve(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Chain) resolve(ctx context.Context) (string, error) {
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id, err := src.Lookup(ctx)
		if errors.Is(err, ErrUnavailable) {
			c.logger.Debug("identity source unavailable", slog.String("source", src.Name()))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", apperrors.ErrIdentity, src.Name(), err)
		}

		c.mu.Lock()
		c.id = id
		c.mu.Unlock()

		c.logger.Info("device identity resolved",
			slog.String("source", src.Name()),
			slog.String("device_id_hash", shortHash(id)),
		)
		return id, nil
	}
	return "", fmt.Errorf("%w: no identity source available", apperrors.ErrIdentity)
}

// Configured is a source backed by an operator supplied id
type Configured string

func (c Configured) Name() string { return "configured" }

func (c Configured) Lookup(context.Context) (string, error) {
	if c == "" {
		return "", ErrUnavailable
	}
	return string(c), nil
}

// derive hashes raw machine material with an application specific label so
// the raw value never leaves the machine.
func derive(label, raw string) string {
	sum := sha256.Sum256([]byte("keygate/" + label + "/" + raw))
	return hex.EncodeToString(sum[:16])
}

func shortHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:4])
}
