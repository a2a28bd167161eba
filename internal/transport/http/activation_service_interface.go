package http

import (
	"context"

	"keygate/pkg/contracts/domain"
)

// ActivationService is the write side of activation
type ActivationService interface {
	Activate(ctx context.Context, code string) (domain.ActivationResult, error)
	RecordUsage(ctx context.Context) (domain.ActivationResult, error)
	Check(ctx context.Context) (domain.ActivationResult, error)
}

// StatusService is the read side of activation
type StatusService interface {
	Status(ctx context.Context) (*domain.ActivationStatus, error)
}

// StatusNotifier is told when a write may have changed the status
type StatusNotifier interface {
	Notify()
}
