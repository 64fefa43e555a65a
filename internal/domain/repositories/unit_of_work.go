package repositories

import (
	"context"
)

// UnitOfWork defines the interface for atomic operations. Every write path
// touching more than one row runs inside Do.
type UnitOfWork interface {
	// Do executes the given function within a transaction scope
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
