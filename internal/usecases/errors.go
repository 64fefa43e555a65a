package usecases

import (
	"context"
	"errors"

	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/infrastructure/blockchain"
	"bounty-chain.backend/internal/infrastructure/toolchain"
)

// classifyToolErr decides whether a toolchain failure is worth a retry.
// Clones fail transiently (network, rate limits); a compile failure or a bad
// source is deterministic and permanent.
func classifyToolErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, toolchain.ErrCloneFailed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return domainerrors.NewTransient(err)
	}
	return err
}

// wrapChainErr maps retryable chain failures to transient queue errors.
func wrapChainErr(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := blockchain.AsChainError(err); ok && ce.Retryable() {
		return domainerrors.NewTransient(err)
	}
	return err
}
