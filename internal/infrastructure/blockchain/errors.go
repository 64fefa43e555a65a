package blockchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed contract interaction.
type ErrorKind string

const (
	KindRevert              ErrorKind = "Revert"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindInvalidReceipt      ErrorKind = "InvalidReceipt"
	KindNetwork             ErrorKind = "Network"
	KindTimeout             ErrorKind = "Timeout"
	KindMissingReceipt      ErrorKind = "MissingReceipt"
)

// ChainError is the typed failure every ChainClient method returns.
type ChainError struct {
	Kind    ErrorKind
	Message string
	// Hash is the transaction hash when one was produced before the failure.
	Hash string
}

func (e *ChainError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("chain %s: %s (tx %s)", e.Kind, e.Message, e.Hash)
	}
	return fmt.Sprintf("chain %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure may clear on its own.
func (e *ChainError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// AsChainError unwraps err into a *ChainError when possible.
func AsChainError(err error) (*ChainError, bool) {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func chainErr(kind ErrorKind, hash, format string, args ...interface{}) *ChainError {
	return &ChainError{Kind: kind, Message: fmt.Sprintf(format, args...), Hash: hash}
}

// classifyRPCError maps a raw RPC/transport error onto a ChainError kind.
// Revert detection is string-based because ethclient surfaces execution
// reverts as opaque rpc errors.
func classifyRPCError(err error, hash string) *ChainError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return chainErr(KindTimeout, hash, "%s", msg)
	case strings.Contains(lower, "insufficient funds") || strings.Contains(lower, "insufficient balance"):
		return chainErr(KindInsufficientBalance, hash, "%s", msg)
	case strings.Contains(lower, "execution reverted") || strings.Contains(lower, "revert"):
		return chainErr(KindRevert, hash, "%s", msg)
	default:
		return chainErr(KindNetwork, hash, "%s", msg)
	}
}
