package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/config"
	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/pkg/logger"
)

// FeeGateResult is what RequireFee returns: either the gate is already
// satisfied (Satisfied=true, BypassedBy points at the covering request) or
// the caller owes the descriptor for the returned pending request.
type FeeGateResult struct {
	Satisfied  bool                   `json:"satisfied"`
	Request    *entities.FeeRequest   `json:"request,omitempty"`
	Descriptor *entities.FeeDescriptor `json:"descriptor,omitempty"`
	BypassedBy *uuid.UUID             `json:"bypassedBy,omitempty"`
}

// FeeUsecase implements the x402 fee gate: issue a 402-style descriptor,
// verify a settlement transfer on-chain, and dedupe repeat charges for the
// same registration payload by fingerprint.
type FeeUsecase struct {
	feeRepo repositories.FeeRequestRepository
	chain   ChainWriter
	cfg     config.FeeConfig
}

func NewFeeUsecase(feeRepo repositories.FeeRequestRepository, chain ChainWriter, cfg config.FeeConfig) *FeeUsecase {
	return &FeeUsecase{feeRepo: feeRepo, chain: chain, cfg: cfg}
}

// RequireFee gates an operation behind a fee. A COMPLETED request with the
// same fingerprint inside the retry window satisfies the gate without a new
// charge; otherwise a PENDING request and its payment descriptor are issued.
func (u *FeeUsecase) RequireFee(ctx context.Context, requestType entities.FeeRequestType, requesterAddress, fingerprint string, protocolID *uuid.UUID) (*FeeGateResult, error) {
	if !common.IsHexAddress(requesterAddress) {
		return nil, fmt.Errorf("%w: requester address %q", domainerrors.ErrInvalidAddress, requesterAddress)
	}

	if fingerprint != "" {
		since := time.Now().Add(-u.cfg.FingerprintRetry)
		prior, err := u.feeRepo.FindCompletedByFingerprintSince(ctx, fingerprint, since)
		if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
			return nil, err
		}
		if prior != nil {
			logger.Info(ctx, "fee gate bypassed by fingerprint",
				zap.String("fingerprint", fingerprint),
				zap.String("priorRequestId", prior.ID.String()))
			id := prior.ID
			return &FeeGateResult{Satisfied: true, BypassedBy: &id}, nil
		}
	}

	amount, err := u.amountFor(requestType)
	if err != nil {
		return nil, err
	}
	req := &entities.FeeRequest{
		ID:               uuid.New(),
		RequestType:      requestType,
		RequesterAddress: requesterAddress,
		Amount:           amount,
		Status:           entities.FeeStatusPending,
		ProtocolID:       protocolID,
		ExpiresAt:        time.Now().Add(u.cfg.RequestTTL),
		CreatedAt:        time.Now(),
	}
	if fingerprint != "" {
		req.Fingerprint = null.StringFrom(fingerprint)
	}
	if err := u.feeRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create fee request: %w", err)
	}

	return &FeeGateResult{
		Request: req,
		Descriptor: &entities.FeeDescriptor{
			Scheme:      "exact",
			Price:       amount,
			Network:     u.cfg.Network,
			PayTo:       u.cfg.PayToAddress,
			Description: descriptionFor(requestType),
		},
	}, nil
}

// CompleteFee settles a pending request against a transfer transaction hash.
// The receipt must carry an ERC-20 Transfer to the platform address for at
// least the requested amount.
func (u *FeeUsecase) CompleteFee(ctx context.Context, requestID uuid.UUID, txHash string) (*entities.FeeRequest, error) {
	req, err := u.feeRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == entities.FeeStatusCompleted {
		return req, nil
	}
	if req.Status != entities.FeeStatusPending || time.Now().After(req.ExpiresAt) {
		return nil, fmt.Errorf("%w: fee request %s", domainerrors.ErrFeeExpired, requestID)
	}

	minAmount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: fee amount %q", domainerrors.ErrInvalidInput, req.Amount)
	}
	verified, err := u.chain.VerifyTokenTransfer(ctx, txHash, u.cfg.PayToAddress, minAmount)
	if err != nil {
		return nil, wrapChainErr(err)
	}
	if !verified {
		return nil, fmt.Errorf("%w: transfer %s does not settle the fee", domainerrors.ErrInvalidInput, txHash)
	}

	if err := u.feeRepo.Complete(ctx, req.ID, txHash); err != nil {
		return nil, err
	}
	return u.feeRepo.GetByID(ctx, req.ID)
}

func (u *FeeUsecase) amountFor(requestType entities.FeeRequestType) (string, error) {
	switch requestType {
	case entities.FeeTypeProtocolRegistration:
		return u.cfg.RegistrationFee, nil
	case entities.FeeTypeFindingSubmission, entities.FeeTypeScanRequest:
		return u.cfg.SubmissionFee, nil
	default:
		return "", fmt.Errorf("%w: fee request type %q", domainerrors.ErrInvalidInput, requestType)
	}
}

func descriptionFor(requestType entities.FeeRequestType) string {
	switch requestType {
	case entities.FeeTypeProtocolRegistration:
		return "protocol registration fee"
	case entities.FeeTypeFindingSubmission:
		return "finding submission fee"
	case entities.FeeTypeScanRequest:
		return "scan request fee"
	default:
		return "platform fee"
	}
}
