package usecases

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/pkg/utils"
)

// ProtocolUsecase is the registration and funding surface for protocols.
type ProtocolUsecase struct {
	protocolRepo repositories.ProtocolRepository
	uow          repositories.UnitOfWork
	chain        ChainWriter
	queue        JobEnqueuer
	bus          EventPublisher
}

func NewProtocolUsecase(
	protocolRepo repositories.ProtocolRepository,
	uow repositories.UnitOfWork,
	chain ChainWriter,
	q JobEnqueuer,
	b EventPublisher,
) *ProtocolUsecase {
	return &ProtocolUsecase{
		protocolRepo: protocolRepo,
		uow:          uow,
		chain:        chain,
		queue:        q,
		bus:          b,
	}
}

// Register persists a PENDING protocol and enqueues the registration
// pipeline. The caller is expected to have passed the fee gate already.
func (u *ProtocolUsecase) Register(ctx context.Context, input *entities.RegisterProtocolInput) (*entities.Protocol, error) {
	if !common.IsHexAddress(input.OwnerAddress) {
		return nil, fmt.Errorf("%w: owner address %q", domainerrors.ErrInvalidAddress, input.OwnerAddress)
	}
	if input.SourceURL == "" || input.ContractPath == "" || input.ContractName == "" {
		return nil, fmt.Errorf("%w: sourceUrl, contractPath and contractName are required", domainerrors.ErrInvalidInput)
	}

	if existing, err := u.protocolRepo.GetBySourceURL(ctx, input.SourceURL); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: source url already registered", domainerrors.ErrAlreadyExists)
	}

	branch := input.Branch
	if branch == "" {
		branch = "main"
	}
	protocol := &entities.Protocol{
		ID:              utils.GenerateUUIDv7(),
		OwnerID:         input.OwnerID,
		OwnerAddress:    input.OwnerAddress,
		SourceURL:       input.SourceURL,
		Branch:          branch,
		ContractPath:    input.ContractPath,
		ContractName:    input.ContractName,
		Status:          entities.ProtocolStatusPending,
		TotalBountyPool: "0",
		AvailableBounty: "0",
		PaidBounty:      "0",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := u.protocolRepo.Create(ctx, protocol); err != nil {
		return nil, fmt.Errorf("create protocol: %w", err)
	}

	if _, err := u.queue.Enqueue(ctx, queue.QueueProtocolRegistration,
		queue.ProtocolJobID(protocol.ID),
		queue.ProtocolJobPayload{ProtocolID: protocol.ID},
		queue.EnqueueOptions{}); err != nil {
		return nil, fmt.Errorf("enqueue registration: %w", err)
	}
	return protocol, nil
}

// DepositBounty funds a protocol's pool on-chain and mirrors the amount into
// the off-chain ledger. Amount is in smallest units.
func (u *ProtocolUsecase) DepositBounty(ctx context.Context, protocolID uuid.UUID, amount string) (string, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount %q", domainerrors.ErrInvalidInput, amount)
	}

	protocol, err := u.protocolRepo.GetByID(ctx, protocolID)
	if err != nil {
		return "", err
	}
	if !protocol.OnChainID.Valid {
		return "", fmt.Errorf("%w: protocol not registered on-chain yet", domainerrors.ErrInvalidInput)
	}

	txHash, err := u.chain.DepositBounty(ctx, protocol.OnChainID.Int64, value)
	if err != nil {
		return "", err
	}
	if err := u.protocolRepo.DepositToPool(ctx, protocolID, amount); err != nil {
		return "", fmt.Errorf("mirror deposit: %w", err)
	}

	_ = u.bus.Publish(ctx, bus.ProtocolRegistrationTopic(protocolID.String()), bus.Envelope{
		EventType:  "bounty:deposited",
		ProtocolID: protocolID.String(),
		Data:       mustJSON(map[string]string{"amount": amount, "txHash": txHash}),
	})
	return txHash, nil
}

func (u *ProtocolUsecase) Get(ctx context.Context, id uuid.UUID) (*entities.Protocol, error) {
	return u.protocolRepo.GetByID(ctx, id)
}

func (u *ProtocolUsecase) List(ctx context.Context, status entities.ProtocolStatus, page, limit int) ([]*entities.Protocol, int, error) {
	p := utils.GetPaginationParams(page, limit)
	return u.protocolRepo.List(ctx, status, p.Limit, p.CalculateOffset())
}
