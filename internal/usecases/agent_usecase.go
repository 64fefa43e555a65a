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
	"bounty-chain.backend/pkg/cryptoutil"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/redis"
	"bounty-chain.backend/pkg/utils"
)

// AgentUsecase covers agent identity, wallet sign-in, escrow accounting and
// reputation reads.
type AgentUsecase struct {
	agentRepo  repositories.AgentRepository
	escrowRepo repositories.EscrowRepository
	chain      ChainWriter
	nonces     *cryptoutil.NonceCache
	verifyOpts cryptoutil.VerifyOptions
	feeCfg     config.FeeConfig
}

func NewAgentUsecase(
	agentRepo repositories.AgentRepository,
	escrowRepo repositories.EscrowRepository,
	chain ChainWriter,
	security config.SecurityConfig,
	feeCfg config.FeeConfig,
) *AgentUsecase {
	maxAge := security.SignInMaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &AgentUsecase{
		agentRepo:  agentRepo,
		escrowRepo: escrowRepo,
		chain:      chain,
		nonces:     cryptoutil.NewNonceCache(maxAge),
		verifyOpts: cryptoutil.VerifyOptions{
			AllowedDomains:  security.AllowedDomains,
			AllowedChainIDs: security.AllowedChainIDs,
			MaxAge:          maxAge,
		},
		feeCfg: feeCfg,
	}
}

// Register mints the agent identity on-chain and persists it. Re-registering
// an existing wallet returns the stored identity.
func (u *AgentUsecase) Register(ctx context.Context, walletAddress string, agentType entities.AgentType) (*entities.AgentIdentity, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, fmt.Errorf("%w: wallet %q", domainerrors.ErrInvalidAddress, walletAddress)
	}
	if agentType != entities.AgentTypeResearcher && agentType != entities.AgentTypeValidator {
		return nil, fmt.Errorf("%w: agent type %q", domainerrors.ErrInvalidInput, agentType)
	}

	existing, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	agent := &entities.AgentIdentity{
		ID:            uuid.New(),
		WalletAddress: walletAddress,
		AgentType:     agentType,
		Active:        true,
		RegisteredAt:  time.Now(),
	}
	tokenID, txHash, err := u.chain.RegisterAgent(ctx, walletAddress, agentType)
	if err != nil {
		return nil, wrapChainErr(err)
	}
	agent.OnChainTokenID = null.Int64From(tokenID)
	logger.Info(ctx, "agent registered on-chain",
		zap.String("wallet", walletAddress), zap.Int64("tokenId", tokenID), zap.String("txHash", txHash))

	if err := u.agentRepo.CreateIdentity(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent identity: %w", err)
	}
	return agent, nil
}

// SignIn verifies an EIP-191 signed sign-in message for a registered wallet.
// Nonces are single-use within the sign-in window.
func (u *AgentUsecase) SignIn(ctx context.Context, message, signature, walletAddress string) (*entities.AgentIdentity, error) {
	nonce, err := cryptoutil.VerifySignedMessage(message, signature, walletAddress, u.verifyOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrInvalidInput, err)
	}
	if err := u.nonces.CheckAndStore(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrInvalidInput, err)
	}
	agent, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, fmt.Errorf("%w: agent %s is deactivated", domainerrors.ErrInvalidInput, agent.ID)
	}
	return agent, nil
}

func (u *AgentUsecase) Get(ctx context.Context, id uuid.UUID) (*entities.AgentIdentity, error) {
	return u.agentRepo.GetByID(ctx, id)
}

// EscrowBalance returns the agent's ledger; a wallet with no escrow yet gets
// a zeroed account. Reads are cache-aside, dropped by every escrow write.
func (u *AgentUsecase) EscrowBalance(ctx context.Context, walletAddress string) (*entities.Escrow, error) {
	agent, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	key := "cache:escrow:" + agent.ID.String()
	var cached entities.Escrow
	if err := redis.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}
	escrow, err := u.escrowRepo.GetByAgent(ctx, agent.ID)
	if errors.Is(err, domainerrors.ErrNotFound) {
		escrow = &entities.Escrow{AgentIdentityID: agent.ID, Balance: "0", TotalDeposited: "0", TotalDeducted: "0"}
	} else if err != nil {
		return nil, err
	}
	_ = redis.SetJSON(ctx, key, escrow, aggregateCacheTTL)
	return escrow, nil
}

// DepositFor credits escrow for a wallet. With a txHash the transfer is
// verified against the receipt; without one the platform funds the deposit
// on-chain itself.
func (u *AgentUsecase) DepositFor(ctx context.Context, walletAddress, amount, txHash string) (*entities.Escrow, error) {
	agent, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount %q", domainerrors.ErrInvalidInput, amount)
	}

	if txHash != "" {
		verified, err := u.chain.VerifyTokenTransfer(ctx, txHash, u.feeCfg.PayToAddress, value)
		if err != nil {
			return nil, wrapChainErr(err)
		}
		if !verified {
			return nil, fmt.Errorf("%w: transfer %s does not cover the deposit", domainerrors.ErrInvalidInput, txHash)
		}
	} else {
		txHash, err = u.chain.DepositEscrowFor(ctx, walletAddress, value)
		if err != nil {
			return nil, wrapChainErr(err)
		}
	}

	if err := u.escrowRepo.Deposit(ctx, agent.ID, amount, txHash); err != nil {
		return nil, err
	}
	_ = redis.InvalidateByPattern(ctx, "cache:escrow:"+agent.ID.String())
	return u.escrowRepo.GetByAgent(ctx, agent.ID)
}

// DeductSubmissionFee debits one finding-submission fee from the agent's
// escrow. ErrInsufficientPool surfaces unchanged for the caller to map.
func (u *AgentUsecase) DeductSubmissionFee(ctx context.Context, walletAddress string) error {
	agent, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil {
		return err
	}
	if err := u.escrowRepo.Deduct(ctx, agent.ID, u.feeCfg.SubmissionFee); err != nil {
		return err
	}
	_ = redis.InvalidateByPattern(ctx, "cache:escrow:"+agent.ID.String())
	return nil
}

func (u *AgentUsecase) EscrowTransactions(ctx context.Context, walletAddress string, page, limit int) ([]*entities.EscrowTransaction, int, error) {
	agent, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil {
		return nil, 0, err
	}
	p := utils.GetPaginationParams(page, limit)
	return u.escrowRepo.ListTransactions(ctx, agent.ID, p.Limit, p.CalculateOffset())
}

func (u *AgentUsecase) Reputation(ctx context.Context, agentID uuid.UUID) (*entities.AgentReputation, error) {
	key := "cache:reputation:" + agentID.String()
	var cached entities.AgentReputation
	if err := redis.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}
	rep, err := u.agentRepo.GetReputation(ctx, agentID)
	if errors.Is(err, domainerrors.ErrNotFound) {
		rep = &entities.AgentReputation{AgentIdentityID: agentID}
	} else if err != nil {
		return nil, err
	}
	_ = redis.SetJSON(ctx, key, rep, aggregateCacheTTL)
	return rep, nil
}

func (u *AgentUsecase) FeedbackHistory(ctx context.Context, walletAddress string, page, limit int) ([]*entities.AgentFeedback, int, error) {
	agent, err := u.agentRepo.GetByWallet(ctx, walletAddress)
	if err != nil {
		return nil, 0, err
	}
	p := utils.GetPaginationParams(page, limit)
	return u.agentRepo.ListFeedbackByResearcher(ctx, agent.ID, p.Limit, p.CalculateOffset())
}
