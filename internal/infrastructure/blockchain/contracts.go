package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
)

// Severity tags as the contracts encode them.
func severityTag(s entities.Severity) (uint8, error) {
	switch s {
	case entities.SeverityCritical:
		return 4, nil
	case entities.SeverityHigh:
		return 3, nil
	case entities.SeverityMedium:
		return 2, nil
	case entities.SeverityLow:
		return 1, nil
	case entities.SeverityInfo:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: severity %q", domainerrors.ErrInvalidInput, s)
	}
}

func agentTypeTag(t entities.AgentType) (uint8, error) {
	switch t {
	case entities.AgentTypeResearcher:
		return 0, nil
	case entities.AgentTypeValidator:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: agent type %q", domainerrors.ErrInvalidInput, t)
	}
}

func feedbackTag(f entities.FeedbackType) (uint8, error) {
	switch f {
	case entities.FeedbackRejected:
		return 0, nil
	case entities.FeedbackConfirmedInformational:
		return 1, nil
	case entities.FeedbackConfirmedLow:
		return 2, nil
	case entities.FeedbackConfirmedMedium:
		return 3, nil
	case entities.FeedbackConfirmedHigh:
		return 4, nil
	case entities.FeedbackConfirmedCritical:
		return 5, nil
	default:
		return 0, fmt.Errorf("%w: feedback type %q", domainerrors.ErrInvalidInput, f)
	}
}

func parseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: %q", domainerrors.ErrInvalidAddress, addr)
	}
	return common.HexToAddress(addr), nil
}

// OnChainProtocol is the registry view of a protocol.
type OnChainProtocol struct {
	Owner     string
	GithubURL string
	Active    bool
}

// OnChainBounty is the pool view of a released bounty.
type OnChainBounty struct {
	ValidationID int64
	Researcher   string
	Amount       *big.Int
	Released     bool
}

// OnChainAgent is the identity contract's view of an agent wallet.
type OnChainAgent struct {
	TokenID   int64
	AgentType entities.AgentType
	Active    bool
}

// BountyRelease is the typed result of ReleaseBounty.
type BountyRelease struct {
	BountyID int64
	Amount   *big.Int
	TxHash   string
}

// RecordValidationInput carries everything recordValidation anchors on-chain.
type RecordValidationInput struct {
	ProtocolOnChainID int64
	Outcome           bool
	Severity          entities.Severity
	FindingID         [32]byte
	LogDigest         [32]byte
	ProofHash         [32]byte
}

// RegisterProtocol registers a source URL with the on-chain registry and
// returns the assigned protocol id.
func (c *ChainClient) RegisterProtocol(ctx context.Context, githubURL, ownerAddress string) (int64, string, error) {
	owner, err := parseAddress(ownerAddress)
	if err != nil {
		return 0, "", err
	}
	data, err := protocolRegistryABI.Pack("registerProtocol", githubURL, owner)
	if err != nil {
		return 0, "", fmt.Errorf("pack registerProtocol: %w", err)
	}
	receipt, err := c.transact(ctx, RoleRegistrar, c.addrs.ProtocolRegistry, data)
	if err != nil {
		return 0, "", err
	}
	if err := checkReceipt(receipt); err != nil {
		return 0, "", err
	}
	ev, err := findEvent(receipt, c.addrs.ProtocolRegistry, protocolRegistryABI, "ProtocolRegistered")
	if err != nil {
		return 0, "", err
	}
	// protocolId is the first indexed topic
	protocolID := new(big.Int).SetBytes(ev.Topics[1].Bytes())
	return protocolID.Int64(), receipt.TxHash.Hex(), nil
}

// GetProtocol reads the registry entry for an on-chain protocol id.
func (c *ChainClient) GetProtocol(ctx context.Context, onChainID int64) (*OnChainProtocol, error) {
	data, err := protocolRegistryABI.Pack("getProtocol", big.NewInt(onChainID))
	if err != nil {
		return nil, fmt.Errorf("pack getProtocol: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.ProtocolRegistry, data)
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	vals, err := protocolRegistryABI.Unpack("getProtocol", out)
	if err != nil || len(vals) != 3 {
		return nil, chainErr(KindInvalidReceipt, "", "decode getProtocol result: %v", err)
	}
	return &OnChainProtocol{
		Owner:     vals[0].(common.Address).Hex(),
		GithubURL: vals[1].(string),
		Active:    vals[2].(bool),
	}, nil
}

// IsGithubURLRegistered reports whether the registry already knows the URL.
func (c *ChainClient) IsGithubURLRegistered(ctx context.Context, githubURL string) (bool, error) {
	data, err := protocolRegistryABI.Pack("isGithubUrlRegistered", githubURL)
	if err != nil {
		return false, fmt.Errorf("pack isGithubUrlRegistered: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.ProtocolRegistry, data)
	if err != nil {
		return false, c.wrapTransportErr(err, "")
	}
	vals, err := protocolRegistryABI.Unpack("isGithubUrlRegistered", out)
	if err != nil || len(vals) != 1 {
		return false, chainErr(KindInvalidReceipt, "", "decode isGithubUrlRegistered result: %v", err)
	}
	return vals[0].(bool), nil
}

// GetProtocolIDByGithubURL resolves the registry id for an already-registered URL.
func (c *ChainClient) GetProtocolIDByGithubURL(ctx context.Context, githubURL string) (int64, error) {
	data, err := protocolRegistryABI.Pack("getProtocolIdByGithubUrl", githubURL)
	if err != nil {
		return 0, fmt.Errorf("pack getProtocolIdByGithubUrl: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.ProtocolRegistry, data)
	if err != nil {
		return 0, c.wrapTransportErr(err, "")
	}
	vals, err := protocolRegistryABI.Unpack("getProtocolIdByGithubUrl", out)
	if err != nil || len(vals) != 1 {
		return 0, chainErr(KindInvalidReceipt, "", "decode getProtocolIdByGithubUrl result: %v", err)
	}
	return vals[0].(*big.Int).Int64(), nil
}

// DepositBounty funds a protocol's pool.
func (c *ChainClient) DepositBounty(ctx context.Context, protocolOnChainID int64, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: deposit amount must be positive", domainerrors.ErrInvalidInput)
	}
	data, err := bountyPoolABI.Pack("depositBounty", big.NewInt(protocolOnChainID), amount)
	if err != nil {
		return "", fmt.Errorf("pack depositBounty: %w", err)
	}
	receipt, err := c.transact(ctx, RolePayer, c.addrs.BountyPool, data)
	if err != nil {
		return "", err
	}
	if err := checkReceipt(receipt); err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// ReleaseBounty settles a confirmed finding. The severity-to-amount mapping
// lives in the contract; the caller only passes the severity tag.
func (c *ChainClient) ReleaseBounty(ctx context.Context, protocolOnChainID, validationID int64, researcherAddress string, severity entities.Severity) (*BountyRelease, error) {
	researcher, err := parseAddress(researcherAddress)
	if err != nil {
		return nil, err
	}
	tag, err := severityTag(severity)
	if err != nil {
		return nil, err
	}
	data, err := bountyPoolABI.Pack("releaseBounty", big.NewInt(protocolOnChainID), big.NewInt(validationID), researcher, tag)
	if err != nil {
		return nil, fmt.Errorf("pack releaseBounty: %w", err)
	}
	receipt, err := c.transact(ctx, RolePayer, c.addrs.BountyPool, data)
	if err != nil {
		return nil, err
	}
	if err := checkReceipt(receipt); err != nil {
		return nil, err
	}
	ev, err := findEvent(receipt, c.addrs.BountyPool, bountyPoolABI, "BountyReleased")
	if err != nil {
		return nil, err
	}
	vals, err := bountyPoolABI.Unpack("BountyReleased", ev.Data)
	if err != nil || len(vals) != 1 {
		return nil, chainErr(KindInvalidReceipt, receipt.TxHash.Hex(), "decode BountyReleased data: %v", err)
	}
	return &BountyRelease{
		BountyID: new(big.Int).SetBytes(ev.Topics[1].Bytes()).Int64(),
		Amount:   vals[0].(*big.Int),
		TxHash:   receipt.TxHash.Hex(),
	}, nil
}

// CalculateBountyAmount asks the pool what a severity pays for this protocol.
func (c *ChainClient) CalculateBountyAmount(ctx context.Context, protocolOnChainID int64, severity entities.Severity) (*big.Int, error) {
	tag, err := severityTag(severity)
	if err != nil {
		return nil, err
	}
	data, err := bountyPoolABI.Pack("calculateBountyAmount", big.NewInt(protocolOnChainID), tag)
	if err != nil {
		return nil, fmt.Errorf("pack calculateBountyAmount: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.BountyPool, data)
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	vals, err := bountyPoolABI.Unpack("calculateBountyAmount", out)
	if err != nil || len(vals) != 1 {
		return nil, chainErr(KindInvalidReceipt, "", "decode calculateBountyAmount result: %v", err)
	}
	return vals[0].(*big.Int), nil
}

// GetProtocolBalance reads the on-chain pool balance.
func (c *ChainClient) GetProtocolBalance(ctx context.Context, protocolOnChainID int64) (*big.Int, error) {
	data, err := bountyPoolABI.Pack("getProtocolBalance", big.NewInt(protocolOnChainID))
	if err != nil {
		return nil, fmt.Errorf("pack getProtocolBalance: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.BountyPool, data)
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	vals, err := bountyPoolABI.Unpack("getProtocolBalance", out)
	if err != nil || len(vals) != 1 {
		return nil, chainErr(KindInvalidReceipt, "", "decode getProtocolBalance result: %v", err)
	}
	return vals[0].(*big.Int), nil
}

// GetBounty reads a released bounty by id.
func (c *ChainClient) GetBounty(ctx context.Context, bountyID int64) (*OnChainBounty, error) {
	data, err := bountyPoolABI.Pack("getBounty", big.NewInt(bountyID))
	if err != nil {
		return nil, fmt.Errorf("pack getBounty: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.BountyPool, data)
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	vals, err := bountyPoolABI.Unpack("getBounty", out)
	if err != nil || len(vals) != 4 {
		return nil, chainErr(KindInvalidReceipt, "", "decode getBounty result: %v", err)
	}
	return &OnChainBounty{
		ValidationID: vals[0].(*big.Int).Int64(),
		Researcher:   vals[1].(common.Address).Hex(),
		Amount:       vals[2].(*big.Int),
		Released:     vals[3].(bool),
	}, nil
}

// RecordValidation anchors a validation outcome on-chain and returns the
// registry validation id.
func (c *ChainClient) RecordValidation(ctx context.Context, in RecordValidationInput) (int64, string, error) {
	tag, err := severityTag(in.Severity)
	if err != nil {
		return 0, "", err
	}
	data, err := validationRegistryABI.Pack("recordValidation",
		big.NewInt(in.ProtocolOnChainID), in.Outcome, tag, in.FindingID, in.LogDigest, in.ProofHash)
	if err != nil {
		return 0, "", fmt.Errorf("pack recordValidation: %w", err)
	}
	receipt, err := c.transact(ctx, RoleValidator, c.addrs.ValidationRegistry, data)
	if err != nil {
		return 0, "", err
	}
	if err := checkReceipt(receipt); err != nil {
		return 0, "", err
	}
	ev, err := findEvent(receipt, c.addrs.ValidationRegistry, validationRegistryABI, "ValidationRecorded")
	if err != nil {
		return 0, "", err
	}
	return new(big.Int).SetBytes(ev.Topics[1].Bytes()).Int64(), receipt.TxHash.Hex(), nil
}

// RegisterAgent mints an identity token for an agent wallet.
func (c *ChainClient) RegisterAgent(ctx context.Context, walletAddress string, agentType entities.AgentType) (int64, string, error) {
	wallet, err := parseAddress(walletAddress)
	if err != nil {
		return 0, "", err
	}
	tag, err := agentTypeTag(agentType)
	if err != nil {
		return 0, "", err
	}
	data, err := agentIdentityABI.Pack("registerAgent", wallet, tag)
	if err != nil {
		return 0, "", fmt.Errorf("pack registerAgent: %w", err)
	}
	receipt, err := c.transact(ctx, RoleRegistrar, c.addrs.AgentIdentity, data)
	if err != nil {
		return 0, "", err
	}
	if err := checkReceipt(receipt); err != nil {
		return 0, "", err
	}
	ev, err := findEvent(receipt, c.addrs.AgentIdentity, agentIdentityABI, "AgentRegistered")
	if err != nil {
		return 0, "", err
	}
	return new(big.Int).SetBytes(ev.Topics[1].Bytes()).Int64(), receipt.TxHash.Hex(), nil
}

// GetAgentByWallet reads an agent's identity token by wallet address.
func (c *ChainClient) GetAgentByWallet(ctx context.Context, walletAddress string) (*OnChainAgent, error) {
	wallet, err := parseAddress(walletAddress)
	if err != nil {
		return nil, err
	}
	data, err := agentIdentityABI.Pack("getAgentByWallet", wallet)
	if err != nil {
		return nil, fmt.Errorf("pack getAgentByWallet: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.AgentIdentity, data)
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	vals, err := agentIdentityABI.Unpack("getAgentByWallet", out)
	if err != nil || len(vals) != 3 {
		return nil, chainErr(KindInvalidReceipt, "", "decode getAgentByWallet result: %v", err)
	}
	agentType := entities.AgentTypeResearcher
	if vals[1].(uint8) == 1 {
		agentType = entities.AgentTypeValidator
	}
	return &OnChainAgent{
		TokenID:   vals[0].(*big.Int).Int64(),
		AgentType: agentType,
		Active:    vals[2].(bool),
	}, nil
}

// RecordFeedback anchors a reputation judgement against a researcher wallet.
func (c *ChainClient) RecordFeedback(ctx context.Context, researcherWallet string, feedback entities.FeedbackType) (int64, error) {
	wallet, err := parseAddress(researcherWallet)
	if err != nil {
		return 0, err
	}
	tag, err := feedbackTag(feedback)
	if err != nil {
		return 0, err
	}
	data, err := agentIdentityABI.Pack("recordFeedback", wallet, tag)
	if err != nil {
		return 0, fmt.Errorf("pack recordFeedback: %w", err)
	}
	receipt, err := c.transact(ctx, RoleValidator, c.addrs.AgentIdentity, data)
	if err != nil {
		return 0, err
	}
	if err := checkReceipt(receipt); err != nil {
		return 0, err
	}
	ev, err := findEvent(receipt, c.addrs.AgentIdentity, agentIdentityABI, "FeedbackRecorded")
	if err != nil {
		return 0, err
	}
	return new(big.Int).SetBytes(ev.Topics[1].Bytes()).Int64(), nil
}

// DepositEscrowFor credits an agent's on-chain escrow.
func (c *ChainClient) DepositEscrowFor(ctx context.Context, agentWallet string, amount *big.Int) (string, error) {
	wallet, err := parseAddress(agentWallet)
	if err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: escrow deposit must be positive", domainerrors.ErrInvalidInput)
	}
	data, err := escrowABI.Pack("depositEscrowFor", wallet, amount)
	if err != nil {
		return "", fmt.Errorf("pack depositEscrowFor: %w", err)
	}
	receipt, err := c.transact(ctx, RolePayer, c.addrs.Escrow, data)
	if err != nil {
		return "", err
	}
	if err := checkReceipt(receipt); err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// DeductSubmissionFee debits the submission fee from an agent's escrow.
func (c *ChainClient) DeductSubmissionFee(ctx context.Context, agentWallet string, amount *big.Int) (string, error) {
	wallet, err := parseAddress(agentWallet)
	if err != nil {
		return "", err
	}
	data, err := escrowABI.Pack("deductSubmissionFee", wallet, amount)
	if err != nil {
		return "", fmt.Errorf("pack deductSubmissionFee: %w", err)
	}
	receipt, err := c.transact(ctx, RolePayer, c.addrs.Escrow, data)
	if err != nil {
		return "", err
	}
	if err := checkReceipt(receipt); err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// GetEscrowBalance reads an agent's on-chain escrow balance.
func (c *ChainClient) GetEscrowBalance(ctx context.Context, agentWallet string) (*big.Int, error) {
	wallet, err := parseAddress(agentWallet)
	if err != nil {
		return nil, err
	}
	data, err := escrowABI.Pack("getEscrowBalance", wallet)
	if err != nil {
		return nil, fmt.Errorf("pack getEscrowBalance: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.Escrow, data)
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	vals, err := escrowABI.Unpack("getEscrowBalance", out)
	if err != nil || len(vals) != 1 {
		return nil, chainErr(KindInvalidReceipt, "", "decode getEscrowBalance result: %v", err)
	}
	return vals[0].(*big.Int), nil
}

// CanSubmitFinding reports whether the escrow balance covers a submission.
func (c *ChainClient) CanSubmitFinding(ctx context.Context, agentWallet string) (bool, error) {
	wallet, err := parseAddress(agentWallet)
	if err != nil {
		return false, err
	}
	data, err := escrowABI.Pack("canSubmitFinding", wallet)
	if err != nil {
		return false, fmt.Errorf("pack canSubmitFinding: %w", err)
	}
	out, err := c.callView(ctx, c.addrs.Escrow, data)
	if err != nil {
		return false, c.wrapTransportErr(err, "")
	}
	vals, err := escrowABI.Unpack("canSubmitFinding", out)
	if err != nil || len(vals) != 1 {
		return false, chainErr(KindInvalidReceipt, "", "decode canSubmitFinding result: %v", err)
	}
	return vals[0].(bool), nil
}
