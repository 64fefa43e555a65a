package usecases

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/internal/infrastructure/blockchain"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/internal/infrastructure/sandbox"
	"bounty-chain.backend/internal/infrastructure/toolchain"
)

// Narrow views over the infrastructure clients. Pipelines depend on these so
// tests can substitute mocks without sockets or subprocesses.

// ChainWriter covers the transacting surface of the chain client.
type ChainWriter interface {
	RegisterProtocol(ctx context.Context, githubURL, ownerAddress string) (int64, string, error)
	IsGithubURLRegistered(ctx context.Context, githubURL string) (bool, error)
	GetProtocolIDByGithubURL(ctx context.Context, githubURL string) (int64, error)
	DepositBounty(ctx context.Context, protocolOnChainID int64, amount *big.Int) (string, error)
	ReleaseBounty(ctx context.Context, protocolOnChainID, validationID int64, researcherAddress string, severity entities.Severity) (*blockchain.BountyRelease, error)
	CalculateBountyAmount(ctx context.Context, protocolOnChainID int64, severity entities.Severity) (*big.Int, error)
	GetBounty(ctx context.Context, bountyID int64) (*blockchain.OnChainBounty, error)
	RecordValidation(ctx context.Context, in blockchain.RecordValidationInput) (int64, string, error)
	RegisterAgent(ctx context.Context, walletAddress string, agentType entities.AgentType) (int64, string, error)
	RecordFeedback(ctx context.Context, researcherWallet string, feedback entities.FeedbackType) (int64, error)
	DepositEscrowFor(ctx context.Context, agentWallet string, amount *big.Int) (string, error)
	VerifyTokenTransfer(ctx context.Context, txHash, expectedTo string, minAmount *big.Int) (bool, error)
}

// ChainReader covers the reconciler's event surface.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterBountyReleased(ctx context.Context, fromBlock, toBlock uint64) ([]entities.BountyReleasedEvent, error)
}

// SandboxManager spawns isolated EVM nodes.
type SandboxManager interface {
	Spawn(ctx context.Context) (SandboxHandle, error)
}

// SandboxHandle is one running node.
type SandboxHandle interface {
	Deploy(ctx context.Context, bytecodeHex string) (common.Address, string, error)
	ExecuteExploit(ctx context.Context, target common.Address, payload *entities.ExploitPayload) (*sandbox.ExploitResult, error)
	Kill()
}

// SourceToolchain covers the subprocess tooling.
type SourceToolchain interface {
	Clone(ctx context.Context, jobID, sourceURL, ref string) (string, error)
	InitSubmodules(ctx context.Context, dir string)
	Cleanup(dir string)
	Compile(ctx context.Context, dir, contractPath, contractName string) (*toolchain.CompileResult, error)
	ContractFileExists(dir, contractPath string) bool
	RunStaticAnalyzer(ctx context.Context, dir, contractPath string) ([]toolchain.AnalyzerFinding, error)
}

// JobEnqueuer is the producer side of the queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queueName, jobID string, payload interface{}, opts queue.EnqueueOptions) (bool, error)
}

// EventPublisher is the producer side of the bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env bus.Envelope) error
}

// ProofCipher encrypts and decrypts proof payloads.
type ProofCipher interface {
	Encrypt(keyID string, plaintext []byte) (string, error)
	Decrypt(keyID, payload string) ([]byte, error)
}

// AIAnalyzer is the optional model-backed analysis pass.
type AIAnalyzer interface {
	Analyze(ctx context.Context, contractSource, contractName string) ([]AIFinding, error)
}

// AIFinding is one model-produced candidate vulnerability.
type AIFinding struct {
	VulnerabilityType string  `json:"vulnerabilityType"`
	Severity          string  `json:"severity"`
	FilePath          string  `json:"filePath"`
	LineNumber        int     `json:"lineNumber"`
	Description       string  `json:"description"`
	Confidence        float64 `json:"confidence"`
	Remediation       string  `json:"remediation,omitempty"`
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
