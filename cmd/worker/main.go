package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bounty-chain.backend/internal/config"
	"bounty-chain.backend/internal/infrastructure/blockchain"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/jobs"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/internal/infrastructure/repositories"
	"bounty-chain.backend/internal/infrastructure/sandbox"
	"bounty-chain.backend/internal/infrastructure/toolchain"
	"bounty-chain.backend/internal/usecases"
	"bounty-chain.backend/pkg/cryptoutil"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/redis"
)

const bountyCurrency = "USDC"

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
	dialChain = func(cfg config.BlockchainConfig) (*blockchain.ChainClient, error) {
		return blockchain.NewChainClient(cfg.RPCURL, blockchain.Addresses{
			ProtocolRegistry:   common.HexToAddress(cfg.ProtocolRegistryAddress),
			BountyPool:         common.HexToAddress(cfg.BountyPoolAddress),
			ValidationRegistry: common.HexToAddress(cfg.ValidationRegistryAddress),
			AgentIdentity:      common.HexToAddress(cfg.AgentRegistryAddress),
			Escrow:             common.HexToAddress(cfg.EscrowAddress),
			PaymentToken:       common.HexToAddress(cfg.PaymentTokenAddress),
		})
	}
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	}
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := loadCfg()
	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "logger initialized", zap.String("env", cfg.Server.Env))

	if err := initRedis(cfg.Redis.URL, cfg.Redis.Password); err != nil {
		return fmt.Errorf("init redis: %w", err)
	}

	db, err := openDB(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		logger.Warn(context.Background(), "database not reachable yet", zap.Error(err))
	}

	chain, err := dialChain(cfg.Blockchain)
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}
	defer chain.Close()

	// One operator key drives all signing roles; the registry contracts do
	// not require distinct senders.
	if key := cfg.Blockchain.PayerPrivateKey; key != "" {
		for _, role := range []blockchain.Role{blockchain.RolePayer, blockchain.RoleRegistrar, blockchain.RoleValidator} {
			if err := chain.SetSigningKey(role, key); err != nil {
				return fmt.Errorf("signing key for %s: %w", role, err)
			}
		}
	}

	researcherWallet := ""
	if key := cfg.Blockchain.ResearcherPrivateKey; key != "" {
		researcherWallet, err = walletFromKey(key)
		if err != nil {
			return fmt.Errorf("researcher key: %w", err)
		}
	} else {
		logger.Warn(context.Background(), "researcher key unset, bounty payouts will fail the address check")
	}
	validatorWallet := ""
	if addr, ok := chain.SignerAddress(blockchain.RoleValidator); ok {
		validatorWallet = addr.Hex()
	}

	proofBox, err := cryptoutil.NewProofBox(cfg.Security.ProofEncryptionKeys)
	if err != nil {
		return fmt.Errorf("proof encryption keys: %w", err)
	}

	protocolRepo := repositories.NewProtocolRepository(db)
	scanRepo := repositories.NewScanRepository(db)
	findingRepo := repositories.NewFindingRepository(db)
	proofRepo := repositories.NewProofRepository(db)
	validationRepo := repositories.NewValidationRepository(db)
	paymentRepo := repositories.NewPaymentRepository(db)
	agentRepo := repositories.NewAgentRepository(db)
	feeRepo := repositories.NewFeeRequestRepository(db)
	reconRepo := repositories.NewReconciliationRepository(db)
	stateRepo := repositories.NewListenerStateRepository(db)
	uow := repositories.NewUnitOfWork(db)

	tools := toolchain.New(cfg.Toolchain)
	sandboxes := sandboxPool{m: sandbox.NewManager(cfg.Sandbox)}

	var ai usecases.AIAnalyzer
	if cfg.Analysis.AIEnabled {
		ai = usecases.NewAnthropicAnalyzer(cfg.Analysis)
	}

	q := queue.NewQueue(redis.GetClient(), cfg.Queue.DefaultAttempts)
	b := bus.NewBus(redis.GetClient())

	protocolPipe := usecases.NewProtocolPipeline(protocolRepo, scanRepo, tools, chain, q, b)
	researcherPipe := usecases.NewResearcherPipeline(scanRepo, protocolRepo, findingRepo, proofRepo,
		uow, tools, sandboxes, ai, proofBox, cfg.Security.ActiveProofKeyID, q, b)
	validatorPipe := usecases.NewValidatorPipeline(proofRepo, validationRepo, findingRepo, scanRepo,
		protocolRepo, paymentRepo, agentRepo, uow, tools, sandboxes, chain, proofBox, q, b,
		researcherWallet, validatorWallet, bountyCurrency)

	// Without a validation registry on this network, payouts settle against
	// the off-chain verdict alone.
	offChainMode := cfg.Blockchain.ValidationRegistryAddress == ""
	paymentPipe := usecases.NewPaymentPipeline(paymentRepo, validationRepo, protocolRepo, chain, b, offChainMode)

	ctx, stop := signalContext(context.Background())
	defer stop()

	feeExpiry := jobs.NewFeeRequestExpiryJob(feeRepo)
	go feeExpiry.Start(ctx)
	stuckProofs := jobs.NewStuckProofSweeper(proofRepo, q, cfg.Queue.StuckProofAge)
	go stuckProofs.Start(ctx)
	unconfirmed := jobs.NewUnconfirmedPaymentSweeper(paymentRepo, reconRepo, cfg.Queue.UnreconciledAge)
	go unconfirmed.Start(ctx)

	reconciler := usecases.NewReconciler(chain, paymentRepo, reconRepo, stateRepo,
		cfg.Blockchain.BountyPoolAddress, cfg.Fees.TokenDecimals, cfg.Blockchain.EventPollInterval)
	go reconciler.Start(ctx)

	workers := []*queue.Worker{
		queue.NewWorker(q, queue.QueueProtocolRegistration, protocolPipe.Handle, queue.WorkerOptions{
			Concurrency: 1,
			BackoffBase: cfg.Queue.BackoffBase,
		}),
		queue.NewWorker(q, queue.QueueScanJobs, researcherPipe.Handle, queue.WorkerOptions{
			Concurrency: cfg.Queue.ScanConcurrency,
			BackoffBase: cfg.Queue.BackoffBase,
		}),
		queue.NewWorker(q, queue.QueueValidation, validatorPipe.Handle, queue.WorkerOptions{
			Concurrency: 1,
			BackoffBase: cfg.Queue.BackoffBase,
		}),
		queue.NewWorker(q, queue.QueuePaymentProcessing, paymentPipe.Handle, queue.WorkerOptions{
			Concurrency: cfg.Queue.PaymentConcurrency,
			RatePerSec:  cfg.Queue.PaymentRatePerSec,
			BackoffBase: cfg.Queue.BackoffBase,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	logger.Info(ctx, "worker process started",
		zap.Int("queues", len(workers)),
		zap.Bool("aiAnalysis", cfg.Analysis.AIEnabled),
		zap.Bool("offChainMode", offChainMode))

	err = g.Wait()

	feeExpiry.Stop()
	stuckProofs.Stop()
	unconfirmed.Stop()
	reconciler.Stop()
	logger.Info(context.Background(), "worker process stopped")
	return err
}

// sandboxPool adapts the concrete sandbox manager to the pipeline interface.
type sandboxPool struct {
	m *sandbox.Manager
}

func (p sandboxPool) Spawn(ctx context.Context) (usecases.SandboxHandle, error) {
	return p.m.Spawn(ctx)
}

func walletFromKey(hexKey string) (string, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return "", err
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
