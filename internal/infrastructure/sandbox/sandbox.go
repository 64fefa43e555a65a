package sandbox

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/config"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/pkg/logger"
)

// ErrSpawnFailed reports that no sandbox node could be started. Wrapped as
// transient so the queue retries the owning job.
var ErrSpawnFailed = errors.New("sandbox spawn failed")

// devKeyHex is the first deterministic dev account every anvil instance funds.
const devKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var dialSandboxRPC = ethclient.Dial

// Manager leases loopback ports from a configured range and spawns one EVM
// node per lease. Leases are released on Kill.
type Manager struct {
	cfg    config.SandboxConfig
	mu     sync.Mutex
	leased map[int]bool
}

func NewManager(cfg config.SandboxConfig) *Manager {
	return &Manager{cfg: cfg, leased: make(map[int]bool)}
}

// Sandbox is a handle to one running node. It is owned by the pipeline
// execution that spawned it and must be killed on every exit path.
type Sandbox struct {
	Port        int
	RPCEndpoint string

	cmd     *exec.Cmd
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address

	killGrace time.Duration
	release   func()
	killOnce  sync.Once
}

// leasePort probes the configured range for a port that is both unleased and
// free, and marks it leased. The returned func releases the lease.
func (m *Manager) leasePort() (int, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for port := m.cfg.PortRangeFrom; port <= m.cfg.PortRangeTo; port++ {
		if m.leased[port] {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close()
		m.leased[port] = true
		p := port
		return p, func() {
			m.mu.Lock()
			delete(m.leased, p)
			m.mu.Unlock()
		}, nil
	}
	return 0, nil, fmt.Errorf("no free port in %d-%d", m.cfg.PortRangeFrom, m.cfg.PortRangeTo)
}

// Spawn starts a node on a leased port and waits until it answers a
// block-number query. Startup failure is transient.
func (m *Manager) Spawn(ctx context.Context) (*Sandbox, error) {
	port, release, err := m.leasePort()
	if err != nil {
		return nil, domainerrors.NewTransient(fmt.Errorf("%w: %s", ErrSpawnFailed, err.Error()))
	}

	cmd := exec.Command(m.cfg.AnvilBinary,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--silent",
	)
	if err := cmd.Start(); err != nil {
		release()
		return nil, domainerrors.NewTransient(fmt.Errorf("%w: start %s: %s", ErrSpawnFailed, m.cfg.AnvilBinary, err.Error()))
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", port)
	sb := &Sandbox{
		Port:        port,
		RPCEndpoint: endpoint,
		cmd:         cmd,
		killGrace:   m.cfg.KillGrace,
		release:     release,
	}

	if err := sb.waitReady(ctx, m.cfg.SpawnAttempts, m.cfg.SpawnBackoff); err != nil {
		sb.Kill()
		return nil, domainerrors.NewTransient(fmt.Errorf("%w: %s", ErrSpawnFailed, err.Error()))
	}

	key, err := crypto.HexToECDSA(devKeyHex)
	if err != nil {
		sb.Kill()
		return nil, fmt.Errorf("dev key: %w", err)
	}
	sb.key = key
	sb.from = crypto.PubkeyToAddress(key.PublicKey)

	logger.Info(ctx, "sandbox ready", zap.Int("port", port))
	return sb, nil
}

// waitReady polls eth_blockNumber until the node answers.
func (s *Sandbox) waitReady(ctx context.Context, attempts int, backoff time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.eth == nil {
			eth, err := dialSandboxRPC(s.RPCEndpoint)
			if err != nil {
				lastErr = err
				time.Sleep(backoff)
				continue
			}
			s.eth = eth
		}
		probeCtx, cancel := context.WithTimeout(ctx, backoff)
		_, err := s.eth.BlockNumber(probeCtx)
		cancel()
		if err == nil {
			chainID, err := s.eth.ChainID(ctx)
			if err != nil {
				return fmt.Errorf("chain id: %w", err)
			}
			s.chainID = chainID
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
	}
	return fmt.Errorf("node not ready after %d attempts: %v", attempts, lastErr)
}

// Kill terminates the node: soft-kill first, hard-kill after the grace period.
// Safe to call more than once.
func (s *Sandbox) Kill() {
	s.killOnce.Do(func() {
		if s.eth != nil {
			s.eth.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)

			done := make(chan struct{})
			go func() {
				_, _ = s.cmd.Process.Wait()
				close(done)
			}()
			grace := s.killGrace
			if grace <= 0 {
				grace = 5 * time.Second
			}
			select {
			case <-done:
			case <-time.After(grace):
				_ = s.cmd.Process.Kill()
				<-done
			}
		}
		if s.release != nil {
			s.release()
		}
	})
}
