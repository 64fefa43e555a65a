package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
)

// Addresses holds the deployed contract addresses the client talks to.
type Addresses struct {
	ProtocolRegistry   common.Address
	BountyPool         common.Address
	ValidationRegistry common.Address
	AgentIdentity      common.Address
	Escrow             common.Address
	PaymentToken       common.Address
}

// ChainClient wraps the platform contracts with typed methods. Every failure
// is a *ChainError; Network/Timeout kinds are safe to retry.
type ChainClient struct {
	eth     *ethclient.Client
	chainID *big.Int
	addrs   Addresses
	breaker *gobreaker.CircuitBreaker

	signersMu sync.RWMutex
	signers   map[Role]*roleSigner

	// test hooks; nil in production
	callFn     func(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	transactFn func(ctx context.Context, role Role, to common.Address, data []byte) (*types.Receipt, error)
	filterFn   func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	headerFn   func(ctx context.Context, number *big.Int) (*types.Header, error)
	receiptFn  func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

var dialChainClient = ethclient.Dial

// NewChainClient dials the RPC endpoint and verifies the chain id.
func NewChainClient(rpcURL string, addrs Addresses) (*ChainClient, error) {
	eth, err := dialChainClient(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	chainID, err := eth.ChainID(context.Background())
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return newChainClient(eth, chainID, addrs), nil
}

// NewChainClientWithHooks builds a client whose transport is fully injected.
// Intended for unit tests where RPC sockets are unavailable.
func NewChainClientWithHooks(
	chainID *big.Int,
	addrs Addresses,
	callFn func(ctx context.Context, to common.Address, data []byte) ([]byte, error),
	transactFn func(ctx context.Context, role Role, to common.Address, data []byte) (*types.Receipt, error),
) *ChainClient {
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	c := newChainClient(nil, chainID, addrs)
	c.callFn = callFn
	c.transactFn = transactFn
	return c
}

func newChainClient(eth *ethclient.Client, chainID *big.Int, addrs Addresses) *ChainClient {
	return &ChainClient{
		eth:     eth,
		chainID: chainID,
		addrs:   addrs,
		signers: make(map[Role]*roleSigner),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "chain-rpc",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// ChainID returns the connected chain id.
func (c *ChainClient) ChainID() *big.Int {
	return c.chainID
}

// Close releases the RPC connection.
func (c *ChainClient) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// BlockNumber returns the latest block number.
func (c *ChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, c.wrapTransportErr(err, "")
	}
	return res.(uint64), nil
}

// callView runs a read-only contract call behind the circuit breaker.
func (c *ChainClient) callView(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if c.callFn != nil {
		return c.callFn(ctx, to, data)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		msg := ethereum.CallMsg{To: &to, Data: data}
		return c.eth.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// transact signs, submits and waits for the receipt with the role's key. The
// per-role mutex serializes submissions so nonce assignment stays ordered.
func (c *ChainClient) transact(ctx context.Context, role Role, to common.Address, data []byte) (*types.Receipt, error) {
	if c.transactFn != nil {
		return c.transactFn(ctx, role, to, data)
	}

	signer, err := c.signerFor(role)
	if err != nil {
		return nil, chainErr(KindRevert, "", "%s", err.Error())
	}
	signer.mu.Lock()
	defer signer.mu.Unlock()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		nonce, err := c.eth.PendingNonceAt(ctx, signer.address)
		if err != nil {
			return nil, err
		}
		tip, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, err
		}
		head, err := c.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

		gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From: signer.address,
			To:   &to,
			Data: data,
		})
		if err != nil {
			return nil, err
		}

		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas + gas/5,
			To:        &to,
			Data:      data,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), signer.key)
		if err != nil {
			return nil, err
		}
		if err := c.eth.SendTransaction(ctx, signed); err != nil {
			return nil, err
		}
		return signed, nil
	})
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}

	signed := res.(*types.Transaction)
	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return nil, c.wrapTransportErr(err, signed.Hash().Hex())
	}
	if receipt == nil {
		return nil, chainErr(KindMissingReceipt, signed.Hash().Hex(), "no receipt for transaction")
	}
	return receipt, nil
}

// wrapTransportErr turns transport failures into ChainErrors, treating an
// open circuit as a Network failure.
func (c *ChainClient) wrapTransportErr(err error, hash string) error {
	if err == nil {
		return nil
	}
	if ce, ok := AsChainError(err); ok {
		return ce
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return chainErr(KindNetwork, hash, "rpc circuit open: %s", err.Error())
	}
	return classifyRPCError(err, hash)
}

// checkReceipt rejects reverted transactions.
func checkReceipt(receipt *types.Receipt) error {
	if receipt == nil {
		return chainErr(KindMissingReceipt, "", "no receipt")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return chainErr(KindRevert, receipt.TxHash.Hex(), "transaction reverted")
	}
	return nil
}
