package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
)

// findEvent locates the named event in a receipt's logs, matching both the
// emitting contract and the event signature topic.
func findEvent(receipt *types.Receipt, contract common.Address, contractABI abi.ABI, name string) (*types.Log, error) {
	ev, ok := contractABI.Events[name]
	if !ok {
		return nil, chainErr(KindInvalidReceipt, receipt.TxHash.Hex(), "unknown event %s", name)
	}
	for _, lg := range receipt.Logs {
		if lg.Address == contract && len(lg.Topics) > 0 && lg.Topics[0] == ev.ID {
			return lg, nil
		}
	}
	return nil, chainErr(KindInvalidReceipt, receipt.TxHash.Hex(), "event %s missing from receipt", name)
}

// VerifyTokenTransfer confirms that txHash moved at least minAmount of the
// payment token to expectedTo, by parsing the Transfer logs on the receipt.
func (c *ChainClient) VerifyTokenTransfer(ctx context.Context, txHash, expectedTo string, minAmount *big.Int) (bool, error) {
	to, err := parseAddress(expectedTo)
	if err != nil {
		return false, err
	}
	if minAmount == nil || minAmount.Sign() < 0 {
		return false, fmt.Errorf("%w: minimum amount required", domainerrors.ErrInvalidInput)
	}

	receipt, err := c.transactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return false, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, nil
	}

	transferID := erc20ABI.Events["Transfer"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != c.addrs.PaymentToken || len(lg.Topics) != 3 || lg.Topics[0] != transferID {
			continue
		}
		recipient := common.BytesToAddress(lg.Topics[2].Bytes())
		if recipient != to {
			continue
		}
		vals, err := erc20ABI.Unpack("Transfer", lg.Data)
		if err != nil || len(vals) != 1 {
			return false, chainErr(KindInvalidReceipt, txHash, "decode Transfer data: %v", err)
		}
		if vals[0].(*big.Int).Cmp(minAmount) >= 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *ChainClient) transactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.receiptFn != nil {
		return c.receiptFn(ctx, hash)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.eth.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		return nil, c.wrapTransportErr(err, hash.Hex())
	}
	receipt := res.(*types.Receipt)
	if receipt == nil {
		return nil, chainErr(KindMissingReceipt, hash.Hex(), "receipt not found")
	}
	return receipt, nil
}

// FilterBountyReleased scans [fromBlock, toBlock] for pool settlement events.
// The reconciler replays these against persisted payments.
func (c *ChainClient) FilterBountyReleased(ctx context.Context, fromBlock, toBlock uint64) ([]entities.BountyReleasedEvent, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.addrs.BountyPool},
		Topics:    [][]common.Hash{{bountyPoolABI.Events["BountyReleased"].ID}},
	}

	logs, err := c.filterLogs(ctx, q)
	if err != nil {
		return nil, err
	}

	blockTimes := make(map[uint64]time.Time)
	out := make([]entities.BountyReleasedEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) != 4 {
			continue
		}
		vals, err := bountyPoolABI.Unpack("BountyReleased", lg.Data)
		if err != nil || len(vals) != 1 {
			return nil, chainErr(KindInvalidReceipt, lg.TxHash.Hex(), "decode BountyReleased data: %v", err)
		}

		blockTime, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := c.headerByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, err
			}
			blockTime = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[lg.BlockNumber] = blockTime
		}

		out = append(out, entities.BountyReleasedEvent{
			BountyID:          new(big.Int).SetBytes(lg.Topics[1].Bytes()).Int64(),
			ValidationID:      new(big.Int).SetBytes(lg.Topics[2].Bytes()).Int64(),
			ResearcherAddress: common.BytesToAddress(lg.Topics[3].Bytes()).Hex(),
			Amount:            vals[0].(*big.Int).String(),
			TxHash:            lg.TxHash.Hex(),
			LogIndex:          lg.Index,
			BlockNumber:       lg.BlockNumber,
			BlockTime:         blockTime,
		})
	}
	return out, nil
}

func (c *ChainClient) filterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if c.filterFn != nil {
		return c.filterFn(ctx, q)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.eth.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	return res.([]types.Log), nil
}

func (c *ChainClient) headerByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if c.headerFn != nil {
		return c.headerFn(ctx, number)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
	if err != nil {
		return nil, c.wrapTransportErr(err, "")
	}
	return res.(*types.Header), nil
}
