package sandbox

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bounty-chain.backend/internal/domain/entities"
)

// ExploitResult is the outcome of replaying a proof against the deployed
// target.
type ExploitResult struct {
	Validated    bool
	ExecutionLog []string
	StateChanges string
	GasUsed      uint64
	TxHash       string
	Err          string
}

// Deploy sends a create transaction with the compiled bytecode and returns
// the contract address and deployment tx hash.
func (s *Sandbox) Deploy(ctx context.Context, bytecodeHex string) (common.Address, string, error) {
	code, err := decodeHex(bytecodeHex)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("decode bytecode: %w", err)
	}
	receipt, err := s.sendTx(ctx, nil, code, nil)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("deploy: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, "", fmt.Errorf("deploy reverted in tx %s", receipt.TxHash.Hex())
	}
	return receipt.ContractAddress, receipt.TxHash.Hex(), nil
}

// ExecuteExploit replays the proof's call sequence against the target. With a
// success check, validated means the check call returned the expected result;
// without one, validated means every step mined without revert.
func (s *Sandbox) ExecuteExploit(ctx context.Context, target common.Address, payload *entities.ExploitPayload) (*ExploitResult, error) {
	res := &ExploitResult{}
	if payload == nil || len(payload.Steps) == 0 {
		res.Err = "proof has no exploit steps"
		res.ExecutionLog = append(res.ExecutionLog, res.Err)
		return res, nil
	}

	for i, step := range payload.Steps {
		data, err := decodeHex(step.CallData)
		if err != nil {
			res.Err = fmt.Sprintf("step %d: bad calldata: %v", i, err)
			res.ExecutionLog = append(res.ExecutionLog, res.Err)
			return res, nil
		}
		value := big.NewInt(0)
		if step.Value != "" {
			v, ok := new(big.Int).SetString(step.Value, 10)
			if !ok || v.Sign() < 0 {
				res.Err = fmt.Sprintf("step %d: bad value %q", i, step.Value)
				res.ExecutionLog = append(res.ExecutionLog, res.Err)
				return res, nil
			}
			value = v
		}

		receipt, err := s.sendTx(ctx, &target, data, value)
		if err != nil {
			res.Err = fmt.Sprintf("step %d: %v", i, err)
			res.ExecutionLog = append(res.ExecutionLog, res.Err)
			return res, nil
		}
		res.GasUsed += receipt.GasUsed
		res.TxHash = receipt.TxHash.Hex()
		if receipt.Status != types.ReceiptStatusSuccessful {
			res.ExecutionLog = append(res.ExecutionLog,
				fmt.Sprintf("step %d reverted (tx %s)", i, receipt.TxHash.Hex()))
			return res, nil
		}
		line := fmt.Sprintf("step %d mined (tx %s, gas %d)", i, receipt.TxHash.Hex(), receipt.GasUsed)
		if step.Description != "" {
			line = fmt.Sprintf("%s: %s", line, step.Description)
		}
		res.ExecutionLog = append(res.ExecutionLog, line)
	}

	if payload.SuccessCheck == nil {
		res.Validated = true
		return res, nil
	}

	checkData, err := decodeHex(payload.SuccessCheck.CallData)
	if err != nil {
		res.Err = fmt.Sprintf("success check: bad calldata: %v", err)
		res.ExecutionLog = append(res.ExecutionLog, res.Err)
		return res, nil
	}
	out, err := s.eth.CallContract(ctx, ethereum.CallMsg{From: s.from, To: &target, Data: checkData}, nil)
	if err != nil {
		res.Err = fmt.Sprintf("success check call: %v", err)
		res.ExecutionLog = append(res.ExecutionLog, res.Err)
		return res, nil
	}
	res.Validated = evaluateCheck(out, payload.SuccessCheck)
	res.StateChanges = "0x" + hex.EncodeToString(out)
	res.ExecutionLog = append(res.ExecutionLog,
		fmt.Sprintf("success check returned %s, validated=%t", res.StateChanges, res.Validated))
	return res, nil
}

// evaluateCheck compares the check call's return data against the expected
// zero/non-zero outcome.
func evaluateCheck(out []byte, check *entities.ExploitCheck) bool {
	nonZero := false
	for _, b := range out {
		if b != 0 {
			nonZero = true
			break
		}
	}
	return nonZero == check.ExpectNonZero
}

// sendTx signs and submits a transaction from the dev account and waits for
// the receipt. to == nil deploys.
func (s *Sandbox) sendTx(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	nonce, err := s.eth.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tip, err := s.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := s.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := s.eth.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: to, Data: data, Value: value})
	if err != nil {
		// estimation reverts on failing exploit steps; fall back to a fixed
		// limit so the revert lands in a receipt instead
		gas = 3_000_000
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := s.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, s.eth, signed)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	return receipt, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty hex")
	}
	return hex.DecodeString(s)
}
