// Copyright 2025 Certen Protocol
//
// Client: a thin retrying wrapper over go-ethereum's ethclient, trimmed to
// the operations the host node's adapters actually call — block reads for
// chain health probing and registry log polling, and contract-transaction
// submission with gas-price escalation for settlement claims. Read-only
// contract calls, key-management helpers, and balance/nonce inspection are
// not part of this wrapper; the host key itself is handled by pkg/signer.

package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps a single chain's ethclient connection.
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
	url     string
}

// NewClient dials url and binds it to chainID for transaction signing.
func NewClient(url string, chainID int64) (*Client, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum: %w", err)
	}

	return &Client{
		client:  client,
		chainID: big.NewInt(chainID),
		url:     url,
	}, nil
}

// ContractCallResult is the outcome of a submitted contract transaction.
type ContractCallResult struct {
	TransactionHash string    `json:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash"`
	GasUsed         uint64    `json:"gas_used"`
	GasCost         *big.Int  `json:"gas_cost"`
	Success         bool      `json:"success"`
	Timestamp       time.Time `json:"timestamp"`
}

// WaitForTransaction blocks until tx is mined and returns its receipt.
func (c *Client) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction: %w", err)
	}
	return receipt, nil
}

// SendContractTransactionWithRetry packs methodName(params...) for
// contractAddr, signs it with privateKeyHex, and submits it, escalating gas
// price by 20% per attempt on a retryable send error (underpriced
// replacement, stale nonce, already-known tx).
func (c *Client) SendContractTransactionWithRetry(ctx context.Context, contractAddr common.Address, abiString string, privateKeyHex string, methodName string, gasLimit uint64, maxRetries int, params ...interface{}) (*ContractCallResult, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	callData, err := contractABI.Pack(methodName, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	fromAddress := crypto.PubkeyToAddress(privateKey.PublicKey)

	for attempt := 0; attempt < maxRetries; attempt++ {
		nonce, err := c.client.PendingNonceAt(ctx, fromAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce: %w", err)
		}

		baseGasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		// Enforce minimum 5 Gwei to ensure transactions get included.
		minGasPrice := big.NewInt(5 * 1e9)
		if baseGasPrice.Cmp(minGasPrice) < 0 {
			baseGasPrice = minGasPrice
		}

		gasPrice := new(big.Int).Set(baseGasPrice)
		if attempt > 0 {
			multiplier := big.NewInt(int64(100 + (20 * attempt))) // 120%, 140%, etc.
			gasPrice = gasPrice.Mul(gasPrice, multiplier)
			gasPrice = gasPrice.Div(gasPrice, big.NewInt(100))
		}

		tx := types.NewTransaction(nonce, contractAddr, big.NewInt(0), gasLimit, gasPrice, callData)
		signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}

		if err := c.client.SendTransaction(ctx, signedTx); err != nil {
			errStr := err.Error()
			retryable := strings.Contains(errStr, "replacement transaction underpriced") ||
				strings.Contains(errStr, "nonce too low") ||
				strings.Contains(errStr, "already known")
			if retryable && attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to send transaction after %d attempts: %w", attempt+1, err)
		}

		receipt, err := c.WaitForTransaction(ctx, signedTx)
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
		}

		return &ContractCallResult{
			TransactionHash: signedTx.Hash().Hex(),
			BlockNumber:     receipt.BlockNumber.Uint64(),
			BlockHash:       receipt.BlockHash.Hex(),
			GasUsed:         receipt.GasUsed,
			GasCost:         new(big.Int).Mul(gasPrice, big.NewInt(int64(receipt.GasUsed))),
			Success:         receipt.Status == types.ReceiptStatusSuccessful,
			Timestamp:       time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("failed to send transaction after %d attempts", maxRetries)
}

// GetBlock fetches a block by number; nil fetches the latest block.
func (c *Client) GetBlock(ctx context.Context, blockNumber *big.Int) (*types.Block, error) {
	block, err := c.client.BlockByNumber(ctx, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return block, nil
}

// GetLatestBlock fetches the chain tip, used for health-probe latency and
// timestamp.
func (c *Client) GetLatestBlock(ctx context.Context) (*types.Block, error) {
	return c.GetBlock(ctx, nil)
}

// GetLatestBlockNumber returns the chain tip's block number, used by the
// registry watcher to bound its log-polling window.
func (c *Client) GetLatestBlockNumber(ctx context.Context) (int64, error) {
	block, err := c.GetLatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	return block.Number().Int64(), nil
}
