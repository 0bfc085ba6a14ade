// Copyright 2025 Certen Protocol
//
// Adapters binding the raw Ethereum client to the narrow collaborator
// interfaces the host node's core depends on: transport.RPCProbe for chain
// health checks, registry.EventSource for marketplace registration events,
// and payment.Submitter for on-chain claim submission. The core never holds
// a *Client directly.

package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/inference-host/pkg/payment"
	"github.com/certen/inference-host/pkg/registry"
)

// ChainSet probes and polls a fixed set of chains through their ethclients.
type ChainSet struct {
	clients map[uint64]*Client
}

// NewChainSet wraps an already-dialed client per chain id.
func NewChainSet(clients map[uint64]*Client) *ChainSet {
	return &ChainSet{clients: clients}
}

// Probe implements transport.RPCProbe: round-trip latency to fetch the
// latest block, plus that block's timestamp.
func (cs *ChainSet) Probe(ctx context.Context, chainID uint64) (time.Duration, time.Time, error) {
	client, ok := cs.clients[chainID]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("chain %d has no configured client", chainID)
	}
	start := time.Now()
	block, err := client.GetLatestBlock(ctx)
	latency := time.Since(start)
	if err != nil {
		return latency, time.Time{}, err
	}
	return latency, time.Unix(int64(block.Time()), 0), nil
}

// These are the minimal event signatures this node listens for; the
// marketplace's full ABI is out of scope here (see event_watcher's generated
// bindings in the anchor/execution contracts for the pattern this follows).
const (
	topicNodeRegistered   = "NodeRegistered(address,string,uint256)"
	topicNodeUnregistered = "NodeUnregistered(address)"
	maxBlockRange         = uint64(9) // matches provider free-tier eth_getLogs caps
)

// RegistryWatcher polls a marketplace contract's logs and translates them
// into registry.NodeRegisteredEvent/NodeUnregisteredEvent, implementing
// registry.EventSource.
type RegistryWatcher struct {
	client              *Client
	contractAddr        common.Address
	pollInterval        time.Duration
	lastProcessedBlock  uint64
}

// NewRegistryWatcher builds a watcher over contractAddr starting from
// fromBlock.
func NewRegistryWatcher(client *Client, contractAddr common.Address, fromBlock uint64, pollInterval time.Duration) *RegistryWatcher {
	return &RegistryWatcher{
		client:             client,
		contractAddr:       contractAddr,
		pollInterval:       pollInterval,
		lastProcessedBlock: fromBlock,
	}
}

// Registrations satisfies registry.EventSource, polling for NodeRegistered
// logs on a ticker until ctx is cancelled.
func (w *RegistryWatcher) Registrations(ctx context.Context) (<-chan registry.NodeRegisteredEvent, error) {
	out := make(chan registry.NodeRegisteredEvent, 32)
	go w.pollLoop(ctx, topicNodeRegistered, func(log types.Log) {
		ev, err := parseNodeRegistered(log)
		if err != nil {
			return
		}
		select {
		case out <- ev:
		default:
		}
	})
	return out, nil
}

// Unregistrations satisfies registry.EventSource, polling for
// NodeUnregistered logs.
func (w *RegistryWatcher) Unregistrations(ctx context.Context) (<-chan registry.NodeUnregisteredEvent, error) {
	out := make(chan registry.NodeUnregisteredEvent, 32)
	go w.pollLoop(ctx, topicNodeUnregistered, func(log types.Log) {
		ev, err := parseNodeUnregistered(log)
		if err != nil {
			return
		}
		select {
		case out <- ev:
		default:
		}
	})
	return out, nil
}

func (w *RegistryWatcher) pollLoop(ctx context.Context, topicSig string, emit func(types.Log)) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	topic := ethcrypto.Keccak256Hash([]byte(topicSig))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := w.client.GetLatestBlockNumber(ctx)
			if err != nil {
				continue
			}
			from := w.lastProcessedBlock + 1
			to := uint64(current)
			if from > to {
				continue
			}
			if to-from > maxBlockRange {
				to = from + maxBlockRange
			}

			query := ethereum.FilterQuery{
				FromBlock: big.NewInt(int64(from)),
				ToBlock:   big.NewInt(int64(to)),
				Addresses: []common.Address{w.contractAddr},
				Topics:    [][]common.Hash{{topic}},
			}
			logs, err := w.client.client.FilterLogs(ctx, query)
			if err != nil {
				continue
			}
			for _, l := range logs {
				emit(l)
			}
			w.lastProcessedBlock = to
		}
	}
}

func parseNodeRegistered(log types.Log) (registry.NodeRegisteredEvent, error) {
	if len(log.Topics) < 2 {
		return registry.NodeRegisteredEvent{}, fmt.Errorf("malformed NodeRegistered log")
	}
	addr := common.HexToAddress(log.Topics[1].Hex())
	return registry.NodeRegisteredEvent{
		Address:  strings.ToLower(addr.Hex()),
		Metadata: string(log.Data),
	}, nil
}

func parseNodeUnregistered(log types.Log) (registry.NodeUnregisteredEvent, error) {
	if len(log.Topics) < 2 {
		return registry.NodeUnregisteredEvent{}, fmt.Errorf("malformed NodeUnregistered log")
	}
	addr := common.HexToAddress(log.Topics[1].Hex())
	return registry.NodeUnregisteredEvent{Address: strings.ToLower(addr.Hex())}, nil
}

// ClaimSubmitter adapts Client.SendContractTransactionWithRetry into
// payment.Submitter.
type ClaimSubmitter struct {
	client         *Client
	settlementAddr common.Address
	abiJSON        string
	privateKeyHex  string
	gasLimit       uint64
}

// NewClaimSubmitter builds a payment.Submitter that submits claims to a
// settlement contract at settlementAddr.
func NewClaimSubmitter(client *Client, settlementAddr common.Address, abiJSON, privateKeyHex string, gasLimit uint64) *ClaimSubmitter {
	return &ClaimSubmitter{
		client:         client,
		settlementAddr: settlementAddr,
		abiJSON:        abiJSON,
		privateKeyHex:  privateKeyHex,
		gasLimit:       gasLimit,
	}
}

// Submit packs claim into a submitClaim contract call and sends it with gas
// price escalation on retry.
func (s *ClaimSubmitter) Submit(ctx context.Context, claim payment.Claim) error {
	_, err := s.client.SendContractTransactionWithRetry(
		ctx, s.settlementAddr, s.abiJSON, s.privateKeyHex, "submitClaim", s.gasLimit, 3,
		claim.ProofHash, common.BytesToAddress(claim.HostAddress[:]), new(big.Int).SetUint64(claim.TokensClaimed), []byte(claim.Signature),
	)
	return err
}
