// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package forks manages remote chain forks. A fork pins a block of a remote
// chain behind a JSON-RPC endpoint; account state of the pinned block is
// fetched lazily and cached per fork. Each fork prescribes which of the two
// execution backends handles its transactions, derived from the remote
// chain's id.
package forks

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/0xsoniclabs/duet/go/duet"
)

//go:generate mockgen -source client.go -destination client_mock.go -package forks

// Client is the read-only view of a remote chain required by the fork
// manager. Implementations must be safe for sequential use; all methods
// honor cancellation of the provided context.
type Client interface {
	// ChainID returns the chain id reported by the remote endpoint.
	ChainID(ctx context.Context) (uint64, error)

	// BlockNumber returns the most recent block known to the endpoint.
	BlockNumber(ctx context.Context) (uint64, error)

	// Balance returns the balance of the given account at the given block.
	Balance(ctx context.Context, addr duet.Address, block uint64) (duet.Value, error)

	// Nonce returns the transaction count of the account at the given block.
	Nonce(ctx context.Context, addr duet.Address, block uint64) (uint64, error)

	// Code returns the deployed code of the account at the given block.
	Code(ctx context.Context, addr duet.Address, block uint64) (duet.Code, error)

	// StorageAt returns the value of one storage slot at the given block.
	StorageAt(ctx context.Context, addr duet.Address, key duet.Key, block uint64) (duet.Word, error)
}

// rpcClient implements Client on top of a go-ethereum JSON-RPC connection.
type rpcClient struct {
	client *rpc.Client
}

// Dial connects to the given JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string) (Client, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	return &rpcClient{client: client}, nil
}

func (c *rpcClient) ChainID(ctx context.Context) (uint64, error) {
	var result hexutil.Big
	if err := c.client.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return 0, err
	}
	return result.ToInt().Uint64(), nil
}

func (c *rpcClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.client.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func (c *rpcClient) Balance(ctx context.Context, addr duet.Address, block uint64) (duet.Value, error) {
	var result hexutil.Big
	err := c.client.CallContext(ctx, &result, "eth_getBalance",
		common.Address(addr), blockArg(block))
	if err != nil {
		return duet.Value{}, err
	}
	balance, overflow := uint256.FromBig(result.ToInt())
	if overflow {
		return duet.Value{}, fmt.Errorf("balance of %v exceeds 256 bits", addr)
	}
	return duet.ValueFromUint256(balance), nil
}

func (c *rpcClient) Nonce(ctx context.Context, addr duet.Address, block uint64) (uint64, error) {
	var result hexutil.Uint64
	err := c.client.CallContext(ctx, &result, "eth_getTransactionCount",
		common.Address(addr), blockArg(block))
	if err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func (c *rpcClient) Code(ctx context.Context, addr duet.Address, block uint64) (duet.Code, error) {
	var result hexutil.Bytes
	err := c.client.CallContext(ctx, &result, "eth_getCode",
		common.Address(addr), blockArg(block))
	if err != nil {
		return nil, err
	}
	return duet.Code(result), nil
}

func (c *rpcClient) StorageAt(ctx context.Context, addr duet.Address, key duet.Key, block uint64) (duet.Word, error) {
	var result hexutil.Bytes
	err := c.client.CallContext(ctx, &result, "eth_getStorageAt",
		common.Address(addr), common.Hash(key), blockArg(block))
	if err != nil {
		return duet.Word{}, err
	}
	var word duet.Word
	if len(result) > len(word) {
		return duet.Word{}, fmt.Errorf("storage value exceeds 32 bytes")
	}
	copy(word[len(word)-len(result):], result)
	return word, nil
}

func blockArg(block uint64) string {
	return hexutil.Uint64(block).String()
}
