// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package alternate provides the zk-rollup-compatible execution backend.
// It shares the state-transition envelope with the primary backend but
// follows the alternate virtual machine's rules: deployments require a
// non-empty code image produced by the alternate compiler, created
// accounts keep a zero nonce, and intrinsic gas charges differ.
//
// Bytecode compiled for the primary backend is not executable here; the
// coordinator's state bridge re-derives code from compiled sources when
// accounts cross the backend boundary.
package alternate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xsoniclabs/duet/go/backend/statedb"
	"github.com/0xsoniclabs/duet/go/duet"
)

const (
	// The alternate VM bills a lower intrinsic charge for plain calls but
	// a higher one for deployments, which involve code-hash registration.
	txGas                 = 14_000
	txGasContractCreation = 60_000
)

// Registers the backend for general use.
func init() {
	err := duet.RegisterBackendFactory(duet.Alternate, func(any) (duet.Backend, error) {
		return New(), nil
	})
	if err != nil {
		panic(err)
	}
}

type backend struct {
	state *statedb.StateDB
}

// New creates an alternate backend with an empty state database.
func New() duet.Backend {
	return &backend{state: statedb.New()}
}

func (b *backend) Kind() duet.BackendKind {
	return duet.Alternate
}

func (b *backend) State() duet.BackendState {
	return b.state
}

func (b *backend) ReadAccount(addr duet.Address) duet.AccountState {
	return b.state.Export(addr)
}

func (b *backend) CreateSnapshot() duet.Snapshot {
	return b.state.CreateSnapshot()
}

func (b *backend) RestoreSnapshot(snapshot duet.Snapshot) error {
	return b.state.RestoreSnapshot(snapshot)
}

func (b *backend) Execute(tx duet.Transaction) (duet.ExecutionResult, error) {
	switch tx.Kind {
	case duet.StaticCall:
		return b.staticCall(tx)
	case duet.Call:
		return b.call(tx)
	case duet.Deploy:
		return b.deploy(tx)
	default:
		return duet.ExecutionResult{}, fmt.Errorf("unsupported call kind: %v", tx.Kind)
	}
}

func (b *backend) staticCall(tx duet.Transaction) (duet.ExecutionResult, error) {
	if tx.Recipient == nil {
		return duet.ExecutionResult{}, fmt.Errorf("static call without recipient")
	}
	var output duet.Data
	if len(tx.Input) == len(duet.Key{}) {
		value := b.state.GetStorage(*tx.Recipient, duet.Key(tx.Input))
		output = value[:]
	} else {
		output = duet.Data(b.state.GetCode(*tx.Recipient))
	}
	return duet.ExecutionResult{Success: true, Output: output, GasUsed: txGas}, nil
}

func (b *backend) call(tx duet.Transaction) (duet.ExecutionResult, error) {
	if tx.Recipient == nil {
		return duet.ExecutionResult{}, fmt.Errorf("call without recipient")
	}
	if !b.transfer(tx.Sender, *tx.Recipient, tx.Value) {
		return duet.ExecutionResult{Success: false, GasUsed: txGas}, nil
	}
	b.state.SetNonce(tx.Sender, tx.Nonce+1)
	return duet.ExecutionResult{Success: true, GasUsed: txGas}, nil
}

func (b *backend) deploy(tx duet.Transaction) (duet.ExecutionResult, error) {
	// the alternate VM registers code by hash; an empty image cannot be
	// registered and is rejected before any state is touched
	if len(tx.Code) == 0 {
		return duet.ExecutionResult{Success: false, GasUsed: txGasContractCreation}, nil
	}
	created := createAddress(tx.Sender, tx.Nonce)
	if b.state.GetCodeSize(created) > 0 {
		return duet.ExecutionResult{Success: false, GasUsed: txGasContractCreation}, nil
	}
	if !b.transfer(tx.Sender, created, tx.Value) {
		return duet.ExecutionResult{Success: false, GasUsed: txGasContractCreation}, nil
	}
	b.state.SetCode(created, tx.Code)
	return duet.ExecutionResult{
		Success:         true,
		GasUsed:         txGasContractCreation,
		CreatedContract: &created,
	}, nil
}

func (b *backend) transfer(from, to duet.Address, value duet.Value) bool {
	if value == (duet.Value{}) {
		return true
	}
	balance := b.state.GetBalance(from)
	if balance.Cmp(value) < 0 {
		return false
	}
	b.state.SetBalance(from, duet.Sub(balance, value))
	b.state.SetBalance(to, duet.Add(b.state.GetBalance(to), value))
	return true
}

func createAddress(sender duet.Address, nonce uint64) duet.Address {
	return duet.Address(crypto.CreateAddress(common.Address(sender), nonce))
}
