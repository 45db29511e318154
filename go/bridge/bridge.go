// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package bridge transplants account state across the boundary between
// the two virtual machine backends. When the active backend changes, all
// accounts marked persistent are copied from the old to the new backend's
// state database: balances and storage verbatim, nonces from the shared
// nonce ledger, and code by re-deriving the image appropriate for the
// target machine from the compiled artifact the account is bound to.
//
// Opaque bytecode is never transplanted between the two machines; a
// persistent account whose code cannot be re-derived from a tracked
// compilation fails the switch loudly instead of silently executing wrong
// code on the target backend.
package bridge

import (
	"fmt"

	"github.com/inconshreveable/log15"

	"github.com/0xsoniclabs/duet/go/artifact"
	"github.com/0xsoniclabs/duet/go/duet"
)

// Bridge coordinates cross-backend state synchronization for one
// execution context.
type Bridge struct {
	artifacts *artifact.Store
	ledger    *duet.NonceLedger
	bindings  map[duet.Address]binding
	log       log15.Logger
}

// binding associates a deployed address with the compiled contract and
// the library mapping it was deployed with.
type binding struct {
	id        artifact.ContractID
	libraries map[string]duet.Address
}

// New creates a bridge reading artifacts from the given store and nonces
// from the given ledger. A nil logger falls back to the root logger.
func New(artifacts *artifact.Store, ledger *duet.NonceLedger, logger log15.Logger) *Bridge {
	if logger == nil {
		logger = log15.Root()
	}
	return &Bridge{
		artifacts: artifacts,
		ledger:    ledger,
		bindings:  map[duet.Address]binding{},
		log:       logger.New("module", "bridge"),
	}
}

// BindContract records that the code at the given address originates from
// the identified compiled contract, linked with the given libraries. The
// bridge uses this to select the correct code image when the address
// crosses the backend boundary.
func (b *Bridge) BindContract(addr duet.Address, id artifact.ContractID, libraries map[string]duet.Address) {
	b.bindings[addr] = binding{id: id, libraries: libraries}
}

// Binding returns the compiled contract bound to the given address.
func (b *Bridge) Binding(addr duet.Address) (artifact.ContractID, bool) {
	bound, found := b.bindings[addr]
	return bound.id, found
}

// SyncOnSwitch copies the state of all persistent addresses from one
// backend to the other. The operation is synchronous and all-or-nothing
// with respect to validation: code translation for every address is
// resolved before the first write to the target backend. After writing,
// the copied state is read back and verified; a mismatch is reported as a
// BridgeInvariantError, since it indicates a defect of the bridge itself.
func (b *Bridge) SyncOnSwitch(from, to duet.Backend, persistent []duet.Address) error {
	type transplant struct {
		addr  duet.Address
		state duet.AccountState
		code  duet.Code
		nonce uint64
	}

	plan := make([]transplant, 0, len(persistent))
	for _, addr := range persistent {
		state := from.ReadAccount(addr)
		code, err := b.translateCode(addr, state.Code, from.Kind(), to.Kind())
		if err != nil {
			return err
		}
		plan = append(plan, transplant{
			addr:  addr,
			state: state,
			code:  code,
			nonce: b.ledger.TransactionNonce(addr),
		})
	}

	target := to.State()
	for _, entry := range plan {
		target.SetBalance(entry.addr, entry.state.Balance)
		target.SetNonce(entry.addr, entry.nonce)
		target.SetCode(entry.addr, entry.code)
		replaceStorage(target, entry.addr, entry.state.Storage)
	}

	for _, entry := range plan {
		if err := b.verify(to, entry.addr, entry.state, entry.nonce); err != nil {
			return err
		}
	}
	return nil
}

// translateCode determines the code image the target backend should hold
// for the given address.
func (b *Bridge) translateCode(addr duet.Address, code duet.Code, from, to duet.BackendKind) (duet.Code, error) {
	if from == to || len(code) == 0 {
		return code, nil
	}
	bound, tracked := b.bindings[addr]
	if !tracked {
		// externally obtained bytecode cannot be re-derived from source
		return nil, &duet.CrossBackendBytecodeIncompatibleError{Address: addr, From: from, To: to}
	}
	view, err := b.artifacts.LinkedView(bound.id, bound.libraries)
	if err != nil {
		return nil, fmt.Errorf("re-deriving code of %v from %v: %w", addr, bound.id, err)
	}
	image, available := view.DeployedCodeFor(to)
	if !available {
		return nil, &duet.CrossBackendBytecodeIncompatibleError{Address: addr, From: from, To: to}
	}
	return image, nil
}

// verify reads the transplanted account back from the target backend and
// compares it against the source observation taken at switch time.
func (b *Bridge) verify(to duet.Backend, addr duet.Address, want duet.AccountState, wantNonce uint64) error {
	got := to.ReadAccount(addr)
	if want.Balance != got.Balance {
		return b.invariantFailure(addr, "balance",
			fmt.Sprintf("%v != %v", want.Balance, got.Balance), to.Kind())
	}
	if wantNonce != got.Nonce {
		return b.invariantFailure(addr, "nonce",
			fmt.Sprintf("%d != %d", wantNonce, got.Nonce), to.Kind())
	}
	for key, value := range want.Storage {
		if got.Storage[key] != value {
			return b.invariantFailure(addr, "storage",
				fmt.Sprintf("slot %v: %v != %v", key, value, got.Storage[key]), to.Kind())
		}
	}
	for key, value := range got.Storage {
		if _, expected := want.Storage[key]; !expected && value != (duet.Word{}) {
			return b.invariantFailure(addr, "storage",
				fmt.Sprintf("unexpected slot %v: %v", key, value), to.Kind())
		}
	}
	return nil
}

func (b *Bridge) invariantFailure(addr duet.Address, field, detail string, target duet.BackendKind) error {
	b.log.Error("persistent account desynced after backend switch",
		"address", addr, "field", field, "detail", detail, "target", target)
	return &duet.BridgeInvariantError{Address: addr, Field: field, Detail: detail}
}

// replaceStorage makes the target's storage of the given account equal to
// the provided mapping, removing stale slots the target may hold.
func replaceStorage(target duet.BackendState, addr duet.Address, storage map[duet.Key]duet.Word) {
	var stale []duet.Key
	target.ForEachStorage(addr, func(key duet.Key, _ duet.Word) bool {
		if _, keep := storage[key]; !keep {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		target.SetStorage(addr, key, duet.Word{})
	}
	for key, value := range storage {
		target.SetStorage(addr, key, value)
	}
}
