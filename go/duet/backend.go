// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package duet

import (
	"encoding/json"
	"fmt"
	"strings"
)

//go:generate mockgen -source backend.go -destination backend_mock.go -package duet

// BackendKind enumerates the two virtual machine backends supported by this
// system. There are exactly two; dispatch code is expected to be exhaustive
// over both cases so that missing handlers surface as explicit errors.
type BackendKind int

const (
	// Primary is the standard EVM-semantics backend.
	Primary BackendKind = iota
	// Alternate is the zk-rollup-compatible backend with its own code
	// representation and execution semantics.
	Alternate
)

// AllBackendKinds lists all supported backend kinds.
func AllBackendKinds() []BackendKind {
	return []BackendKind{Primary, Alternate}
}

func (k BackendKind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Alternate:
		return "alternate"
	default:
		return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

func (k BackendKind) MarshalJSON() ([]byte, error) {
	switch k {
	case Primary, Alternate:
		return json.Marshal(k.String())
	default:
		return nil, fmt.Errorf("invalid backend kind: %v", k)
	}
}

func (k *BackendKind) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err != nil {
		return err
	}
	switch strings.ToLower(kind) {
	case "primary":
		*k = Primary
	case "alternate":
		*k = Alternate
	default:
		return fmt.Errorf("unknown backend kind: %s", kind)
	}
	return nil
}

// CallKind differentiates the transaction types routed through a backend.
type CallKind int

const (
	// Call is a regular, potentially state-changing contract call or
	// plain value transfer.
	Call CallKind = iota
	// StaticCall is a read-only call; backends must not retain any state
	// modification caused by it.
	StaticCall
	// Deploy creates a new contract from the provided creation code.
	Deploy
)

func (k CallKind) String() string {
	switch k {
	case Call:
		return "call"
	case StaticCall:
		return "static_call"
	case Deploy:
		return "deploy"
	default:
		return "unknown"
	}
}

// Transaction summarizes the parameters of a single execution request
// forwarded to a backend. The coordinator, not the backend, is responsible
// for nonce accounting; the Nonce field carries the value the backend
// should observe during execution.
type Transaction struct {
	Kind      CallKind
	Sender    Address
	Recipient *Address // nil for Deploy
	Nonce     uint64
	Input     Data
	Code      Code // creation code, only set for Deploy
	Value     Value
	GasLimit  Gas
}

// ExecutionResult summarizes the outcome of a transaction executed by a
// backend.
type ExecutionResult struct {
	Success         bool // false if the execution ended in a revert, true otherwise
	Output          Data
	GasUsed         Gas
	CreatedContract *Address // filled if a contract was created
	Logs            []Log
}

// Log is the type summarizing a log message emitted as a side effect of a
// contract execution.
type Log struct {
	Address Address
	Topics  []Hash
	Data    Data
}

// AccountState is a plain value snapshot of a single account as observed
// through a backend.
type AccountState struct {
	Balance Value
	Nonce   uint64
	Code    Code
	Storage map[Key]Word
}

// BackendState is an interface to access and manipulate the account state
// held by one backend. The state is a collection of accounts, each with a
// balance, a nonce, optional code and storage.
type BackendState interface {
	AccountExists(Address) bool

	GetBalance(Address) Value
	SetBalance(Address, Value)

	GetNonce(Address) uint64
	SetNonce(Address, uint64)

	GetCode(Address) Code
	GetCodeHash(Address) Hash
	GetCodeSize(Address) int
	SetCode(Address, Code)

	GetStorage(Address, Key) Word
	SetStorage(Address, Key, Word)

	// ForEachStorage visits all non-zero storage slots of the given
	// account. Iteration stops early if the callback returns false.
	ForEachStorage(Address, func(Key, Word) bool)
}

// Backend is one of the two virtual machine execution engines together with
// its state database. The coordinator does not implement VM semantics; it
// only orchestrates which backend receives which transaction and how state
// flows between the two.
//
// Backends are bound to a single execution context and are not required to
// be safe for concurrent use.
type Backend interface {
	// Kind identifies which of the two engines this instance implements.
	Kind() BackendKind

	// Execute runs the given transaction against the backend's state. The
	// returned error is nil whenever the transaction was processed, even
	// if the execution itself reverted; a non-nil error indicates the
	// backend failed to process the request at all.
	Execute(Transaction) (ExecutionResult, error)

	// ReadAccount returns a value snapshot of the given account.
	ReadAccount(Address) AccountState

	// State grants direct access to the backend's account state. It is
	// used by the state bridge when transplanting accounts across the
	// backend boundary.
	State() BackendState

	// CreateSnapshot captures the full mutable state of the backend.
	CreateSnapshot() Snapshot

	// RestoreSnapshot restores a previously captured snapshot. Restoring
	// a snapshot invalidates all snapshots taken after it.
	RestoreSnapshot(Snapshot) error
}
