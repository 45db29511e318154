// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package statedb provides the in-memory account state database backing
// the backend implementations of this repository. It models a collection
// of accounts with balance, nonce, code, and storage, and supports
// stack-based snapshots as required for test-scoped state manipulation.
package statedb

import (
	"bytes"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/0xsoniclabs/duet/go/duet"
)

const errInvalidSnapshot = duet.ConstError("invalid snapshot")

// StateDB is a map-based implementation of duet.BackendState. It is bound
// to a single execution context and not safe for concurrent use.
type StateDB struct {
	accounts  map[duet.Address]*account
	snapshots []map[duet.Address]*account
}

type account struct {
	balance duet.Value
	nonce   uint64
	code    duet.Code
	storage map[duet.Key]duet.Word
}

func New() *StateDB {
	return &StateDB{accounts: map[duet.Address]*account{}}
}

func (s *StateDB) AccountExists(addr duet.Address) bool {
	_, exists := s.accounts[addr]
	return exists
}

func (s *StateDB) GetBalance(addr duet.Address) duet.Value {
	if account, exists := s.accounts[addr]; exists {
		return account.balance
	}
	return duet.Value{}
}

func (s *StateDB) SetBalance(addr duet.Address, balance duet.Value) {
	s.getOrCreate(addr).balance = balance
}

func (s *StateDB) GetNonce(addr duet.Address) uint64 {
	if account, exists := s.accounts[addr]; exists {
		return account.nonce
	}
	return 0
}

func (s *StateDB) SetNonce(addr duet.Address, nonce uint64) {
	s.getOrCreate(addr).nonce = nonce
}

func (s *StateDB) GetCode(addr duet.Address) duet.Code {
	if account, exists := s.accounts[addr]; exists {
		return bytes.Clone(account.code)
	}
	return nil
}

func (s *StateDB) GetCodeHash(addr duet.Address) duet.Hash {
	return keccak256(s.GetCode(addr))
}

func (s *StateDB) GetCodeSize(addr duet.Address) int {
	if account, exists := s.accounts[addr]; exists {
		return len(account.code)
	}
	return 0
}

func (s *StateDB) SetCode(addr duet.Address, code duet.Code) {
	s.getOrCreate(addr).code = bytes.Clone(code)
}

func (s *StateDB) GetStorage(addr duet.Address, key duet.Key) duet.Word {
	if account, exists := s.accounts[addr]; exists {
		return account.storage[key]
	}
	return duet.Word{}
}

func (s *StateDB) SetStorage(addr duet.Address, key duet.Key, value duet.Word) {
	account := s.getOrCreate(addr)
	if value == (duet.Word{}) {
		delete(account.storage, key)
		return
	}
	account.storage[key] = value
}

func (s *StateDB) ForEachStorage(addr duet.Address, visit func(duet.Key, duet.Word) bool) {
	account, exists := s.accounts[addr]
	if !exists {
		return
	}
	for key, value := range account.storage {
		if !visit(key, value) {
			return
		}
	}
}

// Export returns a value snapshot of a single account.
func (s *StateDB) Export(addr duet.Address) duet.AccountState {
	account, exists := s.accounts[addr]
	if !exists {
		return duet.AccountState{}
	}
	return duet.AccountState{
		Balance: account.balance,
		Nonce:   account.nonce,
		Code:    bytes.Clone(account.code),
		Storage: maps.Clone(account.storage),
	}
}

// CreateSnapshot captures the full current state. Snapshots form a stack;
// restoring an older snapshot invalidates all younger ones.
func (s *StateDB) CreateSnapshot() duet.Snapshot {
	s.snapshots = append(s.snapshots, cloneAccounts(s.accounts))
	return duet.Snapshot(len(s.snapshots) - 1)
}

// RestoreSnapshot rolls the state back to the given snapshot. The restored
// snapshot remains valid and can be restored again.
func (s *StateDB) RestoreSnapshot(snapshot duet.Snapshot) error {
	index := int(snapshot)
	if index < 0 || index >= len(s.snapshots) {
		return fmt.Errorf("%w: %d", errInvalidSnapshot, snapshot)
	}
	s.accounts = cloneAccounts(s.snapshots[index])
	s.snapshots = s.snapshots[:index+1]
	return nil
}

// Equal reports whether two databases hold the same accounts, ignoring
// empty accounts.
func (s *StateDB) Equal(other *StateDB) bool {
	return len(s.Diff(other)) == 0
}

// Diff compares two databases and returns a list of differences, intended
// for test diagnostics.
func (s *StateDB) Diff(other *StateDB) []string {
	var diffs []string
	for addr, account := range s.accounts {
		diffs = append(diffs, account.diff(addr, other.accounts[addr])...)
	}
	for addr, acc := range other.accounts {
		if _, overlap := s.accounts[addr]; !overlap {
			diffs = append(diffs, (*account)(nil).diff(addr, acc)...)
		}
	}
	return diffs
}

func (a *account) diff(addr duet.Address, other *account) []string {
	zero := &account{}
	if a == nil {
		a = zero
	}
	if other == nil {
		other = zero
	}
	var res []string
	if a.balance != other.balance {
		res = append(res, fmt.Sprintf("%v: different balance: %v != %v", addr, a.balance, other.balance))
	}
	if a.nonce != other.nonce {
		res = append(res, fmt.Sprintf("%v: different nonce: %d != %d", addr, a.nonce, other.nonce))
	}
	if !bytes.Equal(a.code, other.code) {
		res = append(res, fmt.Sprintf("%v: different code: 0x%x != 0x%x", addr, a.code, other.code))
	}
	for key, value := range a.storage {
		if other.storage[key] != value {
			res = append(res, fmt.Sprintf("%v: different value for key %v: %v != %v",
				addr, key, value, other.storage[key]))
		}
	}
	for key, value := range other.storage {
		if _, overlap := a.storage[key]; !overlap {
			res = append(res, fmt.Sprintf("%v: different value for key %v: %v != %v",
				addr, key, duet.Word{}, value))
		}
	}
	return res
}

func (s *StateDB) getOrCreate(addr duet.Address) *account {
	res, exists := s.accounts[addr]
	if !exists {
		res = &account{storage: map[duet.Key]duet.Word{}}
		s.accounts[addr] = res
	}
	return res
}

func cloneAccounts(accounts map[duet.Address]*account) map[duet.Address]*account {
	res := make(map[duet.Address]*account, len(accounts))
	for addr, account := range accounts {
		clone := *account
		clone.code = bytes.Clone(account.code)
		clone.storage = maps.Clone(account.storage)
		res[addr] = &clone
	}
	return res
}

var keccakHasherPool = sync.Pool{New: func() any { return sha3.NewLegacyKeccak256() }}

type keccakHasher interface {
	Reset()
	Write(in []byte) (int, error)
	Read(out []byte) (int, error)
}

func keccak256(data []byte) duet.Hash {
	hasher := keccakHasherPool.Get().(keccakHasher)
	hasher.Reset()
	hasher.Write(data)
	var res duet.Hash
	hasher.Read(res[:])
	keccakHasherPool.Put(hasher)
	return res
}
