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

import "maps"

// NonceLedger tracks transaction and deployment nonces per address,
// independently of any backend. It is the single source of truth consulted
// by the dispatch paths of both backends; its counters are never copied
// into backend-local shadow counters and never reset by a backend switch.
//
// Only actual state-changing calls and contract creations increment the
// counters; simulated and static calls do not.
type NonceLedger struct {
	transaction map[Address]uint64
	deployment  map[Address]uint64
}

// NonceLedgerSnapshot is an immutable copy of a ledger's counters, used by
// the snapshot manager to restore nonce state together with backend state.
type NonceLedgerSnapshot struct {
	transaction map[Address]uint64
	deployment  map[Address]uint64
}

func NewNonceLedger() *NonceLedger {
	return &NonceLedger{
		transaction: map[Address]uint64{},
		deployment:  map[Address]uint64{},
	}
}

// TransactionNonce returns the number of state-changing transactions issued
// by the given address so far.
func (l *NonceLedger) TransactionNonce(addr Address) uint64 {
	return l.transaction[addr]
}

// DeploymentNonce returns the number of contracts created by the given
// address so far.
func (l *NonceLedger) DeploymentNonce(addr Address) uint64 {
	return l.deployment[addr]
}

// IncrementTransaction records one state-changing transaction for addr and
// returns the nonce value the transaction was executed with.
func (l *NonceLedger) IncrementTransaction(addr Address) uint64 {
	current := l.transaction[addr]
	l.transaction[addr] = current + 1
	return current
}

// IncrementDeployment records one successful contract creation for addr and
// returns the deployment nonce the creation was executed with.
func (l *NonceLedger) IncrementDeployment(addr Address) uint64 {
	current := l.deployment[addr]
	l.deployment[addr] = current + 1
	return current
}

// Mark force-sets both counters for an address. It is used when importing
// accounts from a remote fork, where the remote chain defines the effective
// nonce of the account.
func (l *NonceLedger) Mark(addr Address, transaction, deployment uint64) {
	l.transaction[addr] = transaction
	l.deployment[addr] = deployment
}

// Snapshot captures the current counters.
func (l *NonceLedger) Snapshot() NonceLedgerSnapshot {
	return NonceLedgerSnapshot{
		transaction: maps.Clone(l.transaction),
		deployment:  maps.Clone(l.deployment),
	}
}

// Restore resets the ledger to a previously captured snapshot.
func (l *NonceLedger) Restore(snapshot NonceLedgerSnapshot) {
	l.transaction = maps.Clone(snapshot.transaction)
	l.deployment = maps.Clone(snapshot.deployment)
}
