// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package duet defines the public interface of the dual-backend execution
// coordinator. It provides the core value types shared by all components,
// the Backend abstraction covering the two supported virtual machine
// implementations, a registry through which backend implementations are
// made available, and the nonce ledger acting as the single source of
// truth for account nonces across backend boundaries.
//
// Backend implementations register themselves during package
// initialization. Client code selects them by kind:
//
//	backend, err := duet.NewBackend(duet.Primary, nil)
//
// after importing the implementation packages for their side effects.
package duet

// Address represents the 160-bit (20 bytes) address of an account.
type Address [20]byte

// Key represents the 256-bit (32 bytes) key of a storage slot.
type Key [32]byte

// Word represents an arbitrary 256-bit (32 byte) machine word.
type Word [32]byte

// Value represents an amount of chain currency, typically wei.
type Value [32]byte

// Hash represents the 256-bit (32 bytes) hash of code, a block, a topic,
// or a similar sequence of cryptographic summary information.
type Hash [32]byte

// Code represents the byte-code of a contract.
type Code []byte

// Data represents the input or output of contract invocations.
type Data []byte

// Gas represents the type used to represent Gas values.
type Gas int64

// Snapshot identifies a recoverable point in the mutable state of a
// backend. Snapshots are backend-local; they are not transferable across
// backend switches.
type Snapshot int
