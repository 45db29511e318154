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
	"fmt"
	"strings"
)

// ConstError is an error type for defining constant error values.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

const (
	// ErrStoreFrozen is returned when attempting to add artifacts to a
	// store that has completed its construction phase.
	ErrStoreFrozen = ConstError("artifact store is frozen")
	// ErrStaleSnapshot is returned when reverting to a snapshot that was
	// invalidated by a backend switch or a later revert.
	ErrStaleSnapshot = ConstError("snapshot is no longer valid")
	// ErrUnknownFork is returned when referencing a fork id that was
	// never created in this context.
	ErrUnknownFork = ConstError("unknown fork")
	// ErrUnknownArtifact is returned when requesting a view for a
	// contract identity that was never added to the store.
	ErrUnknownArtifact = ConstError("unknown artifact")
)

// The errors below form the coordinator's error taxonomy. Configuration
// errors indicate invalid input artifacts and are never retried.
// Cross-backend errors are fatal to the current operation but not to the
// enclosing context. Transient infrastructure errors are retried with
// bounded backoff before being converted into fatal errors. Invariant
// violations indicate internal defects and are reported distinctly.

// DuplicateArtifactError indicates that two materially different compiled
// contracts mapped to the same identity within one compilation run.
type DuplicateArtifactError struct {
	SourcePath      string
	Name            string
	CompilerVersion string
}

func (e *DuplicateArtifactError) Error() string {
	return fmt.Sprintf("conflicting artifact content for %s:%s (compiler %s)",
		e.SourcePath, e.Name, e.CompilerVersion)
}

// UnresolvedLibraryError indicates that a library mapping passed to a link
// operation did not cover all placeholders found in the bytecode.
type UnresolvedLibraryError struct {
	// Missing lists the unresolved references, either as fully qualified
	// library names or as raw placeholder hashes if the placeholder could
	// not be attributed to a known library.
	Missing []string
}

func (e *UnresolvedLibraryError) Error() string {
	return fmt.Sprintf("unresolved library references: %s", strings.Join(e.Missing, ", "))
}

// MissingStorageLayoutError indicates that a storage-layout view was
// requested for a contract for which the compiler did not emit a layout,
// for instance an interface or a library.
type MissingStorageLayoutError struct {
	SourcePath string
	Name       string
}

func (e *MissingStorageLayoutError) Error() string {
	return fmt.Sprintf("no storage layout available for %s:%s", e.SourcePath, e.Name)
}

// CyclicLibraryDependencyError indicates a dependency cycle among libraries
// that prevents the computation of a deployment order. This cannot occur
// for valid Solidity programs but is still detected and reported.
type CyclicLibraryDependencyError struct {
	// Cycle lists the fully qualified names of the involved libraries.
	Cycle []string
}

func (e *CyclicLibraryDependencyError) Error() string {
	return fmt.Sprintf("cyclic library dependency: %s", strings.Join(e.Cycle, " -> "))
}

// UnsupportedInBackendError indicates that the requested operation has no
// handler registered for the currently active backend. It is always
// reported to the caller, never silently downgraded to a different
// behavior.
type UnsupportedInBackendError struct {
	Operation string
	Backend   BackendKind
}

func (e *UnsupportedInBackendError) Error() string {
	return fmt.Sprintf("operation %q is not supported by the %v backend", e.Operation, e.Backend)
}

// CrossBackendBytecodeIncompatibleError indicates that a persistent account
// carries code that cannot be translated for the target backend. Code can
// only cross the backend boundary if it originates from a tracked
// compilation providing an image for the target's virtual machine; opaque
// bytecode is never transplanted between incompatible machines.
type CrossBackendBytecodeIncompatibleError struct {
	Address Address
	From    BackendKind
	To      BackendKind
}

func (e *CrossBackendBytecodeIncompatibleError) Error() string {
	return fmt.Sprintf(
		"code of persistent account %v cannot be translated from the %v to the %v backend; re-deploy from source",
		e.Address, e.From, e.To)
}

// RpcUnreachableError indicates that a fork endpoint could not be reached
// within the configured retry budget.
type RpcUnreachableError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *RpcUnreachableError) Error() string {
	return fmt.Sprintf("endpoint %s unreachable after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *RpcUnreachableError) Unwrap() error {
	return e.Err
}

// BridgeInvariantError reports a desynchronization between the two backends
// that should be impossible by construction. It indicates an internal
// defect of the state bridge, not invalid user input, and is therefore
// kept distinguishable from the ordinary error taxonomy.
type BridgeInvariantError struct {
	Address Address
	Field   string // "balance", "nonce", "code", or "storage"
	Detail  string
}

func (e *BridgeInvariantError) Error() string {
	return fmt.Sprintf("bridge invariant violated for %v: %s mismatch: %s", e.Address, e.Field, e.Detail)
}
