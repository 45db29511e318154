// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package artifact maintains the canonical records of compiled contracts
// and mediates the construction of consumer-specific views of them.
//
// A compiled contract is stored exactly once, in the raw form produced by
// the compiler pipeline. Every downstream consumer obtains a derived view
// of it: a linked view with library placeholders resolved, an annotated
// view carrying the storage layout, or a combined view carrying both.
// Views are always computed from the single raw record and cached; no view
// construction path can discard information needed by another view.
package artifact

import (
	"bytes"
	"fmt"
	"slices"
)

// ContractID identifies a compiled contract within one compilation run.
type ContractID struct {
	SourcePath      string
	Name            string
	CompilerVersion string
}

func (id ContractID) String() string {
	return fmt.Sprintf("%s:%s@%s", id.SourcePath, id.Name, id.CompilerVersion)
}

// FullyQualifiedName returns the compiler's notion of the contract name,
// `source_path:ContractName`, as used in library placeholder hashing and
// link mappings.
func (id ContractID) FullyQualifiedName() string {
	return id.SourcePath + ":" + id.Name
}

// CompiledContract is the raw record produced by the compiler pipeline for
// a single contract. Records are immutable once placed in a Store; all
// consumer views are derived from them without modification.
//
// The creation and deployed code may contain unresolved library
// placeholders. The alternate-VM images are only present if the contract
// was also compiled for the alternate backend; they carry no placeholders,
// as the alternate compiler performs its own linking.
type CompiledContract struct {
	ID        ContractID
	ABI       []byte // raw JSON, opaque to this package
	SourceMap string

	CreationCode Bytecode
	DeployedCode Bytecode

	AlternateCreationCode Bytecode
	AlternateDeployedCode Bytecode

	// StorageLayout is produced once at compile time. It is nil for
	// contracts without own storage, such as interfaces and libraries.
	StorageLayout *StorageLayout
}

// ContentEquals reports whether two records carry materially identical
// content. Records with equal identity but different content indicate a
// compiler or configuration inconsistency.
func (c *CompiledContract) ContentEquals(other *CompiledContract) bool {
	return c.ID == other.ID &&
		bytes.Equal(c.ABI, other.ABI) &&
		c.CreationCode == other.CreationCode &&
		c.DeployedCode == other.DeployedCode &&
		c.AlternateCreationCode == other.AlternateCreationCode &&
		c.AlternateDeployedCode == other.AlternateDeployedCode &&
		c.StorageLayout.Equal(other.StorageLayout)
}

func (c *CompiledContract) clone() *CompiledContract {
	res := *c
	res.ABI = bytes.Clone(c.ABI)
	res.StorageLayout = c.StorageLayout.Clone()
	return &res
}

// StorageSlot describes the placement of one state variable.
type StorageSlot struct {
	Label  string // the variable name
	Slot   uint64 // the 32-byte slot the variable starts in
	Offset int    // byte offset within the slot, for packed variables
	Type   string // the compiler's type identifier
}

// StorageLayout is the field-to-slot mapping emitted by the compiler,
// ordered by declaration.
type StorageLayout struct {
	Slots []StorageSlot
}

func (l *StorageLayout) Equal(other *StorageLayout) bool {
	if l == nil || other == nil {
		return l == other
	}
	return slices.Equal(l.Slots, other.Slots)
}

func (l *StorageLayout) Clone() *StorageLayout {
	if l == nil {
		return nil
	}
	return &StorageLayout{Slots: slices.Clone(l.Slots)}
}

// CompatibleWith compares two layouts slot by slot and returns a list of
// human-readable differences. Slot numbering of simple value types is
// compatible across the two backends, but packing of structs and arrays is
// not guaranteed to be; callers migrating storage across backends are
// expected to assert an empty result first.
func (l *StorageLayout) CompatibleWith(other *StorageLayout) []string {
	var diffs []string
	if l == nil || other == nil {
		if l != other {
			diffs = append(diffs, "one of the layouts is absent")
		}
		return diffs
	}
	byLabel := map[string]StorageSlot{}
	for _, slot := range other.Slots {
		byLabel[slot.Label] = slot
	}
	for _, slot := range l.Slots {
		counterpart, found := byLabel[slot.Label]
		if !found {
			diffs = append(diffs, fmt.Sprintf("%s is missing from the other layout", slot.Label))
			continue
		}
		if slot != counterpart {
			diffs = append(diffs, fmt.Sprintf(
				"%s is placed at slot %d offset %d (%s) vs slot %d offset %d (%s)",
				slot.Label, slot.Slot, slot.Offset, slot.Type,
				counterpart.Slot, counterpart.Offset, counterpart.Type))
		}
		delete(byLabel, slot.Label)
	}
	for label := range byLabel {
		diffs = append(diffs, fmt.Sprintf("%s is only present in the other layout", label))
	}
	slices.Sort(diffs)
	return diffs
}
