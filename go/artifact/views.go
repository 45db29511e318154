// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package artifact

import (
	"bytes"
	"fmt"

	"github.com/0xsoniclabs/duet/go/duet"
)

// ViewKind enumerates the consumer-specific projections of a compiled
// contract.
type ViewKind int

const (
	LinkedViewKind ViewKind = iota
	AnnotatedViewKind
	CombinedViewKind
)

func (k ViewKind) String() string {
	switch k {
	case LinkedViewKind:
		return "linked"
	case AnnotatedViewKind:
		return "annotated"
	case CombinedViewKind:
		return "combined"
	default:
		return fmt.Sprintf("ViewKind(%d)", int(k))
	}
}

// LinkedView is the deployable projection of a compiled contract: all
// library placeholders are resolved and the code is in binary form. It
// carries the images for both backends, as far as the compiler pipeline
// produced them.
type LinkedView struct {
	ID ContractID

	CreationCode duet.Code
	DeployedCode duet.Code

	// Alternate-VM images; empty if the contract was not compiled for
	// the alternate backend.
	AlternateCreationCode duet.Code
	AlternateDeployedCode duet.Code
}

// clone copies the code slices so that callers cannot alter a view held
// in a shared cache.
func (v LinkedView) clone() LinkedView {
	v.CreationCode = bytes.Clone(v.CreationCode)
	v.DeployedCode = bytes.Clone(v.DeployedCode)
	v.AlternateCreationCode = bytes.Clone(v.AlternateCreationCode)
	v.AlternateDeployedCode = bytes.Clone(v.AlternateDeployedCode)
	return v
}

// CreationCodeFor returns the creation image for the given backend kind.
// The second result is false if no image for that backend exists.
func (v LinkedView) CreationCodeFor(kind duet.BackendKind) (duet.Code, bool) {
	switch kind {
	case duet.Primary:
		return v.CreationCode, len(v.CreationCode) > 0
	case duet.Alternate:
		return v.AlternateCreationCode, len(v.AlternateCreationCode) > 0
	}
	return nil, false
}

// DeployedCodeFor returns the runtime image for the given backend kind.
// The second result is false if no image for that backend exists.
func (v LinkedView) DeployedCodeFor(kind duet.BackendKind) (duet.Code, bool) {
	switch kind {
	case duet.Primary:
		return v.DeployedCode, len(v.DeployedCode) > 0
	case duet.Alternate:
		return v.AlternateDeployedCode, len(v.AlternateDeployedCode) > 0
	}
	return nil, false
}

// AnnotatedView is the debugging projection of a compiled contract: the
// unlinked code together with the storage layout produced by the compiler.
type AnnotatedView struct {
	ID ContractID

	CreationCode Bytecode
	DeployedCode Bytecode
	Layout       *StorageLayout
	SourceMap    string
}

// CombinedView carries both the linked code and the storage layout in one
// structure. It allows pipeline stages that only have access to the
// linking inputs to obtain storage-layout information without threading
// the raw compiler output through a separate parameter.
type CombinedView struct {
	LinkedView
	Layout *StorageLayout
}
