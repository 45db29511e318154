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
	"strings"
	"testing"
)

func TestStorageLayout_EqualHandlesNil(t *testing.T) {
	var nilLayout *StorageLayout
	layout := &StorageLayout{Slots: []StorageSlot{{Label: "x"}}}

	if !nilLayout.Equal(nil) {
		t.Errorf("nil layouts must be equal")
	}
	if nilLayout.Equal(layout) || layout.Equal(nilLayout) {
		t.Errorf("nil and non-nil layouts must differ")
	}
	if !layout.Equal(layout.Clone()) {
		t.Errorf("clone must be equal to its original")
	}
}

func TestStorageLayout_CompatibleWithFindsRelocatedFields(t *testing.T) {
	a := &StorageLayout{Slots: []StorageSlot{
		{Label: "balance", Slot: 0, Offset: 0, Type: "t_uint256"},
		{Label: "flags", Slot: 1, Offset: 0, Type: "t_uint8"},
	}}
	b := &StorageLayout{Slots: []StorageSlot{
		{Label: "balance", Slot: 0, Offset: 0, Type: "t_uint256"},
		{Label: "flags", Slot: 1, Offset: 16, Type: "t_uint8"}, // packed differently
	}}

	diffs := a.CompatibleWith(b)
	if len(diffs) != 1 {
		t.Fatalf("unexpected diffs: %v", diffs)
	}
	if !strings.Contains(diffs[0], "flags") {
		t.Errorf("diff does not name the relocated field: %v", diffs[0])
	}
}

func TestStorageLayout_CompatibleWithFindsMissingFields(t *testing.T) {
	a := &StorageLayout{Slots: []StorageSlot{{Label: "only_here", Slot: 0}}}
	b := &StorageLayout{Slots: []StorageSlot{{Label: "only_there", Slot: 0}}}

	diffs := a.CompatibleWith(b)
	if len(diffs) != 2 {
		t.Fatalf("unexpected diffs: %v", diffs)
	}
}

func TestStorageLayout_IdenticalLayoutsAreCompatible(t *testing.T) {
	layout := &StorageLayout{Slots: []StorageSlot{{Label: "x", Slot: 0, Type: "t_uint256"}}}
	if diffs := layout.CompatibleWith(layout.Clone()); len(diffs) != 0 {
		t.Errorf("unexpected diffs: %v", diffs)
	}
}

func TestCompiledContract_ContentEqualsDetectsChanges(t *testing.T) {
	base := tokenContract()

	tests := map[string]func(*CompiledContract){
		"abi":            func(c *CompiledContract) { c.ABI = []byte(`[]`) },
		"creation code":  func(c *CompiledContract) { c.CreationCode = "00" },
		"deployed code":  func(c *CompiledContract) { c.DeployedCode = "00" },
		"alternate code": func(c *CompiledContract) { c.AlternateCreationCode = "00" },
		"storage layout": func(c *CompiledContract) { c.StorageLayout = nil },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			modified := tokenContract()
			mutate(&modified)
			if base.ContentEquals(&modified) {
				t.Errorf("change to %s was not detected", name)
			}
		})
	}

	same := tokenContract()
	if !base.ContentEquals(&same) {
		t.Errorf("identical contracts reported as different")
	}
}
